package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/tion-home/tionctl/pkg/tion"
)

// writeChunkSize is the conservative BLE ATT payload limit. Larger writes are
// split and paced so the peripheral's buffer is not overrun.
const writeChunkSize = 20

// interChunkDelay paces multi-chunk writes.
const interChunkDelay = 10 * time.Millisecond

// BLEOptions configures the go-ble transport.
type BLEOptions struct {
	ConnectTimeout time.Duration
	ServiceUUID    string
}

// DefaultBLEOptions returns sensible defaults for talking to a breezer.
func DefaultBLEOptions(serviceUUID string) *BLEOptions {
	return &BLEOptions{
		ConnectTimeout: 30 * time.Second,
		ServiceUUID:    serviceUUID,
	}
}

// BLETransport dials devices through the go-ble stack. One instance serves
// all devices of a family; sessions are independent.
type BLETransport struct {
	opts   *BLEOptions
	logger *logrus.Logger

	initOnce sync.Once
	initErr  error
}

// NewBLETransport creates a go-ble backed transport.
func NewBLETransport(opts *BLEOptions, logger *logrus.Logger) *BLETransport {
	if logger == nil {
		logger = logrus.New()
	}
	return &BLETransport{opts: opts, logger: logger}
}

// Connect dials the address, discovers the GATT profile and resolves the
// configured service's characteristics.
func (t *BLETransport) Connect(ctx context.Context, address string) (Session, error) {
	if strings.TrimSpace(address) == "" {
		return nil, &tion.TransportError{Address: address, Op: "connect", Err: fmt.Errorf("device address is not set")}
	}

	// The platform BLE device is process-wide state; initialize it once at
	// first use and reuse it for every session.
	t.initOnce.Do(func() {
		dev, err := DeviceFactory()
		if err != nil {
			t.initErr = fmt.Errorf("failed to create BLE device: %w", err)
			return
		}
		ble.SetDefaultDevice(dev)
	})
	if t.initErr != nil {
		return nil, &tion.TransportError{Address: address, Op: "connect", Err: t.initErr}
	}

	t.logger.WithField("address", address).Info("Connecting to BLE device...")

	connCtx, cancel := context.WithTimeout(ctx, t.opts.ConnectTimeout)
	defer cancel()

	client, err := ble.Dial(connCtx, ble.NewAddr(address))
	if err != nil {
		return nil, &tion.TransportError{Address: address, Op: "connect", Err: err}
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		client.CancelConnection()
		return nil, &tion.TransportError{Address: address, Op: "discover", Err: err}
	}

	sess := &bleSession{
		address: address,
		client:  client,
		chars:   make(map[string]*ble.Characteristic),
		logger:  t.logger,
	}

	want := normalizeUUID(t.opts.ServiceUUID)
	for _, svc := range profile.Services {
		if normalizeUUID(svc.UUID.String()) != want {
			continue
		}
		for _, char := range svc.Characteristics {
			sess.chars[normalizeUUID(char.UUID.String())] = char
		}
	}
	if len(sess.chars) == 0 {
		client.CancelConnection()
		return nil, &tion.TransportError{
			Address: address,
			Op:      "discover",
			Err:     fmt.Errorf("service %s not found", t.opts.ServiceUUID),
		}
	}

	t.logger.WithFields(logrus.Fields{
		"address":         address,
		"characteristics": len(sess.chars),
	}).Info("BLE device connected")

	return sess, nil
}

// bleSession is a live go-ble connection with resolved characteristics.
type bleSession struct {
	address string
	client  ble.Client
	chars   map[string]*ble.Characteristic
	logger  *logrus.Logger

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

func (s *bleSession) characteristic(uuid string) (*ble.Characteristic, error) {
	char, ok := s.chars[normalizeUUID(uuid)]
	if !ok {
		return nil, fmt.Errorf("characteristic %s not found", uuid)
	}
	return char, nil
}

func (s *bleSession) Write(ctx context.Context, characteristic string, data []byte) error {
	char, err := s.characteristic(characteristic)
	if err != nil {
		return &tion.TransportError{Address: s.address, Op: "write", Err: err}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for len(data) > 0 {
		if err := ctx.Err(); err != nil {
			return &tion.TransportError{Address: s.address, Op: "write", Err: err}
		}
		n := len(data)
		if n > writeChunkSize {
			n = writeChunkSize
		}
		if err := s.client.WriteCharacteristic(char, data[:n], false); err != nil {
			return &tion.TransportError{Address: s.address, Op: "write", Err: err}
		}
		s.logger.WithField("bytes", n).Debug("Wrote chunk to device")
		data = data[n:]
		if len(data) > 0 {
			time.Sleep(interChunkDelay)
		}
	}
	return nil
}

func (s *bleSession) Read(ctx context.Context, characteristic string) ([]byte, error) {
	char, err := s.characteristic(characteristic)
	if err != nil {
		return nil, &tion.TransportError{Address: s.address, Op: "read", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &tion.TransportError{Address: s.address, Op: "read", Err: err}
	}
	data, err := s.client.ReadCharacteristic(char)
	if err != nil {
		return nil, &tion.TransportError{Address: s.address, Op: "read", Err: err}
	}
	return data, nil
}

func (s *bleSession) Subscribe(characteristic string, handler NotifyHandler) error {
	char, err := s.characteristic(characteristic)
	if err != nil {
		return &tion.TransportError{Address: s.address, Op: "subscribe", Err: err}
	}
	if err := s.client.Subscribe(char, false, func(data []byte) {
		handler(data)
	}); err != nil {
		return &tion.TransportError{Address: s.address, Op: "subscribe", Err: err}
	}
	s.logger.WithField("uuid", characteristic).Debug("Subscribed to notifications")
	return nil
}

func (s *bleSession) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.client.CancelConnection(); err != nil {
		s.logger.WithError(err).Warn("Error disconnecting from device")
		return &tion.TransportError{Address: s.address, Op: "disconnect", Err: err}
	}
	s.logger.WithField("address", s.address).Info("Disconnected from BLE device")
	return nil
}

// normalizeUUID converts a UUID string to the internal BLE library format
// (lowercase, no dashes).
func normalizeUUID(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}
