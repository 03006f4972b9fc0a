// Package scanner discovers Tion breezers advertising nearby.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/tion-home/tionctl/internal/ringchan"
	"github.com/tion-home/tionctl/pkg/tion"
	"github.com/tion-home/tionctl/pkg/transport"
)

// tionNamePrefixes mark advertisements from Tion firmware.
var tionNamePrefixes = []string{"Tion_Breezer_", "tion_"}

// Discovered is one breezer seen during a scan.
type Discovered struct {
	Address  string
	Name     string
	Model    tion.Model
	RSSI     int
	LastSeen time.Time
}

// DisplayName returns the advertised name, falling back to the address.
func (d Discovered) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Address
}

// DeviceEventType marks if the device was newly discovered or updated.
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

// DeviceEvent reports a discovery to live consumers.
type DeviceEvent struct {
	Type   DeviceEventType
	Device Discovered
}

// ScanOptions configures scanning behavior.
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool

	// AllTion drops the name filter and reports every advertiser, useful
	// when a breezer advertises without its factory name.
	AllTion bool
}

// DefaultScanOptions returns default scanning options.
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: true,
	}
}

// Scanner handles BLE discovery of breezers.
type Scanner struct {
	devices *hashmap.Map[string, Discovered]
	events  *ringchan.RingChannel[DeviceEvent]
	logger  *logrus.Logger

	scanOptions *ScanOptions
}

// NewScanner creates a scanner.
func NewScanner(logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		events: ringchan.New[DeviceEvent](100),
		logger: logger,
	}
}

// Scan performs BLE discovery and returns breezers keyed by address.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions) (map[string]Discovered, error) {
	s.devices = hashmap.New[string, Discovered]()
	if opts == nil {
		opts = DefaultScanOptions()
	}
	s.scanOptions = opts

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")

	dev, err := transport.DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}

	scanCtx, cancel := context.WithTimeout(ctx, opts.Duration)
	defer cancel()

	err = dev.Scan(scanCtx, !opts.DuplicateFilter, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")

	devices := make(map[string]Discovered, s.devices.Len())
	s.devices.Range(func(key string, value Discovered) bool {
		devices[key] = value
		return true
	})
	return devices, nil
}

// Events returns a read-only stream of discovery events.
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}

// handleAdvertisement records new breezers and refreshes known ones.
func (s *Scanner) handleAdvertisement(adv blelib.Advertisement) {
	name := adv.LocalName()
	if !s.scanOptions.AllTion && !isTionName(name) {
		return
	}

	address := adv.Addr().String()
	disc := Discovered{
		Address:  address,
		Name:     name,
		Model:    tion.DetectModel(name),
		RSSI:     adv.RSSI(),
		LastSeen: time.Now(),
	}

	prev, existed := s.devices.Get(address)
	if existed && disc.Name == "" {
		// Keep a name once seen; later anonymous advertisements happen.
		disc.Name = prev.Name
		disc.Model = prev.Model
	}
	s.devices.Set(address, disc)

	event := DeviceEvent{Type: EventUpdated, Device: disc}
	if !existed {
		event.Type = EventNew
		s.logger.WithFields(logrus.Fields{
			"device":  disc.DisplayName(),
			"address": address,
			"rssi":    disc.RSSI,
		}).Info("Discovered new device")
	}
	s.events.Send(event)
}

// isTionName reports whether an advertised name matches Tion firmware.
func isTionName(name string) bool {
	for _, prefix := range tionNamePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
