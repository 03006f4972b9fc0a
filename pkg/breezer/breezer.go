// Package breezer is the caller-facing entry point of the communication
// core. One Breezer owns its device's connection manager, command queue and
// state cache; different devices are fully independent.
package breezer

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tion-home/tionctl/internal/ringchan"
	"github.com/tion-home/tionctl/pkg/connection"
	"github.com/tion-home/tionctl/pkg/tion"
	"github.com/tion-home/tionctl/pkg/transport"
)

// MaxAgeInfinite disables the freshness requirement: any cached value, no
// matter how old, satisfies the read.
const MaxAgeInfinite = time.Duration(-1)

// DefaultCacheTTL is the freshness window used when a caller passes no
// explicit tolerance.
const DefaultCacheTTL = 10 * time.Second

// Identity names one physical device. Created at configuration load and
// never mutated.
type Identity struct {
	Address string
	Name    string
	Model   tion.Model
}

// DisplayName returns the label, falling back to the address.
func (id Identity) DisplayName() string {
	if id.Name != "" {
		return id.Name
	}
	return id.Address
}

// Options configures a Breezer.
type Options struct {
	Transport   transport.Transport
	Policy      connection.RetryPolicy
	CacheTTL    time.Duration
	Logger      *logrus.Logger
	EventBuffer int
}

// Breezer combines connection manager, command queue and state cache for one
// device behind a small API.
type Breezer struct {
	identity Identity
	codec    tion.Codec
	mgr      *connection.Manager
	queue    *Queue
	cache    *StateCache
	events   *ringchan.RingChannel[Event]
	log      *logrus.Entry
	ttl      time.Duration
}

// New wires up a device from its identity. The transport is dialed lazily on
// first demand.
func New(identity Identity, opts Options) (*Breezer, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("breezer %s: transport is required", identity.Address)
	}
	codec, err := tion.NewCodec(identity.Model)
	if err != nil {
		return nil, fmt.Errorf("breezer %s: %w", identity.Address, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	buf := opts.EventBuffer
	if buf <= 0 {
		buf = 64
	}

	b := &Breezer{
		identity: identity,
		codec:    codec,
		cache:    NewStateCache(),
		events:   ringchan.New[Event](buf),
		log:      logger.WithField("device", identity.Address),
		ttl:      ttl,
	}

	b.mgr = connection.NewManager(connection.Config{
		Address:   identity.Address,
		Transport: opts.Transport,
		Policy:    opts.Policy,
		Logger:    logger,
		Events: func(ev connection.Event) {
			if ev.Old.Phase == connection.PhaseConnected && ev.New.Phase != connection.PhaseConnected {
				// The device can change state while unreachable; cached data
				// is no longer trusted, but stays readable for tolerant reads.
				b.cache.Invalidate()
			}
			b.events.Send(Event{
				Kind:    EventConnection,
				Address: ev.Address,
				At:      ev.At,
				ConnOld: ev.Old,
				ConnNew: ev.New,
			})
		},
		OnSession: b.attachSession,
	})

	b.queue = NewQueue(identity.Address, b.mgr, codec, b.cache, logger, func(ev Event) {
		b.events.Send(ev)
	})
	b.queue.Start()

	return b, nil
}

// attachSession re-establishes the status notification subscription on every
// new session. Unsolicited status frames (speed changed from the remote,
// sensor updates) keep the cache warm between explicit refreshes.
func (b *Breezer) attachSession(sess transport.Session) error {
	return sess.Subscribe(b.codec.StatusCharUUID(), func(data []byte) {
		reading, err := b.codec.DecodeStatus(data)
		if err != nil {
			b.log.WithError(err).Debug("Ignoring undecodable notification")
			return
		}
		b.cache.Put(reading)
	})
}

// Identity returns the immutable device identity.
func (b *Breezer) Identity() Identity { return b.identity }

// Capabilities returns what this device family supports.
func (b *Breezer) Capabilities() tion.Capabilities { return b.codec.Capabilities() }

// Status returns the current connection state for observability.
func (b *Breezer) Status() connection.State { return b.mgr.State() }

// Events returns the device's observability stream: connection transitions
// and command outcomes.
func (b *Breezer) Events() <-chan Event { return b.events.C() }

// SetSpeed changes the fan speed and waits for the device to confirm.
func (b *Breezer) SetSpeed(ctx context.Context, level int) error {
	if level < 0 || level > b.codec.MaxSpeed() {
		return fmt.Errorf("speed %d out of range 0..%d", level, b.codec.MaxSpeed())
	}
	ticket, err := b.queue.EnqueueSetSpeed(ctx, level)
	if err != nil {
		return err
	}
	return b.await(ctx, ticket)
}

// SetMode changes the air intake mode and waits for confirmation.
func (b *Breezer) SetMode(ctx context.Context, mode tion.Mode) error {
	if mode != tion.ModeOutside && !b.codec.Capabilities().Modes {
		return fmt.Errorf("%s devices do not support mode %s", b.codec.Model(), mode)
	}
	ticket, err := b.queue.EnqueueSetMode(ctx, mode)
	if err != nil {
		return err
	}
	return b.await(ctx, ticket)
}

// Reading returns device state no older than maxAge. A cached snapshot
// within tolerance is served without transport traffic; otherwise a refresh
// is queued and awaited. maxAge 0 always refreshes; MaxAgeInfinite accepts
// any cached value. If the refresh fails and a stale snapshot exists, the
// snapshot is returned together with a StaleDataError so the caller can
// decide.
func (b *Breezer) Reading(ctx context.Context, maxAge time.Duration) (Snapshot, error) {
	snap, ok := b.cache.Get()

	if maxAge == MaxAgeInfinite && ok {
		return snap, nil
	}
	if ok && maxAge > 0 && !snap.Invalidated && snap.Age() <= maxAge {
		return snap, nil
	}

	ticket, err := b.queue.EnqueueRefresh(ctx)
	if err != nil {
		return snap, b.staleOr(snap, ok, err)
	}
	res, err := ticket.Wait(ctx)
	if err != nil {
		return snap, b.staleOr(snap, ok, err)
	}
	if res.Err != nil {
		return snap, b.staleOr(snap, ok, res.Err)
	}

	fresh, _ := b.cache.Get()
	return fresh, nil
}

// staleOr wraps a refresh failure in a StaleDataError when older data exists.
func (b *Breezer) staleOr(snap Snapshot, hasSnap bool, cause error) error {
	if !hasSnap {
		return cause
	}
	return &tion.StaleDataError{
		Address: b.identity.Address,
		Age:     snap.Age().Round(time.Millisecond).String(),
		Err:     cause,
	}
}

// Disconnect queues an orderly disconnect; queued commands ahead of it still
// run.
func (b *Breezer) Disconnect(ctx context.Context) error {
	ticket, err := b.queue.EnqueueDisconnect(ctx)
	if err != nil {
		return err
	}
	return b.await(ctx, ticket)
}

// Reset clears the Failed connection state so the next demand dials again.
func (b *Breezer) Reset() { b.mgr.Reset() }

// Queue exposes the command queue for callers that need tickets (async
// submission, cancellation).
func (b *Breezer) Queue() *Queue { return b.queue }

// Close shuts the device down: stops the worker, drops the link, closes the
// event stream.
func (b *Breezer) Close() error {
	b.queue.Close()
	err := b.mgr.Disconnect()
	b.events.Close()
	return err
}

func (b *Breezer) await(ctx context.Context, ticket *Ticket) error {
	res, err := ticket.Wait(ctx)
	if err != nil {
		return err
	}
	return res.Err
}
