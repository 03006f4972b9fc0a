package breezer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tion-home/tionctl/pkg/connection"
	"github.com/tion-home/tionctl/pkg/tion"
	"github.com/tion-home/tionctl/pkg/transport"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("command queue closed")

// DefaultOpTimeout bounds the write+read exchange of one command on a live
// session. Connection establishment has its own budget in the retry policy.
const DefaultOpTimeout = 15 * time.Second

// DefaultQueueDepth is how many commands may wait per device.
const DefaultQueueDepth = 32

// Queue serializes commands for one device. A single worker pulls one command
// at a time, which is the core correctness mechanism: a BLE GATT link does
// not tolerate interleaved operations, so at most one transport op is ever in
// flight per device.
type Queue struct {
	address string
	mgr     *connection.Manager
	codec   tion.Codec
	cache   *StateCache
	log     *logrus.Entry
	events  func(Event)

	opTimeout time.Duration

	mu     sync.Mutex
	closed bool
	cmds   chan *Command
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewQueue creates a command queue bound to one device's connection manager
// and cache. Call Start before enqueueing.
func NewQueue(address string, mgr *connection.Manager, codec tion.Codec, cache *StateCache, logger *logrus.Logger, events func(Event)) *Queue {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		address:   address,
		mgr:       mgr,
		codec:     codec,
		cache:     cache,
		log:       logger.WithField("device", address),
		events:    events,
		opTimeout: DefaultOpTimeout,
		cmds:      make(chan *Command, DefaultQueueDepth),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the single worker goroutine.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.worker()
}

// Close drains no further commands; queued ones resolve cancelled. Blocks
// until the worker exits.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.cmds)
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
}

// enqueue commits a command to the FIFO. Commands from concurrent callers
// are ordered by enqueue time; there is no priority scheme. When the buffer
// is full the caller suspends until the worker frees a slot or ctx expires.
// Holding q.mu across the send keeps Close from closing the channel under a
// blocked sender; the worker drains independently, so the wait is bounded by
// the commands ahead.
func (q *Queue) enqueue(ctx context.Context, cmd *Command) (*Ticket, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	select {
	case q.cmds <- cmd:
		return &Ticket{cmd: cmd}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// EnqueueSetSpeed queues a fan speed change.
func (q *Queue) EnqueueSetSpeed(ctx context.Context, level int) (*Ticket, error) {
	cmd := newCommand(KindSetSpeed)
	cmd.Speed = level
	return q.enqueue(ctx, cmd)
}

// EnqueueSetMode queues an air intake mode change.
func (q *Queue) EnqueueSetMode(ctx context.Context, mode tion.Mode) (*Ticket, error) {
	cmd := newCommand(KindSetMode)
	cmd.Mode = mode
	return q.enqueue(ctx, cmd)
}

// EnqueueRefresh queues a status read.
func (q *Queue) EnqueueRefresh(ctx context.Context) (*Ticket, error) {
	return q.enqueue(ctx, newCommand(KindRefresh))
}

// EnqueueDisconnect queues an orderly disconnect.
func (q *Queue) EnqueueDisconnect(ctx context.Context) (*Ticket, error) {
	return q.enqueue(ctx, newCommand(KindDisconnect))
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for cmd := range q.cmds {
		if !cmd.markDispatched() {
			// Cancelled while queued; already resolved, no transport I/O.
			continue
		}
		if q.ctx.Err() != nil {
			cmd.resolve(Result{Err: tion.ErrCancelled})
			continue
		}
		q.run(cmd)
	}
}

// run executes one command end to end: transport exchange, decode, cache
// update, then resolution. The cache visibly reflects a command's effect
// before its result is delivered and before the next command starts.
func (q *Queue) run(cmd *Command) {
	started := time.Now()

	var res Result
	switch cmd.Kind {
	case KindDisconnect:
		res.Err = q.mgr.Disconnect()
		q.cache.Invalidate()
	default:
		res = q.exchange(cmd)
	}

	if res.Err != nil {
		q.log.WithError(res.Err).WithFields(logrus.Fields{
			"command": cmd.Kind.String(),
			"id":      cmd.ID,
		}).Warn("Command failed")
	} else {
		q.log.WithFields(logrus.Fields{
			"command": cmd.Kind.String(),
			"id":      cmd.ID,
		}).Debug("Command completed")
	}

	if q.events != nil {
		q.events(Event{
			Kind:        EventCommand,
			Address:     q.address,
			At:          time.Now(),
			CommandID:   cmd.ID,
			CommandKind: cmd.Kind,
			Err:         res.Err,
			Elapsed:     time.Since(started),
		})
	}

	cmd.resolve(res)
}

// exchange encodes the command, performs the write+read exchange through the
// connection manager and decodes the status frame the firmware answers with.
func (q *Queue) exchange(cmd *Command) Result {
	frame, err := q.encode(cmd)
	if err != nil {
		return Result{Err: err}
	}

	raw, err := q.mgr.Execute(q.ctx, func(ctx context.Context, sess transport.Session) ([]byte, error) {
		opCtx, cancel := context.WithTimeout(ctx, q.opTimeout)
		defer cancel()
		if err := sess.Write(opCtx, q.codec.WriteCharUUID(), frame); err != nil {
			return nil, err
		}
		return sess.Read(opCtx, q.codec.StatusCharUUID())
	})
	if err != nil {
		return Result{Err: err}
	}

	reading, err := q.codec.DecodeStatus(raw)
	if err != nil {
		var pe *tion.ProtocolError
		if errors.As(err, &pe) && pe.Address == "" {
			pe.Address = q.address
		}
		return Result{Err: err}
	}

	q.cache.Put(reading)
	return Result{Reading: reading, HasReading: true}
}

func (q *Queue) encode(cmd *Command) ([]byte, error) {
	switch cmd.Kind {
	case KindSetSpeed:
		return q.codec.EncodeSetSpeed(cmd.Speed)
	case KindSetMode:
		return q.codec.EncodeSetMode(cmd.Mode)
	case KindRefresh:
		return q.codec.EncodeStatusRequest(), nil
	default:
		return nil, errors.New("unknown command kind")
	}
}
