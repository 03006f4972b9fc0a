// Package testutils provides a scriptable in-memory transport and firmware
// frame builders for tests that exercise connection and queue behavior
// without a radio.
package testutils

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tion-home/tionctl/pkg/transport"
)

// CallKind labels one recorded transport interaction.
type CallKind string

const (
	CallConnect   CallKind = "connect"
	CallWrite     CallKind = "write"
	CallRead      CallKind = "read"
	CallSubscribe CallKind = "subscribe"
	CallClose     CallKind = "close"
)

// Call is one recorded interaction with its time span. Start and End bracket
// the call so tests can assert that operations never overlap.
type Call struct {
	Kind    CallKind
	Session int
	Char    string
	Data    []byte
	Start   time.Time
	End     time.Time
}

// Overlaps reports whether two calls ran concurrently.
func (c Call) Overlaps(other Call) bool {
	return c.Start.Before(other.End) && other.Start.Before(c.End)
}

// FakeTransport is an in-memory transport. Connects succeed unless failures
// are scripted; sessions answer reads from a script function.
type FakeTransport struct {
	mu          sync.Mutex
	calls       []Call
	connectErrs []error
	readErrs    []error
	connects    int
	sessions    []*FakeSession

	// OpDelay stretches every session operation, making accidental
	// concurrency visible to Overlaps.
	OpDelay time.Duration

	// RespondTo returns the payload a subsequent Read should deliver after
	// this write. Nil leaves the previous read payload in place.
	RespondTo func(char string, data []byte) []byte
}

// NewFakeTransport returns a transport whose sessions answer every read with
// the payload produced by respondTo.
func NewFakeTransport(respondTo func(char string, data []byte) []byte) *FakeTransport {
	return &FakeTransport{RespondTo: respondTo}
}

// FailConnects scripts the next connect attempts to fail in order. Attempts
// beyond the scripted ones succeed.
func (t *FakeTransport) FailConnects(errs ...error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectErrs = append(t.connectErrs, errs...)
}

// FailReads scripts the next session reads to fail in order.
func (t *FakeTransport) FailReads(errs ...error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readErrs = append(t.readErrs, errs...)
}

// ConnectCount returns how many connect attempts were made, failed included.
func (t *FakeTransport) ConnectCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

// Sessions returns every session handed out so far.
func (t *FakeTransport) Sessions() []*FakeSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*FakeSession(nil), t.sessions...)
}

// Calls returns all recorded interactions in completion order.
func (t *FakeTransport) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Call(nil), t.calls...)
}

// CallsOf filters recorded interactions by kind.
func (t *FakeTransport) CallsOf(kind CallKind) []Call {
	var out []Call
	for _, c := range t.Calls() {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// OverlappingCalls returns pairs of write/read calls whose time spans
// intersect. A serialized command queue must produce none.
func (t *FakeTransport) OverlappingCalls() [][2]Call {
	var ops []Call
	for _, c := range t.Calls() {
		if c.Kind == CallWrite || c.Kind == CallRead {
			ops = append(ops, c)
		}
	}
	var pairs [][2]Call
	for i := 0; i < len(ops); i++ {
		for j := i + 1; j < len(ops); j++ {
			if ops[i].Overlaps(ops[j]) {
				pairs = append(pairs, [2]Call{ops[i], ops[j]})
			}
		}
	}
	return pairs
}

// Connect implements transport.Transport.
func (t *FakeTransport) Connect(ctx context.Context, address string) (transport.Session, error) {
	start := time.Now()

	t.mu.Lock()
	t.connects++
	var err error
	if len(t.connectErrs) > 0 {
		err, t.connectErrs = t.connectErrs[0], t.connectErrs[1:]
	}
	t.mu.Unlock()

	if ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		t.record(Call{Kind: CallConnect, Session: -1, Start: start, End: time.Now()})
		return nil, err
	}

	t.mu.Lock()
	sess := &FakeSession{transport: t, index: len(t.sessions)}
	t.sessions = append(t.sessions, sess)
	t.mu.Unlock()

	t.record(Call{Kind: CallConnect, Session: sess.index, Start: start, End: time.Now()})
	return sess, nil
}

func (t *FakeTransport) record(c Call) {
	t.mu.Lock()
	t.calls = append(t.calls, c)
	t.mu.Unlock()
}

func (t *FakeTransport) nextReadErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.readErrs) == 0 {
		return nil
	}
	var err error
	err, t.readErrs = t.readErrs[0], t.readErrs[1:]
	return err
}

// FakeSession is one in-memory connection.
type FakeSession struct {
	transport *FakeTransport
	index     int

	mu       sync.Mutex
	closed   bool
	pending  []byte
	handlers map[string]transport.NotifyHandler
}

// ErrSessionClosed fails operations on a closed fake session.
var ErrSessionClosed = errors.New("fake session closed")

func (s *FakeSession) delay() {
	if d := s.transport.OpDelay; d > 0 {
		time.Sleep(d)
	}
}

// Write implements transport.Session. The transport's RespondTo script
// decides what the next Read returns.
func (s *FakeSession) Write(ctx context.Context, characteristic string, data []byte) error {
	start := time.Now()
	s.delay()
	defer func() {
		s.transport.record(Call{
			Kind: CallWrite, Session: s.index, Char: characteristic,
			Data: append([]byte(nil), data...), Start: start, End: time.Now(),
		})
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.transport.RespondTo != nil {
		if resp := s.transport.RespondTo(characteristic, data); resp != nil {
			s.pending = resp
		}
	}
	return nil
}

// Read implements transport.Session, returning the payload scripted by the
// last write.
func (s *FakeSession) Read(ctx context.Context, characteristic string) ([]byte, error) {
	start := time.Now()
	s.delay()
	defer func() {
		s.transport.record(Call{Kind: CallRead, Session: s.index, Char: characteristic, Start: start, End: time.Now()})
	}()

	if err := s.transport.nextReadErr(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	return append([]byte(nil), s.pending...), nil
}

// Subscribe implements transport.Session.
func (s *FakeSession) Subscribe(characteristic string, handler transport.NotifyHandler) error {
	now := time.Now()
	s.transport.record(Call{Kind: CallSubscribe, Session: s.index, Char: characteristic, Start: now, End: now})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.handlers == nil {
		s.handlers = make(map[string]transport.NotifyHandler)
	}
	s.handlers[characteristic] = handler
	return nil
}

// Notify pushes an unsolicited payload to the subscriber, the way a device
// announces state changes on its own.
func (s *FakeSession) Notify(characteristic string, data []byte) bool {
	s.mu.Lock()
	handler := s.handlers[characteristic]
	s.mu.Unlock()
	if handler == nil {
		return false
	}
	handler(data)
	return true
}

// Closed reports whether Close was called.
func (s *FakeSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close implements transport.Session.
func (s *FakeSession) Close() error {
	now := time.Now()
	s.transport.record(Call{Kind: CallClose, Session: s.index, Start: now, End: now})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
