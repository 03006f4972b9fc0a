// Package connection keeps one logical BLE link per device alive for as long
// as there is demand, reconnecting with exponential backoff on failure.
package connection

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/tion-home/tionctl/pkg/tion"
	"github.com/tion-home/tionctl/pkg/transport"
)

// Op is a single transport operation run against a live session. Ops must not
// retain the session.
type Op func(ctx context.Context, sess transport.Session) ([]byte, error)

// SessionHook runs after each successful (re)connect, before the session is
// handed to operations. Used to re-establish notification subscriptions that
// die with the previous session.
type SessionHook func(sess transport.Session) error

// Manager owns one device's connection state machine. It is the only
// component that touches the transport for its device; callers above it are
// expected to serialize operations (the command queue does).
type Manager struct {
	address   string
	transport transport.Transport
	policy    RetryPolicy
	backoff   *Backoff
	log       *logrus.Entry
	sink      EventSink
	onSession SessionHook

	// connectGroup collapses concurrent EnsureConnected calls into one
	// in-flight attempt sequence.
	connectGroup singleflight.Group

	mu         sync.RWMutex
	st         State
	session    transport.Session
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// Config carries the manager's construction parameters.
type Config struct {
	Address   string
	Transport transport.Transport
	Policy    RetryPolicy
	Logger    *logrus.Logger
	Events    EventSink
	OnSession SessionHook
}

// NewManager creates a connection manager in the Disconnected state.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}
	policy := cfg.Policy
	if policy.AttemptTimeout <= 0 {
		policy.AttemptTimeout = DefaultAttemptTimeout
	}
	return &Manager{
		address:   cfg.Address,
		transport: cfg.Transport,
		policy:    policy,
		backoff:   NewBackoff(policy),
		log:       logger.WithField("device", cfg.Address),
		sink:      cfg.Events,
		onSession: cfg.OnSession,
	}
}

// State returns a snapshot of the connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st
}

// Attempts returns the failed attempt count of the current reconnect cycle.
func (m *Manager) Attempts() int { return m.backoff.Attempts() }

// setState transitions the state machine and emits an event. Callers must
// hold m.mu.
func (m *Manager) setState(next State) {
	old := m.st
	m.st = next
	m.log.WithFields(logrus.Fields{
		"from": old.Phase.String(),
		"to":   next.Phase.String(),
	}).Debug("Connection state changed")
	if m.sink != nil {
		m.sink(Event{Address: m.address, Old: old, New: next, At: time.Now()})
	}
}

// EnsureConnected blocks the calling goroutine until the manager is Connected
// or the retry policy is exhausted. Concurrent callers share the same
// in-flight attempt sequence. A caller timing out does not disturb the state
// machine: the attempt keeps running for the callers still waiting, and for
// the next one.
func (m *Manager) EnsureConnected(ctx context.Context) error {
	m.mu.RLock()
	st := m.st
	m.mu.RUnlock()

	switch st.Phase {
	case PhaseConnected:
		return nil
	case PhaseFailed:
		return &tion.ConnectError{Address: m.address, Attempts: st.Attempt, Err: st.Reason}
	}

	ch := m.connectGroup.DoChan("connect", func() (interface{}, error) {
		return nil, m.connectLoop()
	})

	select {
	case <-ctx.Done():
		return &tion.ConnectError{Address: m.address, Attempts: m.backoff.Attempts(), Err: ctx.Err()}
	case res := <-ch:
		return res.Err
	}
}

// connectLoop drives connect attempts with backoff until success, policy
// exhaustion, or Disconnect. It runs detached from any single caller's
// context so that one caller's timeout does not abort the attempt for
// everyone else.
func (m *Manager) connectLoop() error {
	loopCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.mu.Lock()
	if m.st.Phase == PhaseConnected {
		m.mu.Unlock()
		return nil
	}
	if m.st.Phase == PhaseFailed {
		st := m.st
		m.mu.Unlock()
		return &tion.ConnectError{Address: m.address, Attempts: st.Attempt, Err: st.Reason}
	}
	done := make(chan struct{})
	m.loopCancel = cancel
	m.loopDone = done
	m.mu.Unlock()

	// The done channel lets Disconnect join the loop: no state transition or
	// event is emitted after it closes.
	defer func() {
		m.mu.Lock()
		if m.loopDone == done {
			m.loopDone = nil
			m.loopCancel = nil
		}
		m.mu.Unlock()
		close(done)
	}()

	for {
		attempt := m.backoff.Attempts() + 1

		m.mu.Lock()
		m.setState(State{Phase: PhaseConnecting, Attempt: attempt})
		m.mu.Unlock()

		attemptCtx, attemptCancel := context.WithTimeout(loopCtx, m.policy.AttemptTimeout)
		sess, err := m.transport.Connect(attemptCtx, m.address)
		attemptCancel()

		if loopCtx.Err() != nil {
			// Disconnect was requested while dialing.
			if sess != nil {
				sess.Close()
			}
			m.mu.Lock()
			m.setState(State{Phase: PhaseDisconnected})
			m.mu.Unlock()
			return &tion.ConnectError{Address: m.address, Attempts: m.backoff.Attempts(), Err: context.Canceled}
		}

		if err == nil {
			if m.onSession != nil {
				if herr := m.onSession(sess); herr != nil {
					// Subscriptions are part of a usable connection; treat
					// hook failure like a failed attempt.
					m.log.WithError(herr).Warn("Session setup failed, dropping connection")
					sess.Close()
					err = herr
				}
			}
		}

		if err == nil {
			m.backoff.Reset()
			m.mu.Lock()
			m.session = sess
			m.setState(State{Phase: PhaseConnected})
			m.mu.Unlock()
			m.log.Info("Connected")
			return nil
		}

		delay := m.backoff.Next()
		attempts := m.backoff.Attempts()

		if m.policy.MaxAttempts > 0 && attempts >= m.policy.MaxAttempts {
			m.mu.Lock()
			m.setState(State{Phase: PhaseFailed, Attempt: attempts, Reason: err})
			m.mu.Unlock()
			m.log.WithError(err).WithField("attempts", attempts).Error("Giving up on device")
			return &tion.ConnectError{Address: m.address, Attempts: attempts, Err: err}
		}

		nextRetry := time.Now().Add(delay)
		m.mu.Lock()
		m.setState(State{Phase: PhaseReconnecting, Attempt: attempts, NextRetryAt: nextRetry, Reason: err})
		m.mu.Unlock()
		m.log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempts,
			"retryIn": delay,
		}).Warn("Connect attempt failed")

		select {
		case <-time.After(delay):
		case <-loopCtx.Done():
			m.mu.Lock()
			m.setState(State{Phase: PhaseDisconnected})
			m.mu.Unlock()
			return &tion.ConnectError{Address: m.address, Attempts: attempts, Err: context.Canceled}
		}
	}
}

// Execute runs one transport operation, connecting first if needed. Transport
// failures mark the connection lost; with RetryOnReconnect the operation is
// retried exactly once after reconnection, otherwise it fails fast for the
// caller to re-issue. Protocol errors are never retried.
func (m *Manager) Execute(ctx context.Context, op Op) ([]byte, error) {
	out, err := m.executeOnce(ctx, op)
	if err == nil || !tion.IsRetryable(err) {
		return out, err
	}

	if !m.policy.RetryOnReconnect {
		return nil, err
	}
	m.log.WithError(err).Info("Retrying operation after reconnect")
	return m.executeOnce(ctx, op)
}

func (m *Manager) executeOnce(ctx context.Context, op Op) ([]byte, error) {
	if err := m.EnsureConnected(ctx); err != nil {
		return nil, err
	}

	m.mu.RLock()
	sess := m.session
	m.mu.RUnlock()
	if sess == nil {
		return nil, &tion.TransportError{Address: m.address, Op: "execute", Err: context.Canceled}
	}

	out, err := op(ctx, sess)
	if err == nil {
		return out, nil
	}
	if !tion.IsRetryable(err) {
		// Decoding mismatches survive reconnects; surface immediately.
		return nil, err
	}

	m.connectionLost(sess, err)
	return nil, err
}

// connectionLost drops the session and moves to Reconnecting. The next
// EnsureConnected call drives the actual retry cycle; an idle device does not
// keep radio traffic going.
func (m *Manager) connectionLost(sess transport.Session, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != sess {
		// A newer session already replaced the failed one.
		return
	}
	sess.Close()
	m.session = nil
	m.setState(State{Phase: PhaseReconnecting, Attempt: 1, NextRetryAt: time.Now(), Reason: cause})
}

// Disconnect forces Disconnected, cancelling any pending reconnect timer or
// in-flight dial. The manager will reconnect on the next demand.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	cancel := m.loopCancel
	done := m.loopDone
	m.loopCancel = nil
	m.loopDone = nil
	sess := m.session
	m.session = nil
	m.setState(State{Phase: PhaseDisconnected})
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		// Wait for the connect loop to exit so no state event fires after
		// Disconnect returns. Callers tear down event sinks right after.
		<-done
	}
	m.backoff.Reset()

	if sess != nil {
		return sess.Close()
	}
	return nil
}

// Reset leaves the Failed state and re-arms the retry budget. It is a no-op
// in any other state.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st.Phase != PhaseFailed {
		return
	}
	m.backoff.Reset()
	m.setState(State{Phase: PhaseDisconnected})
}
