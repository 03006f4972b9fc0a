package connection

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tion-home/tionctl/internal/testutils"
	"github.com/tion-home/tionctl/pkg/tion"
	"github.com/tion-home/tionctl/pkg/transport"
)

const testAddress = "AA:BB:CC:DD:EE:FF"

var errDial = errors.New("dial failed")

func silentLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fastPolicy keeps retry delays in the low milliseconds so tests run quickly.
func fastPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:      time.Millisecond,
		Multiplier:     2,
		MaxDelay:       4 * time.Millisecond,
		MaxAttempts:    8,
		AttemptTimeout: time.Second,
	}
}

func newTestManager(t *testing.T, ft *testutils.FakeTransport, policy RetryPolicy) *Manager {
	t.Helper()
	m := NewManager(Config{
		Address:   testAddress,
		Transport: ft,
		Policy:    policy,
		Logger:    silentLogger(),
	})
	t.Cleanup(func() { _ = m.Disconnect() })
	return m
}

func TestManagerConnectsAfterTransientFailures(t *testing.T) {
	ft := testutils.NewFakeTransport(nil)
	ft.FailConnects(errDial, errDial, errDial)
	m := newTestManager(t, ft, fastPolicy())

	err := m.EnsureConnected(context.Background())
	require.NoError(t, err)

	assert.Equal(t, PhaseConnected, m.State().Phase)
	assert.Equal(t, 4, ft.ConnectCount(), "three failures then one success")
	assert.Equal(t, 0, m.Attempts(), "attempt counter resets on success")
}

func TestManagerFailsAfterMaxAttempts(t *testing.T) {
	ft := testutils.NewFakeTransport(nil)
	ft.FailConnects(errDial, errDial, errDial)
	policy := fastPolicy()
	policy.MaxAttempts = 3
	m := newTestManager(t, ft, policy)

	err := m.EnsureConnected(context.Background())
	var ce *tion.ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 3, ce.Attempts)
	assert.Equal(t, PhaseFailed, m.State().Phase)

	// Failed is terminal: no new dials until Reset.
	err = m.EnsureConnected(context.Background())
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 3, ft.ConnectCount())

	m.Reset()
	assert.Equal(t, PhaseDisconnected, m.State().Phase)
	require.NoError(t, m.EnsureConnected(context.Background()))
	assert.Equal(t, PhaseConnected, m.State().Phase)
}

func TestManagerConcurrentCallersShareOneAttemptSequence(t *testing.T) {
	ft := testutils.NewFakeTransport(nil)
	ft.FailConnects(errDial)
	m := newTestManager(t, ft, fastPolicy())

	const callers = 5
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			errs <- m.EnsureConnected(context.Background())
		}()
	}
	for i := 0; i < callers; i++ {
		assert.NoError(t, <-errs)
	}
	assert.Equal(t, 2, ft.ConnectCount(), "one shared failure plus one shared success")
}

func TestManagerCallerTimeoutDoesNotCorruptState(t *testing.T) {
	ft := testutils.NewFakeTransport(nil)
	ft.FailConnects(errDial, errDial)
	policy := fastPolicy()
	policy.BaseDelay = 50 * time.Millisecond
	policy.MaxDelay = 50 * time.Millisecond
	m := newTestManager(t, ft, policy)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	err := m.EnsureConnected(ctx)
	var ce *tion.ConnectError
	require.ErrorAs(t, err, &ce)
	require.ErrorIs(t, ce.Err, context.DeadlineExceeded)

	// The attempt sequence keeps running in the background; a later caller
	// with patience gets the connection.
	require.NoError(t, m.EnsureConnected(context.Background()))
	assert.Equal(t, PhaseConnected, m.State().Phase)
}

func TestManagerDisconnectInterruptsRetryWait(t *testing.T) {
	ft := testutils.NewFakeTransport(nil)
	ft.FailConnects(errDial)
	policy := fastPolicy()
	policy.BaseDelay = 10 * time.Second // would stall the test if not interrupted
	policy.MaxDelay = 10 * time.Second
	m := newTestManager(t, ft, policy)

	done := make(chan error, 1)
	go func() {
		done <- m.EnsureConnected(context.Background())
	}()

	// Wait for the first attempt to fail and the retry timer to arm.
	require.Eventually(t, func() bool {
		return m.State().Phase == PhaseReconnecting
	}, time.Second, time.Millisecond)

	require.NoError(t, m.Disconnect())

	select {
	case err := <-done:
		var ce *tion.ConnectError
		require.ErrorAs(t, err, &ce)
	case <-time.After(time.Second):
		t.Fatal("EnsureConnected did not return after Disconnect")
	}
	assert.Equal(t, PhaseDisconnected, m.State().Phase)
}

func TestManagerReconnectingStateCarriesRetryTime(t *testing.T) {
	ft := testutils.NewFakeTransport(nil)
	ft.FailConnects(errDial)
	policy := fastPolicy()
	policy.BaseDelay = 200 * time.Millisecond
	policy.MaxDelay = 200 * time.Millisecond
	m := newTestManager(t, ft, policy)

	go func() { _ = m.EnsureConnected(context.Background()) }()

	require.Eventually(t, func() bool {
		return m.State().Phase == PhaseReconnecting
	}, time.Second, time.Millisecond)

	st := m.State()
	assert.Equal(t, 1, st.Attempt)
	assert.False(t, st.NextRetryAt.IsZero())
	assert.ErrorIs(t, st.Reason, errDial)
}

func TestManagerExecuteMarksConnectionLost(t *testing.T) {
	ft := testutils.NewFakeTransport(nil)
	m := newTestManager(t, ft, fastPolicy())

	opErr := &tion.TransportError{Address: testAddress, Op: "write", Err: errors.New("link loss")}
	_, err := m.Execute(context.Background(), func(ctx context.Context, sess transport.Session) ([]byte, error) {
		return nil, opErr
	})
	require.ErrorIs(t, err, opErr)

	assert.Equal(t, PhaseReconnecting, m.State().Phase)
	sessions := ft.Sessions()
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Closed(), "failed session is dropped")
}

func TestManagerExecuteFailsFastByDefault(t *testing.T) {
	ft := testutils.NewFakeTransport(nil)
	m := newTestManager(t, ft, fastPolicy())

	calls := 0
	_, err := m.Execute(context.Background(), func(ctx context.Context, sess transport.Session) ([]byte, error) {
		calls++
		return nil, &tion.TransportError{Address: testAddress, Op: "write", Err: errDial}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "no implicit retry without RetryOnReconnect")
}

func TestManagerExecuteRetriesOnceWhenOptedIn(t *testing.T) {
	ft := testutils.NewFakeTransport(nil)
	policy := fastPolicy()
	policy.RetryOnReconnect = true
	m := newTestManager(t, ft, policy)

	calls := 0
	out, err := m.Execute(context.Background(), func(ctx context.Context, sess transport.Session) ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, &tion.TransportError{Address: testAddress, Op: "read", Err: errDial}
		}
		return []byte{0x01}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, out)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, ft.ConnectCount(), "retry runs on a fresh session")
}

func TestManagerExecuteNeverRetriesProtocolErrors(t *testing.T) {
	ft := testutils.NewFakeTransport(nil)
	policy := fastPolicy()
	policy.RetryOnReconnect = true
	m := newTestManager(t, ft, policy)

	calls := 0
	_, err := m.Execute(context.Background(), func(ctx context.Context, sess transport.Session) ([]byte, error) {
		calls++
		return nil, &tion.ProtocolError{Address: testAddress, Reason: "bad frame"}
	})
	var pe *tion.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, calls)
	assert.Equal(t, PhaseConnected, m.State().Phase, "protocol errors do not drop the link")
}

func TestManagerSessionHookFailureCountsAsFailedAttempt(t *testing.T) {
	ft := testutils.NewFakeTransport(nil)
	policy := fastPolicy()
	policy.MaxAttempts = 2

	hookErr := errors.New("subscribe failed")
	hookCalls := 0
	m := NewManager(Config{
		Address:   testAddress,
		Transport: ft,
		Policy:    policy,
		Logger:    silentLogger(),
		OnSession: func(sess transport.Session) error {
			hookCalls++
			return hookErr
		},
	})
	t.Cleanup(func() { _ = m.Disconnect() })

	err := m.EnsureConnected(context.Background())
	var ce *tion.ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 2, hookCalls)
	for _, sess := range ft.Sessions() {
		assert.True(t, sess.Closed())
	}
}

func TestManagerDisconnectJoinsConnectLoop(t *testing.T) {
	ft := testutils.NewFakeTransport(nil)
	fails := make([]error, 32)
	for i := range fails {
		fails[i] = errDial
	}
	ft.FailConnects(fails...)

	policy := fastPolicy()
	policy.BaseDelay = 50 * time.Millisecond
	policy.MaxDelay = 50 * time.Millisecond
	policy.MaxAttempts = 0

	var mu sync.Mutex
	events := 0
	m := NewManager(Config{
		Address:   testAddress,
		Transport: ft,
		Policy:    policy,
		Logger:    silentLogger(),
		Events: func(Event) {
			mu.Lock()
			events++
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, m.EnsureConnected(ctx), "caller gives up while the loop keeps dialing")

	require.NoError(t, m.Disconnect())
	mu.Lock()
	seen := events
	mu.Unlock()

	// Once Disconnect returns the loop has exited; nothing may fire into the
	// sink afterwards, since callers tear their sinks down next.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	after := events
	mu.Unlock()
	assert.Equal(t, seen, after, "state event emitted after Disconnect returned")
	assert.Equal(t, PhaseDisconnected, m.State().Phase)
}
