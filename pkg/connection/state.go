package connection

import (
	"fmt"
	"time"
)

// Phase is the coarse connection lifecycle position.
type Phase uint8

const (
	// PhaseDisconnected indicates no active connection and no pending retry.
	PhaseDisconnected Phase = iota

	// PhaseConnecting indicates a connect attempt is in progress.
	PhaseConnecting

	// PhaseConnected indicates a live session.
	PhaseConnected

	// PhaseReconnecting indicates the link was lost and a retry is scheduled.
	PhaseReconnecting

	// PhaseFailed indicates the retry policy is exhausted; an explicit Reset
	// is required before the manager will dial again.
	PhaseFailed
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "DISCONNECTED"
	case PhaseConnecting:
		return "CONNECTING"
	case PhaseConnected:
		return "CONNECTED"
	case PhaseReconnecting:
		return "RECONNECTING"
	case PhaseFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// State is an immutable snapshot of the connection state machine. Attempt and
// NextRetryAt are meaningful in PhaseReconnecting; Reason in PhaseReconnecting
// and PhaseFailed.
type State struct {
	Phase       Phase
	Attempt     int
	NextRetryAt time.Time
	Reason      error
}

// String renders the state for logs and status output.
func (s State) String() string {
	switch s.Phase {
	case PhaseReconnecting:
		return fmt.Sprintf("%s (attempt %d, next retry %s)", s.Phase, s.Attempt, s.NextRetryAt.Format(time.RFC3339))
	case PhaseFailed:
		return fmt.Sprintf("%s (%v)", s.Phase, s.Reason)
	default:
		return s.Phase.String()
	}
}

// Event reports a state transition for an external telemetry consumer.
type Event struct {
	Address string
	Old     State
	New     State
	At      time.Time
}

// EventSink receives state transition events. Sinks must not block.
type EventSink func(Event)
