package breezer

import (
	"time"

	"github.com/tion-home/tionctl/pkg/connection"
)

// EventKind distinguishes observability events.
type EventKind int

const (
	// EventConnection reports a connection state transition.
	EventConnection EventKind = iota

	// EventCommand reports a command outcome.
	EventCommand
)

// Event is emitted for an external logging/telemetry collector. The facade
// publishes events over a drop-oldest ring so a slow collector never stalls
// device traffic.
type Event struct {
	Kind    EventKind
	Address string
	At      time.Time

	// Connection transition, set for EventConnection.
	ConnOld connection.State
	ConnNew connection.State

	// Command outcome, set for EventCommand.
	CommandID   string
	CommandKind CommandKind
	Err         error
	Elapsed     time.Duration
}
