package breezer

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tion-home/tionctl/pkg/tion"
)

// CommandKind tags the logical operation a command performs.
type CommandKind int

const (
	KindSetSpeed CommandKind = iota
	KindSetMode
	KindRefresh
	KindDisconnect
)

// String returns the command kind name used in logs and events.
func (k CommandKind) String() string {
	switch k {
	case KindSetSpeed:
		return "set-speed"
	case KindSetMode:
		return "set-mode"
	case KindRefresh:
		return "refresh"
	case KindDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Command lifecycle positions. A command moves pending -> dispatched ->
// resolved, or pending -> resolved when cancelled before dispatch.
const (
	cmdPending int32 = iota
	cmdDispatched
	cmdResolved
)

// Result is a command's outcome. Reading is valid when HasReading is set:
// every successful device command carries back fresh telemetry.
type Result struct {
	Reading    tion.Reading
	HasReading bool
	Err        error
}

// Command is one queued operation with a unique correlation id.
type Command struct {
	ID         string
	Kind       CommandKind
	Speed      int
	Mode       tion.Mode
	EnqueuedAt time.Time

	state atomic.Int32
	done  chan Result
}

var ulidEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)

func newCommand(kind CommandKind) *Command {
	return &Command{
		ID:         ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String(),
		Kind:       kind,
		EnqueuedAt: time.Now(),
		done:       make(chan Result, 1),
	}
}

// markDispatched claims the command for execution. It fails if the command
// was cancelled first.
func (c *Command) markDispatched() bool {
	return c.state.CompareAndSwap(cmdPending, cmdDispatched)
}

// resolve delivers the result exactly once.
func (c *Command) resolve(res Result) {
	if c.state.Swap(cmdResolved) == cmdResolved {
		return
	}
	c.done <- res
}

// Ticket is the caller's handle on a queued command.
type Ticket struct {
	cmd *Command
}

// ID returns the command's correlation id.
func (t *Ticket) ID() string { return t.cmd.ID }

// Wait blocks until the command resolves or ctx expires. A ctx error only
// abandons the wait; the command still runs to completion.
func (t *Ticket) Wait(ctx context.Context) (Result, error) {
	select {
	case res := <-t.cmd.done:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Cancel withdraws the command if it has not been dispatched yet, resolving
// it as cancelled without any transport traffic. Returns false when the
// command already reached the device path and must complete or fail first.
func (t *Ticket) Cancel() bool {
	if !t.cmd.state.CompareAndSwap(cmdPending, cmdResolved) {
		return false
	}
	t.cmd.done <- Result{Err: tion.ErrCancelled}
	return true
}
