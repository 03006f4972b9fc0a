package main

import (
	"errors"
	"fmt"

	"github.com/tion-home/tionctl/pkg/tion"
)

// FormatUserError turns internal errors into messages that make sense to
// someone standing next to a breezer with a phone in hand.
func FormatUserError(err error) string {
	var ce *tion.ConnectError
	if errors.As(err, &ce) {
		return fmt.Sprintf("could not connect to %s after %d attempts: %v (is the device powered and in range?)",
			ce.Address, ce.Attempts, ce.Err)
	}
	var pe *tion.ProtocolError
	if errors.As(err, &pe) {
		return fmt.Sprintf("device %s sent malformed data: %s (try power-cycling the breezer)", pe.Address, pe.Reason)
	}
	var sde *tion.StaleDataError
	if errors.As(err, &sde) {
		return fmt.Sprintf("device unreachable, last known state is %s old: %v", sde.Age, sde.Err)
	}
	if errors.Is(err, tion.ErrCancelled) {
		return "command cancelled"
	}
	return err.Error()
}
