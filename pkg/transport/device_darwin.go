//go:build darwin

package transport

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests).
var DeviceFactory = func() (ble.Device, error) {
	return darwin.NewDevice()
}
