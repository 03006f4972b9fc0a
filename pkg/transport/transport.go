// Package transport abstracts the physical BLE link. The communication core
// never touches a BLE stack directly; it talks to a Transport, which makes
// the core testable against a scripted double and portable across stacks.
package transport

import "context"

// NotifyHandler receives raw notification payloads from a subscribed
// characteristic.
type NotifyHandler func(data []byte)

// Session is one live link to a device. All calls may fail with a transport
// error and all may time out via ctx. A Session is owned by exactly one
// connection manager and must not be shared.
type Session interface {
	// Write sends data to a characteristic, chunked to the link MTU.
	Write(ctx context.Context, characteristic string, data []byte) error

	// Read reads the current value of a characteristic.
	Read(ctx context.Context, characteristic string) ([]byte, error)

	// Subscribe registers a handler for characteristic notifications.
	// Subscriptions die with the session and must be re-established after
	// reconnect.
	Subscribe(characteristic string, handler NotifyHandler) error

	// Close tears the link down. Safe to call more than once.
	Close() error
}

// Transport dials devices. Implementations per BLE stack are selected at
// configuration time.
type Transport interface {
	Connect(ctx context.Context, address string) (Session, error)
}
