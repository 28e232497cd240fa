// Package transport defines the broadcast bus seam the session sends and
// receives race messages over.
package transport

import "context"

// ConnectionState reports the transport's connectivity.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Transport is the broadcast bus seam. Implementations must be safe for
// concurrent use by an arbitrary number of goroutines invoking the callbacks
// registered via OnMessage/OnState; handing those callbacks off into a
// single control thread before touching session/sync state is the caller's
// (session.Session's) responsibility, not the Transport's.
type Transport interface {
	// Connect joins the given broadcast channel (e.g. "race-ABCDEF").
	Connect(ctx context.Context, channel string) error
	// Disconnect leaves the channel. Idempotent.
	Disconnect() error
	// Send publishes raw bytes to the joined channel. Returns an error if not
	// connected.
	Send(ctx context.Context, raw []byte) error
	// OnMessage registers a callback invoked for every message received on the
	// joined channel (including ones this process sent, if the bus echoes).
	// Returns an unsubscribe function.
	OnMessage(cb func(raw []byte)) (unsubscribe func())
	// OnState registers a callback invoked on connectivity changes. Returns an
	// unsubscribe function.
	OnState(cb func(ConnectionState)) (unsubscribe func())
}
