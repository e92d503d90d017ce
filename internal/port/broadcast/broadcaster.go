// Package broadcast defines the port for pushing task lifecycle events to
// whatever real-time surface is attached.
package broadcast

import "context"

// Broadcaster fans a typed event out to every connected client. Delivery is
// best-effort; implementations must never block the caller on a slow client.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Nop discards all events; used when no real-time surface is configured.
type Nop struct{}

func (Nop) BroadcastEvent(context.Context, string, any) {}
