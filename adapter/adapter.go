// Package adapter defines the common outward contract every venue
// source adapter implements (§4.4) and the connection-management
// building blocks (backoff, subscription set, stale monitor) shared by
// the streaming and polling adapter families, grounded on
// websocket/client.go and websocket/manager.go's reconnect/health-check
// shape.
package adapter

import (
	"context"

	"marketpulse/normalize"
)

// TradeHandler is invoked once per normalized trade an adapter produces.
type TradeHandler func(normalize.Trade)

// TickHandler is invoked once per normalized top-of-book tick.
type TickHandler func(normalize.Tick)

// Adapter is the uniform interface every venue source adapter exposes,
// whether it is backed by a streaming socket or a REST poller.
type Adapter interface {
	Start(ctx context.Context) error
	Stop()
	Subscribe(instrument string)
	Unsubscribe(instrument string)
	Subscribed() []string
}
