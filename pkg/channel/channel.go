// Package channel defines how external transports hand chat messages to
// the gateway.
package channel

import (
	"context"

	"specter/pkg/bus"
)

// Handler answers one inbound message. Every inbound message gets exactly
// one outbound reply; a busy session answers with the busy text and a
// non-empty Error.
type Handler func(context.Context, bus.InboundMessage) (bus.OutboundMessage, error)

// Adapter bridges one external transport (Telegram, WebSocket) into the
// gateway.
type Adapter interface {
	Name() string
	Run(context.Context, Handler) error
}
