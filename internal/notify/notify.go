// Package notify implements the Notification Sink: the engine's one
// outbound side-channel for human-facing success/error/close events.
package notify

import (
	"context"

	"mirror-engine/pkg/types"
)

// Table carries the structured fields a notification renders, mirroring
// §6's "table of account/symbol/side/size/price/leverage/pnl/reason/
// twap_progress".
type Table struct {
	Account      string
	Symbol       string
	Side         types.Side
	Size         float64
	Price        float64
	Leverage     int
	PnL          float64
	Reason       string
	TWAPProgress string
}

// Notification is one outbound event.
type Notification struct {
	Title string
	Body  string
	Kind  types.NotificationKind
	Table Table
}

// Sink delivers notifications. The engine never blocks a handler on
// delivery failure — Send errors are logged by the caller, not retried.
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// NopSink discards every notification — the default when no webhook URL is
// configured for an account (§6: "notification webhook (opaque URL or
// \"\")").
type NopSink struct{}

func (NopSink) Send(context.Context, Notification) error { return nil }
