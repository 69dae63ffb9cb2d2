package domain

import "context"

// Channel is a messaging transport (Telegram, console).
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
	Send(ctx context.Context, msg OutboundMessage) error
}
