package chain

import "context"

// WSClient defines the chain WebSocket subscription surface.
type WSClient interface {
	// SubscribeLogs subscribes to transaction logs matching the filter.
	SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan LogNotification, error)

	// Close closes the WebSocket connection.
	Close() error
}

// LogsFilter defines a logs subscription filter.
type LogsFilter struct {
	// Mentions filters to transactions that mention any of these
	// addresses. The transfer feed subscribes with tracked wallets here.
	Mentions []string
}

// LogNotification is one logs subscription message.
type LogNotification struct {
	Signature string
	Slot      int64
	Logs      []string
	Err       interface{}
}
