package gateway

import "context"

// Adapter is the interface that platform-specific implementations must
// satisfy. Each adapter handles connection management and message
// traffic for a single chat platform.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound events from the platform.
	// The channel is closed when the context is cancelled or the
	// adapter is closed. Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan Event, error)

	// Send delivers an outbound message to the platform.
	Send(ctx context.Context, msg Outbound) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}
