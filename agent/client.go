package agent

import "context"

// Client is the transport boundary to the backend agent runtime. How bytes
// move is the implementation's concern; the stream manager only consumes the
// typed surface below.
type Client interface {
	// Resume fetches a session's persisted metadata and message history.
	Resume(ctx context.Context, sessionID string) (*Session, error)

	// Reply sends messages to a session and opens a server-driven event
	// sequence. The returned channel is closed after a terminal event
	// (FinishEvent, ErrorEvent) or promptly once ctx is cancelled.
	// Cancelling ctx also aborts the in-flight network operation.
	Reply(ctx context.Context, sessionID string, messages []Message) (<-chan Event, error)
}
