package agent

import "encoding/json"

// Event is one unit of server-pushed data belonging to a single Reply call's
// event sequence. It is a closed union: the only implementations are the
// *Event types in this package, enforced by the unexported marker method.
// Consumers switch on the concrete type.
type Event interface {
	event()
}

// MessageEvent carries a new message or a streaming delta for the message
// whose ID it names. Usage is optional and, when present, reflects the
// token counters as of this event.
type MessageEvent struct {
	Message Message
	Usage   *Usage
}

// ErrorEvent reports a stream failure. The stream ends after this event.
type ErrorEvent struct {
	Err error
}

// FinishEvent marks normal completion of the stream.
type FinishEvent struct{}

// ConversationReplacedEvent carries a server-declared authoritative rewrite
// of the full conversation, e.g. after context compaction.
type ConversationReplacedEvent struct {
	Conversation []Message
}

// NotificationEvent carries a side-channel progress or telemetry event,
// separate from the message stream.
type NotificationEvent struct {
	Notification Notification
}

// ModelChangeEvent reports the model and mode now serving the stream.
// Metadata only, no conversation state change.
type ModelChangeEvent struct {
	Model string
	Mode  string
}

// PingEvent is a liveness signal. No state change.
type PingEvent struct{}

func (MessageEvent) event()              {}
func (ErrorEvent) event()                {}
func (FinishEvent) event()               {}
func (ConversationReplacedEvent) event() {}
func (NotificationEvent) event()         {}
func (ModelChangeEvent) event()          {}
func (PingEvent) event()                 {}

// Usage holds token counters accompanying a message event
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Notification is a side-channel event from the backend, typically tool
// progress. Data is kept raw; the manager never interprets it.
type Notification struct {
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}
