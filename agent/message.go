// Package agent defines the boundary between Strand and the backend agent
// runtime: conversation messages, the stream event union produced by a reply
// call, session metadata, and the Client interface a transport implements.
package agent

import (
	"encoding/json"
	"strings"
	"time"
)

// Role identifies the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentType represents the type of content in a message block
type ContentType string

const (
	ContentTypeText             ContentType = "text"
	ContentTypeThinking         ContentType = "thinking"
	ContentTypeRedactedThinking ContentType = "redacted_thinking"
	ContentTypeToolRequest      ContentType = "tool_request"
	ContentTypeToolResponse     ContentType = "tool_response"
	ContentTypeToolConfirmation ContentType = "tool_confirmation"
	ContentTypeElicitation      ContentType = "elicitation"

	// ContentTypeSummarizationRequested marks the start of context
	// compaction; the UI shows a compacting indicator while it is the
	// latest content.
	ContentTypeSummarizationRequested ContentType = "summarization_requested"
)

// ContentBlock represents a single piece of content in a message
type ContentBlock struct {
	Type      ContentType     `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Signature string          `json:"signature,omitempty"`
	ID        string          `json:"id,omitempty"`        // tool call ID for request/response pairs
	ToolName  string          `json:"tool_name,omitempty"` // for tool_request / tool_confirmation
	Input     json.RawMessage `json:"input,omitempty"`     // tool arguments
	Output    json.RawMessage `json:"output,omitempty"`    // tool result
}

// Message is one conversation entry. The ID is assigned by the backend and is
// stable across streaming deltas: deltas for the same message carry the same
// ID so the client can fold them together.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   []ContentBlock `json:"content"`
	CreatedAt int64          `json:"created_at,omitempty"` // unix seconds
}

// TextContent creates a content list with a single text block
func TextContent(text string) []ContentBlock {
	return []ContentBlock{{Type: ContentTypeText, Text: text}}
}

// ThinkingContent creates a content list with a single thinking block
func ThinkingContent(text string) []ContentBlock {
	return []ContentBlock{{Type: ContentTypeThinking, Thinking: text}}
}

// UserMessage creates a user message with a single text block
func UserMessage(id, text string) Message {
	return Message{
		ID:        id,
		Role:      RoleUser,
		Content:   TextContent(text),
		CreatedAt: time.Now().Unix(),
	}
}

// GetDisplayContent extracts the renderable text from content blocks
func GetDisplayContent(blocks []ContentBlock) string {
	var sb strings.Builder
	for _, block := range blocks {
		switch block.Type {
		case ContentTypeText:
			sb.WriteString(block.Text)
		case ContentTypeThinking:
			sb.WriteString(block.Thinking)
		}
	}
	return sb.String()
}

// HasContentType reports whether any block in the message has the given type
func (m Message) HasContentType(t ContentType) bool {
	for _, block := range m.Content {
		if block.Type == t {
			return true
		}
	}
	return false
}
