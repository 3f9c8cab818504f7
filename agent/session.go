package agent

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// draftPrefix marks sessions created locally that the backend has not yet
// persisted under a real identifier.
const draftPrefix = "new-"

// Session is the persisted metadata and history for one conversation,
// as returned by Client.Resume.
type Session struct {
	ID         string    `json:"id"`
	WorkingDir string    `json:"working_dir"`
	Name       string    `json:"name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	MessageCount int `json:"message_count"`

	// Token counters for the most recent exchange and accumulated across
	// the session's lifetime.
	InputTokens             int `json:"input_tokens"`
	OutputTokens            int `json:"output_tokens"`
	TotalTokens             int `json:"total_tokens"`
	AccumulatedInputTokens  int `json:"accumulated_input_tokens"`
	AccumulatedOutputTokens int `json:"accumulated_output_tokens"`
	AccumulatedTotalTokens  int `json:"accumulated_total_tokens"`

	// Conversation is the persisted message history. May be empty for a
	// session that has never completed an exchange.
	Conversation []Message `json:"conversation,omitempty"`
}

// NewDraftID returns a fresh draft session identifier
func NewDraftID() string {
	return draftPrefix + uuid.New().String()
}

// IsDraftID reports whether id names a locally created session that has not
// been persisted yet. The stream manager uses this on Finish to tell other
// surfaces a brand new session now exists.
func IsDraftID(id string) bool {
	return strings.HasPrefix(id, draftPrefix)
}
