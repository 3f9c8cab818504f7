// Package stream is the session stream manager: a process-wide coordinator
// that multiplexes concurrent conversational streams between UI surfaces and
// the backend agent runtime, independent of any single view's lifetime.
//
// One Manager is constructed at the application's composition root and
// passed to whatever needs it. Per session it tracks a StreamState, a
// subscriber set, at most one active stream with its cancellation handle,
// and a cached (session, messages) snapshot.
package stream

import (
	"github.com/strandline/strand-core/agent"
)

// ChatState is a coarse status label describing what a session's active
// stream is currently doing. It exists for UI surfaces; it does not change
// cancellation semantics.
type ChatState string

const (
	ChatStateIdle                ChatState = "idle"
	ChatStateStreaming           ChatState = "streaming"
	ChatStateThinking            ChatState = "thinking"
	ChatStateCompacting          ChatState = "compacting"
	ChatStateWaitingForUserInput ChatState = "waiting_for_user_input"
	ChatStateLoadingConversation ChatState = "loading_conversation"
)

// TokenState holds running token-usage counters for a session: the most
// recent exchange and totals accumulated across the stream's lifetime.
type TokenState struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int

	AccumulatedInputTokens  int
	AccumulatedOutputTokens int
	AccumulatedTotalTokens  int
}

// StreamState is the manager's per-session view: the growing message list,
// the last fetched session metadata (may lag behind Messages during active
// streaming), the chat state, token counters, side-channel notifications,
// and the last stream error if any.
//
// Subscribers receive snapshots; the manager never hands out its internal
// value and never mutates a message after publishing it.
type StreamState struct {
	Messages      []agent.Message
	Session       *agent.Session
	ChatState     ChatState
	TokenState    TokenState
	Notifications []agent.Notification
	Err           string
}

// snapshot returns a copy safe to hand to subscribers. Message values are
// shared with the internal slice; that is safe because the merge engine
// always builds fresh messages instead of mutating published ones.
func (s *StreamState) snapshot() StreamState {
	cp := *s
	cp.Messages = append([]agent.Message(nil), s.Messages...)
	cp.Notifications = append([]agent.Notification(nil), s.Notifications...)
	if s.Session != nil {
		sess := *s.Session
		cp.Session = &sess
	}
	return cp
}

// applyUsage folds a message event's counters into the token state
func (t *TokenState) applyUsage(u *agent.Usage) {
	if u == nil {
		return
	}
	t.InputTokens = u.InputTokens
	t.OutputTokens = u.OutputTokens
	t.TotalTokens = u.TotalTokens
	t.AccumulatedInputTokens += u.InputTokens
	t.AccumulatedOutputTokens += u.OutputTokens
	t.AccumulatedTotalTokens += u.TotalTokens
}
