package stream

import (
	"strings"

	"github.com/strandline/strand-core/agent"
)

// mergeMessage folds an incoming message into the list. When the incoming
// message continues the last entry (same ID), the delta is combined with it;
// otherwise it is appended as a new entry. The input slice and its messages
// are never mutated: the result shares unchanged messages but every changed
// message, and the list itself, is freshly built.
func mergeMessage(messages []agent.Message, incoming agent.Message) []agent.Message {
	n := len(messages)
	if n == 0 || messages[n-1].ID != incoming.ID {
		out := make([]agent.Message, n, n+1)
		copy(out, messages)
		return append(out, incoming)
	}

	merged := mergeContinuation(messages[n-1], incoming)
	out := make([]agent.Message, n)
	copy(out, messages)
	out[n-1] = merged
	return out
}

// mergeContinuation combines a streaming delta with the message it extends.
//
// The common path is a single text delta onto a trailing text block, which
// concatenates. A thinking delta onto a trailing thinking block appends the
// thinking text and adopts a non-empty incoming signature (signatures arrive
// only on the final delta). Anything else appends the incoming blocks to the
// message's content list as-is.
func mergeContinuation(last, incoming agent.Message) agent.Message {
	merged := last
	merged.Content = append([]agent.ContentBlock(nil), last.Content...)

	if len(merged.Content) > 0 && len(incoming.Content) == 1 {
		tail := &merged.Content[len(merged.Content)-1]
		in := incoming.Content[0]

		if tail.Type == agent.ContentTypeText && in.Type == agent.ContentTypeText {
			tail.Text += in.Text
			return merged
		}
		if tail.Type == agent.ContentTypeThinking && in.Type == agent.ContentTypeThinking {
			tail.Thinking += in.Thinking
			if in.Signature != "" {
				tail.Signature = in.Signature
			}
			return merged
		}
	}

	merged.Content = append(merged.Content, incoming.Content...)
	return merged
}

// chatStateFor derives the UI-facing chat state from the message just
// merged. Content demanding user input wins, then compaction, then thinking.
func chatStateFor(msg agent.Message) ChatState {
	if msg.HasContentType(agent.ContentTypeToolConfirmation) || msg.HasContentType(agent.ContentTypeElicitation) {
		return ChatStateWaitingForUserInput
	}
	if msg.HasContentType(agent.ContentTypeSummarizationRequested) {
		return ChatStateCompacting
	}
	if isThinking(msg) {
		return ChatStateThinking
	}
	return ChatStateStreaming
}

// isThinking reports whether the message's latest content is reasoning
// output: an extended-thinking block, or text inside an unclosed <thinking>
// tag for models that emit tag-based traces.
func isThinking(msg agent.Message) bool {
	if len(msg.Content) == 0 {
		return false
	}
	tail := msg.Content[len(msg.Content)-1]
	switch tail.Type {
	case agent.ContentTypeThinking, agent.ContentTypeRedactedThinking:
		return true
	case agent.ContentTypeText:
		open := strings.LastIndex(tail.Text, "<thinking>")
		if open == -1 {
			return false
		}
		return strings.LastIndex(tail.Text, "</thinking>") < open
	}
	return false
}
