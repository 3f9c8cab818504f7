package agent

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is a test double for Client that doesn't touch the network.
// Tests script Resume results and Reply event sequences per session, and can
// gate event delivery to exercise cancellation mid-stream.
//
// NOTE: This file is used by stream manager tests and by downstream
// consumers' tests.
type MockClient struct {
	mu sync.Mutex

	sessions map[string]*Session
	scripts  map[string][][]Event

	resumeErr map[string]error
	replyErr  map[string]error

	// Gate, when non-nil, is received from before each scripted event is
	// delivered. Closing it releases all remaining events.
	Gate chan struct{}

	// OnReply is invoked with each Reply call's arguments, for assertions.
	OnReply func(sessionID string, messages []Message)

	replyCalls []ReplyCall
}

// ReplyCall records the arguments of one Reply invocation
type ReplyCall struct {
	SessionID string
	Messages  []Message
}

// NewMockClient creates a mock client for testing.
func NewMockClient() *MockClient {
	return &MockClient{
		sessions:  make(map[string]*Session),
		scripts:   make(map[string][][]Event),
		resumeErr: make(map[string]error),
		replyErr:  make(map[string]error),
	}
}

// SetSession sets the session Resume will return for the given ID.
func (m *MockClient) SetSession(sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.ID] = sess
}

// SetResumeError makes Resume fail for the given session ID.
func (m *MockClient) SetResumeError(sessionID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resumeErr[sessionID] = err
}

// SetReplyError makes Reply fail for the given session ID.
func (m *MockClient) SetReplyError(sessionID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replyErr[sessionID] = err
}

// QueueEvents queues one Reply call's worth of events for a session.
// Successive Reply calls for the same session consume successive scripts.
func (m *MockClient) QueueEvents(sessionID string, events ...Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[sessionID] = append(m.scripts[sessionID], events)
}

// ReplyCalls returns a copy of all recorded Reply invocations.
func (m *MockClient) ReplyCalls() []ReplyCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]ReplyCall, len(m.replyCalls))
	copy(calls, m.replyCalls)
	return calls
}

// Resume implements Client.
func (m *MockClient) Resume(ctx context.Context, sessionID string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.resumeErr[sessionID]; err != nil {
		return nil, err
	}
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	// Copy so the caller can't mutate the scripted session
	cp := *sess
	cp.Conversation = append([]Message(nil), sess.Conversation...)
	return &cp, nil
}

// Reply implements Client. The returned channel delivers the next queued
// script for the session, honoring ctx cancellation and the Gate.
func (m *MockClient) Reply(ctx context.Context, sessionID string, messages []Message) (<-chan Event, error) {
	m.mu.Lock()
	m.replyCalls = append(m.replyCalls, ReplyCall{SessionID: sessionID, Messages: messages})
	onReply := m.OnReply
	gate := m.Gate

	if err := m.replyErr[sessionID]; err != nil {
		m.mu.Unlock()
		return nil, err
	}

	var script []Event
	if scripts := m.scripts[sessionID]; len(scripts) > 0 {
		script = scripts[0]
		m.scripts[sessionID] = scripts[1:]
	}
	m.mu.Unlock()

	if onReply != nil {
		onReply(sessionID, messages)
	}

	ch := make(chan Event)
	go func() {
		defer close(ch)
		for _, ev := range script {
			if gate != nil {
				select {
				case <-gate:
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

var _ Client = (*MockClient)(nil)
