package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/strandline/strand-core/agent"
	"github.com/strandline/strand-core/config"
	"github.com/strandline/strand-core/logger"
)

// Manager multiplexes conversational streams across sessions. Construct one
// with New at the composition root and share it; sessions are isolated by
// identifier.
type Manager struct {
	mu sync.Mutex

	client agent.Client

	states  map[string]*StreamState
	subs    map[string]map[int]func(StreamState)
	nextSub int

	streams map[string]*activeStream
	cache   map[string]CacheEntry

	// created tracks draft sessions whose creation has already been
	// announced, so the hook fires at most once per session.
	created map[string]bool

	notificationLimit int
	onSessionCreated  func(sessionID string)
	streamLogs        bool

	log *slog.Logger
}

// activeStream is one session's in-flight stream: its cancellation handle
// and optional raw-event log. A session has at most one; the driver
// goroutine compares its own handle against the table before every state
// change, so a superseded stream can never write state.
type activeStream struct {
	cancel  context.CancelFunc
	logFile *os.File
}

// Option configures a Manager
type Option func(*Manager)

// WithNotificationLimit caps the per-session notification history. The
// oldest entries are dropped once the cap is exceeded.
func WithNotificationLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.notificationLimit = n
		}
	}
}

// WithSessionCreatedHook registers a callback fired once when a draft
// session finishes its first stream, so other surfaces can refresh their
// session lists.
func WithSessionCreatedHook(fn func(sessionID string)) Option {
	return func(m *Manager) {
		m.onSessionCreated = fn
	}
}

// WithStreamLogs enables per-session raw event logs under the logs
// directory, one stream-<id>.log per session.
func WithStreamLogs(enabled bool) Option {
	return func(m *Manager) {
		m.streamLogs = enabled
	}
}

// New creates a Manager driving streams through the given client.
func New(client agent.Client, opts ...Option) *Manager {
	m := &Manager{
		client:            client,
		states:            make(map[string]*StreamState),
		subs:              make(map[string]map[int]func(StreamState)),
		streams:           make(map[string]*activeStream),
		cache:             make(map[string]CacheEntry),
		created:           make(map[string]bool),
		notificationLimit: config.DefaultNotificationLimit,
		log:               logger.WithComponent("stream"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers a callback receiving every state update for the
// session. If state already exists the callback is invoked immediately with
// the current state, so late observers never see an empty flash. The
// returned function removes the callback; removing the last callback drops
// the session's subscriber set.
func (m *Manager) Subscribe(sessionID string, fn func(StreamState)) func() {
	m.mu.Lock()
	m.nextSub++
	id := m.nextSub
	if m.subs[sessionID] == nil {
		m.subs[sessionID] = make(map[int]func(StreamState))
	}
	m.subs[sessionID][id] = fn

	var replay *StreamState
	if st, ok := m.states[sessionID]; ok {
		snap := st.snapshot()
		replay = &snap
	}
	m.mu.Unlock()

	if replay != nil {
		m.deliver(sessionID, *replay, []func(StreamState){fn})
	}

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if set, ok := m.subs[sessionID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(m.subs, sessionID)
			}
		}
	}
}

// GetState returns a snapshot of the session's stream state, or nil if the
// session has never been initialized (or was cleaned up).
func (m *Manager) GetState(sessionID string) *StreamState {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[sessionID]
	if !ok {
		return nil
	}
	snap := st.snapshot()
	return &snap
}

// InitializeSession fetches the session's persisted metadata and history.
// Fetched history replaces local state unless a stream is active, in which
// case the longer message list wins so in-flight streamed content is never
// clobbered. The fetched metadata is adopted regardless.
func (m *Manager) InitializeSession(ctx context.Context, sessionID string) (*agent.Session, error) {
	m.mu.Lock()
	st, exists := m.states[sessionID]
	if !exists {
		st = &StreamState{ChatState: ChatStateIdle}
		m.states[sessionID] = st
	}
	active := m.isActiveLocked(sessionID)
	if !active {
		st.ChatState = ChatStateLoadingConversation
	}
	snap, subs := m.pendingNotifyLocked(sessionID)
	m.mu.Unlock()

	if !active {
		m.deliver(sessionID, snap, subs)
	}

	sess, err := m.client.Resume(ctx, sessionID)

	m.mu.Lock()
	st, exists = m.states[sessionID]
	if !exists {
		// Cleaned up while the fetch was in flight; don't resurrect.
		m.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return sess, nil
	}

	if err != nil {
		if st.ChatState == ChatStateLoadingConversation {
			st.ChatState = ChatStateIdle
		}
		snap, subs = m.pendingNotifyLocked(sessionID)
		m.mu.Unlock()
		m.deliver(sessionID, snap, subs)
		return nil, fmt.Errorf("failed to resume session: %w", err)
	}

	sessCopy := *sess
	st.Session = &sessCopy

	// Streamed content is authoritative once it is at least as long as the
	// fetched history.
	keepStreamed := m.isActiveLocked(sessionID) && len(st.Messages) >= len(sess.Conversation)
	if !keepStreamed {
		st.Messages = append([]agent.Message(nil), sess.Conversation...)
		st.TokenState = tokenStateFromSession(sess)
	}
	if st.ChatState == ChatStateLoadingConversation {
		st.ChatState = ChatStateIdle
	}
	snap, subs = m.pendingNotifyLocked(sessionID)
	m.mu.Unlock()

	m.deliver(sessionID, snap, subs)

	m.log.Debug("session initialized", "sessionID", sessionID, "messages", len(sess.Conversation))
	return sess, nil
}

// StartStream sends messages on the session and drives the resulting event
// sequence until it ends. Any prior stream for the session is stopped first;
// there is never more than one active stream per session. Errors are
// surfaced through StreamState.Err, never returned.
func (m *Manager) StartStream(ctx context.Context, sessionID string, messages []agent.Message) {
	m.mu.Lock()
	m.stopStreamLocked(sessionID)

	st, ok := m.states[sessionID]
	if !ok {
		st = &StreamState{}
		m.states[sessionID] = st
	}
	st.ChatState = ChatStateStreaming
	st.Notifications = nil
	st.Err = ""
	for _, msg := range messages {
		st.Messages = mergeMessage(st.Messages, msg)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	handle := &activeStream{cancel: cancel}
	if m.streamLogs {
		handle.logFile = openStreamLog(sessionID)
	}
	m.streams[sessionID] = handle

	snap, subs := m.pendingNotifyLocked(sessionID)
	m.mu.Unlock()

	m.deliver(sessionID, snap, subs)

	log := logger.WithSession(sessionID)
	log.Info("stream started", "messages", len(messages))

	go m.drive(streamCtx, sessionID, handle, messages)
}

// drive runs one stream's event loop in its own goroutine.
func (m *Manager) drive(ctx context.Context, sessionID string, handle *activeStream, messages []agent.Message) {
	events, err := m.client.Reply(ctx, sessionID, messages)
	if err != nil {
		m.finishWithError(sessionID, handle, err)
		return
	}

	for ev := range events {
		if ctx.Err() != nil {
			break
		}
		if !m.applyEvent(sessionID, handle, ev) {
			return
		}
	}

	// Sequence ended without a terminal event. Close out quietly.
	m.settle(sessionID, handle)
}

// applyEvent folds one event into the session's state. Returns false when
// the loop should stop: a terminal event, or this stream has been superseded.
func (m *Manager) applyEvent(sessionID string, handle *activeStream, ev agent.Event) bool {
	m.mu.Lock()
	if m.streams[sessionID] != handle {
		m.mu.Unlock()
		return false
	}
	st := m.states[sessionID]
	if st == nil {
		m.mu.Unlock()
		return false
	}

	logStreamEvent(handle.logFile, ev)

	cont := true
	var announce bool

	switch e := ev.(type) {
	case agent.MessageEvent:
		st.Messages = mergeMessage(st.Messages, e.Message)
		st.ChatState = chatStateFor(e.Message)
		st.TokenState.applyUsage(e.Usage)

	case agent.ErrorEvent:
		st.Err = e.Err.Error()
		st.ChatState = ChatStateIdle
		m.removeStreamLocked(sessionID, handle)
		cont = false

	case agent.FinishEvent:
		st.ChatState = ChatStateIdle
		m.removeStreamLocked(sessionID, handle)
		if st.Session != nil {
			m.cache[sessionID] = copyEntry(st.Session, st.Messages)
		}
		if agent.IsDraftID(sessionID) && !m.created[sessionID] {
			m.created[sessionID] = true
			announce = true
		}
		cont = false

	case agent.ConversationReplacedEvent:
		st.Messages = append([]agent.Message(nil), e.Conversation...)

	case agent.NotificationEvent:
		st.Notifications = append(st.Notifications, e.Notification)
		if over := len(st.Notifications) - m.notificationLimit; over > 0 {
			st.Notifications = st.Notifications[over:]
		}

	case agent.ModelChangeEvent:
		m.mu.Unlock()
		m.log.Debug("model changed", "sessionID", sessionID, "model", e.Model, "mode", e.Mode)
		return true

	case agent.PingEvent:
		m.mu.Unlock()
		return true
	}

	snap, subs := m.pendingNotifyLocked(sessionID)
	m.mu.Unlock()

	m.deliver(sessionID, snap, subs)

	if announce && m.onSessionCreated != nil {
		m.onSessionCreated(sessionID)
	}
	if !cont {
		logger.WithSession(sessionID).Info("stream ended", "chatState", string(ChatStateIdle))
	}
	return cont
}

// finishWithError handles a Reply call that failed outright. Abort-type
// errors are cancellation, which is silent.
func (m *Manager) finishWithError(sessionID string, handle *activeStream, err error) {
	if isAbort(err) {
		m.settle(sessionID, handle)
		return
	}

	m.mu.Lock()
	if m.streams[sessionID] != handle {
		m.mu.Unlock()
		return
	}
	m.removeStreamLocked(sessionID, handle)
	st := m.states[sessionID]
	if st == nil {
		m.mu.Unlock()
		return
	}
	st.Err = err.Error()
	st.ChatState = ChatStateIdle
	snap, subs := m.pendingNotifyLocked(sessionID)
	m.mu.Unlock()

	logger.WithSession(sessionID).Error("stream failed", "err", err)
	m.deliver(sessionID, snap, subs)
}

// settle closes out a stream that ended without a terminal event, leaving
// messages and error state untouched.
func (m *Manager) settle(sessionID string, handle *activeStream) {
	m.mu.Lock()
	if m.streams[sessionID] != handle {
		m.mu.Unlock()
		return
	}
	m.removeStreamLocked(sessionID, handle)
	st := m.states[sessionID]
	if st == nil || st.ChatState == ChatStateIdle {
		m.mu.Unlock()
		return
	}
	st.ChatState = ChatStateIdle
	snap, subs := m.pendingNotifyLocked(sessionID)
	m.mu.Unlock()

	m.deliver(sessionID, snap, subs)
}

// StopStream aborts the session's active stream, if any. Messages are left
// intact; the chat state moves to Idle unless it already is. Safe to call
// when no stream is active.
func (m *Manager) StopStream(sessionID string) {
	m.mu.Lock()
	m.stopStreamLocked(sessionID)

	st := m.states[sessionID]
	if st == nil || st.ChatState == ChatStateIdle {
		m.mu.Unlock()
		return
	}
	st.ChatState = ChatStateIdle
	snap, subs := m.pendingNotifyLocked(sessionID)
	m.mu.Unlock()

	m.deliver(sessionID, snap, subs)
}

// stopStreamLocked cancels and removes the session's handle. Caller holds mu.
func (m *Manager) stopStreamLocked(sessionID string) {
	handle, ok := m.streams[sessionID]
	if !ok {
		return
	}
	handle.cancel()
	m.removeStreamLocked(sessionID, handle)
}

// removeStreamLocked drops the handle from the table and closes its log.
// Caller holds mu.
func (m *Manager) removeStreamLocked(sessionID string, handle *activeStream) {
	if m.streams[sessionID] == handle {
		delete(m.streams, sessionID)
	}
	if handle.logFile != nil {
		handle.logFile.Close()
		handle.logFile = nil
	}
}

// IsStreamActive reports whether the session has state and its chat state
// indicates an in-flight exchange.
func (m *Manager) IsStreamActive(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isActiveLocked(sessionID)
}

func (m *Manager) isActiveLocked(sessionID string) bool {
	st, ok := m.states[sessionID]
	if !ok {
		return false
	}
	return st.ChatState != ChatStateIdle && st.ChatState != ChatStateLoadingConversation
}

// HasActiveStream reports whether any session is currently streaming.
func (m *Manager) HasActiveStream() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.states {
		if m.isActiveLocked(id) {
			return true
		}
	}
	return false
}

// Cleanup stops any active stream and deletes the session's state,
// subscriber set, and cache entry. Irreversible; a later access starts from
// scratch.
func (m *Manager) Cleanup(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopStreamLocked(sessionID)
	delete(m.states, sessionID)
	delete(m.subs, sessionID)
	delete(m.cache, sessionID)
	delete(m.created, sessionID)
}

// Shutdown cancels every active stream. States remain readable; call during
// process teardown.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.streams))
	for id := range m.streams {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.StopStream(id)
	}
	m.log.Info("stream manager shut down", "stopped", len(ids))
}

// pendingNotifyLocked snapshots the state and the subscriber set for
// delivery after the lock is released. Caller holds mu.
func (m *Manager) pendingNotifyLocked(sessionID string) (StreamState, []func(StreamState)) {
	var snap StreamState
	if st := m.states[sessionID]; st != nil {
		snap = st.snapshot()
	}
	set := m.subs[sessionID]
	subs := make([]func(StreamState), 0, len(set))
	for _, fn := range set {
		subs = append(subs, fn)
	}
	return snap, subs
}

// deliver fans a state snapshot out to subscribers. A panicking callback is
// logged and skipped; remaining callbacks still run.
func (m *Manager) deliver(sessionID string, snap StreamState, subs []func(StreamState)) {
	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("subscriber panicked", "sessionID", sessionID, "panic", r)
				}
			}()
			fn(snap)
		}()
	}
}

// tokenStateFromSession seeds counters from persisted session metadata
func tokenStateFromSession(sess *agent.Session) TokenState {
	return TokenState{
		InputTokens:             sess.InputTokens,
		OutputTokens:            sess.OutputTokens,
		TotalTokens:             sess.TotalTokens,
		AccumulatedInputTokens:  sess.AccumulatedInputTokens,
		AccumulatedOutputTokens: sess.AccumulatedOutputTokens,
		AccumulatedTotalTokens:  sess.AccumulatedTotalTokens,
	}
}

// isAbort reports whether err is cancellation rather than failure
func isAbort(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// openStreamLog opens the session's raw event log for append. Failure to
// open is logged, not fatal; streaming proceeds without the log.
func openStreamLog(sessionID string) *os.File {
	path, err := logger.StreamLogPath(sessionID)
	if err != nil {
		logger.WithSession(sessionID).Warn("stream log path unavailable", "err", err)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		logger.WithSession(sessionID).Warn("failed to create logs directory", "err", err)
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logger.WithSession(sessionID).Warn("failed to open stream log", "err", err)
		return nil
	}
	return f
}

// logStreamEvent appends one event to the session's raw log as a JSON line
func logStreamEvent(f *os.File, ev agent.Event) {
	if f == nil {
		return
	}
	line := struct {
		Type    string `json:"type"`
		Payload any    `json:"payload,omitempty"`
	}{}
	switch e := ev.(type) {
	case agent.MessageEvent:
		line.Type = "message"
		line.Payload = e.Message
	case agent.ErrorEvent:
		line.Type = "error"
		line.Payload = e.Err.Error()
	case agent.FinishEvent:
		line.Type = "finish"
	case agent.ConversationReplacedEvent:
		line.Type = "update_conversation"
		line.Payload = len(e.Conversation)
	case agent.NotificationEvent:
		line.Type = "notification"
		line.Payload = e.Notification
	case agent.ModelChangeEvent:
		line.Type = "model_change"
		line.Payload = e.Model
	case agent.PingEvent:
		line.Type = "ping"
	}
	data, err := json.Marshal(line)
	if err != nil {
		return
	}
	f.Write(append(data, '\n'))
}
