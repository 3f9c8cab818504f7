package stream

import (
	"github.com/strandline/strand-core/agent"
)

// CacheEntry is the last known-good (session metadata, message list) pair
// for a session. Advisory only: absence means "no snapshot, re-fetch", never
// an error.
type CacheEntry struct {
	Session  *agent.Session
	Messages []agent.Message
}

// copyEntry builds a detached cache entry so later merges can't reach the
// cached messages through shared backing arrays.
func copyEntry(session *agent.Session, messages []agent.Message) CacheEntry {
	entry := CacheEntry{
		Messages: append([]agent.Message(nil), messages...),
	}
	if session != nil {
		sess := *session
		entry.Session = &sess
	}
	return entry
}

// UpdateCache stores the snapshot for a session, replacing any prior entry.
func (m *Manager) UpdateCache(sessionID string, session *agent.Session, messages []agent.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[sessionID] = copyEntry(session, messages)
}

// GetCachedSession returns the cached snapshot for a session, or nil if no
// snapshot is available.
func (m *Manager) GetCachedSession(sessionID string) *CacheEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.cache[sessionID]
	if !ok {
		return nil
	}
	cp := copyEntry(entry.Session, entry.Messages)
	return &cp
}
