// Package chatmemory keeps bounded, in-memory conversation history per
// session. History is best effort and does not survive restarts.
package chatmemory

import (
	"context"
	"sync"
)

// Turn roles as sent to the model.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message in a conversation.
type Turn struct {
	Role    string
	Content string
}

// Memory stores the most recent turns of each session. Safe for
// concurrent use. Methods take a context to satisfy callers that treat
// history as a degradable dependency; the in-memory implementation never
// fails.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string][]Turn
	limit    int
}

// New creates a Memory keeping at most limit turns per session.
func New(limit int) *Memory {
	if limit <= 0 {
		limit = 20
	}
	return &Memory{
		sessions: make(map[string][]Turn),
		limit:    limit,
	}
}

// Recent returns a copy of the session's stored turns, oldest first.
func (m *Memory) Recent(_ context.Context, sessionID string) ([]Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	turns := m.sessions[sessionID]
	if len(turns) == 0 {
		return nil, nil
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// Append adds turns to the session, discarding the oldest beyond the
// limit.
func (m *Memory) Append(_ context.Context, sessionID string, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := append(m.sessions[sessionID], turns...)
	if len(stored) > m.limit {
		trimmed := make([]Turn, m.limit)
		copy(trimmed, stored[len(stored)-m.limit:])
		stored = trimmed
	}
	m.sessions[sessionID] = stored
	return nil
}

// Clear drops all history for the session.
func (m *Memory) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionID)
	return nil
}
