package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/promptgate/promptgate/internal/chat"
	apperrors "github.com/promptgate/promptgate/internal/errors"
)

// Memory is the volatile session store: a process-wide map guarded by a
// mutex. It backs the gateway on its own when no durable engine is
// configured and serves as the degradation target of Fallback.
//
// Memory is safe for concurrent use. Appends to the same session are
// serialized by the lock, so turn order is deterministic.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]*Session)}
}

var _ Store = (*Memory)(nil)

func (m *Memory) GetOrCreate(_ context.Context, sessionKey string) (*Session, error) {
	if sessionKey == "" {
		sessionKey = NewSessionKey()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneSession(m.getOrCreateLocked(sessionKey)), nil
}

func (m *Memory) AppendTurn(_ context.Context, sessionKey string, turn chat.Turn) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.getOrCreateLocked(sessionKey)
	if shouldDeriveTitle(sess.Title, len(sess.Turns), turn) {
		sess.Title = deriveTitle(turn.Content.PlainText())
	}
	sess.Turns = append(sess.Turns, turn)
	sess.LastUpdated = time.Now()
	return cloneSession(sess), nil
}

func (m *Memory) SetTitle(_ context.Context, sessionKey, title string) (*Session, error) {
	if title == "" {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "title cannot be empty", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionKey]
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodeNotFound, "conversation not found", nil)
	}
	sess.Title = title
	sess.LastUpdated = time.Now()
	return cloneSession(sess), nil
}

func (m *Memory) ClearTurns(_ context.Context, sessionKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionKey]
	if !ok {
		return apperrors.New(apperrors.ErrCodeNotFound, "conversation not found", nil)
	}
	sess.Turns = nil
	sess.LastUpdated = time.Now()
	return nil
}

func (m *Memory) Delete(_ context.Context, sessionKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionKey]; !ok {
		return apperrors.New(apperrors.ErrCodeNotFound, "conversation not found", nil)
	}
	delete(m.sessions, sessionKey)
	return nil
}

func (m *Memory) ListSummaries(_ context.Context) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summaries := make([]Summary, 0, len(m.sessions))
	for _, sess := range m.sessions {
		summaries = append(summaries, Summary{
			SessionKey:  sess.SessionKey,
			Title:       sess.Title,
			LastUpdated: sess.LastUpdated,
			TurnCount:   len(sess.Turns),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastUpdated.After(summaries[j].LastUpdated)
	})
	return summaries, nil
}

// getOrCreateLocked resolves or lazily creates a session. Caller holds mu.
func (m *Memory) getOrCreateLocked(sessionKey string) *Session {
	if sess, ok := m.sessions[sessionKey]; ok {
		return sess
	}
	sess := &Session{
		SessionKey:  sessionKey,
		Title:       PlaceholderTitle(),
		LastUpdated: time.Now(),
	}
	m.sessions[sessionKey] = sess
	return sess
}

// cloneSession copies a session so callers cannot mutate stored state.
func cloneSession(sess *Session) *Session {
	out := *sess
	out.Turns = make([]chat.Turn, len(sess.Turns))
	copy(out.Turns, sess.Turns)
	return &out
}
