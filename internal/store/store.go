// Package store persists conversation sessions. Two backends implement one
// contract: a durable gorm-backed store and a volatile in-memory map. The
// Fallback wrapper degrades from durable to memory transparently when the
// durable engine is unreachable, with an identical error taxonomy.
package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/promptgate/promptgate/internal/chat"
)

// titleLimit is the number of leading runes of the first user turn used
// for the auto-derived session title.
const titleLimit = 30

// Session is a persisted conversation thread keyed by an opaque identifier.
type Session struct {
	SessionKey  string      `json:"sessionId"`
	Title       string      `json:"title"`
	Turns       []chat.Turn `json:"messages"`
	LastUpdated time.Time   `json:"lastUpdated"`
}

// Summary is the projection returned by ListSummaries.
type Summary struct {
	SessionKey  string    `json:"sessionId"`
	Title       string    `json:"title"`
	LastUpdated time.Time `json:"lastUpdated"`
	TurnCount   int       `json:"messageCount"`
}

// Store is the session persistence contract. Implementations must treat an
// unknown session key in GetOrCreate and AppendTurn as first use (lazy
// creation) and must only error with NOT_FOUND on the explicitly addressed
// operations (SetTitle, ClearTurns, Delete).
type Store interface {
	// GetOrCreate resolves a session, creating it when the key is unknown.
	// An empty key generates a fresh one.
	GetOrCreate(ctx context.Context, sessionKey string) (*Session, error)

	// AppendTurn appends a turn, bumps the last-updated timestamp and, on
	// the first user turn of a placeholder-titled session, derives the
	// title from the turn text.
	AppendTurn(ctx context.Context, sessionKey string, turn chat.Turn) (*Session, error)

	// SetTitle replaces the title. Fails with NOT_FOUND for unknown keys
	// and VALIDATION_FAILED for an empty title.
	SetTitle(ctx context.Context, sessionKey, title string) (*Session, error)

	// ClearTurns empties the turn sequence but keeps the title.
	ClearTurns(ctx context.Context, sessionKey string) error

	// Delete removes the session entirely.
	Delete(ctx context.Context, sessionKey string) error

	// ListSummaries returns all sessions ordered by last-updated descending.
	ListSummaries(ctx context.Context) ([]Summary, error)
}

// NewSessionKey generates an opaque, collision-resistant session key.
// Format matches session_<millis base36>_<8 hex chars>.
func NewSessionKey() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return "session_" + strconv.FormatInt(time.Now().UnixMilli(), 36) + "_" + hex.EncodeToString(buf)
}

// PlaceholderTitle returns the date-stamped default title for new sessions.
func PlaceholderTitle() string {
	return "Conversation " + time.Now().Format("2006-01-02")
}

// isPlaceholderTitle reports whether the title is still the default,
// i.e. has never been derived or explicitly set.
func isPlaceholderTitle(title string) bool {
	return strings.HasPrefix(title, "Conversation ")
}

// deriveTitle produces the auto-derived title from the first user turn:
// the first titleLimit runes, trimmed. The ellipsis is appended only
// when the trimmed prefix still fills the limit, so a prefix that loses
// trailing whitespace to the trim stays bare.
func deriveTitle(text string) string {
	runes := []rune(text)
	if len(runes) > titleLimit {
		runes = runes[:titleLimit]
	}
	title := strings.TrimSpace(string(runes))
	if len([]rune(title)) >= titleLimit {
		title += "..."
	}
	return title
}

// shouldDeriveTitle applies the one-shot derivation rule: only the first
// turn, only a user turn, and only while the title is the placeholder.
func shouldDeriveTitle(title string, existingTurns int, turn chat.Turn) bool {
	return existingTurns == 0 && turn.Role == chat.RoleUser && isPlaceholderTitle(title)
}
