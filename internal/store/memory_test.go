package store

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptgate/promptgate/internal/chat"
	apperrors "github.com/promptgate/promptgate/internal/errors"
)

func TestNewSessionKey(t *testing.T) {
	a := NewSessionKey()
	b := NewSessionKey()

	assert.True(t, strings.HasPrefix(a, "session_"))
	assert.NotEqual(t, a, b)
	assert.Len(t, strings.Split(a, "_"), 3)
}

func TestGetOrCreate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	t.Run("empty key creates fresh session", func(t *testing.T) {
		sess, err := m.GetOrCreate(ctx, "")
		require.NoError(t, err)
		assert.NotEmpty(t, sess.SessionKey)
		assert.True(t, strings.HasPrefix(sess.Title, "Conversation "))
		assert.Empty(t, sess.Turns)
	})

	t.Run("unknown key is first use", func(t *testing.T) {
		sess, err := m.GetOrCreate(ctx, "session_abc_0001")
		require.NoError(t, err)
		assert.Equal(t, "session_abc_0001", sess.SessionKey)
	})

	t.Run("existing key returns same session", func(t *testing.T) {
		first, err := m.GetOrCreate(ctx, "")
		require.NoError(t, err)
		_, err = m.AppendTurn(ctx, first.SessionKey, chat.UserTurn("hello"))
		require.NoError(t, err)

		again, err := m.GetOrCreate(ctx, first.SessionKey)
		require.NoError(t, err)
		assert.Len(t, again.Turns, 1)
	})
}

func TestAppendTurnTitleDerivation(t *testing.T) {
	ctx := context.Background()

	t.Run("long first prompt is truncated with ellipsis", func(t *testing.T) {
		m := NewMemory()
		sess, err := m.GetOrCreate(ctx, "")
		require.NoError(t, err)

		sess, err = m.AppendTurn(ctx, sess.SessionKey, chat.UserTurn("Let's plan the Q3 roadmap in detail together"))
		require.NoError(t, err)
		assert.Equal(t, "Let's plan the Q3 roadmap in d...", sess.Title)
	})

	t.Run("prefix ending in whitespace gets no ellipsis", func(t *testing.T) {
		m := NewMemory()
		sess, err := m.GetOrCreate(ctx, "")
		require.NoError(t, err)

		// The 30-rune prefix ends on the space, so the trim shortens
		// it below the limit and no ellipsis is appended.
		prompt := strings.Repeat("a", 29) + " trailing words"
		sess, err = m.AppendTurn(ctx, sess.SessionKey, chat.UserTurn(prompt))
		require.NoError(t, err)
		assert.Equal(t, strings.Repeat("a", 29), sess.Title)
	})

	t.Run("short first prompt kept whole", func(t *testing.T) {
		m := NewMemory()
		sess, err := m.GetOrCreate(ctx, "")
		require.NoError(t, err)

		sess, err = m.AppendTurn(ctx, sess.SessionKey, chat.UserTurn("Hi there"))
		require.NoError(t, err)
		assert.Equal(t, "Hi there", sess.Title)
	})

	t.Run("second user turn does not retitle", func(t *testing.T) {
		m := NewMemory()
		sess, err := m.GetOrCreate(ctx, "")
		require.NoError(t, err)
		sess, err = m.AppendTurn(ctx, sess.SessionKey, chat.UserTurn("First question"))
		require.NoError(t, err)
		sess, err = m.AppendTurn(ctx, sess.SessionKey, chat.UserTurn("Second question"))
		require.NoError(t, err)
		assert.Equal(t, "First question", sess.Title)
	})

	t.Run("custom title never overwritten", func(t *testing.T) {
		m := NewMemory()
		sess, err := m.GetOrCreate(ctx, "")
		require.NoError(t, err)
		_, err = m.SetTitle(ctx, sess.SessionKey, "My project")
		require.NoError(t, err)

		sess, err = m.AppendTurn(ctx, sess.SessionKey, chat.UserTurn("Unrelated prompt"))
		require.NoError(t, err)
		assert.Equal(t, "My project", sess.Title)
	})

	t.Run("assistant turn does not title", func(t *testing.T) {
		m := NewMemory()
		sess, err := m.GetOrCreate(ctx, "")
		require.NoError(t, err)

		sess, err = m.AppendTurn(ctx, sess.SessionKey, chat.AssistantTurn(
			chat.Block{Type: chat.BlockTypeText, Text: "I speak first"}))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(sess.Title, "Conversation "))
	})
}

func TestAppendTurnPreservesOrderAndBlocks(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	sess, err := m.GetOrCreate(ctx, "")
	require.NoError(t, err)

	_, err = m.AppendTurn(ctx, sess.SessionKey, chat.UserTurn("What's the weather?"))
	require.NoError(t, err)
	_, err = m.AppendTurn(ctx, sess.SessionKey, chat.AssistantTurn(chat.Block{
		Type:      chat.BlockTypeToolUse,
		ToolUseID: "call_1",
		ToolName:  "search",
		ToolInput: json.RawMessage(`{"q":"weather"}`),
	}))
	require.NoError(t, err)

	got, err := m.GetOrCreate(ctx, sess.SessionKey)
	require.NoError(t, err)
	require.Len(t, got.Turns, 2)
	assert.Equal(t, chat.RoleUser, got.Turns[0].Role)
	require.True(t, got.Turns[1].Content.IsBlocks())
	block := got.Turns[1].Content.Blocks[0]
	assert.Equal(t, "search", block.ToolName)
	assert.JSONEq(t, `{"q":"weather"}`, string(block.ToolInput))
}

func TestSetTitleValidation(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	sess, err := m.GetOrCreate(ctx, "")
	require.NoError(t, err)

	_, err = m.SetTitle(ctx, sess.SessionKey, "")
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.CodeOf(err))

	_, err = m.SetTitle(ctx, "session_unknown_ffff", "anything")
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.CodeOf(err))
}

func TestClearAndDelete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	sess, err := m.GetOrCreate(ctx, "")
	require.NoError(t, err)
	_, err = m.SetTitle(ctx, sess.SessionKey, "Keep me")
	require.NoError(t, err)
	_, err = m.AppendTurn(ctx, sess.SessionKey, chat.UserTurn("hello"))
	require.NoError(t, err)

	t.Run("clear keeps title", func(t *testing.T) {
		require.NoError(t, m.ClearTurns(ctx, sess.SessionKey))
		got, err := m.GetOrCreate(ctx, sess.SessionKey)
		require.NoError(t, err)
		assert.Empty(t, got.Turns)
		assert.Equal(t, "Keep me", got.Title)
	})

	t.Run("delete removes session", func(t *testing.T) {
		require.NoError(t, m.Delete(ctx, sess.SessionKey))
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.CodeOf(m.Delete(ctx, sess.SessionKey)))
	})

	t.Run("clear unknown is not found", func(t *testing.T) {
		err := m.ClearTurns(ctx, "session_nope_0000")
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.CodeOf(err))
	})
}

func TestListSummaries(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first, err := m.GetOrCreate(ctx, "")
	require.NoError(t, err)
	_, err = m.AppendTurn(ctx, first.SessionKey, chat.UserTurn("older"))
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	second, err := m.GetOrCreate(ctx, "")
	require.NoError(t, err)
	_, err = m.AppendTurn(ctx, second.SessionKey, chat.UserTurn("newer"))
	require.NoError(t, err)
	_, err = m.AppendTurn(ctx, second.SessionKey, chat.UserTurn("and another"))
	require.NoError(t, err)

	summaries, err := m.ListSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, second.SessionKey, summaries[0].SessionKey, "most recent first")
	assert.Equal(t, 2, summaries[0].TurnCount)
	assert.Equal(t, 1, summaries[1].TurnCount)
}

func TestSessionIsolation(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	sess, err := m.GetOrCreate(ctx, "")
	require.NoError(t, err)
	_, err = m.AppendTurn(ctx, sess.SessionKey, chat.UserTurn("original"))
	require.NoError(t, err)

	// Mutating a returned session must not leak into the store.
	got, err := m.GetOrCreate(ctx, sess.SessionKey)
	require.NoError(t, err)
	got.Turns[0].Content = chat.TextContent("tampered")
	got.Title = "tampered"

	fresh, err := m.GetOrCreate(ctx, sess.SessionKey)
	require.NoError(t, err)
	assert.Equal(t, "original", fresh.Turns[0].Content.PlainText())
	assert.NotEqual(t, "tampered", fresh.Title)
}
