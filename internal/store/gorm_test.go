package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptgate/promptgate/internal/chat"
	apperrors "github.com/promptgate/promptgate/internal/errors"
)

func newGormStore(t *testing.T) *Gorm {
	t.Helper()
	db, err := Open("sqlite", ":memory:")
	require.NoError(t, err)
	return NewGorm(db)
}

func TestGormRoundTrip(t *testing.T) {
	g := newGormStore(t)
	ctx := context.Background()

	sess, err := g.GetOrCreate(ctx, "")
	require.NoError(t, err)

	_, err = g.AppendTurn(ctx, sess.SessionKey, chat.UserTurn("How do transactions work?"))
	require.NoError(t, err)
	_, err = g.AppendTurn(ctx, sess.SessionKey, chat.AssistantTurn(
		chat.Block{
			Type:      chat.BlockTypeToolUse,
			ToolUseID: "call_db",
			ToolName:  "lookup",
			ToolInput: json.RawMessage(`{"topic":"transactions"}`),
		},
	))
	require.NoError(t, err)

	got, err := g.GetOrCreate(ctx, sess.SessionKey)
	require.NoError(t, err)
	require.Len(t, got.Turns, 2)
	assert.Equal(t, "How do transactions work?", got.Turns[0].Content.PlainText())

	require.True(t, got.Turns[1].Content.IsBlocks(), "block structure must survive the database")
	block := got.Turns[1].Content.Blocks[0]
	assert.Equal(t, chat.BlockTypeToolUse, block.Type)
	assert.Equal(t, "lookup", block.ToolName)
	assert.JSONEq(t, `{"topic":"transactions"}`, string(block.ToolInput))
}

func TestGormTitleDerivation(t *testing.T) {
	g := newGormStore(t)
	ctx := context.Background()

	sess, err := g.GetOrCreate(ctx, "")
	require.NoError(t, err)

	sess, err = g.AppendTurn(ctx, sess.SessionKey, chat.UserTurn("Explain the session title derivation rule please"))
	require.NoError(t, err)
	assert.Equal(t, "Explain the session title deri...", sess.Title)

	sess, err = g.AppendTurn(ctx, sess.SessionKey, chat.UserTurn("Another question"))
	require.NoError(t, err)
	assert.Equal(t, "Explain the session title deri...", sess.Title)
}

func TestGormSetTitleAndErrors(t *testing.T) {
	g := newGormStore(t)
	ctx := context.Background()

	sess, err := g.GetOrCreate(ctx, "")
	require.NoError(t, err)

	updated, err := g.SetTitle(ctx, sess.SessionKey, "Renamed")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)

	_, err = g.SetTitle(ctx, sess.SessionKey, "")
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.CodeOf(err))

	_, err = g.SetTitle(ctx, "session_missing_0000", "anything")
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.CodeOf(err))
}

func TestGormClearAndDelete(t *testing.T) {
	g := newGormStore(t)
	ctx := context.Background()

	sess, err := g.GetOrCreate(ctx, "")
	require.NoError(t, err)
	_, err = g.AppendTurn(ctx, sess.SessionKey, chat.UserTurn("wipe me"))
	require.NoError(t, err)

	require.NoError(t, g.ClearTurns(ctx, sess.SessionKey))
	got, err := g.GetOrCreate(ctx, sess.SessionKey)
	require.NoError(t, err)
	assert.Empty(t, got.Turns)

	require.NoError(t, g.Delete(ctx, sess.SessionKey))
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.CodeOf(g.Delete(ctx, sess.SessionKey)))
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.CodeOf(g.ClearTurns(ctx, "session_gone_0000")))
}

func TestGormListSummaries(t *testing.T) {
	g := newGormStore(t)
	ctx := context.Background()

	first, err := g.GetOrCreate(ctx, "")
	require.NoError(t, err)
	_, err = g.AppendTurn(ctx, first.SessionKey, chat.UserTurn("older"))
	require.NoError(t, err)

	second, err := g.GetOrCreate(ctx, "")
	require.NoError(t, err)
	_, err = g.AppendTurn(ctx, second.SessionKey, chat.UserTurn("newer"))
	require.NoError(t, err)
	_, err = g.AppendTurn(ctx, second.SessionKey, chat.UserTurn("still newer"))
	require.NoError(t, err)

	summaries, err := g.ListSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, second.SessionKey, summaries[0].SessionKey)
	assert.Equal(t, 2, summaries[0].TurnCount)
	assert.Equal(t, 1, summaries[1].TurnCount)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("oracle", "whatever")
	assert.Equal(t, apperrors.ErrCodeConfig, apperrors.CodeOf(err))
}
