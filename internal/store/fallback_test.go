package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/promptgate/promptgate/internal/chat"
	apperrors "github.com/promptgate/promptgate/internal/errors"
)

// brokenStore fails every operation with a storage-level error, standing in
// for an unreachable database.
type brokenStore struct {
	calls int
	err   error
}

func (b *brokenStore) fail() error {
	b.calls++
	if b.err != nil {
		return b.err
	}
	return apperrors.New(apperrors.ErrCodeStorage, "database unreachable", nil)
}

func (b *brokenStore) GetOrCreate(context.Context, string) (*Session, error) {
	return nil, b.fail()
}

func (b *brokenStore) AppendTurn(context.Context, string, chat.Turn) (*Session, error) {
	return nil, b.fail()
}

func (b *brokenStore) SetTitle(context.Context, string, string) (*Session, error) {
	return nil, b.fail()
}

func (b *brokenStore) ClearTurns(context.Context, string) error { return b.fail() }
func (b *brokenStore) Delete(context.Context, string) error     { return b.fail() }
func (b *brokenStore) ListSummaries(context.Context) ([]Summary, error) {
	return nil, b.fail()
}

var _ Store = (*brokenStore)(nil)

func TestFallbackDegradesToMemory(t *testing.T) {
	broken := &brokenStore{}
	fb := NewFallback(broken, NewMemory(), zaptest.NewLogger(t))
	ctx := context.Background()

	sess, err := fb.GetOrCreate(ctx, "")
	require.NoError(t, err)
	require.NotEmpty(t, sess.SessionKey)

	_, err = fb.AppendTurn(ctx, sess.SessionKey, chat.UserTurn("survives the outage"))
	require.NoError(t, err)

	got, err := fb.GetOrCreate(ctx, sess.SessionKey)
	require.NoError(t, err)
	require.Len(t, got.Turns, 1)
	assert.Equal(t, "survives the outage", got.Turns[0].Content.PlainText())

	summaries, err := fb.ListSummaries(ctx)
	require.NoError(t, err)
	assert.Len(t, summaries, 1)

	// Every call re-attempted the durable path first.
	assert.Equal(t, 4, broken.calls)
}

func TestFallbackPassesThroughContractErrors(t *testing.T) {
	broken := &brokenStore{err: apperrors.New(apperrors.ErrCodeNotFound, "session not found", nil)}
	memory := NewMemory()
	fb := NewFallback(broken, memory, zaptest.NewLogger(t))
	ctx := context.Background()

	// Seed the memory side so a wrongly-falling-back call would succeed.
	seeded, err := memory.GetOrCreate(ctx, "session_seed_0001")
	require.NoError(t, err)

	err = fb.Delete(ctx, seeded.SessionKey)
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.CodeOf(err), "NOT_FOUND must not trigger fallback")

	broken.err = apperrors.New(apperrors.ErrCodeValidation, "title must not be empty", nil)
	_, err = fb.SetTitle(ctx, seeded.SessionKey, "")
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.CodeOf(err))
}

func TestFallbackWithoutDurable(t *testing.T) {
	fb := NewFallback(nil, NewMemory(), nil)
	ctx := context.Background()

	sess, err := fb.GetOrCreate(ctx, "")
	require.NoError(t, err)

	_, err = fb.AppendTurn(ctx, sess.SessionKey, chat.UserTurn("memory only"))
	require.NoError(t, err)

	got, err := fb.GetOrCreate(ctx, sess.SessionKey)
	require.NoError(t, err)
	assert.Len(t, got.Turns, 1)
}

func TestFallbackGeneratesKeyOnce(t *testing.T) {
	// The key is minted before dispatch so the durable and memory backends
	// agree on it even when the durable call fails.
	broken := &brokenStore{}
	memory := NewMemory()
	fb := NewFallback(broken, memory, zaptest.NewLogger(t))

	sess, err := fb.GetOrCreate(context.Background(), "")
	require.NoError(t, err)

	direct, err := memory.GetOrCreate(context.Background(), sess.SessionKey)
	require.NoError(t, err)
	assert.Equal(t, sess.SessionKey, direct.SessionKey)
}
