package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/promptgate/promptgate/internal/chat"
	apperrors "github.com/promptgate/promptgate/internal/errors"
	"github.com/promptgate/promptgate/internal/metrics"
)

// Fallback degrades from the durable store to the in-memory store when a
// durable operation fails at the infrastructure level. The degradation is
// per call: a failed durable call finishes on the memory path, the next
// call re-attempts durable storage. NotFound and Validation errors are
// contract errors, not infrastructure failures, and pass through.
type Fallback struct {
	durable Store
	memory  Store
	logger  *zap.Logger
}

// NewFallback wires the degradation policy. durable may be nil, in which
// case every call goes straight to memory.
func NewFallback(durable Store, memory Store, logger *zap.Logger) *Fallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{durable: durable, memory: memory, logger: logger}
}

var _ Store = (*Fallback)(nil)

func (f *Fallback) GetOrCreate(ctx context.Context, sessionKey string) (*Session, error) {
	// Generate the key here so both backends see the same one.
	if sessionKey == "" {
		sessionKey = NewSessionKey()
	}
	if f.durable == nil {
		return f.memory.GetOrCreate(ctx, sessionKey)
	}
	sess, err := f.durable.GetOrCreate(ctx, sessionKey)
	if f.degraded("get_or_create", err) {
		return f.memory.GetOrCreate(ctx, sessionKey)
	}
	return sess, err
}

func (f *Fallback) AppendTurn(ctx context.Context, sessionKey string, turn chat.Turn) (*Session, error) {
	if f.durable == nil {
		return f.memory.AppendTurn(ctx, sessionKey, turn)
	}
	sess, err := f.durable.AppendTurn(ctx, sessionKey, turn)
	if f.degraded("append_turn", err) {
		return f.memory.AppendTurn(ctx, sessionKey, turn)
	}
	return sess, err
}

func (f *Fallback) SetTitle(ctx context.Context, sessionKey, title string) (*Session, error) {
	if f.durable == nil {
		return f.memory.SetTitle(ctx, sessionKey, title)
	}
	sess, err := f.durable.SetTitle(ctx, sessionKey, title)
	if f.degraded("set_title", err) {
		return f.memory.SetTitle(ctx, sessionKey, title)
	}
	return sess, err
}

func (f *Fallback) ClearTurns(ctx context.Context, sessionKey string) error {
	if f.durable == nil {
		return f.memory.ClearTurns(ctx, sessionKey)
	}
	err := f.durable.ClearTurns(ctx, sessionKey)
	if f.degraded("clear_turns", err) {
		return f.memory.ClearTurns(ctx, sessionKey)
	}
	return err
}

func (f *Fallback) Delete(ctx context.Context, sessionKey string) error {
	if f.durable == nil {
		return f.memory.Delete(ctx, sessionKey)
	}
	err := f.durable.Delete(ctx, sessionKey)
	if f.degraded("delete", err) {
		return f.memory.Delete(ctx, sessionKey)
	}
	return err
}

func (f *Fallback) ListSummaries(ctx context.Context) ([]Summary, error) {
	if f.durable == nil {
		return f.memory.ListSummaries(ctx)
	}
	summaries, err := f.durable.ListSummaries(ctx)
	if f.degraded("list_summaries", err) {
		return f.memory.ListSummaries(ctx)
	}
	return summaries, err
}

// degraded reports whether err is an infrastructure failure worth falling
// back for, recording the event when it is.
func (f *Fallback) degraded(op string, err error) bool {
	if err == nil {
		return false
	}
	switch apperrors.CodeOf(err) {
	case apperrors.ErrCodeNotFound, apperrors.ErrCodeValidation:
		return false
	}
	f.logger.Warn("durable store unavailable, using in-memory fallback",
		zap.String("op", op), zap.Error(err))
	metrics.StoreFallbacks.WithLabelValues(op).Inc()
	return true
}
