package server

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/promptgate/promptgate/internal/errors"
	"github.com/promptgate/promptgate/internal/executor"
	"github.com/promptgate/promptgate/internal/sse"
)

type sessionEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Title     string `json:"title"`
}

type chunkEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type doneEvent struct {
	Type string `json:"type"`
}

type errorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// handleStream relays one generation as an SSE stream. Failures before
// the first event go out as an ordinary JSON error; once streaming has
// begun they become an in-band terminal error event.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	req, _, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, apperrors.New(apperrors.ErrCodeValidation, "message is required", nil))
		return
	}

	// Resolve the session before committing to the stream so the
	// session event can open it.
	sess, err := s.opts.Store.GetOrCreate(r.Context(), req.SessionKey)
	if err != nil {
		writeError(w, err)
		return
	}
	req.SessionKey = sess.SessionKey

	writer, err := sse.NewWriter(w)
	if err != nil {
		writeErrorMessage(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	ctx := r.Context()
	logger := s.opts.Logger.With(zap.String("session", sess.SessionKey))

	if err := writer.WriteEvent(sessionEvent{
		Type:      "session",
		SessionID: sess.SessionKey,
		Title:     sess.Title,
	}); err != nil {
		logger.Warn("writing session event failed", zap.Error(err))
		return
	}

	type outcome struct {
		result *executor.Result
		err    error
	}
	frags := make(chan string, 16)
	done := make(chan outcome, 1)

	// stopped unblocks the delta callback when the handler exits while
	// the client context is still live, e.g. after a failed write;
	// without it the generation goroutine would wedge on a full frags
	// buffer.
	stopped := make(chan struct{})
	defer close(stopped)

	go func() {
		result, err := s.opts.Executor.RunStream(ctx, req, func(delta string) {
			select {
			case frags <- delta:
			case <-ctx.Done():
			case <-stopped:
			}
		})
		done <- outcome{result: result, err: err}
	}()

	heartbeat := time.NewTicker(s.opts.Heartbeat)
	defer heartbeat.Stop()

	writeChunk := func(text string) bool {
		if err := writer.WriteEvent(chunkEvent{Type: "chunk", Text: text}); err != nil {
			logger.Warn("writing chunk failed, aborting stream", zap.Error(err))
			return false
		}
		heartbeat.Reset(s.opts.Heartbeat)
		return true
	}

	for {
		select {
		case <-ctx.Done():
			// Client went away. The executor observes the same
			// context and unwinds on its own.
			logger.Info("stream cancelled by client")
			return

		case delta := <-frags:
			if !writeChunk(delta) {
				return
			}

		case out := <-done:
			// Fragments buffered before completion still belong
			// before the terminal event.
			for {
				select {
				case delta := <-frags:
					if !writeChunk(delta) {
						return
					}
					continue
				default:
				}
				break
			}

			if out.err != nil {
				logger.Error("streaming generation failed", zap.Error(out.err))
				_ = writer.WriteEvent(errorEvent{Type: "error", Error: out.err.Error()})
				return
			}
			_ = writer.WriteEvent(doneEvent{Type: "done"})
			return

		case <-heartbeat.C:
			if err := writer.WriteComment("heartbeat"); err != nil {
				logger.Warn("heartbeat write failed, aborting stream", zap.Error(err))
				return
			}
		}
	}
}
