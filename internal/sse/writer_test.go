package sse

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWriterSetsHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)
	require.NotNil(t, w)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
}

// noFlushWriter does not implement http.Flusher.
type noFlushWriter struct {
	header http.Header
}

func (w *noFlushWriter) Header() http.Header         { return w.header }
func (w *noFlushWriter) Write(b []byte) (int, error) { return len(b), nil }
func (w *noFlushWriter) WriteHeader(int)             {}

func TestNewWriterRequiresFlusher(t *testing.T) {
	_, err := NewWriter(&noFlushWriter{header: make(http.Header)})
	require.Error(t, err)
}

func TestWriteEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteEvent(map[string]string{"type": "chunk", "text": "hello"}))
	assert.Equal(t, "data: {\"text\":\"hello\",\"type\":\"chunk\"}\n\n", rec.Body.String())
}

func TestWriteComment(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteComment("heartbeat"))
	assert.Equal(t, ": heartbeat\n\n", rec.Body.String())
}

func TestConcurrentWrites(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, w.WriteEvent(map[string]string{"type": "chunk", "text": "x"}))
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, w.WriteComment("heartbeat"))
		}()
	}
	wg.Wait()
}
