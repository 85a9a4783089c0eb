package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptgate/promptgate/internal/chat"
)

// TestOpenAIStreamUsage pins the streaming usage contract: usage is
// only reported when stream_options.include_usage is requested, and it
// arrives in a dedicated chunk with no choices after finish_reason.
func TestOpenAIStreamUsage(t *testing.T) {
	var sawIncludeUsage bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			StreamOptions struct {
				IncludeUsage bool `json:"include_usage"`
			} `json:"stream_options"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		sawIncludeUsage = body.StreamOptions.IncludeUsage

		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","content":"Hello"}}]}`,
			`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
			`{"id":"c1","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":7,"completion_tokens":3,"total_tokens":10}}`,
		}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewOpenAIClient("test-key", srv.URL, "gpt-4o-mini")
	resp, err := client.Generate(context.Background(), &Request{
		Messages: []chat.Turn{chat.UserTurn("hi")},
	})
	require.NoError(t, err)

	assert.True(t, sawIncludeUsage, "request must opt into usage reporting")
	assert.Equal(t, "Hello", resp.Text)
	assert.Equal(t, 7, resp.Usage.InputTokens)
	assert.Equal(t, 3, resp.Usage.OutputTokens)
}
