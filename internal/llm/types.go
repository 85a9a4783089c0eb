// Package llm wraps the inference capability behind one interface with
// Anthropic and OpenAI-compatible implementations. Providers normalize
// vendor streaming into a unified event sequence; the non-streaming call
// is built on the same stream so both paths share one code path.
package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/promptgate/promptgate/internal/chat"
)

// ToolDefinition describes one callable tool sent to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Schema      map[string]any // full JSON Schema of the tool input
}

// schemaProperties extracts the "properties" object from a full JSON
// Schema. Anthropic takes properties directly; OpenAI takes the whole
// schema.
func schemaProperties(schema map[string]any) map[string]any {
	if schema == nil {
		return map[string]any{}
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return props
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Request is the unified generation request.
type Request struct {
	Model       string
	System      string
	Messages    []chat.Turn
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature *float64
}

// Response is a complete (non-streaming) generation result.
type Response struct {
	// Text is the concatenated visible text of the assistant message.
	Text string
	// Blocks is the assistant content in provider order: the text block
	// (when non-empty) followed by tool_use blocks as they were emitted.
	Blocks []chat.Block
	// ToolCalls are the tool invocations requested in this step.
	ToolCalls []ToolCall
	Usage     chat.Usage
}

// StreamEventType tags a streaming event.
type StreamEventType int

const (
	// StreamEventTextDelta carries an incremental text fragment.
	StreamEventTextDelta StreamEventType = iota
	// StreamEventToolCall carries one fully assembled tool call.
	StreamEventToolCall
	// StreamEventDone terminates the stream and carries usage.
	StreamEventDone
	// StreamEventError terminates the stream with an error.
	StreamEventError
)

// StreamEvent is one unified streaming event.
type StreamEvent struct {
	Type      StreamEventType
	TextDelta string
	ToolCall  *ToolCall
	Usage     *chat.Usage
	Err       error
}

// Client is the inference capability.
type Client interface {
	// Generate runs one non-streaming generation step.
	Generate(ctx context.Context, req *Request) (*Response, error)

	// GenerateStream runs one generation step, emitting events until
	// StreamEventDone or StreamEventError, then closes the channel.
	// The caller must drain the channel.
	GenerateStream(ctx context.Context, req *Request) (<-chan StreamEvent, error)

	// ModelName returns the default model served by this client.
	ModelName() string

	// SupportsTools reports whether the client accepts tool definitions.
	SupportsTools() bool
}

// collect drains one step's event stream into a Response.
func collect(events <-chan StreamEvent) (*Response, error) {
	return Collect(events, nil)
}

// Collect folds one step's event stream into a Response, forwarding
// each text fragment to onDelta when set.
func Collect(events <-chan StreamEvent, onDelta func(string)) (*Response, error) {
	var (
		text  strings.Builder
		resp  Response
		calls []ToolCall
	)
	for ev := range events {
		switch ev.Type {
		case StreamEventTextDelta:
			text.WriteString(ev.TextDelta)
			if onDelta != nil {
				onDelta(ev.TextDelta)
			}
		case StreamEventToolCall:
			calls = append(calls, *ev.ToolCall)
		case StreamEventDone:
			if ev.Usage != nil {
				resp.Usage = *ev.Usage
			}
		case StreamEventError:
			return nil, ev.Err
		}
	}

	resp.Text = text.String()
	resp.ToolCalls = calls
	resp.Blocks = assistantBlocks(resp.Text, calls)
	return &resp, nil
}

// assistantBlocks assembles the assistant content blocks for persistence.
func assistantBlocks(text string, calls []ToolCall) []chat.Block {
	var blocks []chat.Block
	if text != "" {
		blocks = append(blocks, chat.Block{Type: chat.BlockTypeText, Text: text})
	}
	for _, call := range calls {
		blocks = append(blocks, chat.Block{
			Type:      chat.BlockTypeToolUse,
			ToolUseID: call.ID,
			ToolName:  call.Name,
			ToolInput: call.Input,
		})
	}
	return blocks
}
