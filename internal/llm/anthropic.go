package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/promptgate/promptgate/internal/chat"
	apperrors "github.com/promptgate/promptgate/internal/errors"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicClient implements Client against the Anthropic Messages API.
type AnthropicClient struct {
	client anthropic.Client
	model  string
}

// NewAnthropicClient creates a client for the given default model.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicClient{
		client: anthropic.NewClient(anthropicoption.WithAPIKey(apiKey)),
		model:  model,
	}
}

var _ Client = (*AnthropicClient)(nil)

func (c *AnthropicClient) ModelName() string   { return c.model }
func (c *AnthropicClient) SupportsTools() bool { return true }

func (c *AnthropicClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	events, err := c.GenerateStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return collect(events)
}

func (c *AnthropicClient) GenerateStream(ctx context.Context, req *Request) (<-chan StreamEvent, error) {
	params := c.buildParams(req)
	stream := c.client.Messages.NewStreaming(ctx, params)

	ch := make(chan StreamEvent, 16)
	go c.processStream(ctx, stream, ch)
	return ch, nil
}

func (c *AnthropicClient) buildParams(req *Request) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	msgs, system := buildAnthropicMessages(req.Messages)
	if req.System != "" {
		system = append([]string{req.System}, system...)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  msgs,
		MaxTokens: maxTokens,
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schemaProperties(t.Schema),
				},
			},
		})
	}
	return params
}

// processStream reads the Anthropic SSE stream and emits unified events.
//
// Event sequence:
//   - ContentBlockStartEvent (tool_use) -> record tool call id/name
//   - ContentBlockDeltaEvent (InputJSONDelta) -> accumulate JSON arguments
//   - ContentBlockStopEvent -> emit StreamEventToolCall
//   - ContentBlockDeltaEvent (TextDelta) -> emit StreamEventTextDelta
//   - MessageDeltaEvent -> emit StreamEventDone with usage
func (c *AnthropicClient) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], ch chan<- StreamEvent) {
	defer close(ch)
	defer stream.Close()

	type pendingCall struct {
		id      string
		name    string
		jsonBuf strings.Builder
	}
	pending := make(map[int64]*pendingCall)

	for stream.Next() {
		select {
		case <-ctx.Done():
			ch <- StreamEvent{Type: StreamEventError, Err: ctx.Err()}
			return
		default:
		}

		event := stream.Current()

		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			cb := variant.ContentBlock
			if cb.Type == "tool_use" {
				toolUse := cb.AsToolUse()
				pending[variant.Index] = &pendingCall{id: toolUse.ID, name: toolUse.Name}
			}

		case anthropic.ContentBlockDeltaEvent:
			switch d := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				ch <- StreamEvent{Type: StreamEventTextDelta, TextDelta: d.Text}
			case anthropic.InputJSONDelta:
				if pc, ok := pending[variant.Index]; ok {
					pc.jsonBuf.WriteString(d.PartialJSON)
				}
			}

		case anthropic.ContentBlockStopEvent:
			if pc, ok := pending[variant.Index]; ok {
				inputJSON := pc.jsonBuf.String()
				if inputJSON == "" {
					inputJSON = "{}"
				}
				ch <- StreamEvent{
					Type: StreamEventToolCall,
					ToolCall: &ToolCall{
						ID:    pc.id,
						Name:  pc.name,
						Input: json.RawMessage(inputJSON),
					},
				}
				delete(pending, variant.Index)
			}

		case anthropic.MessageDeltaEvent:
			ch <- StreamEvent{
				Type: StreamEventDone,
				Usage: &chat.Usage{
					InputTokens:  int(variant.Usage.InputTokens),
					OutputTokens: int(variant.Usage.OutputTokens),
				},
			}
			return
		}
	}

	if err := stream.Err(); err != nil {
		ch <- StreamEvent{
			Type: StreamEventError,
			Err:  apperrors.New(apperrors.ErrCodeUpstreamInference, "anthropic streaming failed", err),
		}
		return
	}
	ch <- StreamEvent{Type: StreamEventDone, Usage: &chat.Usage{}}
}

// buildAnthropicMessages converts turns to Anthropic message params.
// System turns carry no role on this API; their text is returned
// separately for the system prompt.
func buildAnthropicMessages(turns []chat.Turn) ([]anthropic.MessageParam, []string) {
	var (
		params []anthropic.MessageParam
		system []string
	)

	for _, turn := range turns {
		if turn.Role == chat.RoleSystem {
			system = append(system, turn.Content.PlainText())
			continue
		}

		var blocks []anthropic.ContentBlockParamUnion
		if turn.Content.IsBlocks() {
			for _, b := range turn.Content.Blocks {
				switch b.Type {
				case chat.BlockTypeText:
					blocks = append(blocks, anthropic.NewTextBlock(b.Text))
				case chat.BlockTypeToolUse:
					var input any
					if len(b.ToolInput) > 0 {
						_ = json.Unmarshal(b.ToolInput, &input)
					}
					if input == nil {
						input = map[string]any{}
					}
					blocks = append(blocks, anthropic.NewToolUseBlock(b.ToolUseID, input, b.ToolName))
				case chat.BlockTypeToolResult:
					blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolUseID, b.ToolResult, b.IsError))
				}
			}
		} else {
			blocks = append(blocks, anthropic.NewTextBlock(turn.Content.Text))
		}

		switch turn.Role {
		case chat.RoleUser:
			params = append(params, anthropic.NewUserMessage(blocks...))
		case chat.RoleAssistant:
			params = append(params, anthropic.NewAssistantMessage(blocks...))
		}
	}
	return params, system
}
