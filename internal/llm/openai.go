package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/promptgate/promptgate/internal/chat"
	apperrors "github.com/promptgate/promptgate/internal/errors"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient implements Client for OpenAI and OpenAI-compatible APIs.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient creates a client. baseURL may point at any
// OpenAI-compatible endpoint; empty means api.openai.com.
func NewOpenAIClient(apiKey, baseURL, model string) *OpenAIClient {
	opts := []openaioption.RequestOption{openaioption.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, openaioption.WithBaseURL(baseURL))
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIClient{client: openai.NewClient(opts...), model: model}
}

var _ Client = (*OpenAIClient)(nil)

func (c *OpenAIClient) ModelName() string   { return c.model }
func (c *OpenAIClient) SupportsTools() bool { return true }

func (c *OpenAIClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	events, err := c.GenerateStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return collect(events)
}

func (c *OpenAIClient) GenerateStream(ctx context.Context, req *Request) (<-chan StreamEvent, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: buildOpenAIMessages(req),
		// Usage arrives in a dedicated post-finish chunk and only on
		// request.
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Type: "function",
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  shared.FunctionParameters(t.Schema),
			},
		})
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)

	ch := make(chan StreamEvent, 16)
	go c.processStream(ctx, stream, ch)
	return ch, nil
}

// processStream reads the OpenAI SSE stream and emits unified events.
// Tool call deltas arrive indexed; id and name appear only in the first
// delta for an index and the argument JSON accumulates across deltas.
func (c *OpenAIClient) processStream(ctx context.Context, stream *ssestream.Stream[openai.ChatCompletionChunk], ch chan<- StreamEvent) {
	defer close(ch)

	type pendingCall struct {
		id      string
		name    string
		jsonBuf strings.Builder
	}
	pending := make(map[int]*pendingCall)
	var callOrder []int

	flushCalls := func() {
		for _, idx := range callOrder {
			pc := pending[idx]
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
		}
		callOrder = nil
	}

	var usage chat.Usage

	for stream.Next() {
		select {
		case <-ctx.Done():
			ch <- StreamEvent{Type: StreamEventError, Err: ctx.Err()}
			return
		default:
		}

		chunk := stream.Current()

		// The usage chunk arrives after finish_reason and carries no
		// choices, so the stream is drained to the end rather than cut
		// at the finish marker.
		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			usage.InputTokens = int(chunk.Usage.PromptTokens)
			usage.OutputTokens = int(chunk.Usage.CompletionTokens)
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			ch <- StreamEvent{Type: StreamEventTextDelta, TextDelta: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := int(tc.Index)
			if _, exists := pending[idx]; !exists {
				pending[idx] = &pendingCall{}
				callOrder = append(callOrder, idx)
			}
			pc := pending[idx]
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				pc.jsonBuf.WriteString(tc.Function.Arguments)
			}
		}

		if string(choice.FinishReason) != "" {
			flushCalls()
		}
	}

	if err := stream.Err(); err != nil {
		ch <- StreamEvent{
			Type: StreamEventError,
			Err:  apperrors.New(apperrors.ErrCodeUpstreamInference, "openai streaming failed", err),
		}
		return
	}

	flushCalls()
	ch <- StreamEvent{Type: StreamEventDone, Usage: &usage}
}

// buildOpenAIMessages converts turns to OpenAI chat params. Tool results
// become dedicated tool messages; assistant tool_use blocks become
// tool_calls on the assistant message.
func buildOpenAIMessages(req *Request) []openai.ChatCompletionMessageParamUnion {
	var params []openai.ChatCompletionMessageParamUnion

	if req.System != "" {
		params = append(params, openai.SystemMessage(req.System))
	}

	for _, turn := range req.Messages {
		switch turn.Role {
		case chat.RoleSystem:
			params = append(params, openai.SystemMessage(turn.Content.PlainText()))

		case chat.RoleUser:
			if !turn.Content.IsBlocks() {
				params = append(params, openai.UserMessage(turn.Content.Text))
				continue
			}
			for _, b := range turn.Content.Blocks {
				switch b.Type {
				case chat.BlockTypeToolResult:
					params = append(params, openai.ToolMessage(b.ToolResult, b.ToolUseID))
				case chat.BlockTypeText:
					params = append(params, openai.UserMessage(b.Text))
				}
			}

		case chat.RoleAssistant:
			var text string
			var toolCalls []openai.ChatCompletionMessageToolCallParam
			if turn.Content.IsBlocks() {
				for _, b := range turn.Content.Blocks {
					switch b.Type {
					case chat.BlockTypeText:
						text = b.Text
					case chat.BlockTypeToolUse:
						toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
							ID:   b.ToolUseID,
							Type: "function",
							Function: openai.ChatCompletionMessageToolCallFunctionParam{
								Name:      b.ToolName,
								Arguments: string(b.ToolInput),
							},
						})
					}
				}
			} else {
				text = turn.Content.Text
			}
			assistant := openai.ChatCompletionAssistantMessageParam{
				Content:   openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)},
				ToolCalls: toolCalls,
			}
			params = append(params, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		}
	}
	return params
}
