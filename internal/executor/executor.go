// Package executor runs the generate -> tool -> resume loop that turns
// one user prompt into a final assistant reply, persisting every
// intermediate turn along the way.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/promptgate/promptgate/internal/chat"
	apperrors "github.com/promptgate/promptgate/internal/errors"
	"github.com/promptgate/promptgate/internal/llm"
	"github.com/promptgate/promptgate/internal/metrics"
	"github.com/promptgate/promptgate/internal/store"
	"github.com/promptgate/promptgate/internal/tools"
)

const DefaultMaxSteps = 10

// Options configures an Executor.
type Options struct {
	// MaxSteps bounds the number of generation steps per request.
	MaxSteps int
	// SystemPrompt is prepended to every request when non-empty.
	SystemPrompt string
	// MaxTokens caps each generation step.
	MaxTokens int
	// Temperature overrides the provider default when set.
	Temperature *float64
}

// Executor drives the agent loop against a session store, an LLM
// client, and the aggregated toolset.
type Executor struct {
	store      store.Store
	client     llm.Client
	aggregator *tools.Aggregator
	logger     *zap.Logger
	opts       Options
}

func New(st store.Store, client llm.Client, aggregator *tools.Aggregator, logger *zap.Logger, opts Options) *Executor {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	return &Executor{
		store:      st,
		client:     client,
		aggregator: aggregator,
		logger:     logger,
		opts:       opts,
	}
}

// ToolCallRecord reports one tool invocation made during the loop.
type ToolCallRecord struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResultRecord reports the outcome of one tool invocation.
type ToolResultRecord struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Result  string `json:"result"`
	IsError bool   `json:"isError"`
}

// Result is the outcome of one completed request.
type Result struct {
	SessionKey  string
	Title       string
	Text        string
	Steps       int
	Usage       chat.Usage
	ToolCalls   []ToolCallRecord
	ToolResults []ToolResultRecord
}

// Request is one chat request. Zero-valued fields fall back to the
// executor's configured defaults.
type Request struct {
	SessionKey  string
	Prompt      string
	Model       string
	System      string
	MaxTokens   int
	Temperature *float64
	// UseTools defaults to true; set to skip tool aggregation.
	UseTools *bool
	// MaxSteps may lower the configured bound, never raise it.
	MaxSteps int
}

func (r *Request) useTools() bool {
	return r.UseTools == nil || *r.UseTools
}

// Run executes one prompt to completion without streaming.
func (e *Executor) Run(ctx context.Context, req *Request) (*Result, error) {
	return e.run(ctx, req, nil)
}

// RunStream executes one prompt, forwarding assistant text fragments
// to onDelta as they arrive. Persistence is identical to Run.
func (e *Executor) RunStream(ctx context.Context, req *Request, onDelta func(string)) (*Result, error) {
	return e.run(ctx, req, onDelta)
}

func (e *Executor) run(ctx context.Context, req *Request, onDelta func(string)) (*Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "message is required", nil)
	}

	sess, err := e.store.GetOrCreate(ctx, req.SessionKey)
	if err != nil {
		return nil, err
	}

	history := append([]chat.Turn(nil), sess.Turns...)

	// The user turn is persisted before generation so the prompt
	// survives an upstream failure.
	userTurn := chat.UserTurn(req.Prompt)
	sess, err = e.store.AppendTurn(ctx, sess.SessionKey, userTurn)
	if err != nil {
		return nil, err
	}
	messages := append(history, userTurn)

	result := &Result{SessionKey: sess.SessionKey, Title: sess.Title}

	var toolset *tools.Toolset
	var defs []llm.ToolDefinition
	if req.useTools() && e.client.SupportsTools() {
		toolset = e.aggregator.Collect(ctx)
		defer func() {
			if cerr := toolset.Close(); cerr != nil {
				e.logger.Warn("closing tool sessions failed", zap.Error(cerr))
			}
		}()
		defs = toolset.Definitions()
	}

	maxSteps := e.opts.MaxSteps
	if req.MaxSteps > 0 && req.MaxSteps < maxSteps {
		maxSteps = req.MaxSteps
	}

	// Intermediate turns are buffered and persisted in one pass once
	// the loop has run to completion. A mid-loop upstream failure thus
	// leaves only the user turn in history.
	var produced []chat.Turn

	for step := 0; step < maxSteps; step++ {
		result.Steps = step + 1

		resp, err := e.generate(ctx, req, messages, defs, onDelta)
		if err != nil {
			return nil, err
		}
		result.Usage.Add(resp.Usage)
		result.Text = resp.Text

		assistantTurn := e.assistantTurn(resp)
		produced = append(produced, assistantTurn)
		messages = append(messages, assistantTurn)

		if len(resp.ToolCalls) == 0 {
			if err := e.persistTurns(ctx, sess.SessionKey, produced); err != nil {
				return nil, err
			}
			metrics.GenerationSteps.Observe(float64(result.Steps))
			return result, nil
		}

		resultTurn := e.invokeTools(ctx, toolset, resp.ToolCalls, result)
		produced = append(produced, resultTurn)
		messages = append(messages, resultTurn)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}

	// The step bound cuts the loop, not the request: whatever the
	// model said last is the reply.
	e.logger.Warn("generation step bound reached",
		zap.String("session", sess.SessionKey),
		zap.Int("steps", maxSteps))
	if err := e.persistTurns(ctx, sess.SessionKey, produced); err != nil {
		return nil, err
	}
	metrics.GenerationSteps.Observe(float64(result.Steps))
	return result, nil
}

func (e *Executor) persistTurns(ctx context.Context, sessionKey string, turns []chat.Turn) error {
	for _, turn := range turns {
		if _, err := e.store.AppendTurn(ctx, sessionKey, turn); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) generate(ctx context.Context, req *Request, messages []chat.Turn, defs []llm.ToolDefinition, onDelta func(string)) (*llm.Response, error) {
	system := e.opts.SystemPrompt
	if req.System != "" {
		system = req.System
	}
	maxTokens := e.opts.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	temperature := e.opts.Temperature
	if req.Temperature != nil {
		temperature = req.Temperature
	}

	lreq := &llm.Request{
		Model:       req.Model,
		System:      system,
		Messages:    messages,
		Tools:       defs,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	if onDelta == nil {
		return e.client.Generate(ctx, lreq)
	}
	events, err := e.client.GenerateStream(ctx, lreq)
	if err != nil {
		return nil, err
	}
	return llm.Collect(events, onDelta)
}

// assistantTurn stores plain text when the step made no tool calls,
// and the full block structure otherwise.
func (e *Executor) assistantTurn(resp *llm.Response) chat.Turn {
	if len(resp.ToolCalls) == 0 {
		return chat.Turn{
			Role:      chat.RoleAssistant,
			Content:   chat.TextContent(resp.Text),
			CreatedAt: time.Now(),
		}
	}
	return chat.AssistantTurn(resp.Blocks...)
}

// invokeTools runs every tool call of one step and folds the outcomes
// into a single tool-result turn. A failed tool becomes an error
// result block the model can react to; it never fails the request.
func (e *Executor) invokeTools(ctx context.Context, toolset *tools.Toolset, calls []llm.ToolCall, result *Result) chat.Turn {
	blocks := make([]chat.Block, 0, len(calls))
	for _, call := range calls {
		result.ToolCalls = append(result.ToolCalls, ToolCallRecord{
			ID:    call.ID,
			Name:  call.Name,
			Input: call.Input,
		})

		var output string
		var isErr bool
		var err error
		if toolset == nil {
			err = apperrors.New(apperrors.ErrCodeToolProvider, "no tools available", nil)
		} else {
			output, isErr, err = toolset.Invoke(ctx, call.Name, call.Input)
		}
		if err != nil {
			e.logger.Warn("tool invocation failed",
				zap.String("tool", call.Name),
				zap.Error(err))
			output = fmt.Sprintf("Error executing tool %s: %v", call.Name, err)
			isErr = true
		}

		result.ToolResults = append(result.ToolResults, ToolResultRecord{
			ID:      call.ID,
			Name:    call.Name,
			Result:  output,
			IsError: isErr,
		})
		blocks = append(blocks, chat.Block{
			Type:       chat.BlockTypeToolResult,
			ToolUseID:  call.ID,
			ToolName:   call.Name,
			ToolResult: output,
			IsError:    isErr,
		})
	}

	// Tool results travel back on a user-role turn.
	return chat.Turn{
		Role:      chat.RoleUser,
		Content:   chat.BlockContent(blocks...),
		CreatedAt: time.Now(),
	}
}
