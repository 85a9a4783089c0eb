// Package chat holds the conversation model shared by the store, the LLM
// clients, and the generation loop: role-tagged turns whose content is either
// plain text or an ordered sequence of typed blocks.
package chat

import (
	"encoding/json"
	"strings"
	"time"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// BlockType identifies the kind of a content block.
type BlockType string

const (
	BlockTypeText       BlockType = "text"
	BlockTypeToolUse    BlockType = "tool_use"
	BlockTypeToolResult BlockType = "tool_result"
)

// Block is a single typed content block within a structured turn.
type Block struct {
	Type BlockType `json:"type"`

	// BlockTypeText
	Text string `json:"text,omitempty"`

	// BlockTypeToolUse
	ToolUseID string          `json:"tool_use_id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`

	// BlockTypeToolResult (ToolUseID correlates back to the request)
	ToolResult string `json:"tool_result,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Content is a tagged union: plain text or an ordered block sequence.
// Exactly one of the two forms is populated. The JSON form mirrors the
// wire shape of LLM APIs: a string for plain text, an array for blocks,
// so stored structure survives a round trip without flattening.
type Content struct {
	Text   string
	Blocks []Block
}

// TextContent builds plain-text content.
func TextContent(text string) Content {
	return Content{Text: text}
}

// BlockContent builds structured content from blocks, preserving order.
func BlockContent(blocks ...Block) Content {
	return Content{Blocks: blocks}
}

// IsBlocks reports whether the content carries structured blocks.
func (c Content) IsBlocks() bool {
	return c.Blocks != nil
}

// PlainText returns the text form for title derivation and response
// assembly: the Text field for plain content, or the concatenated text
// blocks for structured content.
func (c Content) PlainText() string {
	if !c.IsBlocks() {
		return c.Text
	}
	var b strings.Builder
	for _, blk := range c.Blocks {
		if blk.Type == BlockTypeText {
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsBlocks() {
		return json.Marshal(c.Blocks)
	}
	return json.Marshal(c.Text)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var blocks []Block
		if err := json.Unmarshal(data, &blocks); err != nil {
			return err
		}
		c.Text = ""
		c.Blocks = blocks
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	c.Text = text
	c.Blocks = nil
	return nil
}

// Turn is one role-tagged message within a session. Turns are immutable
// once appended; corrections happen by appending new turns.
type Turn struct {
	Role Role `json:"role"`

	Content Content `json:"content"`

	// ProviderID is the provider-assigned message identifier, used to
	// correlate a tool-result turn back to its issuing assistant turn.
	ProviderID string `json:"provider_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// UserTurn builds a plain-text user turn stamped with the current time.
func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Content: TextContent(text), CreatedAt: time.Now()}
}

// AssistantTurn builds a structured assistant turn.
func AssistantTurn(blocks ...Block) Turn {
	return Turn{Role: RoleAssistant, Content: BlockContent(blocks...), CreatedAt: time.Now()}
}

// Usage records token consumption for a generation request.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates usage across loop steps.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}
