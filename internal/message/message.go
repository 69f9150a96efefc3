// Package message defines the canonical message and content-block types used
// across the codebase. All packages import from here to avoid circular
// dependencies.
package message

import (
	"encoding/json"
	"strings"
	"time"
)

// Role represents the role of a message participant.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// BlockType identifies the variant of a ContentBlock.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is a tagged variant carried inside a message: free-form text,
// a model-issued tool call, or the result of a prior tool call.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// Text fields
	Text string `json:"text,omitempty"`

	// ToolUse fields
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// ToolResult fields
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextBlock creates a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock creates a tool-use content block.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock creates a tool-result content block.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Message is an immutable conversation entry: a role plus an ordered sequence
// of content blocks.
type Message struct {
	Role      Role           `json:"role"`
	Blocks    []ContentBlock `json:"blocks"`
	CreatedAt time.Time      `json:"created_at"`
}

// UserText creates a user message with a single text block.
func UserText(text string) Message {
	return Message{Role: RoleUser, Blocks: []ContentBlock{TextBlock(text)}, CreatedAt: time.Now()}
}

// Assistant creates an assistant message from the given blocks.
func Assistant(blocks ...ContentBlock) Message {
	return Message{Role: RoleAssistant, Blocks: blocks, CreatedAt: time.Now()}
}

// ToolResults creates the user-role message that carries tool results back to
// the model after an assistant turn with tool calls.
func ToolResults(results ...ContentBlock) Message {
	return Message{Role: RoleUser, Blocks: results, CreatedAt: time.Now()}
}

// Text returns the concatenated text of all text blocks.
func (m Message) Text() string {
	var sb strings.Builder
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// ToolUses returns the tool-use blocks in order.
func (m Message) ToolUses() []ContentBlock {
	var calls []ContentBlock
	for _, b := range m.Blocks {
		if b.Type == BlockToolUse {
			calls = append(calls, b)
		}
	}
	return calls
}

// HasToolUse reports whether the message contains any tool-use block.
func (m Message) HasToolUse() bool {
	for _, b := range m.Blocks {
		if b.Type == BlockToolUse {
			return true
		}
	}
	return false
}

// ParseToolInput deserializes a tool-use input into a params map. Empty input
// yields an empty map.
func ParseToolInput(input json.RawMessage) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(input))
	if trimmed == "" {
		return map[string]any{}, nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(trimmed), &params); err != nil {
		return nil, err
	}
	return params, nil
}

// EncodeBlocks serializes blocks for storage.
func EncodeBlocks(blocks []ContentBlock) ([]byte, error) {
	return json.Marshal(blocks)
}

// DecodeBlocks deserializes blocks from storage.
func DecodeBlocks(data []byte) ([]ContentBlock, error) {
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

// FlattenText returns all human-readable text in a message, used to feed the
// full-text search index.
func (m Message) FlattenText() string {
	var parts []string
	for _, b := range m.Blocks {
		switch b.Type {
		case BlockText:
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		case BlockToolResult:
			if b.Content != "" {
				parts = append(parts, b.Content)
			}
		}
	}
	return strings.Join(parts, "\n")
}

// Usage contains token usage reported by the LLM for one turn.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another usage sample.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}
