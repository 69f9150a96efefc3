package agent

import (
	"encoding/json"

	"github.com/martydill/aixplosion/internal/message"
)

// EventType identifies a loop event emitted toward the UI.
type EventType string

const (
	EventText       EventType = "text"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventFinal      EventType = "final"
	EventError      EventType = "error"
)

// Event is one record emitted by the streaming variant of the agent loop.
// Its JSON encoding is the newline-delimited stream format consumed by UIs.
type Event struct {
	Type EventType

	// Text delta
	Delta string

	// Tool call / result
	ToolUseID string
	Name      string
	Input     json.RawMessage
	Content   string
	IsError   bool

	// Final
	Final string

	// Error
	Err error
}

// MarshalJSON encodes the event as one UI stream record.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventText:
		return json.Marshal(struct {
			Type  string `json:"type"`
			Delta string `json:"delta"`
		}{string(EventText), e.Delta})
	case EventToolCall:
		return json.Marshal(struct {
			Type      string          `json:"type"`
			ToolUseID string          `json:"tool_use_id"`
			Name      string          `json:"name"`
			Input     json.RawMessage `json:"input"`
		}{string(EventToolCall), e.ToolUseID, e.Name, e.Input})
	case EventToolResult:
		return json.Marshal(struct {
			Type      string `json:"type"`
			ToolUseID string `json:"tool_use_id"`
			Content   string `json:"content"`
			IsError   bool   `json:"is_error"`
		}{string(EventToolResult), e.ToolUseID, e.Content, e.IsError})
	case EventFinal:
		return json.Marshal(struct {
			Type    string `json:"type"`
			Content string `json:"content"`
		}{string(EventFinal), e.Final})
	default:
		msg := ""
		if e.Err != nil {
			msg = e.Err.Error()
		}
		return json.Marshal(struct {
			Type  string `json:"type"`
			Error string `json:"error"`
		}{string(EventError), msg})
	}
}

// toolCallEvent builds a tool_call event from a tool-use block.
func toolCallEvent(b message.ContentBlock) Event {
	return Event{Type: EventToolCall, ToolUseID: b.ID, Name: b.Name, Input: b.Input}
}

// toolResultEvent builds a tool_result event from a tool-result block.
func toolResultEvent(b message.ContentBlock) Event {
	return Event{Type: EventToolResult, ToolUseID: b.ToolUseID, Content: b.Content, IsError: b.IsError}
}
