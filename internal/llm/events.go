// Package llm translates between the core's message model and the remote LLM
// HTTP API, in batch and streaming modes.
package llm

import (
	"github.com/martydill/aixplosion/internal/message"
	"github.com/martydill/aixplosion/internal/tool"
)

// EventType identifies a stream event.
type EventType string

const (
	EventBlockStart     EventType = "block_start"
	EventTextDelta      EventType = "text_delta"
	EventInputJSONDelta EventType = "input_json_delta"
	EventBlockStop      EventType = "block_stop"
	EventMessageStop    EventType = "message_stop"
	EventError          EventType = "error"
)

// BlockKind is the kind of content block a stream event refers to.
type BlockKind string

const (
	KindText    BlockKind = "text"
	KindToolUse BlockKind = "tool_use"
)

// StreamEvent is one incremental event from a streaming completion.
type StreamEvent struct {
	Type  EventType
	Index int

	// BlockStart
	Kind BlockKind
	ID   string
	Name string

	// TextDelta
	Text string

	// InputJSONDelta
	PartialJSON string

	// MessageStop: the assembled assistant message and usage totals.
	Message *message.Message
	Usage   message.Usage

	// Error
	Err error
}

// Request is a completion request.
type Request struct {
	Model       string
	System      string
	Messages    []message.Message
	Tools       []tool.Definition
	MaxTokens   int
	Temperature float64
}
