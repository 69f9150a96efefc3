package llm

import (
	"context"

	"github.com/martydill/aixplosion/internal/message"
)

// Completer is the LLM surface the agent loop depends on. Client implements
// it; Fake provides a scripted double for tests.
type Completer interface {
	Complete(ctx context.Context, req Request) (message.Message, message.Usage, error)
	Stream(ctx context.Context, req Request) <-chan StreamEvent
}

var _ Completer = (*Client)(nil)
var _ Completer = (*Fake)(nil)

// Fake is a test double that returns predefined assistant messages. Both
// Complete and Stream draw from the same queue; Stream decomposes each
// message into block events with the input JSON split into small fragments.
type Fake struct {
	// Responses is the queue of assistant messages, consumed in order. When
	// exhausted, an empty assistant message is returned.
	Responses []message.Message

	// Usage is reported with every response.
	Usage message.Usage

	// Calls records every request received, in order.
	Calls []Request

	// ErrorAt injects ErrorValue on the Nth call (1-based). 0 disables.
	ErrorAt    int
	ErrorValue error

	// FragmentSize controls how input JSON is split into deltas when
	// streaming. 0 means emit whole.
	FragmentSize int

	callCount int
}

// Complete pops the next scripted message.
func (f *Fake) Complete(_ context.Context, req Request) (message.Message, message.Usage, error) {
	f.Calls = append(f.Calls, req)
	f.callCount++
	if f.ErrorAt > 0 && f.callCount == f.ErrorAt {
		return message.Message{}, message.Usage{}, f.ErrorValue
	}
	return f.next(), f.Usage, nil
}

// Stream decomposes the next scripted message into stream events.
func (f *Fake) Stream(_ context.Context, req Request) <-chan StreamEvent {
	f.Calls = append(f.Calls, req)
	f.callCount++
	out := make(chan StreamEvent)

	inject := f.ErrorAt > 0 && f.callCount == f.ErrorAt
	var msg message.Message
	if !inject {
		msg = f.next()
	}

	go func() {
		defer close(out)

		if inject {
			out <- StreamEvent{Type: EventError, Err: f.ErrorValue}
			return
		}

		for i, b := range msg.Blocks {
			switch b.Type {
			case message.BlockText:
				out <- StreamEvent{Type: EventBlockStart, Index: i, Kind: KindText}
				for _, frag := range f.fragments(b.Text) {
					out <- StreamEvent{Type: EventTextDelta, Index: i, Text: frag}
				}
				out <- StreamEvent{Type: EventBlockStop, Index: i, Kind: KindText}
			case message.BlockToolUse:
				out <- StreamEvent{Type: EventBlockStart, Index: i, Kind: KindToolUse, ID: b.ID, Name: b.Name}
				for _, frag := range f.fragments(string(b.Input)) {
					out <- StreamEvent{Type: EventInputJSONDelta, Index: i, PartialJSON: frag}
				}
				out <- StreamEvent{Type: EventBlockStop, Index: i, Kind: KindToolUse}
			}
		}

		out <- StreamEvent{Type: EventMessageStop, Message: &msg, Usage: f.Usage}
	}()
	return out
}

func (f *Fake) next() message.Message {
	if len(f.Responses) == 0 {
		return message.Assistant()
	}
	msg := f.Responses[0]
	f.Responses = f.Responses[1:]
	return msg
}

func (f *Fake) fragments(s string) []string {
	if s == "" {
		return nil
	}
	size := f.FragmentSize
	if size <= 0 || size >= len(s) {
		return []string{s}
	}
	var out []string
	for len(s) > size {
		out = append(out, s[:size])
		s = s[size:]
	}
	return append(out, s)
}
