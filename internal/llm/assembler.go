package llm

import (
	"encoding/json"

	"github.com/martydill/aixplosion/internal/message"
)

// assembler reconstructs a complete assistant message from stream events.
// Tool-use inputs arrive as fragmented JSON text across many deltas; the
// assembler keeps one accumulating buffer per block index and parses it when
// the block stops. Assembly is a pure function of the event sequence, so any
// partitioning of the same input text produces the same message.
type blockState struct {
	kind BlockKind
	id   string
	name string
	buf  []byte
	done bool
}

type assembler struct {
	blocks map[int]*blockState
	order  []int
	usage  message.Usage
}

func newAssembler() *assembler {
	return &assembler{blocks: make(map[int]*blockState)}
}

func (a *assembler) start(index int, kind BlockKind, id, name string) {
	if _, ok := a.blocks[index]; ok {
		return
	}
	a.blocks[index] = &blockState{kind: kind, id: id, name: name}
	a.order = append(a.order, index)
}

func (a *assembler) textDelta(index int, text string) {
	if b, ok := a.blocks[index]; ok && !b.done {
		b.buf = append(b.buf, text...)
	}
}

func (a *assembler) inputDelta(index int, partial string) {
	if b, ok := a.blocks[index]; ok && !b.done {
		b.buf = append(b.buf, partial...)
	}
}

func (a *assembler) stop(index int) {
	if b, ok := a.blocks[index]; ok {
		b.done = true
	}
}

func (a *assembler) addUsage(u message.Usage) {
	a.usage.Add(u)
}

// result builds the assistant message from the accumulated blocks, in block
// index order.
func (a *assembler) result() message.Message {
	blocks := make([]message.ContentBlock, 0, len(a.order))
	for _, idx := range a.order {
		b := a.blocks[idx]
		switch b.kind {
		case KindToolUse:
			blocks = append(blocks, message.ToolUseBlock(b.id, b.name, normalizeInput(b.buf)))
		default:
			blocks = append(blocks, message.TextBlock(string(b.buf)))
		}
	}
	return message.Assistant(blocks...)
}

// normalizeInput parses the accumulated input buffer as JSON. An empty buffer
// becomes the empty object; an unparseable buffer is preserved as a JSON
// string so it survives re-encoding, and the dispatcher will reject it as
// malformed input on the next turn.
func normalizeInput(buf []byte) json.RawMessage {
	if len(buf) == 0 {
		return json.RawMessage(`{}`)
	}
	if json.Valid(buf) {
		return json.RawMessage(buf)
	}
	quoted, err := json.Marshal(string(buf))
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(quoted)
}
