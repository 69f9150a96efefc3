package llm

import (
	"encoding/json"
	"testing"

	"github.com/martydill/aixplosion/internal/message"
)

func TestAssemblerTextAndToolUse(t *testing.T) {
	a := newAssembler()
	a.start(0, KindText, "", "")
	a.textDelta(0, "Let me look at ")
	a.textDelta(0, "that file.")
	a.stop(0)
	a.start(1, KindToolUse, "t1", "list_directory")
	a.inputDelta(1, `{"pa`)
	a.inputDelta(1, `th":"/`)
	a.inputDelta(1, `etc"}`)
	a.stop(1)

	msg := a.result()
	if len(msg.Blocks) != 2 {
		t.Fatalf("blocks = %d", len(msg.Blocks))
	}
	if msg.Blocks[0].Text != "Let me look at that file." {
		t.Errorf("text = %q", msg.Blocks[0].Text)
	}
	if string(msg.Blocks[1].Input) != `{"path":"/etc"}` {
		t.Errorf("input = %s", msg.Blocks[1].Input)
	}
	if msg.Blocks[1].ID != "t1" || msg.Blocks[1].Name != "list_directory" {
		t.Errorf("block = %+v", msg.Blocks[1])
	}
}

// TestAssemblerPartitionInvariance verifies that any partitioning of the same
// input text produces the same assembled input.
func TestAssemblerPartitionInvariance(t *testing.T) {
	input := `{"path":"/etc","recursive":true,"max_depth":3}`

	assemble := func(fragments []string) json.RawMessage {
		a := newAssembler()
		a.start(0, KindToolUse, "t1", "list_directory")
		for _, frag := range fragments {
			a.inputDelta(0, frag)
		}
		a.stop(0)
		return a.result().Blocks[0].Input
	}

	// Whole string at once.
	want := assemble([]string{input})

	// Every possible split point, plus byte-at-a-time.
	for cut := 1; cut < len(input); cut++ {
		got := assemble([]string{input[:cut], input[cut:]})
		if string(got) != string(want) {
			t.Fatalf("split at %d: %s != %s", cut, got, want)
		}
	}
	var bytes []string
	for i := range input {
		bytes = append(bytes, input[i:i+1])
	}
	if got := assemble(bytes); string(got) != string(want) {
		t.Errorf("byte-at-a-time: %s != %s", got, want)
	}
}

func TestAssemblerMalformedInputPreserved(t *testing.T) {
	a := newAssembler()
	a.start(0, KindToolUse, "t1", "bash")
	a.inputDelta(0, `{"command": "ls`) // stream cut off mid-value
	a.stop(0)

	msg := a.result()
	input := msg.Blocks[0].Input

	// The raw text is preserved as a JSON string so the message still
	// round-trips through encoding.
	var s string
	if err := json.Unmarshal(input, &s); err != nil {
		t.Fatalf("input not a JSON string: %s", input)
	}
	if s != `{"command": "ls` {
		t.Errorf("raw = %q", s)
	}

	// The dispatcher rejects it as malformed input.
	if _, err := message.ParseToolInput(input); err == nil {
		t.Error("expected ParseToolInput to fail for malformed input")
	}

	// The whole message still encodes.
	if _, err := message.EncodeBlocks(msg.Blocks); err != nil {
		t.Errorf("encode: %v", err)
	}
}

func TestAssemblerEmptyInput(t *testing.T) {
	a := newAssembler()
	a.start(0, KindToolUse, "t1", "list_directory")
	a.stop(0)

	input := a.result().Blocks[0].Input
	if string(input) != `{}` {
		t.Errorf("empty input = %s", input)
	}
}

func TestAssemblerUsage(t *testing.T) {
	a := newAssembler()
	a.addUsage(message.Usage{InputTokens: 10})
	a.addUsage(message.Usage{OutputTokens: 4})
	if a.usage.InputTokens != 10 || a.usage.OutputTokens != 4 {
		t.Errorf("usage = %+v", a.usage)
	}
}

func TestFakeStreamMatchesComplete(t *testing.T) {
	scripted := message.Assistant(
		message.TextBlock("checking"),
		message.ToolUseBlock("t1", "glob", json.RawMessage(`{"pattern":"**/*.go"}`)),
	)

	fake := &Fake{Responses: []message.Message{scripted}, FragmentSize: 3}

	var final *message.Message
	var text string
	for ev := range fake.Stream(t.Context(), Request{}) {
		switch ev.Type {
		case EventTextDelta:
			text += ev.Text
		case EventMessageStop:
			final = ev.Message
		case EventError:
			t.Fatalf("stream error: %v", ev.Err)
		}
	}
	if final == nil {
		t.Fatal("no message_stop event")
	}
	if text != "checking" {
		t.Errorf("accumulated text = %q", text)
	}
	if len(final.Blocks) != 2 || final.Blocks[1].Name != "glob" {
		t.Errorf("final = %+v", final)
	}
}
