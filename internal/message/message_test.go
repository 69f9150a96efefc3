package message

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestTextConcatenation(t *testing.T) {
	m := Assistant(
		TextBlock("hello "),
		ToolUseBlock("t1", "read_file", json.RawMessage(`{"path":"a"}`)),
		TextBlock("world"),
	)
	if got := m.Text(); got != "hello world" {
		t.Errorf("Text() = %q, want %q", got, "hello world")
	}
}

func TestToolUses(t *testing.T) {
	m := Assistant(
		TextBlock("thinking"),
		ToolUseBlock("t1", "read_file", json.RawMessage(`{"path":"a"}`)),
		ToolUseBlock("t2", "bash", json.RawMessage(`{"command":"ls"}`)),
	)
	calls := m.ToolUses()
	if len(calls) != 2 {
		t.Fatalf("expected 2 tool uses, got %d", len(calls))
	}
	if calls[0].ID != "t1" || calls[1].ID != "t2" {
		t.Errorf("tool use order not preserved: %v", calls)
	}
	if !m.HasToolUse() {
		t.Error("HasToolUse() = false, want true")
	}
}

func TestParseToolInput(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantKey string
		wantErr bool
	}{
		{name: "object", input: `{"path":"/etc"}`, wantKey: "path"},
		{name: "empty", input: ``},
		{name: "whitespace", input: "  \n"},
		{name: "malformed", input: `{"pa`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := ParseToolInput(json.RawMessage(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantKey != "" {
				if _, ok := params[tt.wantKey]; !ok {
					t.Errorf("missing key %q in %v", tt.wantKey, params)
				}
			}
		})
	}
}

func TestBlocksRoundTrip(t *testing.T) {
	blocks := []ContentBlock{
		TextBlock("answer"),
		ToolUseBlock("t1", "glob", json.RawMessage(`{"pattern":"**/*.go"}`)),
		ToolResultBlock("t1", "main.go", false),
		ToolResultBlock("t2", "denied by user", true),
	}

	data, err := EncodeBlocks(blocks)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeBlocks(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	redata, err := EncodeBlocks(decoded)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(data, redata) {
		t.Errorf("round trip not byte-identical:\n%s\n%s", data, redata)
	}
}

func TestFlattenText(t *testing.T) {
	m := Message{Role: RoleUser, Blocks: []ContentBlock{
		TextBlock("question"),
		ToolResultBlock("t1", "result text", false),
	}}
	got := m.FlattenText()
	if got != "question\nresult text" {
		t.Errorf("FlattenText() = %q", got)
	}
}

func TestUsageAdd(t *testing.T) {
	var u Usage
	u.Add(Usage{InputTokens: 10, OutputTokens: 5})
	u.Add(Usage{InputTokens: 3, OutputTokens: 2})
	if u.InputTokens != 13 || u.OutputTokens != 7 {
		t.Errorf("usage = %+v", u)
	}
}
