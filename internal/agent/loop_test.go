package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/martydill/aixplosion/internal/config"
	"github.com/martydill/aixplosion/internal/llm"
	"github.com/martydill/aixplosion/internal/message"
	"github.com/martydill/aixplosion/internal/security"
	"github.com/martydill/aixplosion/internal/store"
	"github.com/martydill/aixplosion/internal/tool"
)

type fixture struct {
	loop *Loop
	st   *store.Store
	fake *llm.Fake
	conv *store.Conversation
	cwd  string
}

func newFixture(t *testing.T, responses ...message.Message) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.OpenAt(filepath.Join(dir, "session.db"), filepath.Join(dir, "global.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	conv, err := st.CreateConversation("glm-4.6", "", "")
	if err != nil {
		t.Fatal(err)
	}

	cwd := t.TempDir()
	fake := &llm.Fake{Responses: responses, Usage: message.Usage{InputTokens: 10, OutputTokens: 5}}
	loop := &Loop{
		Store: st,
		LLM:   fake,
		Dispatcher: &tool.Dispatcher{
			Registry: tool.NewDefaultRegistry(),
			Mediator: &security.Mediator{},
			Cwd:      cwd,
		},
		Config: &config.Config{MaxTokens: 1024, Temperature: 1.0},
		Policy: security.Policy{Yolo: true},
		Cwd:    cwd,
	}
	return &fixture{loop: loop, st: st, fake: fake, conv: conv, cwd: cwd}
}

// assertClosure verifies P1: tool-use ids in each assistant message equal the
// tool_use_ids of the following user message.
func assertClosure(t *testing.T, msgs []message.Message) {
	t.Helper()
	for i, m := range msgs {
		if m.Role != message.RoleAssistant {
			continue
		}
		calls := m.ToolUses()
		if len(calls) == 0 {
			continue
		}
		if i+1 >= len(msgs) {
			t.Fatalf("assistant message %d has tool calls but no following message", i)
		}
		next := msgs[i+1]
		if next.Role != message.RoleUser {
			t.Fatalf("message %d after tool calls has role %s", i+1, next.Role)
		}
		if len(next.Blocks) != len(calls) {
			t.Fatalf("message %d: %d results for %d calls", i+1, len(next.Blocks), len(calls))
		}
		for j, call := range calls {
			if next.Blocks[j].ToolUseID != call.ID {
				t.Errorf("result %d id = %q, want %q", j, next.Blocks[j].ToolUseID, call.ID)
			}
		}
	}
}

func TestAdvanceNoTools(t *testing.T) {
	f := newFixture(t, message.Assistant(message.TextBlock("hi")))

	final, err := f.loop.Advance(context.Background(), f.conv.ID, "say hi")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if final != "hi" {
		t.Errorf("final = %q", final)
	}

	msgs, _ := f.st.Messages(f.conv.ID)
	if len(msgs) != 2 {
		t.Fatalf("transcript = %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != message.RoleUser || msgs[1].Role != message.RoleAssistant {
		t.Errorf("roles = %s, %s", msgs[0].Role, msgs[1].Role)
	}

	conv, _ := f.st.GetConversation(f.conv.ID)
	if conv.UsageIn != 10 || conv.UsageOut != 5 {
		t.Errorf("usage = %d/%d", conv.UsageIn, conv.UsageOut)
	}
}

func TestAdvanceOneTool(t *testing.T) {
	f := newFixture(t,
		message.Assistant(
			message.ToolUseBlock("t1", "read_file", json.RawMessage(`{"path":"README.md"}`)),
		),
		message.Assistant(message.TextBlock("This project does X.")),
	)
	os.WriteFile(filepath.Join(f.cwd, "README.md"), []byte("This project does X."), 0644)

	final, err := f.loop.Advance(context.Background(), f.conv.ID, "read the readme")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if final != "This project does X." {
		t.Errorf("final = %q", final)
	}

	msgs, _ := f.st.Messages(f.conv.ID)
	if len(msgs) != 4 {
		t.Fatalf("transcript = %d messages, want 4", len(msgs))
	}
	assertClosure(t, msgs)

	// The tool result carried the file contents back to the model.
	result := msgs[2].Blocks[0]
	if result.IsError || !strings.Contains(result.Content, "This project does X.") {
		t.Errorf("tool result = %+v", result)
	}
}

func TestAdvanceUnknownTool(t *testing.T) {
	f := newFixture(t,
		message.Assistant(
			message.ToolUseBlock("t1", "frobnicate", json.RawMessage(`{}`)),
		),
		message.Assistant(message.TextBlock("sorry")),
	)

	final, err := f.loop.Advance(context.Background(), f.conv.ID, "do the thing")
	if err != nil {
		t.Fatalf("advance should not abort on unknown tool: %v", err)
	}
	if final != "sorry" {
		t.Errorf("final = %q", final)
	}

	msgs, _ := f.st.Messages(f.conv.ID)
	assertClosure(t, msgs)
	result := msgs[2].Blocks[0]
	if !result.IsError || !strings.Contains(result.Content, "unknown tool") {
		t.Errorf("result = %+v", result)
	}
}

func TestAdvanceIterationCap(t *testing.T) {
	// A pathological model that only ever emits tool calls.
	var responses []message.Message
	for i := 0; i < MaxIterations+5; i++ {
		responses = append(responses, message.Assistant(
			message.ToolUseBlock("t1", "list_directory", json.RawMessage(`{}`)),
		))
	}
	f := newFixture(t, responses...)

	final, err := f.loop.Advance(context.Background(), f.conv.ID, "loop forever")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if final != iterationLimitText {
		t.Errorf("final = %q", final)
	}

	// 1 user + 10 x (assistant + tool results) + 1 synthetic = 22.
	msgs, _ := f.st.Messages(f.conv.ID)
	if len(msgs) != 22 {
		t.Errorf("transcript = %d messages, want 22", len(msgs))
	}
	if len(f.fake.Calls) != MaxIterations {
		t.Errorf("LLM calls = %d, want %d", len(f.fake.Calls), MaxIterations)
	}
}

func TestAdvanceEmptyAssistantMessage(t *testing.T) {
	f := newFixture(t, message.Assistant())

	final, err := f.loop.Advance(context.Background(), f.conv.ID, "hello")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if final != "" {
		t.Errorf("final = %q, want empty", final)
	}
}

func TestAdvanceTextRetainedWithToolUse(t *testing.T) {
	f := newFixture(t,
		message.Assistant(
			message.TextBlock("let me check"),
			message.ToolUseBlock("t1", "list_directory", json.RawMessage(`{}`)),
		),
		message.Assistant(message.TextBlock("done")),
	)

	final, err := f.loop.Advance(context.Background(), f.conv.ID, "check")
	if err != nil {
		t.Fatal(err)
	}
	// The interleaved text is retained in history but not emitted as final.
	if final != "done" {
		t.Errorf("final = %q", final)
	}
	msgs, _ := f.st.Messages(f.conv.ID)
	if msgs[1].Text() != "let me check" {
		t.Errorf("history text = %q", msgs[1].Text())
	}
}

func TestAdvanceStreamEvents(t *testing.T) {
	f := newFixture(t,
		message.Assistant(
			message.ToolUseBlock("t1", "list_directory", json.RawMessage(`{}`)),
		),
		message.Assistant(message.TextBlock("two entries")),
	)
	f.fake.FragmentSize = 4

	var textParts []string
	var toolCalls, toolResults int
	var final string
	for ev := range f.loop.AdvanceStream(context.Background(), f.conv.ID, "list") {
		switch ev.Type {
		case EventText:
			textParts = append(textParts, ev.Delta)
		case EventToolCall:
			toolCalls++
			if ev.Name != "list_directory" || ev.ToolUseID != "t1" {
				t.Errorf("tool call = %+v", ev)
			}
		case EventToolResult:
			toolResults++
		case EventFinal:
			final = ev.Final
		case EventError:
			t.Fatalf("stream error: %v", ev.Err)
		}
	}

	if toolCalls != 1 || toolResults != 1 {
		t.Errorf("tool events = %d/%d", toolCalls, toolResults)
	}
	if final != "two entries" {
		t.Errorf("final = %q", final)
	}

	// P4: accumulated text equals the final content equals the persisted
	// assistant text.
	if got := strings.Join(textParts, ""); got != final {
		t.Errorf("accumulated %q != final %q", got, final)
	}
	msgs, _ := f.st.Messages(f.conv.ID)
	last := msgs[len(msgs)-1]
	if last.Text() != final {
		t.Errorf("persisted %q != final %q", last.Text(), final)
	}
	assertClosure(t, msgs)
}

func TestAdvanceDurability(t *testing.T) {
	f := newFixture(t, message.Assistant(message.TextBlock("persisted")))

	if _, err := f.loop.Advance(context.Background(), f.conv.ID, "hello"); err != nil {
		t.Fatal(err)
	}

	// P3: reopening the conversation yields the same transcript.
	first, _ := f.st.Messages(f.conv.ID)
	second, _ := f.st.Messages(f.conv.ID)
	if len(first) != len(second) {
		t.Fatalf("reload changed length: %d vs %d", len(first), len(second))
	}
	for i := range first {
		a, _ := message.EncodeBlocks(first[i].Blocks)
		b, _ := message.EncodeBlocks(second[i].Blocks)
		if string(a) != string(b) {
			t.Errorf("message %d differs across reloads", i)
		}
	}
}

func TestAdvanceConcurrentTurnRejected(t *testing.T) {
	f := newFixture(t, message.Assistant(message.TextBlock("hi")))

	release, err := f.st.AcquireConversation(f.conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	if _, err := f.loop.Advance(context.Background(), f.conv.ID, "hello"); err == nil {
		t.Fatal("expected busy-conversation error")
	}
}

func TestAdvanceLLMError(t *testing.T) {
	f := newFixture(t)
	f.fake.ErrorAt = 1
	f.fake.ErrorValue = llm.ErrAuthentication

	_, err := f.loop.Advance(context.Background(), f.conv.ID, "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if Classify(err) != KindAuth {
		t.Errorf("kind = %v, want auth", Classify(err))
	}

	// The lock is released; a new turn may start.
	f.fake.Responses = []message.Message{message.Assistant(message.TextBlock("ok"))}
	f.fake.ErrorAt = 0
	if _, err := f.loop.Advance(context.Background(), f.conv.ID, "again"); err != nil {
		t.Errorf("second advance: %v", err)
	}
}

func TestContextFileExpansion(t *testing.T) {
	f := newFixture(t, message.Assistant(message.TextBlock("got it")))
	os.WriteFile(filepath.Join(f.cwd, "notes.txt"), []byte("remember this"), 0644)

	if _, err := f.loop.Advance(context.Background(), f.conv.ID, "summarize @notes.txt please"); err != nil {
		t.Fatal(err)
	}

	msgs, _ := f.st.Messages(f.conv.ID)
	userText := msgs[0].FlattenText()
	if !strings.Contains(userText, "remember this") {
		t.Errorf("context file contents missing from user message: %q", userText)
	}

	paths, _ := f.st.ContextFiles(f.conv.ID)
	if len(paths) != 1 || paths[0] != "notes.txt" {
		t.Errorf("context files = %v", paths)
	}
}

func TestAgentsFileAutoInclude(t *testing.T) {
	f := newFixture(t,
		message.Assistant(message.TextBlock("one")),
		message.Assistant(message.TextBlock("two")),
	)
	os.WriteFile(filepath.Join(f.cwd, "AGENTS.md"), []byte("always run tests"), 0644)

	if _, err := f.loop.Advance(context.Background(), f.conv.ID, "first"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.loop.Advance(context.Background(), f.conv.ID, "second"); err != nil {
		t.Fatal(err)
	}

	msgs, _ := f.st.Messages(f.conv.ID)
	if !strings.Contains(msgs[0].FlattenText(), "always run tests") {
		t.Error("AGENTS.md missing from first user message")
	}
	// Only the first turn includes it.
	if strings.Contains(msgs[2].FlattenText(), "always run tests") {
		t.Error("AGENTS.md included again on second turn")
	}
}

func TestSubAgentDeniedTools(t *testing.T) {
	f := newFixture(t,
		message.Assistant(
			message.ToolUseBlock("t1", "bash", json.RawMessage(`{"command":"ls"}`)),
		),
		message.Assistant(message.TextBlock("blocked")),
	)

	f.st.SaveAgent(store.AgentRecord{Name: "reviewer", DeniedTools: []string{"bash"}})
	f.st.UpdateConversation(f.conv.ID, "glm-4.6", "", "reviewer")

	final, err := f.loop.Advance(context.Background(), f.conv.ID, "run ls")
	if err != nil {
		t.Fatal(err)
	}
	if final != "blocked" {
		t.Errorf("final = %q", final)
	}

	// Even under yolo, the sub-agent's deny list wins.
	msgs, _ := f.st.Messages(f.conv.ID)
	result := msgs[2].Blocks[0]
	if !result.IsError {
		t.Error("expected denied tool result")
	}

	// The denied tool is also excluded from the advertised tool set.
	for _, def := range f.fake.Calls[0].Tools {
		if def.Name == "bash" {
			t.Error("bash still advertised to the model")
		}
	}
}

func TestEventJSONEncoding(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{Event{Type: EventText, Delta: "hi"}, `{"type":"text","delta":"hi"}`},
		{Event{Type: EventFinal, Final: "done"}, `{"type":"final","content":"done"}`},
		{
			Event{Type: EventToolResult, ToolUseID: "t1", Content: "ok", IsError: false},
			`{"type":"tool_result","tool_use_id":"t1","content":"ok","is_error":false}`,
		},
	}
	for _, tt := range tests {
		data, err := json.Marshal(tt.event)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != tt.want {
			t.Errorf("got %s, want %s", data, tt.want)
		}
	}

	data, _ := json.Marshal(Event{Type: EventToolCall, ToolUseID: "t1", Name: "glob", Input: json.RawMessage(`{"pattern":"*"}`)})
	if !strings.Contains(string(data), `"tool_call"`) || !strings.Contains(string(data), `"pattern"`) {
		t.Errorf("tool_call encoding = %s", data)
	}
}
