// Package agent implements the turn-taking state machine between the LLM and
// the tool layer: one user input in, any number of tool round trips, one
// final assistant message out, with every intermediate message persisted.
package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/martydill/aixplosion/internal/config"
	"github.com/martydill/aixplosion/internal/llm"
	"github.com/martydill/aixplosion/internal/log"
	"github.com/martydill/aixplosion/internal/message"
	"github.com/martydill/aixplosion/internal/security"
	"github.com/martydill/aixplosion/internal/store"
	"github.com/martydill/aixplosion/internal/subagent"
	"github.com/martydill/aixplosion/internal/tool"
)

// MaxIterations bounds the number of LLM round trips within one turn.
const MaxIterations = 10

// iterationLimitText is the synthetic assistant message appended when the
// cap is hit.
const iterationLimitText = "tool-use iteration limit reached"

// agentsFile is auto-included as context on a conversation's first turn.
const agentsFile = "AGENTS.md"

// Loop drives conversations. It owns no global state: the policy context is
// threaded through each call.
type Loop struct {
	Store      *store.Store
	LLM        llm.Completer
	Dispatcher *tool.Dispatcher
	Config     *config.Config
	Policy     security.Policy
	Cwd        string
}

// turnState is everything resolved once per turn.
type turnState struct {
	conv     *store.Conversation
	profile  *subagent.Profile
	policy   security.Policy
	messages []message.Message
	release  func()
}

// Advance appends the user input, runs the turn loop to completion, and
// returns the final assistant text.
func (l *Loop) Advance(ctx context.Context, conversationID, input string) (string, error) {
	st, err := l.beginTurn(conversationID, input)
	if err != nil {
		return "", err
	}
	defer st.release()

	for iteration := 0; iteration < MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return "", wrapErr(KindGeneric, err)
		}

		resp, usage, err := l.LLM.Complete(ctx, l.request(st))
		if err != nil {
			return "", classifyLLM(err)
		}

		final, done, err := l.applyResponse(ctx, st, resp, usage, nil)
		if err != nil {
			return "", err
		}
		if done {
			return final, nil
		}
	}

	return l.appendIterationLimit(st)
}

// AdvanceStream is the streaming variant: it yields an ordered sequence of
// events and persists the same transcript as Advance. Events are produced
// into a bounded queue the caller drains.
func (l *Loop) AdvanceStream(ctx context.Context, conversationID, input string) <-chan Event {
	out := make(chan Event, 64)

	go func() {
		defer close(out)

		st, err := l.beginTurn(conversationID, input)
		if err != nil {
			out <- Event{Type: EventError, Err: err}
			return
		}
		defer st.release()

		for iteration := 0; iteration < MaxIterations; iteration++ {
			resp, usage, err := l.collectStream(ctx, st, out)
			if err != nil {
				out <- Event{Type: EventError, Err: err}
				return
			}

			final, done, err := l.applyResponse(ctx, st, resp, usage, out)
			if err != nil {
				out <- Event{Type: EventError, Err: err}
				return
			}
			if done {
				out <- Event{Type: EventFinal, Final: final}
				return
			}
		}

		final, err := l.appendIterationLimit(st)
		if err != nil {
			out <- Event{Type: EventError, Err: err}
			return
		}
		out <- Event{Type: EventFinal, Final: final}
	}()

	return out
}

// collectStream drives one streaming LLM call, forwarding text deltas and
// returning the assembled assistant message. Partially accumulated text is
// discarded on error or cancellation: nothing is persisted until the message
// is complete.
func (l *Loop) collectStream(ctx context.Context, st *turnState, out chan<- Event) (message.Message, message.Usage, error) {
	for ev := range l.LLM.Stream(ctx, l.request(st)) {
		switch ev.Type {
		case llm.EventTextDelta:
			out <- Event{Type: EventText, Delta: ev.Text}
		case llm.EventMessageStop:
			return *ev.Message, ev.Usage, nil
		case llm.EventError:
			return message.Message{}, message.Usage{}, classifyLLM(ev.Err)
		}
	}
	if err := ctx.Err(); err != nil {
		return message.Message{}, message.Usage{}, wrapErr(KindGeneric, err)
	}
	return message.Message{}, message.Usage{}, wrapErr(KindTransport, fmt.Errorf("stream ended without message_stop"))
}

// applyResponse persists the assistant message and either finishes the turn
// (no tool calls) or dispatches every tool call in order and appends the
// results message. When out is non-nil, tool events are emitted to it.
func (l *Loop) applyResponse(ctx context.Context, st *turnState, resp message.Message, usage message.Usage, out chan<- Event) (string, bool, error) {
	if err := l.Store.AppendMessage(st.conv.ID, resp); err != nil {
		return "", false, wrapErr(KindStore, fmt.Errorf("persist assistant message: %w", err))
	}
	st.messages = append(st.messages, resp)

	if err := l.Store.AddUsage(st.conv.ID, usage); err != nil {
		log.Logger().Warn("failed to record usage", zap.Error(err))
	}

	calls := resp.ToolUses()
	if len(calls) == 0 {
		// An empty assistant message is a final empty answer.
		return resp.Text(), true, nil
	}

	// Tool calls run sequentially in the order the model emitted them: tools
	// frequently depend on each other's side effects.
	results := make([]message.ContentBlock, 0, len(calls))
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return "", false, wrapErr(KindGeneric, err)
		}
		if out != nil {
			out <- toolCallEvent(call)
		}

		result := l.Dispatcher.Dispatch(ctx, st.policy, call)
		results = append(results, result)

		if out != nil {
			out <- toolResultEvent(result)
		}
	}

	resultMsg := message.ToolResults(results...)
	if err := l.Store.AppendMessage(st.conv.ID, resultMsg); err != nil {
		return "", false, wrapErr(KindStore, fmt.Errorf("persist tool results: %w", err))
	}
	st.messages = append(st.messages, resultMsg)
	return "", false, nil
}

// appendIterationLimit ends a capped turn with the synthetic assistant text.
func (l *Loop) appendIterationLimit(st *turnState) (string, error) {
	synthetic := message.Assistant(message.TextBlock(iterationLimitText))
	if err := l.Store.AppendMessage(st.conv.ID, synthetic); err != nil {
		return "", wrapErr(KindStore, fmt.Errorf("persist synthetic message: %w", err))
	}
	return iterationLimitText, nil
}

// beginTurn takes the conversation lock, loads state, resolves the sub-agent
// profile, and appends the user message.
func (l *Loop) beginTurn(conversationID, input string) (*turnState, error) {
	release, err := l.Store.AcquireConversation(conversationID)
	if err != nil {
		return nil, wrapErr(KindStore, err)
	}

	st := &turnState{release: release}
	defer func() {
		if st.conv == nil {
			release()
		}
	}()

	conv, err := l.Store.GetConversation(conversationID)
	if err != nil {
		return nil, wrapErr(KindStore, err)
	}

	msgs, err := l.Store.Messages(conversationID)
	if err != nil {
		return nil, wrapErr(KindStore, err)
	}

	profile, err := l.resolveProfile(conv.SubAgent)
	if err != nil {
		return nil, err
	}

	userMsg := l.buildUserMessage(conv, input, len(msgs) == 0)
	if err := l.Store.AppendMessage(conversationID, userMsg); err != nil {
		return nil, wrapErr(KindStore, fmt.Errorf("persist user message: %w", err))
	}

	st.conv = conv
	st.profile = profile
	st.policy = l.policyFor(profile)
	st.messages = append(msgs, userMsg)
	return st, nil
}

// resolveProfile loads the active sub-agent profile, if any.
func (l *Loop) resolveProfile(name string) (*subagent.Profile, error) {
	if name == "" {
		return nil, nil
	}
	rec, err := l.Store.GetAgent(name)
	if err != nil {
		return nil, wrapErr(KindConfig, fmt.Errorf("sub-agent %q: %w", name, err))
	}
	return subagent.FromRecord(rec), nil
}

// policyFor layers the sub-agent's tool restrictions onto the loop's policy.
func (l *Loop) policyFor(profile *subagent.Profile) security.Policy {
	policy := l.Policy
	if profile != nil {
		policy.AllowedTools = profile.AllowedSet()
		policy.DeniedTools = profile.DeniedSet()
	}
	return policy
}

// request builds the LLM request for the current state. The effective tool
// set is the registry snapshot minus the sub-agent's denied tools.
func (l *Loop) request(st *turnState) llm.Request {
	model := st.conv.Model
	system := st.conv.SystemPrompt
	maxTokens := l.Config.MaxTokens
	temperature := l.Config.Temperature

	if st.profile != nil {
		if st.profile.Model != "" {
			model = st.profile.Model
		}
		if st.profile.SystemPrompt != "" {
			system = st.profile.SystemPrompt
		}
		if st.profile.MaxTokens > 0 {
			maxTokens = st.profile.MaxTokens
		}
		if st.profile.Temperature > 0 {
			temperature = st.profile.Temperature
		}
	}

	var denied map[string]bool
	if st.profile != nil {
		denied = st.profile.DeniedSet()
	}

	return llm.Request{
		Model:       model,
		System:      system,
		Messages:    st.messages,
		Tools:       l.Dispatcher.Registry.Definitions(denied),
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

// buildUserMessage assembles the user message: context-file blocks for @path
// references (and the AGENTS.md auto-inclusion on the first turn), followed
// by the input text.
func (l *Loop) buildUserMessage(conv *store.Conversation, input string, firstTurn bool) message.Message {
	var blocks []message.ContentBlock

	if firstTurn {
		if data, err := os.ReadFile(filepath.Join(l.Cwd, agentsFile)); err == nil {
			blocks = append(blocks, message.TextBlock(
				fmt.Sprintf("Project instructions from %s:\n\n%s", agentsFile, data)))
		}
	}

	for _, path := range extractFileRefs(input) {
		full := path
		if !filepath.IsAbs(full) {
			full = filepath.Join(l.Cwd, path)
		}
		data, err := os.ReadFile(full)
		if err != nil {
			blocks = append(blocks, message.TextBlock(
				fmt.Sprintf("Context file %s could not be read: %v", path, err)))
			continue
		}
		blocks = append(blocks, message.TextBlock(
			fmt.Sprintf("Contents of %s:\n\n%s", path, data)))
		if err := l.Store.AddContextFile(conv.ID, path); err != nil {
			log.Logger().Warn("failed to record context file", zap.String("path", path), zap.Error(err))
		}
	}

	blocks = append(blocks, message.TextBlock(input))
	return message.Message{Role: message.RoleUser, Blocks: blocks, CreatedAt: time.Now()}
}

// extractFileRefs returns the paths of @path tokens in the input.
func extractFileRefs(input string) []string {
	var paths []string
	for _, field := range strings.Fields(input) {
		if len(field) > 1 && strings.HasPrefix(field, "@") {
			paths = append(paths, strings.TrimPrefix(field, "@"))
		}
	}
	return paths
}
