// Package security decides whether mutating tool invocations may proceed.
// Decisions layer sub-agent tool restrictions, the global yolo flag,
// persisted allow/deny rules, and interactive escalation.
package security

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/martydill/aixplosion/internal/log"
	"github.com/martydill/aixplosion/internal/store"
)

// PromptTimeout bounds how long an interactive prompt may wait before
// defaulting to deny.
const PromptTimeout = 30 * time.Second

// ErrDenied is returned when an invocation is refused. Dispatchers convert it
// into an error tool result rather than aborting the turn.
var ErrDenied = errors.New("denied by user")

// Policy carries the mutable security context threaded through a turn:
// the global yolo flag, interactivity, and the active sub-agent's tool
// restrictions.
type Policy struct {
	Yolo        bool
	Interactive bool

	AllowedTools map[string]bool
	DeniedTools  map[string]bool
}

// Choice is the outcome of an interactive prompt.
type Choice int

const (
	// ChoiceAllowOnce permits this invocation only.
	ChoiceAllowOnce Choice = iota
	// ChoiceAllowRemember permits and persists an exact allow rule.
	ChoiceAllowRemember
	// ChoiceAllowWildcard permits and persists a "<first-token> *" allow rule.
	ChoiceAllowWildcard
	// ChoiceDeny refuses and persists an exact deny rule.
	ChoiceDeny
)

// Request describes a pending invocation shown to the user.
type Request struct {
	Tool    string
	Command string
	Diff    string // unified diff preview for file edits, if available
}

// Prompter asks the user for a decision. Implementations must honor the
// context deadline.
type Prompter interface {
	Ask(ctx context.Context, req Request) (Choice, error)
}

// RuleStore is the subset of the session store the mediator needs.
type RuleStore interface {
	PermissionRules() ([]store.PermissionRule, error)
	AddPermissionRule(store.PermissionRule) error
}

// Mediator evaluates the layered policy for mutating tool invocations.
type Mediator struct {
	Rules    RuleStore
	Prompter Prompter
}

// Authorize decides whether the invocation may proceed. A nil return means
// allow; ErrDenied (possibly wrapped) means the caller must produce an error
// tool result.
func (m *Mediator) Authorize(ctx context.Context, policy Policy, tool, command string) error {
	return m.AuthorizeRequest(ctx, policy, Request{Tool: tool, Command: command})
}

// AuthorizeRequest is Authorize with a full request, letting callers attach a
// diff preview for the interactive prompt.
func (m *Mediator) AuthorizeRequest(ctx context.Context, policy Policy, req Request) error {
	if policy.DeniedTools[req.Tool] {
		return fmt.Errorf("tool %s: %w", req.Tool, ErrDenied)
	}
	if policy.AllowedTools[req.Tool] {
		return nil
	}
	if policy.Yolo {
		return nil
	}

	// Persisted rules apply to shell commands only; other mutating tools go
	// straight to the prompt.
	if req.Tool == "bash" {
		switch m.matchRules(req.Command) {
		case store.DecisionAllow:
			return nil
		case store.DecisionDeny:
			return fmt.Errorf("command %q blocked by rule: %w", req.Command, ErrDenied)
		}
	}

	if !policy.Interactive {
		return fmt.Errorf("tool %s requires approval and no TTY is available: %w", req.Tool, ErrDenied)
	}
	return m.prompt(ctx, req)
}

// matchRules evaluates persisted rules against a command. Deny wins over
// allow; no match returns "".
func (m *Mediator) matchRules(command string) string {
	if m.Rules == nil {
		return ""
	}
	rules, err := m.Rules.PermissionRules()
	if err != nil {
		log.Logger().Warn("failed to load permission rules", zap.Error(err))
		return ""
	}

	decision := ""
	for _, r := range rules {
		if !MatchPattern(command, r.Pattern) {
			continue
		}
		if r.Decision == store.DecisionDeny {
			return store.DecisionDeny
		}
		decision = store.DecisionAllow
	}
	return decision
}

// prompt runs the interactive escalation with the 30s timeout. Timeout and
// prompt errors default to deny.
func (m *Mediator) prompt(ctx context.Context, req Request) error {
	if m.Prompter == nil {
		return fmt.Errorf("tool %s requires approval and no prompter is configured: %w", req.Tool, ErrDenied)
	}

	ctx, cancel := context.WithTimeout(ctx, PromptTimeout)
	defer cancel()

	choice, err := m.Prompter.Ask(ctx, req)
	if err != nil {
		return fmt.Errorf("approval prompt failed (%v): %w", err, ErrDenied)
	}

	switch choice {
	case ChoiceAllowOnce:
		return nil
	case ChoiceAllowRemember:
		m.persist(req.Command, store.DecisionAllow)
		return nil
	case ChoiceAllowWildcard:
		if prefix := FirstToken(req.Command); prefix != "" {
			m.persist(prefix+" *", store.DecisionAllow)
		}
		return nil
	default:
		m.persist(req.Command, store.DecisionDeny)
		return fmt.Errorf("command %q: %w", req.Command, ErrDenied)
	}
}

func (m *Mediator) persist(pattern, decision string) {
	if m.Rules == nil {
		return
	}
	err := m.Rules.AddPermissionRule(store.PermissionRule{
		Pattern:  pattern,
		Decision: decision,
		Scope:    store.ScopePersistent,
	})
	if err != nil {
		log.Logger().Warn("failed to persist permission rule",
			zap.String("pattern", pattern), zap.Error(err))
	}
}

// MatchPattern reports whether a command matches a rule pattern. A pattern is
// either the verbatim command, or "<prefix> *" matching any command whose
// first whitespace-separated token equals prefix.
func MatchPattern(command, pattern string) bool {
	if command == pattern {
		return true
	}
	prefix, ok := strings.CutSuffix(pattern, " *")
	if !ok {
		return false
	}
	return FirstToken(command) == prefix
}

// FirstToken returns the first whitespace-separated token of a command.
func FirstToken(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// HasArguments reports whether a command has at least one argument after the
// base command word. The wildcard prompt option is only offered when true.
func HasArguments(command string) bool {
	return len(strings.Fields(command)) > 1
}
