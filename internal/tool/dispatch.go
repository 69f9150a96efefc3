package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/martydill/aixplosion/internal/log"
	"github.com/martydill/aixplosion/internal/message"
	"github.com/martydill/aixplosion/internal/security"
)

// MCPCaller routes tool calls to an MCP server. The registry mediates between
// the agent loop and the MCP layer so neither holds a back-reference to the
// other.
type MCPCaller interface {
	// Call invokes remoteName on the given server. content is the flattened
	// text result; isError mirrors the server's flag. A non-nil error means
	// the call itself failed (timeout, broken session).
	Call(ctx context.Context, server, remoteName string, args map[string]any) (content string, isError bool, err error)
}

// Dispatcher turns tool-use blocks into tool-result blocks, routing to
// built-in handlers or the MCP caller after a security check.
type Dispatcher struct {
	Registry *Registry
	Mediator *security.Mediator
	MCP      MCPCaller
	Cwd      string
}

// Dispatch executes one tool-use block and returns the matching tool-result
// block. Failures of any kind are expressed as error results, never as
// aborts, so the model can recover.
func (d *Dispatcher) Dispatch(ctx context.Context, policy security.Policy, call message.ContentBlock) message.ContentBlock {
	e, ok := d.Registry.get(call.Name)
	if !ok {
		return message.ToolResultBlock(call.ID, fmt.Sprintf("unknown tool %s", call.Name), true)
	}

	params, err := message.ParseToolInput(call.Input)
	if err != nil {
		return message.ToolResultBlock(call.ID, fmt.Sprintf("malformed tool input: %v", err), true)
	}

	if err := e.validateInput(params); err != nil {
		return message.ToolResultBlock(call.ID, err.Error(), true)
	}

	if !e.readOnly {
		req := security.Request{
			Tool:    call.Name,
			Command: commandFor(e, params),
			Diff:    d.diffPreview(call.Name, params),
		}
		if err := d.Mediator.AuthorizeRequest(ctx, policy, req); err != nil {
			return message.ToolResultBlock(call.ID, err.Error(), true)
		}
	}

	content, isError := d.invoke(ctx, e, params)

	log.Logger().Debug("tool dispatched",
		zap.String("tool", call.Name),
		zap.String("id", call.ID),
		zap.Bool("is_error", isError),
	)
	return message.ToolResultBlock(call.ID, content, isError)
}

// invoke runs the handler, recovering panics into error results.
func (d *Dispatcher) invoke(ctx context.Context, e *entry, params map[string]any) (content string, isError bool) {
	defer func() {
		if r := recover(); r != nil {
			content = fmt.Sprintf("tool %s panicked: %v", e.def.Name, r)
			isError = true
		}
	}()

	switch e.kind {
	case kindBuiltin:
		out, err := e.builtin.Execute(ctx, params, d.Cwd)
		if err != nil {
			return err.Error(), true
		}
		return out, false
	default:
		if d.MCP == nil {
			return fmt.Sprintf("MCP server %s is not available", e.server), true
		}
		out, isErr, err := d.MCP.Call(ctx, e.server, e.remote, params)
		if err != nil {
			return err.Error(), true
		}
		return out, isErr
	}
}

// diffPreview renders a unified diff of the pending change for the approval
// prompt. Best effort: failures just omit the preview.
func (d *Dispatcher) diffPreview(name string, params map[string]any) string {
	path, _ := params["path"].(string)
	if path == "" {
		return ""
	}
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(d.Cwd, full)
	}

	switch name {
	case "write_file":
		newContent, _ := params["content"].(string)
		old, _ := os.ReadFile(full)
		return security.UnifiedDiff(path, string(old), newContent)
	case "edit_file":
		oldText, _ := params["old_text"].(string)
		newText, _ := params["new_text"].(string)
		data, err := os.ReadFile(full)
		if err != nil || oldText == "" {
			return ""
		}
		content := string(data)
		var updated string
		if replaceAll, _ := params["replace_all"].(bool); replaceAll {
			updated = strings.ReplaceAll(content, oldText, newText)
		} else {
			updated = strings.Replace(content, oldText, newText, 1)
		}
		return security.UnifiedDiff(path, content, updated)
	default:
		return ""
	}
}

// commandFor renders the invocation as a command string for the security
// mediator: the raw command for bash, the target path for file tools, and a
// name+arguments rendering for everything else.
func commandFor(e *entry, params map[string]any) string {
	if e.kind == kindMCP {
		args, _ := json.Marshal(params)
		return fmt.Sprintf("%s %s", e.def.Name, args)
	}
	if e.def.Name == "bash" {
		if cmd, ok := params["command"].(string); ok {
			return cmd
		}
		return ""
	}
	if path, ok := params["path"].(string); ok {
		return path
	}
	return e.def.Name
}
