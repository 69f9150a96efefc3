package tool

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"time"
)

const (
	defaultBashTimeout = 120 * time.Second
	maxBashTimeout     = 600 * time.Second
)

// BashTool executes a shell command via the platform shell.
type BashTool struct{}

func (t *BashTool) Name() string { return "bash" }
func (t *BashTool) Description() string {
	return "Execute a shell command. Use for git, build tools, package managers, and other system operations."
}
func (t *BashTool) ReadOnly() bool { return false }

func (t *BashTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"command": stringProp("The shell command to execute"),
		"timeout": integerProp("Timeout in milliseconds (default: 120000, max: 600000)"),
	}, "command")
}

func (t *BashTool) Execute(ctx context.Context, params map[string]any, cwd string) (string, error) {
	command, _ := params["command"].(string)
	if command == "" {
		return "", fmt.Errorf("command is required")
	}

	timeout := defaultBashTimeout
	if ms, ok := params["timeout"].(float64); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
		if timeout > maxBashTimeout {
			timeout = maxBashTimeout
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := shellCommand(ctx, command)
	cmd.Dir = cwd

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	output := stdout.String()
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n"
		}
		output += stderr.String()
	}
	output = truncate(output)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("command timed out after %s\n%s", timeout, output)
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("exit code %d\n%s", exitErr.ExitCode(), output)
		}
		return "", fmt.Errorf("%v\n%s", err, output)
	}
	return output, nil
}

// shellCommand builds the platform shell invocation: cmd.exe /C on Windows,
// /bin/sh -c elsewhere.
func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd.exe", "/C", command)
	}
	return exec.CommandContext(ctx, "/bin/sh", "-c", command)
}
