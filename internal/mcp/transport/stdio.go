package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/martydill/aixplosion/internal/log"
)

// StdioConfig configures a stdio transport: the command to spawn and its
// arguments and environment additions.
type StdioConfig struct {
	Command string
	Args    []string
	Env     map[string]string
}

// Stdio speaks line-delimited JSON-RPC with a child process over its
// stdin/stdout. The pending map is the single source of truth for request
// correlation: it pairs each request id with a one-shot response channel.
type Stdio struct {
	config StdioConfig
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	mu            sync.Mutex
	pending       map[uint64]chan *JSONRPCResponse
	alive         bool
	notifyHandler NotificationHandler
	onBroken      func()
	readLoopDone  chan struct{}
}

// NewStdio creates a stdio transport for the given command.
func NewStdio(config StdioConfig) *Stdio {
	return &Stdio{
		config:       config,
		pending:      make(map[uint64]chan *JSONRPCResponse),
		readLoopDone: make(chan struct{}),
	}
}

// Start spawns the child process, piping stdin/stdout and inheriting stderr,
// and begins the reader task.
func (t *Stdio) Start(ctx context.Context) error {
	// The child outlives the connect context; Close handles termination.
	t.cmd = exec.Command(t.config.Command, t.config.Args...)
	t.cmd.Env = mergedEnv(t.config.Env)
	t.cmd.Stderr = os.Stderr

	var err error
	t.stdin, err = t.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	t.stdout, err = t.cmd.StdoutPipe()
	if err != nil {
		t.stdin.Close()
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	if err := t.cmd.Start(); err != nil {
		t.stdin.Close()
		t.stdout.Close()
		return fmt.Errorf("failed to start tool server: %w", err)
	}

	t.mu.Lock()
	t.alive = true
	t.mu.Unlock()

	go t.readLoop()
	return nil
}

// mergedEnv overlays config entries onto the current process environment.
func mergedEnv(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// readLoop reads lines forever, routing responses by id and notifications to
// the handler. A malformed line is logged and skipped; the stream continues.
func (t *Stdio) readLoop() {
	defer close(t.readLoopDone)

	scanner := bufio.NewScanner(t.stdout)
	// Allow for large messages (up to 10MB).
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp JSONRPCResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			if !parseAndDispatchNotification(line, t.handler()) {
				log.Logger().Warn("skipping malformed tool server frame", zap.Error(err))
			}
			continue
		}

		// A frame with no id and no result/error is a notification.
		if resp.ID == 0 && resp.Result == nil && resp.Error == nil {
			parseAndDispatchNotification(line, t.handler())
			continue
		}

		t.mu.Lock()
		ch, ok := t.pending[resp.ID]
		if ok {
			delete(t.pending, resp.ID)
		}
		t.mu.Unlock()

		if ok {
			ch <- &resp
		}
	}

	t.markBroken()
}

// markBroken transitions to not-alive, failing all pending waiters exactly
// once.
func (t *Stdio) markBroken() {
	t.mu.Lock()
	wasAlive := t.alive
	t.alive = false
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
	onBroken := t.onBroken
	t.mu.Unlock()

	if wasAlive && onBroken != nil {
		onBroken()
	}
}

func (t *Stdio) handler() NotificationHandler {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.notifyHandler
}

// writeJSON marshals and writes one newline-terminated JSON line to stdin.
func (t *Stdio) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	t.mu.Lock()
	_, err = t.stdin.Write(append(data, '\n'))
	t.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to write: %w", err)
	}
	return nil
}

// Send registers a waiter, writes the request, and waits for the correlated
// response or the context deadline. The pending entry is removed on exit so
// a timed-out waiter can never receive a late result.
func (t *Stdio) Send(ctx context.Context, req *JSONRPCRequest) (*JSONRPCResponse, error) {
	if !t.IsAlive() {
		return nil, fmt.Errorf("transport is not connected")
	}

	respCh := make(chan *JSONRPCResponse, 1)

	t.mu.Lock()
	t.pending[req.ID] = respCh
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, req.ID)
		t.mu.Unlock()
	}()

	if err := t.writeJSON(req); err != nil {
		return nil, err
	}

	select {
	case resp, ok := <-respCh:
		if !ok || resp == nil {
			return nil, fmt.Errorf("server connection broken")
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendNotification writes a notification line; no response is expected.
func (t *Stdio) SendNotification(ctx context.Context, notif *JSONRPCNotification) error {
	if !t.IsAlive() {
		return fmt.Errorf("transport is not connected")
	}
	return t.writeJSON(notif)
}

// Close terminates the child process and cleans up.
func (t *Stdio) Close() error {
	t.mu.Lock()
	t.alive = false
	t.mu.Unlock()

	if t.stdin != nil {
		t.stdin.Close()
	}

	select {
	case <-t.readLoopDone:
	case <-time.After(2 * time.Second):
	}

	if t.cmd != nil && t.cmd.Process != nil {
		done := make(chan error, 1)
		go func() {
			done <- t.cmd.Wait()
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.cmd.Process.Kill()
			<-done
		}
	}
	return nil
}

// IsAlive reports whether the child process is still reachable.
func (t *Stdio) IsAlive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.alive {
		return false
	}
	// ProcessState is only set once Close has waited on the child; an exit
	// before that is detected when the read loop hits EOF and marks the
	// transport broken.
	if t.cmd != nil && t.cmd.ProcessState != nil {
		return false
	}
	return true
}

// SetNotificationHandler installs the notification handler.
func (t *Stdio) SetNotificationHandler(handler NotificationHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notifyHandler = handler
}

// SetOnBroken installs the broken-connection callback.
func (t *Stdio) SetOnBroken(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onBroken = fn
}
