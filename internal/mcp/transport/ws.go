package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/martydill/aixplosion/internal/log"

	"go.uber.org/zap"
)

// WSConfig configures a WebSocket transport.
type WSConfig struct {
	URL string
}

// WS speaks JSON-RPC over a WebSocket connection. It is structurally
// identical to the stdio transport: frame boundaries substitute for newlines.
type WS struct {
	config WSConfig
	conn   *websocket.Conn

	mu            sync.Mutex
	pending       map[uint64]chan *JSONRPCResponse
	alive         bool
	notifyHandler NotificationHandler
	onBroken      func()
	readLoopDone  chan struct{}
}

// NewWS creates a WebSocket transport for the given URL.
func NewWS(config WSConfig) *WS {
	return &WS{
		config:       config,
		pending:      make(map[uint64]chan *JSONRPCResponse),
		readLoopDone: make(chan struct{}),
	}
}

// Start dials the server and begins the reader task.
func (t *WS) Start(ctx context.Context) error {
	origin := originFor(t.config.URL)
	conn, err := websocket.Dial(t.config.URL, "", origin)
	if err != nil {
		return fmt.Errorf("failed to dial tool server: %w", err)
	}
	t.conn = conn

	t.mu.Lock()
	t.alive = true
	t.mu.Unlock()

	go t.readLoop()
	return nil
}

// originFor derives an http(s) origin from a ws(s) URL, as required by the
// websocket handshake.
func originFor(url string) string {
	switch {
	case strings.HasPrefix(url, "wss://"):
		return "https://" + strings.TrimPrefix(url, "wss://")
	case strings.HasPrefix(url, "ws://"):
		return "http://" + strings.TrimPrefix(url, "ws://")
	default:
		return url
	}
}

// readLoop receives frames forever, routing responses by id.
func (t *WS) readLoop() {
	defer close(t.readLoopDone)

	for {
		var frame []byte
		if err := websocket.Message.Receive(t.conn, &frame); err != nil {
			break
		}
		if len(frame) == 0 {
			continue
		}

		var resp JSONRPCResponse
		if err := json.Unmarshal(frame, &resp); err != nil {
			if !parseAndDispatchNotification(frame, t.handler()) {
				log.Logger().Warn("skipping malformed tool server frame", zap.Error(err))
			}
			continue
		}

		if resp.ID == 0 && resp.Result == nil && resp.Error == nil {
			parseAndDispatchNotification(frame, t.handler())
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

func (t *WS) markBroken() {
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

func (t *WS) handler() NotificationHandler {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.notifyHandler
}

func (t *WS) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	t.mu.Lock()
	err = websocket.Message.Send(t.conn, string(data))
	t.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}
	return nil
}

// Send registers a waiter, sends the request frame, and waits for the
// correlated response or the context deadline.
func (t *WS) Send(ctx context.Context, req *JSONRPCRequest) (*JSONRPCResponse, error) {
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

// SendNotification sends a notification frame.
func (t *WS) SendNotification(ctx context.Context, notif *JSONRPCNotification) error {
	if !t.IsAlive() {
		return fmt.Errorf("transport is not connected")
	}
	return t.writeJSON(notif)
}

// Close shuts the connection down.
func (t *WS) Close() error {
	t.mu.Lock()
	t.alive = false
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	select {
	case <-t.readLoopDone:
	default:
	}
	return nil
}

// IsAlive reports whether the connection is usable.
func (t *WS) IsAlive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.alive
}

// SetNotificationHandler installs the notification handler.
func (t *WS) SetNotificationHandler(handler NotificationHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notifyHandler = handler
}

// SetOnBroken installs the broken-connection callback.
func (t *WS) SetOnBroken(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onBroken = fn
}
