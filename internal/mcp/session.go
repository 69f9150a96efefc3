package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/martydill/aixplosion/internal/log"
	"github.com/martydill/aixplosion/internal/mcp/transport"
)

const (
	// InitTimeout bounds the initialize handshake.
	InitTimeout = 30 * time.Second
	// CallTimeout bounds a single tools/call round trip.
	CallTimeout = 30 * time.Second
)

var requestIDCounter uint64

func nextRequestID() uint64 {
	return atomic.AddUint64(&requestIDCounter, 1)
}

// Session is one live connection to a tool server. Sessions are created on
// explicit connect and never reconnect automatically: a broken session stays
// broken until the user reconnects, so configuration errors are never masked.
type Session struct {
	config    ServerConfig
	transport transport.Transport

	mu    sync.RWMutex
	state State
	tools []Tool
	info  ServerInfo

	onToolsChanged func(*Session)
}

// NewSession creates a disconnected session for the given config.
func NewSession(config ServerConfig) *Session {
	return &Session{config: config, state: StateDisconnected}
}

// Name returns the server name.
func (s *Session) Name() string { return s.config.Name }

// Config returns the server configuration.
func (s *Session) Config() ServerConfig { return s.config }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Tools returns the discovered tool list.
func (s *Session) Tools() []Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tools
}

// ServerInfo returns the connected server's identity.
func (s *Session) ServerInfo() ServerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// SetOnToolsChanged installs a callback invoked when the server's tool list
// changes (initial discovery and list_changed notifications).
func (s *Session) SetOnToolsChanged(fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onToolsChanged = fn
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func newRequest(method string, params any) *transport.JSONRPCRequest {
	return &transport.JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      nextRequestID(),
		Method:  method,
		Params:  params,
	}
}

// Connect runs the connect protocol: spawn/dial the transport, initialize
// within InitTimeout, then discover tools. Tool entries that fail to parse
// degrade to fallback tools; discovery problems never fail the connect.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateReady || s.state == StateStarting {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStarting
	s.mu.Unlock()

	trans, err := s.newTransport()
	if err != nil {
		s.setState(StateDisconnected)
		return err
	}

	if err := trans.Start(ctx); err != nil {
		s.setState(StateDisconnected)
		return err
	}

	trans.SetNotificationHandler(s.handleNotification)
	trans.SetOnBroken(s.markBroken)

	s.mu.Lock()
	s.transport = trans
	s.mu.Unlock()

	initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()

	req := newRequest(MethodInitialize, InitializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      ClientInfo{Name: ClientName, Version: ClientVersion},
	})
	resp, err := trans.Send(initCtx, req)
	if err != nil {
		trans.Close()
		s.setState(StateDisconnected)
		return fmt.Errorf("initialize failed for server %q: %w", s.config.Name, err)
	}
	if resp.Error != nil {
		trans.Close()
		s.setState(StateDisconnected)
		return fmt.Errorf("initialize failed for server %q: %d %s", s.config.Name, resp.Error.Code, resp.Error.Message)
	}

	var initResult InitializeResult
	if err := json.Unmarshal(resp.Result, &initResult); err != nil {
		log.Logger().Warn("unparseable initialize result", zap.String("server", s.config.Name), zap.Error(err))
	}

	trans.SendNotification(ctx, &transport.JSONRPCNotification{
		JSONRPC: "2.0",
		Method:  MethodInitialized,
	})

	tools := s.discoverTools(ctx)

	s.mu.Lock()
	s.info = initResult.ServerInfo
	s.tools = tools
	s.state = StateReady
	onChanged := s.onToolsChanged
	s.mu.Unlock()

	if onChanged != nil {
		onChanged(s)
	}
	return nil
}

func (s *Session) newTransport() (transport.Transport, error) {
	switch s.config.Transport {
	case TransportWS:
		return transport.NewWS(transport.WSConfig{URL: s.config.URL}), nil
	case TransportStdio, "":
		return transport.NewStdio(transport.StdioConfig{
			Command: s.config.Command,
			Args:    s.config.Args,
			Env:     s.config.Env,
		}), nil
	default:
		return nil, fmt.Errorf("unknown transport: %s", s.config.Transport)
	}
}

// discoverTools runs tools/list. Individual entries that fail to parse are
// replaced by fallback tools carrying just the name with the default schema;
// discovery never fails the whole connect.
func (s *Session) discoverTools(ctx context.Context) []Tool {
	listCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()

	resp, err := s.transport.Send(listCtx, newRequest(MethodToolsList, nil))
	if err != nil || resp.Error != nil {
		log.Logger().Warn("tools/list failed", zap.String("server", s.config.Name))
		return nil
	}

	var result ToolsListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		log.Logger().Warn("unparseable tools/list result", zap.String("server", s.config.Name), zap.Error(err))
		return nil
	}

	tools := make([]Tool, 0, len(result.Tools))
	for _, raw := range result.Tools {
		var t Tool
		if err := json.Unmarshal(raw, &t); err != nil || t.Name == "" {
			// Fallback: salvage just the name if present, so one bad entry
			// never hides the rest.
			var partial struct {
				Name string `json:"name"`
			}
			if json.Unmarshal(raw, &partial) == nil && partial.Name != "" {
				log.Logger().Warn("tool entry parse failed, using fallback",
					zap.String("server", s.config.Name), zap.String("tool", partial.Name))
				tools = append(tools, Tool{Name: partial.Name})
			} else {
				log.Logger().Warn("skipping unparseable tool entry", zap.String("server", s.config.Name))
			}
			continue
		}
		tools = append(tools, t)
	}
	return tools
}

// Call invokes a tool on the server. The flattened text content and the
// server's error flag are returned; call-level failures come back as errors.
func (s *Session) Call(ctx context.Context, name string, arguments map[string]any) (string, bool, error) {
	s.mu.RLock()
	state := s.state
	trans := s.transport
	s.mu.RUnlock()

	if state == StateBroken {
		return "", false, fmt.Errorf("server %q connection broken", s.config.Name)
	}
	if state != StateReady || trans == nil {
		return "", false, fmt.Errorf("server %q is not connected", s.config.Name)
	}
	if !trans.IsAlive() {
		s.markBroken()
		return "", false, fmt.Errorf("server %q has terminated", s.config.Name)
	}

	callCtx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	start := time.Now()
	resp, err := trans.Send(callCtx, newRequest(MethodToolsCall, ToolsCallParams{
		Name:      name,
		Arguments: arguments,
	}))
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return "", false, fmt.Errorf("server %q timed out after %s", s.config.Name, time.Since(start).Round(time.Second))
		}
		return "", false, err
	}
	if resp.Error != nil {
		return "", false, fmt.Errorf("server %q error %d: %s", s.config.Name, resp.Error.Code, resp.Error.Message)
	}

	var result CallResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", false, fmt.Errorf("unparseable tools/call result from %q: %w", s.config.Name, err)
	}
	return result.Text(), result.IsError, nil
}

// Disconnect closes the transport and returns the session to Disconnected.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	trans := s.transport
	s.transport = nil
	s.state = StateDisconnected
	s.tools = nil
	s.mu.Unlock()

	if trans != nil {
		return trans.Close()
	}
	return nil
}

// markBroken transitions the session to Broken. Reconnect is always explicit.
func (s *Session) markBroken() {
	s.mu.Lock()
	if s.state == StateBroken || s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.state = StateBroken
	onChanged := s.onToolsChanged
	s.mu.Unlock()

	log.Logger().Warn("tool server connection broken", zap.String("server", s.config.Name))
	if onChanged != nil {
		onChanged(s)
	}
}

// handleNotification reacts to server-initiated notifications: a tool-list
// change triggers a refresh.
func (s *Session) handleNotification(method string, _ []byte) {
	if method != MethodToolsListChanged {
		return
	}

	tools := s.discoverTools(context.Background())

	s.mu.Lock()
	s.tools = tools
	onChanged := s.onToolsChanged
	s.mu.Unlock()

	if onChanged != nil {
		onChanged(s)
	}
}
