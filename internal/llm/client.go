package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/martydill/aixplosion/internal/log"
	"github.com/martydill/aixplosion/internal/message"
)

const (
	// BatchTimeout bounds a non-streaming completion end-to-end.
	BatchTimeout = 60 * time.Second
	// StreamTimeout bounds a streaming completion end-to-end.
	StreamTimeout = 120 * time.Second

	maxRetries     = 3
	baseRetryDelay = time.Second
)

// ErrAuthentication marks 401/403 responses. These are terminal and carry
// guidance to set the credential.
var ErrAuthentication = errors.New("authentication failed: set ANTHROPIC_AUTH_TOKEN")

// Config configures the client.
type Config struct {
	APIKey  string
	BaseURL string
}

// Client speaks the LLM wire protocol in batch and streaming modes.
type Client struct {
	api anthropic.Client
}

// New creates a client for the given credentials.
func New(cfg Config) *Client {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{api: anthropic.NewClient(opts...)}
}

// Complete sends a batch completion request. The returned message's blocks
// are exactly the content blocks the server returned, in order. Transport
// errors and 5xx retry with backoff and jitter; 4xx are terminal.
func (c *Client) Complete(ctx context.Context, req Request) (message.Message, message.Usage, error) {
	ctx, cancel := context.WithTimeout(ctx, BatchTimeout)
	defer cancel()

	params, err := buildParams(req)
	if err != nil {
		return message.Message{}, message.Usage{}, err
	}

	var resp *anthropic.Message
	err = retry(ctx, func() error {
		var callErr error
		resp, callErr = c.api.Messages.New(ctx, params)
		return callErr
	})
	if err != nil {
		return message.Message{}, message.Usage{}, classify(err)
	}

	blocks := make([]message.ContentBlock, 0, len(resp.Content))
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			blocks = append(blocks, message.TextBlock(block.Text))
		case "tool_use":
			toolUse := block.AsToolUse()
			input, marshalErr := json.Marshal(toolUse.Input)
			if marshalErr != nil || len(input) == 0 || string(input) == "null" {
				input = json.RawMessage(`{}`)
			}
			blocks = append(blocks, message.ToolUseBlock(toolUse.ID, toolUse.Name, input))
		}
	}

	usage := message.Usage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}
	return message.Assistant(blocks...), usage, nil
}

// Stream sends a streaming completion request, emitting events in server
// order. The assembled assistant message rides on the final message_stop
// event. A malformed frame is logged and skipped; the stream continues.
func (c *Client) Stream(ctx context.Context, req Request) <-chan StreamEvent {
	out := make(chan StreamEvent)

	go func() {
		defer close(out)

		ctx, cancel := context.WithTimeout(ctx, StreamTimeout)
		defer cancel()

		params, err := buildParams(req)
		if err != nil {
			out <- StreamEvent{Type: EventError, Err: err}
			return
		}

		stream := c.api.Messages.NewStreaming(ctx, params)
		asm := newAssembler()
		index := -1
		var kind BlockKind

		start := time.Now()
		events := 0

		for stream.Next() {
			event := stream.Current()
			events++

			switch event.Type {
			case "message_start":
				msgStart := event.AsMessageStart()
				asm.addUsage(message.Usage{InputTokens: int(msgStart.Message.Usage.InputTokens)})

			case "content_block_start":
				blockStart := event.AsContentBlockStart()
				index = int(blockStart.Index)
				if blockStart.ContentBlock.Type == "tool_use" {
					kind = KindToolUse
					toolUse := blockStart.ContentBlock.AsToolUse()
					asm.start(index, KindToolUse, toolUse.ID, toolUse.Name)
					out <- StreamEvent{Type: EventBlockStart, Index: index, Kind: KindToolUse, ID: toolUse.ID, Name: toolUse.Name}
				} else {
					kind = KindText
					asm.start(index, KindText, "", "")
					out <- StreamEvent{Type: EventBlockStart, Index: index, Kind: KindText}
				}

			case "content_block_delta":
				delta := event.AsContentBlockDelta()
				idx := int(delta.Index)
				switch delta.Delta.Type {
				case "text_delta":
					if delta.Delta.Text != "" {
						asm.textDelta(idx, delta.Delta.Text)
						out <- StreamEvent{Type: EventTextDelta, Index: idx, Text: delta.Delta.Text}
					}
				case "input_json_delta":
					if delta.Delta.PartialJSON != "" {
						asm.inputDelta(idx, delta.Delta.PartialJSON)
						out <- StreamEvent{Type: EventInputJSONDelta, Index: idx, PartialJSON: delta.Delta.PartialJSON}
					}
				}

			case "content_block_stop":
				blockStop := event.AsContentBlockStop()
				asm.stop(int(blockStop.Index))
				out <- StreamEvent{Type: EventBlockStop, Index: int(blockStop.Index), Kind: kind}
				index = -1

			case "message_delta":
				msgDelta := event.AsMessageDelta()
				asm.addUsage(message.Usage{OutputTokens: int(msgDelta.Usage.OutputTokens)})

			case "message_stop":
				// handled after the loop alongside stream.Err()

			default:
				// Unknown frame kinds are logged and skipped; the stream
				// continues.
				log.Logger().Debug("skipping unknown stream event", zap.String("type", string(event.Type)))
			}
		}

		if err := stream.Err(); err != nil {
			out <- StreamEvent{Type: EventError, Err: classify(err)}
			return
		}

		log.Logger().Debug("stream complete",
			zap.Duration("duration", time.Since(start)),
			zap.Int("events", events),
		)

		final := asm.result()
		out <- StreamEvent{Type: EventMessageStop, Message: &final, Usage: asm.usage}
	}()

	return out
}

// buildParams translates a Request into wire parameters.
func buildParams(req Request) (anthropic.MessageNewParams, error) {
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if msg.Role == message.RoleSystem {
			// System prompts are a conversation attribute, never a message.
			continue
		}

		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Blocks))
		for _, b := range msg.Blocks {
			switch b.Type {
			case message.BlockText:
				if b.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(b.Text))
				}
			case message.BlockToolUse:
				var input any
				if err := json.Unmarshal(b.Input, &input); err != nil {
					input = string(b.Input)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(b.ID, input, b.Name))
			case message.BlockToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))
			}
		}
		if len(blocks) == 0 {
			blocks = append(blocks, anthropic.NewTextBlock(""))
		}

		if msg.Role == message.RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(blocks...))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(blocks...))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  msgs,
		MaxTokens: int64(req.MaxTokens),
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			schemaJSON, err := json.Marshal(t.InputSchema)
			if err != nil {
				return params, fmt.Errorf("invalid schema for tool %s: %w", t.Name, err)
			}
			var schema anthropic.ToolInputSchemaParam
			if err := json.Unmarshal(schemaJSON, &schema); err != nil {
				return params, fmt.Errorf("invalid schema for tool %s: %w", t.Name, err)
			}
			param := anthropic.ToolUnionParamOfTool(schema, t.Name)
			if param.OfTool != nil {
				param.OfTool.Description = anthropic.String(t.Description)
			}
			tools = append(tools, param)
		}
		params.Tools = tools
	}

	return params, nil
}

// retry runs fn up to maxRetries times with exponential backoff and jitter.
// Authentication and other 4xx errors are surfaced immediately.
func retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		if attempt == maxRetries-1 {
			break
		}

		backoff := baseRetryDelay * time.Duration(math.Pow(2, float64(attempt)))
		backoff += time.Duration(rand.Int63n(int64(backoff / 2)))
		log.Logger().Debug("retrying LLM request",
			zap.Int("attempt", attempt+1), zap.Duration("backoff", backoff), zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}

// isRetryable classifies connection errors and 5xx as retryable. 4xx,
// including auth errors, are terminal.
func isRetryable(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Anything that never reached the server (connection reset, refused,
	// DNS) is worth retrying.
	return true
}

// classify maps API errors onto the core error taxonomy.
func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 401 || apiErr.StatusCode == 403 {
			return fmt.Errorf("%w: %v", ErrAuthentication, err)
		}
	}
	return err
}
