package main

import (
	"bufio"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/martydill/aixplosion/internal/agent"
	"github.com/martydill/aixplosion/internal/llm"
	"github.com/martydill/aixplosion/internal/mcp"
	"github.com/martydill/aixplosion/internal/security"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{errors.New("boom"), exitGeneric},
		{&agent.Error{Kind: agent.KindConfig, Err: errors.New("bad flag")}, exitUsage},
		{&agent.Error{Kind: agent.KindAuth, Err: errors.New("401")}, exitAuth},
		{&agent.Error{Kind: agent.KindTransport, Err: errors.New("conn reset")}, exitNetwork},
		{&agent.Error{Kind: agent.KindCapacity, Err: errors.New("cap")}, exitLimit},
		{llm.ErrAuthentication, exitAuth},
	}
	for _, tt := range tests {
		if got := exitCodeFor(tt.err); got != tt.code {
			t.Errorf("exitCodeFor(%v) = %d, want %d", tt.err, got, tt.code)
		}
	}
}

func TestTransportFor(t *testing.T) {
	if transportFor("ws://localhost:9000") != mcp.TransportWS {
		t.Error("ws URL should use ws transport")
	}
	if transportFor("wss://tools.example.com") != mcp.TransportWS {
		t.Error("wss URL should use ws transport")
	}
	if transportFor("mcp-files") != mcp.TransportStdio {
		t.Error("command should use stdio transport")
	}
}

func TestPrependFileFlags(t *testing.T) {
	flags.files = []string{"a.go", "b.go"}
	defer func() { flags.files = nil }()

	got := prependFileFlags("explain")
	if got != "@a.go @b.go explain" {
		t.Errorf("got %q", got)
	}
}

func TestTerminalPrompterChoices(t *testing.T) {
	tests := []struct {
		input string
		want  security.Choice
	}{
		{"y\n", security.ChoiceAllowOnce},
		{"a\n", security.ChoiceAllowRemember},
		{"w\n", security.ChoiceAllowWildcard},
		{"n\n", security.ChoiceDeny},
		{"whatever\n", security.ChoiceDeny},
	}

	for _, tt := range tests {
		p := &terminalPrompter{
			in:  bufio.NewReader(strings.NewReader(tt.input)),
			out: &strings.Builder{},
		}
		choice, err := p.Ask(context.Background(), security.Request{Tool: "bash", Command: "git status"})
		if err != nil {
			t.Fatalf("Ask(%q): %v", tt.input, err)
		}
		if choice != tt.want {
			t.Errorf("Ask(%q) = %v, want %v", tt.input, choice, tt.want)
		}
	}
}

func TestTerminalPrompterTimeout(t *testing.T) {
	// A reader that never produces a line forces the timeout path.
	blocked, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	pr, _ := neverReader()
	p := &terminalPrompter{in: pr, out: &strings.Builder{}}

	choice, err := p.Ask(blocked, security.Request{Tool: "bash", Command: "ls"})
	if err != nil {
		t.Fatal(err)
	}
	if choice != security.ChoiceDeny {
		t.Errorf("timeout choice = %v, want deny", choice)
	}
}

// neverReader returns a reader whose Read blocks forever.
func neverReader() (*bufio.Reader, chan struct{}) {
	ch := make(chan struct{})
	return bufio.NewReader(blockingReader{ch}), ch
}

type blockingReader struct{ ch chan struct{} }

func (b blockingReader) Read(_ []byte) (int, error) {
	<-b.ch
	return 0, nil
}
