// Command aixplosion is a terminal-first coding assistant that mediates
// between a developer and an LLM API capable of tool use.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/martydill/aixplosion/internal/agent"
	"github.com/martydill/aixplosion/internal/config"
	"github.com/martydill/aixplosion/internal/llm"
	"github.com/martydill/aixplosion/internal/log"
	"github.com/martydill/aixplosion/internal/mcp"
	"github.com/martydill/aixplosion/internal/security"
	"github.com/martydill/aixplosion/internal/store"
	"github.com/martydill/aixplosion/internal/tool"
)

var version = "0.1.0"

// Exit codes.
const (
	exitOK      = 0
	exitGeneric = 1
	exitUsage   = 2
	exitAuth    = 3
	exitNetwork = 4
	exitLimit   = 5
)

var flags struct {
	message        string
	apiKey         string
	model          string
	configPath     string
	nonInteractive bool
	files          []string
	system         string
	stream         bool
	yolo           bool
}

func main() {
	_ = godotenv.Load()
	_ = log.Init()
	defer log.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:           "aixplosion [message]",
	Short:         "AI coding assistant for the terminal",
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(args)
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&flags.message, "message", "m", "", "single-shot message")
	f.StringVarP(&flags.apiKey, "api-key", "k", "", "override credential (never persisted)")
	f.StringVarP(&flags.model, "model", "M", "", "override model")
	f.StringVarP(&flags.configPath, "config", "c", "", "alternate config path")
	f.BoolVarP(&flags.nonInteractive, "non-interactive", "n", false, "read stdin until EOF as input")
	f.StringArrayVarP(&flags.files, "file", "f", nil, "add context file (repeatable)")
	f.StringVarP(&flags.system, "system", "s", "", "set system prompt")
	f.BoolVar(&flags.stream, "stream", false, "enable streaming")
	f.BoolVar(&flags.yolo, "yolo", false, "disable security prompts")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("aixplosion version %s\n", version)
		},
	})
}

// app bundles everything a session needs.
type app struct {
	cfg      *config.Config
	store    *store.Store
	loop     *agent.Loop
	mcp      *mcp.Manager
	registry *tool.Registry
	mediator *security.Mediator
	input    *bufio.Reader
}

func run(args []string) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return &agent.Error{Kind: agent.KindConfig, Err: err}
	}
	if flags.apiKey != "" {
		cfg.APIKey = flags.apiKey
	}
	if flags.model != "" {
		cfg.DefaultModel = flags.model
	}
	if err := cfg.Validate(); err != nil {
		return &agent.Error{Kind: agent.KindConfig, Err: err}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	st, err := store.Open(cwd)
	if err != nil {
		return &agent.Error{Kind: agent.KindStore, Err: err}
	}
	defer st.Close()

	interactive := isatty.IsTerminal(os.Stdin.Fd()) && !flags.nonInteractive

	input := bufio.NewReader(os.Stdin)
	registry := tool.NewDefaultRegistry()
	mediator := &security.Mediator{Rules: st}
	if interactive {
		mediator.Prompter = &terminalPrompter{in: input, out: os.Stdout}
	}

	manager := mcp.NewManager(registry)
	manager.SetConfigs(mcpConfigs(st))
	defer manager.DisconnectAll()

	a := &app{
		cfg:      cfg,
		store:    st,
		mcp:      manager,
		registry: registry,
		mediator: mediator,
		input:    input,
		loop: &agent.Loop{
			Store: st,
			LLM:   llm.New(llm.Config{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL}),
			Dispatcher: &tool.Dispatcher{
				Registry: registry,
				Mediator: mediator,
				MCP:      manager,
				Cwd:      cwd,
			},
			Config: cfg,
			Policy: security.Policy{Yolo: flags.yolo, Interactive: interactive},
			Cwd:    cwd,
		},
	}

	message := gatherMessage(args)
	if message != "" {
		return a.runOnce(context.Background(), message)
	}
	if !interactive {
		return &agent.Error{Kind: agent.KindGeneric,
			Err: errors.New("no input: pass a message or pipe one on stdin")}
	}
	return a.runREPL(context.Background())
}

// gatherMessage resolves the one-shot input from the -m flag, positional
// args, or piped stdin.
func gatherMessage(args []string) string {
	if flags.message != "" {
		return flags.message
	}
	if len(args) > 0 {
		return strings.Join(args, " ")
	}

	stat, _ := os.Stdin.Stat()
	piped := (stat.Mode() & os.ModeCharDevice) == 0
	if flags.nonInteractive || piped {
		data, err := io.ReadAll(os.Stdin)
		if err == nil && len(data) > 0 {
			return strings.TrimSpace(string(data))
		}
	}
	return ""
}

// runOnce runs a single turn in a fresh conversation and prints the answer.
func (a *app) runOnce(ctx context.Context, input string) error {
	conv, err := a.store.CreateConversation(a.cfg.DefaultModel, flags.system, "")
	if err != nil {
		return &agent.Error{Kind: agent.KindStore, Err: err}
	}

	input = prependFileFlags(input)

	if flags.stream {
		var streamErr error
		for ev := range a.loop.AdvanceStream(ctx, conv.ID, input) {
			switch ev.Type {
			case agent.EventText:
				fmt.Print(ev.Delta)
			case agent.EventToolCall:
				fmt.Fprintf(os.Stderr, "\n[tool] %s\n", ev.Name)
			case agent.EventFinal:
				fmt.Println()
			case agent.EventError:
				streamErr = ev.Err
			}
		}
		return streamErr
	}

	final, err := a.loop.Advance(ctx, conv.ID, input)
	if err != nil {
		return err
	}
	fmt.Println(final)
	return nil
}

// prependFileFlags turns -f flags into @path references so the loop's
// context-file expansion picks them up.
func prependFileFlags(input string) string {
	if len(flags.files) == 0 {
		return input
	}
	refs := make([]string, 0, len(flags.files))
	for _, f := range flags.files {
		refs = append(refs, "@"+f)
	}
	return strings.Join(refs, " ") + " " + input
}

// mcpConfigs loads persisted server definitions.
func mcpConfigs(st *store.Store) []mcp.ServerConfig {
	records, err := st.MCPServers()
	if err != nil {
		return nil
	}
	configs := make([]mcp.ServerConfig, 0, len(records))
	for _, r := range records {
		configs = append(configs, mcp.ServerConfig{
			Name:      r.Name,
			Transport: r.Transport,
			Command:   r.Command,
			Args:      r.Args,
			URL:       r.URL,
			Env:       r.Env,
			Enabled:   r.Enabled,
		})
	}
	return configs
}

// exitCodeFor maps the error taxonomy onto process exit codes.
func exitCodeFor(err error) int {
	switch agent.Classify(err) {
	case agent.KindConfig:
		return exitUsage
	case agent.KindAuth:
		return exitAuth
	case agent.KindTransport:
		return exitNetwork
	case agent.KindCapacity:
		return exitLimit
	default:
		return exitGeneric
	}
}
