package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/martydill/aixplosion/internal/agent"
	"github.com/martydill/aixplosion/internal/mcp"
	"github.com/martydill/aixplosion/internal/store"
	"github.com/martydill/aixplosion/internal/subagent"
)

// runREPL drives the interactive session: read a line, handle slash commands
// and shell escapes, otherwise advance the conversation.
func (a *app) runREPL(ctx context.Context) error {
	conv, err := a.store.CreateConversation(a.cfg.DefaultModel, flags.system, "")
	if err != nil {
		return &agent.Error{Kind: agent.KindStore, Err: err}
	}

	fmt.Printf("aixplosion %s (model %s). Type /help for commands.\n", version, a.cfg.DefaultModel)

	for {
		fmt.Print("> ")
		line, err := a.input.ReadString('\n')
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case line == "/exit" || line == "/quit":
			return nil
		case strings.HasPrefix(line, "/"):
			conv = a.handleCommand(ctx, conv, line)
		case strings.HasPrefix(line, "!"):
			// Raw shell escape, bypassing the mediator by explicit user
			// action.
			runShell(strings.TrimPrefix(line, "!"))
		default:
			a.advance(ctx, conv, line)
		}
	}
}

// advance runs one turn and prints the output.
func (a *app) advance(ctx context.Context, conv *store.Conversation, input string) {
	if flags.stream {
		for ev := range a.loop.AdvanceStream(ctx, conv.ID, input) {
			switch ev.Type {
			case agent.EventText:
				fmt.Print(ev.Delta)
			case agent.EventToolCall:
				fmt.Printf("\n[tool] %s\n", ev.Name)
			case agent.EventToolResult:
				if ev.IsError {
					fmt.Printf("[tool error] %s\n", firstLine(ev.Content))
				}
			case agent.EventFinal:
				fmt.Println()
			case agent.EventError:
				fmt.Fprintf(os.Stderr, "Error: %v\n", ev.Err)
			}
		}
		return
	}

	final, err := a.loop.Advance(ctx, conv.ID, input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	fmt.Println(final)
}

// handleCommand dispatches one slash command. It returns the (possibly
// replaced) active conversation.
func (a *app) handleCommand(ctx context.Context, conv *store.Conversation, line string) *store.Conversation {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/help":
		printREPLHelp()

	case "/stats", "/usage":
		c, err := a.store.GetConversation(conv.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			break
		}
		msgs, _ := a.store.Messages(conv.ID)
		fmt.Printf("model: %s\nmessages: %d\ntokens in/out: %d/%d\n",
			c.Model, len(msgs), c.UsageIn, c.UsageOut)

	case "/reset-stats":
		// Usage totals restart with a fresh conversation record.
		if fresh, err := a.store.CreateConversation(conv.Model, conv.SystemPrompt, conv.SubAgent); err == nil {
			fmt.Println("stats reset (new conversation)")
			return fresh
		}

	case "/context":
		paths, _ := a.store.ContextFiles(conv.ID)
		if len(paths) == 0 {
			fmt.Println("no context files")
			break
		}
		for _, p := range paths {
			fmt.Println(p)
		}

	case "/clear":
		if err := a.store.ClearMessages(conv.ID); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		} else {
			fmt.Println("conversation cleared")
		}

	case "/resume":
		convs, err := a.store.ListConversations()
		if err != nil || len(convs) == 0 {
			fmt.Println("no conversations to resume")
			break
		}
		if len(args) > 0 {
			for _, c := range convs {
				if strings.HasPrefix(c.ID, args[0]) {
					fmt.Printf("resumed %s\n", c.ID)
					return c
				}
			}
			fmt.Println("no conversation matches", args[0])
			break
		}
		for _, c := range convs {
			fmt.Printf("%s  %s  (%d/%d tokens)\n", c.ID[:8], c.UpdatedAt.Format("2006-01-02 15:04"), c.UsageIn, c.UsageOut)
		}

	case "/search":
		if len(args) == 0 {
			fmt.Println("usage: /search <query>")
			break
		}
		hits, err := a.store.SearchMessages(strings.Join(args, " "))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			break
		}
		for _, h := range hits {
			fmt.Printf("%s: %s\n", h.ConversationID[:8], h.Snippet)
		}
		if len(hits) == 0 {
			fmt.Println("no matches")
		}

	case "/plan":
		plans, _ := a.store.ListPlans()
		for _, p := range plans {
			fmt.Printf("%s  %s\n", p.ID[:8], p.Title)
		}
		if len(plans) == 0 {
			fmt.Println("no plans")
		}

	case "/agent":
		a.handleAgent(conv, args)

	case "/permissions":
		a.handlePermissions(args)

	case "/mcp":
		a.handleMCP(ctx, args)

	default:
		fmt.Printf("unknown command %s (try /help)\n", cmd)
	}
	return conv
}

// handleAgent shows or switches the active sub-agent profile.
func (a *app) handleAgent(conv *store.Conversation, args []string) {
	if len(args) == 0 {
		agents, _ := a.store.ListAgents()
		if conv.SubAgent != "" {
			fmt.Printf("active: %s\n", conv.SubAgent)
		}
		for _, rec := range agents {
			fmt.Printf("%s (model=%s)\n", rec.Name, rec.Model)
		}
		if len(agents) == 0 {
			fmt.Println("no sub-agent profiles")
		}
		return
	}

	name := args[0]
	if name == "none" {
		conv.SubAgent = ""
	} else {
		if _, err := a.store.GetAgent(name); err != nil {
			// Fall back to YAML profile files.
			if p := a.findProfileFile(name); p != nil {
				a.store.SaveAgent(p.ToRecord())
			} else {
				fmt.Printf("unknown sub-agent %q\n", name)
				return
			}
		}
		conv.SubAgent = name
	}
	// Profile switches apply between turns only.
	if err := a.store.UpdateConversation(conv.ID, conv.Model, conv.SystemPrompt, conv.SubAgent); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	fmt.Printf("sub-agent set to %q\n", conv.SubAgent)
}

// findProfileFile looks for a YAML profile in the project and user dirs.
func (a *app) findProfileFile(name string) *subagent.Profile {
	dirs := []string{".aixplosion/agents"}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, home+"/.config/aixplosion/agents")
	}
	for _, dir := range dirs {
		profiles, _ := subagent.LoadDir(dir)
		for _, p := range profiles {
			if p.Name == name {
				return p
			}
		}
	}
	return nil
}

// handlePermissions lists and edits persisted rules.
func (a *app) handlePermissions(args []string) {
	if len(args) == 0 || args[0] == "list" {
		rules, _ := a.store.PermissionRules()
		for _, r := range rules {
			fmt.Printf("%-5s  %s\n", r.Decision, r.Pattern)
		}
		if len(rules) == 0 {
			fmt.Println("no rules")
		}
		return
	}

	if len(args) < 2 {
		fmt.Println("usage: /permissions [list|allow <pattern>|deny <pattern>|remove <pattern>]")
		return
	}
	pattern := strings.Join(args[1:], " ")

	var err error
	switch args[0] {
	case "allow":
		err = a.store.AddPermissionRule(store.PermissionRule{Pattern: pattern, Decision: store.DecisionAllow})
	case "deny":
		err = a.store.AddPermissionRule(store.PermissionRule{Pattern: pattern, Decision: store.DecisionDeny})
	case "remove":
		err = a.store.RemovePermissionRule(pattern)
	default:
		fmt.Printf("unknown subcommand %q\n", args[0])
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
}

// handleMCP manages tool server definitions and connections.
func (a *app) handleMCP(ctx context.Context, args []string) {
	sub := "list"
	if len(args) > 0 {
		sub = args[0]
	}

	switch sub {
	case "list":
		statuses := a.mcp.List()
		for _, s := range statuses {
			enabled := "enabled"
			if !s.Enabled {
				enabled = "disabled"
			}
			fmt.Printf("%-16s %-12s %s (%d tools)\n", s.Name, s.State, enabled, s.Tools)
		}
		if len(statuses) == 0 {
			fmt.Println("no servers configured")
		}

	case "add":
		// /mcp add <name> <command> [args...]
		if len(args) < 3 {
			fmt.Println("usage: /mcp add <name> <command> [args...]")
			return
		}
		rec := store.MCPServerRecord{
			Name:      args[1],
			Transport: transportFor(args[2]),
			Enabled:   true,
		}
		if rec.Transport == mcp.TransportWS {
			rec.URL = args[2]
		} else {
			rec.Command = args[2]
			rec.Args = args[3:]
		}
		if err := a.store.SaveMCPServer(rec); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return
		}
		a.mcp.AddConfig(mcp.ServerConfig{
			Name: rec.Name, Transport: rec.Transport,
			Command: rec.Command, Args: rec.Args, URL: rec.URL, Enabled: true,
		})
		fmt.Printf("added %s\n", rec.Name)

	case "remove":
		if len(args) < 2 {
			fmt.Println("usage: /mcp remove <name>")
			return
		}
		a.mcp.RemoveConfig(args[1])
		a.store.RemoveMCPServer(args[1])
		fmt.Printf("removed %s\n", args[1])

	case "connect":
		if len(args) < 2 {
			fmt.Println("usage: /mcp connect <name>")
			return
		}
		if err := a.mcp.Connect(ctx, args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return
		}
		fmt.Printf("connected to %s\n", args[1])

	case "disconnect":
		if len(args) < 2 {
			fmt.Println("usage: /mcp disconnect <name>")
			return
		}
		a.mcp.Disconnect(args[1])
		fmt.Printf("disconnected %s\n", args[1])

	case "test":
		if len(args) < 2 {
			fmt.Println("usage: /mcp test <name>")
			return
		}
		if err := a.mcp.Connect(ctx, args[1]); err != nil {
			fmt.Printf("%s: FAILED (%v)\n", args[1], err)
			return
		}
		sess, _ := a.mcp.Session(args[1])
		fmt.Printf("%s: OK (%d tools)\n", args[1], len(sess.Tools()))

	case "tools":
		for _, def := range a.registry.Definitions(nil) {
			if strings.HasPrefix(def.Name, "mcp_") {
				fmt.Printf("%s  %s\n", def.Name, firstLine(def.Description))
			}
		}

	default:
		fmt.Println("usage: /mcp [list|add|remove|connect|disconnect|test|tools]")
	}
}

// runShell executes a raw command with inherited stdio.
func runShell(command string) {
	command = strings.TrimSpace(command)
	if command == "" {
		return
	}
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.Command("cmd.exe", "/C", command)
	} else {
		cmd = exec.Command("/bin/sh", "-c", command)
	}
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
	}
}

// transportFor infers the transport from the target: ws(s):// URLs use the
// WebSocket transport, anything else is a stdio command.
func transportFor(target string) string {
	if strings.HasPrefix(target, "ws://") || strings.HasPrefix(target, "wss://") {
		return mcp.TransportWS
	}
	return mcp.TransportStdio
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func printREPLHelp() {
	fmt.Print(`Commands:
  /help                 show this help
  /stats, /usage        token and message counts
  /context              list context files
  /clear                clear messages (AGENTS.md re-included next turn)
  /reset-stats          start a fresh conversation
  /resume [id]          list or resume conversations
  /search <query>       full-text search over messages
  /plan                 list saved plans
  /agent [name|none]    show or set the sub-agent profile
  /permissions ...      list|allow|deny|remove permission rules
  /mcp ...              list|add|remove|connect|disconnect|test|tools
  /exit, /quit          leave

  !<command>            run a raw shell command
  @path                 include a file as context in your message
`)
}
