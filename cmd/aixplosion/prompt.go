package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/martydill/aixplosion/internal/security"
)

// terminalPrompter asks the user for permission decisions on stdin. The
// mediator bounds each prompt with its 30s timeout; an expired context
// defaults to deny.
type terminalPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

func (p *terminalPrompter) Ask(ctx context.Context, req security.Request) (security.Choice, error) {
	fmt.Fprintf(p.out, "\nPermission required for %s:\n  %s\n", req.Tool, req.Command)
	if req.Diff != "" {
		fmt.Fprintln(p.out, req.Diff)
	}

	wildcard := req.Tool == "bash" && security.HasArguments(req.Command)
	fmt.Fprintln(p.out, "  [y] allow once")
	fmt.Fprintln(p.out, "  [a] allow and remember")
	if wildcard {
		fmt.Fprintf(p.out, "  [w] allow with wildcard %q\n", security.FirstToken(req.Command)+" *")
	}
	fmt.Fprintln(p.out, "  [n] deny")
	fmt.Fprint(p.out, "> ")

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		ch <- answer{line, err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out, "\n(timed out, denying)")
		return security.ChoiceDeny, nil
	case ans := <-ch:
		if ans.err != nil {
			return security.ChoiceDeny, nil
		}
		switch strings.ToLower(strings.TrimSpace(ans.line)) {
		case "y", "yes":
			return security.ChoiceAllowOnce, nil
		case "a":
			return security.ChoiceAllowRemember, nil
		case "w":
			if wildcard {
				return security.ChoiceAllowWildcard, nil
			}
			return security.ChoiceDeny, nil
		default:
			return security.ChoiceDeny, nil
		}
	}
}
