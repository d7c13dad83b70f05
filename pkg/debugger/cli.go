// Package debugger provides an interactive stepper over a replay session.
package debugger

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/willibrandon/calltrace/pkg/replay"
)

// CLI represents the command-line interface for the debugger
type CLI struct {
	replayer  *replay.Replayer
	bpManager *replay.BreakpointManager
	running   bool
	out       io.Writer
}

// NewCLI creates a CLI over r. bm must be the breakpoint manager r was
// created with; nil means r has none and breakpoint commands are disabled.
func NewCLI(r *replay.Replayer, bm *replay.BreakpointManager, out io.Writer) *CLI {
	return &CLI{
		replayer:  r,
		bpManager: bm,
		out:       out,
	}
}

// Start begins the command loop, reading commands from in until quit or EOF
func (c *CLI) Start(ctx context.Context, in io.Reader) {
	c.running = true
	scanner := bufio.NewScanner(in)

	fmt.Fprintf(c.out, "calltrace debugger (session %s, %d steps)\n", c.replayer.ID(), c.replayer.Buffer().Len())
	c.printHelp()

	for c.running {
		fmt.Fprint(c.out, "(calltrace) ")
		if !scanner.Scan() {
			fmt.Fprintln(c.out)
			return
		}
		c.handleCommand(ctx, strings.TrimSpace(scanner.Text()))
	}
}

// printHelp displays available commands
func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\nAvailable commands:")
	fmt.Fprintln(c.out, "  continue (c)      - Replay until a breakpoint or the end")
	fmt.Fprintln(c.out, "  step (s)          - Replay one step")
	fmt.Fprintln(c.out, "  info (i)          - Show the current step")
	fmt.Fprintln(c.out, "  report (r)        - Show the session report")

	if c.bpManager != nil {
		fmt.Fprintln(c.out, "\nBreakpoint commands:")
		fmt.Fprintln(c.out, "  breakpoint (bp) <location> - Set a breakpoint (step:N, type:T, method:T.m)")
		fmt.Fprintln(c.out, "  list (l)        - List all breakpoints")
		fmt.Fprintln(c.out, "  bp remove <id>  - Remove a breakpoint")
		fmt.Fprintln(c.out, "  bp enable <id>  - Enable a breakpoint")
		fmt.Fprintln(c.out, "  bp disable <id> - Disable a breakpoint")
	}

	fmt.Fprintln(c.out, "\nGeneral commands:")
	fmt.Fprintln(c.out, "  help (h)          - Show this help message")
	fmt.Fprintln(c.out, "  quit (q)          - Exit the debugger")
}

// handleCommand processes user input
func (c *CLI) handleCommand(ctx context.Context, input string) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return
	}

	cmd := parts[0]
	args := parts[1:]

	switch cmd {
	case "h", "help":
		c.printHelp()
	case "c", "continue":
		c.handleContinue(ctx)
	case "s", "step":
		c.handleStep(ctx)
	case "i", "info":
		c.handleInfo()
	case "r", "report":
		c.handleReport()
	case "q", "quit", "exit":
		c.running = false
	case "bp", "breakpoint":
		c.handleBreakpointCommand(args)
	case "l", "list":
		c.handleListBreakpoints()
	default:
		fmt.Fprintf(c.out, "Unknown command: %s\n", cmd)
		c.printHelp()
	}
}

// handleBreakpointCommand handles all breakpoint-related commands
func (c *CLI) handleBreakpointCommand(args []string) {
	if c.bpManager == nil {
		fmt.Fprintln(c.out, "Breakpoints not enabled for this session")
		return
	}

	if len(args) == 0 {
		fmt.Fprintln(c.out, "Usage: breakpoint <location> or <command> [args]")
		fmt.Fprintln(c.out, "Commands: list, remove, enable, disable")
		return
	}

	command := args[0]
	switch command {
	case "list":
		c.handleListBreakpoints()
	case "remove", "enable", "disable":
		if len(args) < 2 {
			fmt.Fprintf(c.out, "Usage: bp %s <id>\n", command)
			return
		}
		id, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Fprintf(c.out, "Invalid breakpoint ID: %v\n", err)
			return
		}

		var done string
		switch command {
		case "remove":
			err, done = c.bpManager.RemoveBreakpoint(id), "Removed"
		case "enable":
			err, done = c.bpManager.EnableBreakpoint(id), "Enabled"
		case "disable":
			err, done = c.bpManager.DisableBreakpoint(id), "Disabled"
		}
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			return
		}
		fmt.Fprintf(c.out, "%s breakpoint %d\n", done, id)
	default:
		// If not a command, treat as location
		bp, err := c.bpManager.AddBreakpoint(args[0])
		if err != nil {
			fmt.Fprintf(c.out, "Error setting breakpoint: %v\n", err)
			return
		}
		fmt.Fprintf(c.out, "Breakpoint %d set at %s\n", bp.ID, bp.Location())
	}
}

// formatStep returns a string representation of a step
func formatStep(step replay.Step) string {
	var args []string
	for _, a := range step.Record.Args {
		args = append(args, a.String())
	}
	ret := "<pending>"
	if step.Record.Ret != nil {
		ret = step.Record.Ret.String()
	}
	return fmt.Sprintf("#%d seq=%d %s(%s) -> %s",
		step.Index, step.Record.Seq, step.Name, strings.Join(args, ", "), ret)
}

// handleContinue resumes replay until the next breakpoint
func (c *CLI) handleContinue(ctx context.Context) {
	fmt.Fprintln(c.out, "Continuing...")

	report, err := c.replayer.RunUntil(ctx, nil)
	if err != nil {
		fmt.Fprintf(c.out, "Error continuing replay: %v\n", err)
		return
	}

	if report.State == replay.Ended {
		fmt.Fprintln(c.out, "Replay finished")
		c.handleReport()
		return
	}
	if next, ok := c.replayer.Buffer().Peek(); ok {
		fmt.Fprintf(c.out, "Stopped before: %s\n", formatStep(next))
	}
}

// handleStep executes a single step forward
func (c *CLI) handleStep(ctx context.Context) {
	more, err := c.replayer.Step(ctx)
	if !more && err == nil {
		fmt.Fprintln(c.out, "End of trace")
		return
	}
	if step, ok := c.replayer.Buffer().Current(); ok {
		fmt.Fprintf(c.out, "Step: %s\n", formatStep(step))
	}
	if err != nil {
		fmt.Fprintf(c.out, "Divergence: %v\n", err)
	}
}

// handleInfo shows the current replay position
func (c *CLI) handleInfo() {
	buf := c.replayer.Buffer()
	fmt.Fprintf(c.out, "\nState: %s, position %d of %d\n", buf.State(), buf.Position(), buf.Len())
	if step, ok := buf.Current(); ok {
		fmt.Fprintf(c.out, "Current step: %s\n", formatStep(step))
	} else {
		fmt.Fprintln(c.out, "No current step")
	}
	if next, ok := buf.Peek(); ok {
		fmt.Fprintf(c.out, "Next step: %s\n", formatStep(next))
	}
}

// handleReport prints the session report
func (c *CLI) handleReport() {
	PrintReport(c.out, c.replayer.Report())
}

// handleListBreakpoints lists all breakpoints
func (c *CLI) handleListBreakpoints() {
	if c.bpManager == nil {
		fmt.Fprintln(c.out, "Breakpoints not enabled for this session")
		return
	}
	fmt.Fprintln(c.out, "\nBreakpoints:")
	for _, bp := range c.bpManager.GetBreakpoints() {
		status := "enabled"
		if !bp.Enabled {
			status = "disabled"
		}
		fmt.Fprintf(c.out, "%d: %s [%s] hits=%d\n", bp.ID, bp.Location(), status, bp.Hits)
	}
}

// PrintReport writes a human-readable session report
func PrintReport(w io.Writer, r *replay.Report) {
	fmt.Fprintf(w, "Session %s: %s, %d steps, position %d\n", r.Session, r.State, r.Steps, r.Position)
	if !r.Degraded && len(r.Unresolved) == 0 && len(r.Unconsumed) == 0 {
		fmt.Fprintln(w, "Replay is faithful")
		return
	}
	for _, d := range r.Divergences {
		fmt.Fprintf(w, "  divergence: %v\n", d)
	}
	for _, le := range r.Unresolved {
		fmt.Fprintf(w, "  unresolved loose end: %s (after step %d)\n", le.Name, le.Step)
	}
	for _, p := range r.Unconsumed {
		fmt.Fprintf(w, "  unconsumed callback: %s #%d seq=%d\n", p.Name, p.Ordinal, p.Seq)
	}
}
