package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kestrel/internal/agent"
	"kestrel/internal/config"
	"kestrel/internal/domain"
)

// repl is one interactive session: a single loop whose memory carries
// across inputs until /forget or exit.
type repl struct {
	app     *app
	loop    *agent.Loop
	profile config.AgentProfile
	out     io.Writer
}

func runInteractive(cmd *cobra.Command, args []string) error {
	agentName, _ := cmd.Flags().GetString("agent")
	providerName, _ := cmd.Flags().GetString("provider")
	model, _ := cmd.Flags().GetString("model")

	a, err := buildApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	profile, err := a.cfg.Agent(agentName)
	if err != nil {
		return err
	}

	loop, err := a.runner.Loop(agentName, agent.RunOptions{
		Provider:    providerName,
		Model:       model,
		Interactive: true,
	})
	if err != nil {
		return err
	}

	r := &repl{app: a, loop: loop, profile: profile, out: os.Stdout}
	return r.run()
}

func (r *repl) run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(r.out, "kestrel v%s, agent %q. Type a task, /help for commands, /quit to leave.\n", version, r.profile.Name)

	for {
		fmt.Fprint(r.out, "you> ")
		line, err := stdin.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out)
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := r.handleCommand(ctx, line)
			if err != nil {
				fmt.Fprintln(r.out, "error:", err)
			}
			if quit {
				return nil
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}

		r.runTask(ctx, line)
	}
}

func (r *repl) runTask(ctx context.Context, task string) {
	sp := startSpinner(r.out)
	answer, err := r.loop.Run(ctx, task, nil)
	sp.stop()

	if err != nil {
		var limit *domain.LoopLimitError
		switch {
		case errors.As(err, &limit):
			fmt.Fprintf(r.out, "Stopped after %d iterations without a final answer. Rephrase or raise general.maxIterations.\n", limit.Iterations)
		case errors.Is(err, context.Canceled):
			fmt.Fprintln(r.out, "Interrupted.")
		default:
			fmt.Fprintln(r.out, "error:", err)
		}
		return
	}
	fmt.Fprintln(r.out, answer)
	fmt.Fprintln(r.out)
}

// handleCommand runs one slash command. It returns true when the REPL
// should exit.
func (r *repl) handleCommand(ctx context.Context, line string) (bool, error) {
	parts := strings.Fields(line)
	name := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	args := parts[1:]

	switch name {
	case "quit", "exit", "q":
		return true, nil

	case "help":
		fmt.Fprint(r.out, helpText())

	case "capabilities":
		fmt.Fprintln(r.out, r.app.registry.CapabilitiesSummary(r.profile.Tools))

	case "tools":
		for _, toolName := range r.app.registry.Names() {
			t, err := r.app.registry.Get(toolName)
			if err != nil {
				continue
			}
			fmt.Fprintf(r.out, "%-14s %-9s %s\n", toolName, r.app.registry.Origin(toolName), t.Description())
		}

	case "memory":
		r.printMemory()

	case "forget":
		r.loop.Memory().Clear()
		fmt.Fprintln(r.out, "Memory cleared.")

	case "context":
		return false, r.setContext(args)

	case "save":
		return false, r.saveSession(ctx, strings.Join(args, " "))

	case "config":
		data, _ := json.MarshalIndent(config.Sanitize(r.app.cfg), "", "  ")
		fmt.Fprintln(r.out, string(data))

	default:
		fmt.Fprintf(r.out, "Unknown command /%s. Type /help for the list.\n", name)
	}
	return false, nil
}

func (r *repl) printMemory() {
	mem := r.loop.Memory()
	fmt.Fprintf(r.out, "%d of at most %d turns retained.\n", mem.Len(), mem.MaxTurns())
	for _, m := range mem.All() {
		fmt.Fprintf(r.out, "  %-9s %s\n", m.Role, firstLine(m.Content, 90))
	}
	if keys := mem.ContextKeys(); len(keys) > 0 {
		fmt.Fprintln(r.out, "Context:")
		for _, k := range keys {
			v, _ := mem.Context(k)
			fmt.Fprintf(r.out, "  %s = %v\n", k, v)
		}
	}
}

func (r *repl) setContext(args []string) error {
	if len(args) == 0 {
		keys := r.loop.Memory().ContextKeys()
		if len(keys) == 0 {
			fmt.Fprintln(r.out, "No context set. Use /context key=value.")
			return nil
		}
		for _, k := range keys {
			v, _ := r.loop.Memory().Context(k)
			fmt.Fprintf(r.out, "%s = %v\n", k, v)
		}
		return nil
	}
	for _, pair := range args {
		key, val, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return fmt.Errorf("context %q is not key=value", pair)
		}
		r.loop.Memory().SetContext(key, val)
	}
	fmt.Fprintln(r.out, "Context updated.")
	return nil
}

func (r *repl) saveSession(ctx context.Context, title string) error {
	if r.app.archive == nil {
		return fmt.Errorf("memory is disabled in the config")
	}
	mem := r.loop.Memory()
	if mem.Len() == 0 {
		return fmt.Errorf("nothing to save yet")
	}
	id, err := r.app.archive.SaveSession(ctx, r.profile.Name, title, mem.All())
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Session saved as %s.\n", shortID(id))
	return nil
}

func firstLine(s string, max int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > max {
		s = s[:max-3] + "..."
	}
	return s
}

func helpText() string {
	return `Commands:
  /help             show this help
  /capabilities     describe what the agent's tools can do
  /tools            list registered tools with their origin
  /memory           show retained turns and context
  /forget           clear the conversation memory
  /context k=v      set a context value (bare /context lists them)
  /save [title]     archive the conversation
  /config           print the effective config, secrets masked
  /quit             leave
Anything else is sent to the agent as a task.
`
}

// activeSpinner lets the confirmation prompt pause the progress line while
// a question is on screen. Only the REPL goroutine touches it; the gate
// callback runs on the same goroutine, inside Loop.Run.
var activeSpinner *spinner

// spinner paints a progress indicator while a task runs.
type spinner struct {
	out    io.Writer
	pause  chan bool
	stopCh chan struct{}
	doneCh chan struct{}
}

func startSpinner(out io.Writer) *spinner {
	s := &spinner{
		out:    out,
		pause:  make(chan bool),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go s.paint()
	activeSpinner = s
	return s
}

func (s *spinner) paint() {
	defer close(s.doneCh)
	frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	i := 0
	paused := false
	for {
		select {
		case <-s.stopCh:
			fmt.Fprint(s.out, "\r\033[K")
			return
		case p := <-s.pause:
			paused = p
			if p {
				fmt.Fprint(s.out, "\r\033[K")
			}
		case <-ticker.C:
			if paused {
				continue
			}
			fmt.Fprintf(s.out, "\r%s working...", frames[i%len(frames)])
			i++
		}
	}
}

func (s *spinner) setPaused(p bool) {
	select {
	case s.pause <- p:
	case <-s.doneCh:
	}
}

func (s *spinner) stop() {
	activeSpinner = nil
	close(s.stopCh)
	<-s.doneCh
}
