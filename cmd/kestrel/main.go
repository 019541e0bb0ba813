package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"kestrel/internal/agent"
	"kestrel/internal/browser"
	"kestrel/internal/config"
	"kestrel/internal/domain"
	"kestrel/internal/memory"
	"kestrel/internal/permission"
	"kestrel/internal/provider"
	"kestrel/internal/tool"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag

	// stdin is shared by the REPL and the confirmation prompt so neither
	// buffers input the other needs.
	stdin = bufio.NewReader(os.Stdin)
)

func main() {
	_ = godotenv.Load()
	logger = newLogger("info")

	root := &cobra.Command{
		Use:     "kestrel",
		Short:   "Kestrel: an agentic task runner for the terminal",
		Long:    "Kestrel hands natural-language tasks to an LLM that drives local tools.\nRun it bare for an interactive session, or use `kestrel run` for one-shot tasks.",
		Version: version,
		RunE:    runInteractive,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to kestrel.json (default: ./.kestrel/kestrel.json, then ~/.kestrel/kestrel.json)")
	root.Flags().String("agent", "", "agent profile to use")
	root.Flags().String("provider", "", "provider override for this session")
	root.Flags().String("model", "", "model override for this session")

	root.AddCommand(runCmd())
	root.AddCommand(initCmd())
	root.AddCommand(capabilitiesCmd())
	root.AddCommand(toolsCmd())
	root.AddCommand(providersCmd())
	root.AddCommand(sessionsCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// app bundles the components every command wires up: config, tools,
// providers, the archive, and the runner that builds loops.
type app struct {
	cfg      *config.Config
	registry *tool.Registry
	factory  *provider.Factory
	archive  *memory.Archive
	runner   *agent.Runner
}

// buildApp loads config and wires the runtime. When interactive is false
// there is no confirmation handler, so permission-gated tools are denied.
func buildApp(interactive bool) (*app, error) {
	cfg, err := config.LoadOrDefault(config.FindConfig(configPath))
	if err != nil {
		return nil, err
	}
	logger = newLogger(cfg.General.LogLevel)
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.General.Workspace, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	a := &app{cfg: cfg}

	var audit domain.AuditLogger
	if cfg.Memory.Enabled {
		archive, err := memory.OpenArchive(cfg.Memory.ArchivePath, logger)
		if err != nil {
			return nil, err
		}
		a.archive = archive
		audit = archive
	}

	a.registry = buildRegistry(cfg)
	a.factory = provider.NewFactory(cfg, logger)

	var confirm permission.ConfirmFunc
	if interactive {
		confirm = stdinConfirm
	}
	a.runner = agent.NewRunner(agent.RunnerConfig{
		Config:    cfg,
		Providers: a.factory,
		Registry:  a.registry,
		Audit:     audit,
		Confirm:   confirm,
		Logger:    logger,
	})

	// The delegate tool closes over the runner, so it registers last.
	a.registry.Register(tool.NewDelegateTool(tool.DelegateConfig{
		Run: func(ctx context.Context, agentName, instructions string) (string, error) {
			return a.runner.Delegate(ctx, agentName, instructions, agent.RunOptions{})
		},
		Agents: agentNames(cfg),
		Logger: logger,
	}))

	return a, nil
}

func (a *app) close() {
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			logger.Warn("archive close failed", "err", err)
		}
	}
}

func buildRegistry(cfg *config.Config) *tool.Registry {
	reg := tool.NewRegistry(logger)
	ws := cfg.General.Workspace

	reg.Register(tool.NewShellTool(tool.ShellConfig{
		Workspace:      ws,
		Timeout:        time.Duration(cfg.Tools.Shell.Timeout) * time.Second,
		MaxOutputBytes: cfg.Tools.Shell.MaxOutputBytes,
		Logger:         logger,
	}))
	reg.Register(tool.NewReadFileTool(ws))
	reg.Register(tool.NewWriteFileTool(ws))
	reg.Register(tool.NewListDirTool(ws))

	webCfg := tool.WebConfig{
		Timeout:         time.Duration(cfg.Tools.Web.Timeout) * time.Second,
		MaxContentBytes: cfg.Tools.Web.MaxContentBytes,
		Logger:          logger,
	}
	if cfg.Tools.Web.Render {
		webCfg.Renderer = browser.NewRenderer(browser.RendererConfig{Logger: logger})
	}
	reg.Register(tool.NewWebFetchTool(webCfg))
	reg.Register(tool.NewWebSearchTool(webCfg))

	if cfg.Tools.Notify.Token != "" && cfg.Tools.Notify.ChatID != 0 {
		reg.Register(tool.NewNotifyTool(tool.NotifyConfig{
			Token:  cfg.Tools.Notify.Token,
			ChatID: cfg.Tools.Notify.ChatID,
			Logger: logger,
		}))
	}

	// User tools first, then project tools, so a project can override a
	// user tool of the same name.
	dirs := []struct{ dir, origin string }{
		{config.UserToolsDir(), "user"},
	}
	if wd, err := os.Getwd(); err == nil {
		dirs = append(dirs, struct{ dir, origin string }{config.ProjectToolsDir(wd), "project"})
	}
	for _, d := range dirs {
		n, err := reg.LoadDirectory(d.dir, d.origin)
		if err != nil {
			logger.Warn("cannot scan tool directory", "dir", d.dir, "err", err)
			continue
		}
		if n > 0 {
			logger.Info("loaded tool manifests", "dir", d.dir, "count", n)
		}
	}
	return reg
}

func agentNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Agents))
	for _, p := range cfg.Agents {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// stdinConfirm asks the user to approve a gated tool call on the terminal.
func stdinConfirm(ctx context.Context, question string) (permission.Decision, error) {
	if sp := activeSpinner; sp != nil {
		sp.setPaused(true)
		defer sp.setPaused(false)
	}
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, question)
	fmt.Fprint(os.Stderr, "> ")
	line, err := stdin.ReadString('\n')
	if err != nil {
		return permission.Deny, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return permission.AllowOnce, nil
	case "a", "always":
		return permission.AllowAlways, nil
	default:
		return permission.Deny, nil
	}
}

func runCmd() *cobra.Command {
	var (
		agentName    string
		providerName string
		model        string
		rules        []string
		contexts     []string
		maxIter      int
	)
	cmd := &cobra.Command{
		Use:   "run <taskfile>",
		Short: "Run a task from a file and print the final answer",
		Long: "Reads the task instructions from the given file (or stdin with -) and runs\n" +
			"them to completion. Reading the task from stdin disables confirmation\n" +
			"prompts, so permission-gated tools are denied in that case.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instructions, err := readTask(args[0])
			if err != nil {
				return err
			}
			additional, err := parseContextPairs(contexts)
			if err != nil {
				return err
			}

			a, err := buildApp(args[0] != "-")
			if err != nil {
				return err
			}
			defer a.close()

			profile, err := a.cfg.Agent(agentName)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			loop, err := a.runner.Loop(agentName, agent.RunOptions{
				Provider:      providerName,
				Model:         model,
				Rules:         rules,
				MaxIterations: maxIter,
				Interactive:   args[0] != "-",
			})
			if err != nil {
				return err
			}

			answer, runErr := loop.Run(ctx, instructions, additional)

			if a.archive != nil && loop.Memory().Len() > 0 {
				if id, err := a.archive.SaveSession(context.Background(), profile.Name, "", loop.Memory().All()); err != nil {
					logger.Warn("cannot archive session", "err", err)
				} else {
					logger.Info("session archived", "id", id)
				}
			}
			if runErr != nil {
				return runErr
			}
			fmt.Println(answer)
			return nil
		},
	}
	cmd.Flags().StringVar(&agentName, "agent", "", "agent profile to use")
	cmd.Flags().StringVar(&providerName, "provider", "", "provider override")
	cmd.Flags().StringVar(&model, "model", "", "model override")
	cmd.Flags().StringArrayVar(&rules, "rule", nil, "replace the agent rules for this run (repeatable)")
	cmd.Flags().StringArrayVar(&contexts, "context", nil, "extra context as key=value (repeatable)")
	cmd.Flags().IntVar(&maxIter, "max-iterations", 0, "iteration ceiling override")
	return cmd
}

func readTask(path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read task: %w", err)
	}
	task := strings.TrimSpace(string(data))
	if task == "" {
		return "", fmt.Errorf("task %s is empty", path)
	}
	return task, nil
}

func parseContextPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, val, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("context %q is not key=value", pair)
		}
		out[key] = val
	}
	return out, nil
}

func capabilitiesCmd() *cobra.Command {
	var (
		patterns  bool
		agentName string
	)
	cmd := &cobra.Command{
		Use:   "capabilities",
		Short: "Describe what the agent's tools can do",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			profile, err := a.cfg.Agent(agentName)
			if err != nil {
				return err
			}
			if patterns {
				fmt.Println(a.registry.PatternsReport(profile.Tools))
				return nil
			}
			fmt.Println(a.registry.CapabilitiesSummary(profile.Tools))
			return nil
		},
	}
	cmd.Flags().BoolVar(&patterns, "patterns", false, "include example phrasings and workflows")
	cmd.Flags().StringVar(&agentName, "agent", "", "agent profile whose tools to describe")
	return cmd
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List registered tools and where they came from",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tORIGIN\tDESCRIPTION")
			for _, name := range a.registry.Names() {
				t, err := a.registry.Get(name)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", name, a.registry.Origin(name), t.Description())
			}
			return w.Flush()
		},
	}
}

func providersCmd() *cobra.Command {
	var models bool
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List configured LLM providers and their key status",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			if models {
				for _, name := range a.factory.Names() {
					p, err := a.factory.Get(name)
					if err != nil {
						fmt.Printf("%s: %v\n", name, err)
						continue
					}
					fmt.Printf("%s: %s\n", name, strings.Join(p.Models(), ", "))
				}
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tMODEL\tKEY\tAPI BASE")
			for _, name := range a.factory.Names() {
				pc := a.cfg.Providers[name]
				key := "set"
				if pc.APIKey == "" {
					key = "missing"
					if env := config.ProviderKeyEnv(name); env != "" {
						key = "missing (set " + env + ")"
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, pc.Model, key, pc.APIBase)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&models, "models", false, "list each adapter's known models")
	return cmd
}

func sessionsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List archived sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(false)
			if err != nil {
				return err
			}
			defer a.close()
			if a.archive == nil {
				return fmt.Errorf("memory is disabled in the config")
			}

			infos, err := a.archive.ListSessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Println("No archived sessions.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCREATED\tAGENT\tTURNS\tTITLE")
			for _, info := range infos {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					shortID(info.ID), info.CreatedAt.Format("2006-01-02 15:04"), info.Agent, info.Turns, info.Title)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum sessions to list")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Print an archived session transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(false)
			if err != nil {
				return err
			}
			defer a.close()
			if a.archive == nil {
				return fmt.Errorf("memory is disabled in the config")
			}

			id, err := resolveSessionID(cmd.Context(), a.archive, args[0])
			if err != nil {
				return err
			}
			msgs, err := a.archive.LoadSession(cmd.Context(), id)
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				return fmt.Errorf("no session with id %s", args[0])
			}
			for _, m := range msgs {
				printTurn(m)
			}
			return nil
		},
	})

	var auditLimit int
	audit := &cobra.Command{
		Use:   "audit",
		Short: "Print recent permission decisions and tool executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(false)
			if err != nil {
				return err
			}
			defer a.close()
			if a.archive == nil {
				return fmt.Errorf("memory is disabled in the config")
			}

			lines, err := a.archive.RecentAudit(cmd.Context(), auditLimit)
			if err != nil {
				return err
			}
			if len(lines) == 0 {
				fmt.Println("No audit entries yet.")
				return nil
			}
			for _, line := range lines {
				fmt.Println(line)
			}
			return nil
		},
	}
	audit.Flags().IntVar(&auditLimit, "limit", 50, "maximum entries to print")
	cmd.AddCommand(audit)

	return cmd
}

// resolveSessionID accepts a full session id or an unambiguous prefix.
func resolveSessionID(ctx context.Context, archive *memory.Archive, wanted string) (string, error) {
	infos, err := archive.ListSessions(ctx, 1000)
	if err != nil {
		return "", err
	}
	var match string
	for _, info := range infos {
		if info.ID == wanted {
			return info.ID, nil
		}
		if strings.HasPrefix(info.ID, wanted) {
			if match != "" {
				return "", fmt.Errorf("session id %q is ambiguous", wanted)
			}
			match = info.ID
		}
	}
	if match == "" {
		return wanted, nil
	}
	return match, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printTurn(m domain.Message) {
	switch {
	case len(m.ToolCalls) > 0:
		names := make([]string, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			names[i] = tc.Name
		}
		fmt.Printf("[%s] calls %s\n", m.Role, strings.Join(names, ", "))
		if m.Content != "" {
			fmt.Println(m.Content)
		}
	case m.Role == "tool":
		fmt.Printf("[tool %s] %s\n", m.ToolName, m.Content)
	default:
		fmt.Printf("[%s] %s\n", m.Role, m.Content)
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <path>",
		Short: "Get a config value (e.g. general.defaultAgent)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(mustConfigPath())
			if err != nil {
				return err
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <path> <value>",
		Short: "Set a config value and save the file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := mustConfigPath()
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			logger.Info("config updated", "path", args[0], "file", path)
			return nil
		},
	})

	var flat bool
	list := &cobra.Command{
		Use:   "list",
		Short: "Print the effective config with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(config.FindConfig(configPath))
			if err != nil {
				return err
			}
			if flat {
				paths := config.ListPaths(config.Sanitize(cfg))
				keys := make([]string, 0, len(paths))
				for k := range paths {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				for _, k := range keys {
					fmt.Fprintf(w, "%s\t%v\n", k, paths[k])
				}
				return w.Flush()
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	}
	list.Flags().BoolVar(&flat, "paths", false, "print dotted paths for use with get and set")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show which config file is in effect",
		Run: func(cmd *cobra.Command, args []string) {
			if p := config.FindConfig(configPath); p != "" {
				fmt.Println(p)
				return
			}
			fmt.Println("(no config file found, compiled defaults in effect)")
		},
	})

	return cmd
}

// mustConfigPath returns the config file to edit: the explicit --config
// value, an existing discovered file, or the user default path.
func mustConfigPath() string {
	if p := config.FindConfig(configPath); p != "" {
		return p
	}
	return config.DefaultConfigPath()
}
