package main

import (
	"fmt"
	"os"
	"strings"

	"kestrel/internal/config"

	"github.com/spf13/cobra"
)

// wizardProviders is the ordered provider menu for the init wizard.
var wizardProviders = []string{"openai", "claude", "gemini", "openrouter"}

func initCmd() *cobra.Command {
	var userScope bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive setup: config location, workspace, provider, model, rules",
		Long: "Walks through where to store the config (project or user), the workspace\n" +
			"path, the default LLM provider and its API key, the model, optional agent\n" +
			"rules, and which tools need confirmation, then writes kestrel.json.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(userScope)
		},
	}
	cmd.Flags().BoolVar(&userScope, "user", false, "write the user config (~/.kestrel) without asking")
	return cmd
}

func runInit(userScope bool) error {
	prompt := func(def string) (string, error) {
		if def != "" {
			fmt.Fprintf(os.Stdout, " [%s]: ", def)
		} else {
			fmt.Fprint(os.Stdout, ": ")
		}
		line, err := stdin.ReadString('\n')
		if err != nil {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" {
			return def, nil
		}
		return s, nil
	}

	// Step 1: Where the config lives
	fmt.Println("\n--- Step 1: Config location ---")
	target, err := chooseTarget(userScope, prompt)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "  Writing config to: %s\n", target)

	cfg, err := config.Load(target)
	if err != nil {
		cfg = config.Defaults()
	}
	ensureKnownProviders(cfg)

	// Step 2: Workspace
	fmt.Println("\n--- Step 2: Workspace ---")
	workspace := cfg.General.Workspace
	if workspace == "" {
		workspace = "~/.kestrel/workspace"
	}
	fmt.Fprint(os.Stdout, "Directory the agent may read and write")
	ws, err := prompt(workspace)
	if err != nil {
		return err
	}
	cfg.General.Workspace = ws
	expanded := config.ExpandPath(ws)
	if err := os.MkdirAll(expanded, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	fmt.Fprintf(os.Stdout, "  Using workspace: %s\n", expanded)

	// Step 3: Provider
	fmt.Println("\n--- Step 3: Default LLM provider ---")
	for i, name := range wizardProviders {
		fmt.Fprintf(os.Stdout, "  %d) %s (reads %s)\n", i+1, name, config.ProviderKeyEnv(name))
	}
	fmt.Fprintf(os.Stdout, "Choose provider (1-%d)", len(wizardProviders))
	defNum := "1"
	if profile := defaultProfile(cfg); profile != nil {
		for i, name := range wizardProviders {
			if name == profile.Provider {
				defNum = fmt.Sprint(i + 1)
				break
			}
		}
	}
	choice, err := prompt(defNum)
	if err != nil {
		return err
	}
	var idx int
	if n, _ := fmt.Sscanf(choice, "%d", &idx); n != 1 || idx < 1 || idx > len(wizardProviders) {
		idx = 1
	}
	provName := wizardProviders[idx-1]
	envVar := config.ProviderKeyEnv(provName)
	if profile := defaultProfile(cfg); profile != nil {
		profile.Provider = provName
	}

	fmt.Fprintf(os.Stdout, "API key: paste the key or an env reference (e.g. ${%s})", envVar)
	key, err := prompt("${" + envVar + "}")
	if err != nil {
		return err
	}
	if key != "" {
		pc := cfg.Providers[provName]
		pc.APIKey = key
		cfg.Providers[provName] = pc
	}
	fmt.Fprintf(os.Stdout, "  Using provider: %s\n", provName)

	// Step 4: Model
	fmt.Println("\n--- Step 4: Model ---")
	fmt.Fprint(os.Stdout, "Model name")
	model, err := prompt(cfg.Providers[provName].Model)
	if err != nil {
		return err
	}
	if model != "" {
		pc := cfg.Providers[provName]
		pc.Model = model
		cfg.Providers[provName] = pc
	}

	profile := defaultProfile(cfg)

	// Step 5: Rules
	fmt.Println("\n--- Step 5: Agent rules ---")
	if profile != nil && len(profile.Rules) > 0 {
		fmt.Fprintf(os.Stdout, "The agent currently has %d rule(s).\n", len(profile.Rules))
	}
	fmt.Fprint(os.Stdout, "Add a rule: inline text or @file reference, blank to skip")
	rule, err := prompt("")
	if err != nil {
		return err
	}
	if rule != "" && profile != nil {
		profile.Rules = append(profile.Rules, rule)
		fmt.Fprintln(os.Stdout, "  Rule added.")
	}

	// Step 6: Confirmation
	fmt.Println("\n--- Step 6: Tool confirmation ---")
	fmt.Fprint(os.Stdout, "Tools that ask before running (space-separated, 'none' to disable)")
	current := ""
	if profile != nil {
		current = strings.Join(profile.RequirePermission, " ")
	}
	gated, err := prompt(current)
	if err != nil {
		return err
	}
	if profile != nil {
		switch strings.ToLower(gated) {
		case "none":
			profile.RequirePermission = nil
		case "":
		default:
			profile.RequirePermission = strings.Fields(gated)
		}
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if err := config.Save(target, cfg); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "\nConfig saved to %s\n", target)
	fmt.Println("Next: run 'kestrel' to chat, or 'kestrel run task.md' for a one-shot task.")
	return nil
}

// chooseTarget picks the config file to write: the --config flag wins,
// --user skips the question, otherwise the user picks project or user scope.
func chooseTarget(userScope bool, prompt func(string) (string, error)) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	if userScope {
		return config.DefaultConfigPath(), nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return config.DefaultConfigPath(), nil
	}
	fmt.Fprintf(os.Stdout, "  1) project  %s\n", config.ProjectConfigPath(wd))
	fmt.Fprintf(os.Stdout, "  2) user     %s\n", config.DefaultConfigPath())
	fmt.Fprint(os.Stdout, "Save config to (1-2)")
	choice, err := prompt("2")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(choice) == "1" {
		return config.ProjectConfigPath(wd), nil
	}
	return config.DefaultConfigPath(), nil
}

// defaultProfile returns a pointer into cfg.Agents for the default agent,
// or nil when no profiles exist.
func defaultProfile(cfg *config.Config) *config.AgentProfile {
	name := cfg.General.DefaultAgent
	for i := range cfg.Agents {
		if cfg.Agents[i].Name == name {
			return &cfg.Agents[i]
		}
	}
	if len(cfg.Agents) > 0 {
		return &cfg.Agents[0]
	}
	return nil
}

// ensureKnownProviders fills in entries for every wizard provider so key
// and model edits always have a row to land on.
func ensureKnownProviders(cfg *config.Config) {
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]config.ProviderConfig)
	}
	defaults := config.Defaults().Providers
	for _, name := range wizardProviders {
		if _, ok := cfg.Providers[name]; !ok {
			cfg.Providers[name] = defaults[name]
		}
	}
}
