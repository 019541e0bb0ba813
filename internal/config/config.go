package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for kestrel. It is resolved from the
// first file found of: an explicit --config path, the project's
// .kestrel/kestrel.json, the user's ~/.kestrel/kestrel.json, then the
// compiled defaults.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Providers map[string]ProviderConfig `json:"providers"`
	Agents    []AgentProfile            `json:"agents"`
	Memory    MemoryConfig              `json:"memory"`
	Tools     ToolsConfig               `json:"tools"`

	// Path is where this config was loaded from ("" for defaults);
	// @file rules resolve relative to its directory.
	Path string `json:"-"`
}

type GeneralConfig struct {
	Workspace     string `json:"workspace"`
	LogLevel      string `json:"logLevel"`
	MaxIterations int    `json:"maxIterations"`
	DefaultAgent  string `json:"defaultAgent,omitempty"`
}

type ProviderConfig struct {
	APIKey  string `json:"apiKey,omitempty"`
	APIBase string `json:"apiBase,omitempty"`
	Model   string `json:"model,omitempty"`
}

// AgentProfile configures one named agent: which provider and model it
// talks to, its rules text, the tools it may use, and which of those need
// user confirmation.
type AgentProfile struct {
	Name              string   `json:"name"`
	Provider          string   `json:"provider"`
	Model             string   `json:"model,omitempty"`
	Rules             []string `json:"rules,omitempty"` // inline text, or @file relative to the config dir
	Tools             []string `json:"tools,omitempty"` // enabled-tool allowlist; empty means all
	RequirePermission []string `json:"requirePermission,omitempty"`
	MaxTurns          int      `json:"maxTurns,omitempty"`
	MaxTokens         int      `json:"maxTokens,omitempty"`
	Temperature       float64  `json:"temperature,omitempty"`
}

type MemoryConfig struct {
	Enabled     bool   `json:"enabled"`
	ArchivePath string `json:"archivePath"`
	MaxTurns    int    `json:"maxTurns"`
}

type ToolsConfig struct {
	Shell  ShellToolConfig  `json:"shell"`
	Web    WebToolConfig    `json:"web"`
	Notify NotifyToolConfig `json:"notify"`
}

type ShellToolConfig struct {
	Timeout        int `json:"timeout"` // seconds
	MaxOutputBytes int `json:"maxOutputBytes"`
}

type WebToolConfig struct {
	Timeout         int  `json:"timeout"` // seconds
	MaxContentBytes int  `json:"maxContentBytes"`
	Render          bool `json:"render"` // allow headless-browser fetches
}

type NotifyToolConfig struct {
	Token  string `json:"token,omitempty"`
	ChatID int64  `json:"chatId,omitempty"`
}

const (
	configFileName = "kestrel.json"
	projectDirName = ".kestrel"
)

// DefaultConfigDir returns the user config directory (~/.kestrel).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return projectDirName
	}
	return filepath.Join(home, projectDirName)
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), configFileName)
}

// ProjectConfigPath returns the project-level config path under dir.
func ProjectConfigPath(dir string) string {
	return filepath.Join(dir, projectDirName, configFileName)
}

// UserToolsDir returns the user-level tool manifest directory.
func UserToolsDir() string {
	return filepath.Join(DefaultConfigDir(), "tools")
}

// ProjectToolsDir returns the tool manifest directory under dir.
func ProjectToolsDir(dir string) string {
	return filepath.Join(dir, projectDirName, "tools")
}

// FindConfig returns the first config file that exists: the explicit path
// if given, then the project config in the working directory, then the
// user config. Empty means no file was found and defaults apply.
func FindConfig(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if wd, err := os.Getwd(); err == nil {
		if p := ProjectConfigPath(wd); fileExists(p) {
			return p
		}
	}
	if p := DefaultConfigPath(); fileExists(p) {
		return p
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	cfg.Path = path

	finish(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads the given path, or returns the compiled defaults
// when path is empty.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		cfg := Defaults()
		finish(cfg)
		return cfg, nil
	}
	return Load(path)
}

// finish expands paths and fills provider API keys from their
// conventional environment variables when the config leaves them empty.
func finish(cfg *Config) {
	cfg.General.Workspace = ExpandPath(cfg.General.Workspace)
	cfg.Memory.ArchivePath = ExpandPath(cfg.Memory.ArchivePath)

	for name, env := range providerKeyEnv {
		pc, ok := cfg.Providers[name]
		if !ok || pc.APIKey != "" {
			continue
		}
		if v := os.Getenv(env); v != "" {
			pc.APIKey = v
			cfg.Providers[name] = pc
		}
	}
}

// providerKeyEnv maps provider names to the environment variable holding
// their API key.
var providerKeyEnv = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"claude":     "ANTHROPIC_API_KEY",
	"gemini":     "GEMINI_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

// ProviderKeyEnv returns the conventional API key environment variable
// for a provider ("" if none is known).
func ProviderKeyEnv(provider string) string {
	return providerKeyEnv[provider]
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Agent selects a profile by name. Empty name falls back to the
// configured default agent, then to the first profile.
func (c *Config) Agent(name string) (AgentProfile, error) {
	if name == "" {
		name = c.General.DefaultAgent
	}
	if name == "" {
		if len(c.Agents) == 0 {
			return AgentProfile{}, fmt.Errorf("no agents configured")
		}
		return c.Agents[0], nil
	}
	for _, a := range c.Agents {
		if a.Name == name {
			return a, nil
		}
	}
	return AgentProfile{}, fmt.Errorf("unknown agent: %s", name)
}

// RulesText resolves a profile's rules entries. An entry starting with
// "@" names a file relative to the config directory; unreadable files are
// skipped with the error folded into the returned text so the problem is
// visible in the prompt rather than silently dropped.
func (c *Config) RulesText(p AgentProfile) []string {
	baseDir := filepath.Dir(c.Path)
	if c.Path == "" {
		baseDir = "."
	}

	out := make([]string, 0, len(p.Rules))
	for _, rule := range p.Rules {
		if !strings.HasPrefix(rule, "@") {
			out = append(out, rule)
			continue
		}
		path := strings.TrimPrefix(rule, "@")
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			out = append(out, fmt.Sprintf("(rules file %s could not be read: %v)", path, err))
			continue
		}
		out = append(out, strings.TrimSpace(string(data)))
	}
	return out
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.MaxIterations < 1 || cfg.General.MaxIterations > 200 {
		errs = append(errs, "general.maxIterations must be between 1 and 200")
	}
	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Memory.MaxTurns < 1 || cfg.Memory.MaxTurns > 1000 {
		errs = append(errs, "memory.maxTurns must be between 1 and 1000")
	}
	if cfg.Memory.Enabled && cfg.Memory.ArchivePath == "" {
		errs = append(errs, "memory.archivePath is required when memory is enabled")
	}

	if cfg.Tools.Shell.Timeout < 1 {
		errs = append(errs, "tools.shell.timeout must be >= 1")
	}
	if cfg.Tools.Web.MaxContentBytes < 1 || cfg.Tools.Web.MaxContentBytes > 10<<20 {
		errs = append(errs, "tools.web.maxContentBytes must be between 1 and 10485760")
	}

	if len(cfg.Agents) == 0 {
		errs = append(errs, "at least one agent must be configured")
	}
	seen := make(map[string]bool)
	for i, a := range cfg.Agents {
		if a.Name == "" {
			errs = append(errs, fmt.Sprintf("agents[%d]: name is required", i))
			continue
		}
		if seen[a.Name] {
			errs = append(errs, fmt.Sprintf("agents[%d]: duplicate agent name %q", i, a.Name))
		}
		seen[a.Name] = true
		if a.Provider == "" {
			errs = append(errs, fmt.Sprintf("agents[%d] (%s): provider is required", i, a.Name))
		}
		if a.Temperature < 0 || a.Temperature > 2 {
			errs = append(errs, fmt.Sprintf("agents[%d] (%s): temperature must be between 0 and 2", i, a.Name))
		}
		if a.MaxTurns < 0 || a.MaxTurns > 1000 {
			errs = append(errs, fmt.Sprintf("agents[%d] (%s): maxTurns must be between 0 and 1000", i, a.Name))
		}
	}
	if cfg.General.DefaultAgent != "" && !seen[cfg.General.DefaultAgent] {
		errs = append(errs, fmt.Sprintf("general.defaultAgent references unknown agent: %s", cfg.General.DefaultAgent))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
