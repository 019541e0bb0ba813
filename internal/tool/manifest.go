package tool

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"kestrel/internal/domain"

	"gopkg.in/yaml.v3"
)

// Manifest is the YAML description of a command-backed tool. A manifest
// lives either as <dir>/<name>.yaml or as <dir>/<name>/tool.yaml.
type Manifest struct {
	Name        string                   `yaml:"name"`
	Description string                   `yaml:"description"`
	Command     []string                 `yaml:"command"`
	Timeout     int                      `yaml:"timeout"` // seconds
	Category    string                   `yaml:"category"`
	Patterns    []string                 `yaml:"patterns"`
	Workflows   map[string][]string      `yaml:"workflows"`
	Parameters  map[string]ManifestParam `yaml:"parameters"`
}

type ManifestParam struct {
	Type        string   `yaml:"type"`
	Description string   `yaml:"description"`
	Enum        []string `yaml:"enum"`
	Default     any      `yaml:"default"`
	Required    bool     `yaml:"required"`
}

const defaultManifestTimeout = 60 * time.Second

// LoadDirectory scans dir for tool manifests and registers the resulting
// command tools under the given origin label. Later directories override
// earlier registrations by name. A manifest that cannot be read or parsed
// is logged and skipped; the scan continues. A missing directory is not an
// error. Returns the number of tools loaded.
func (r *Registry) LoadDirectory(dir, origin string) (int, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		r.logger.Debug("tool directory does not exist, skipping", "dir", dir)
		return 0, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read tool dir: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			path = filepath.Join(path, "tool.yaml")
			if _, err := os.Stat(path); err != nil {
				continue
			}
		} else if !strings.HasSuffix(entry.Name(), ".yaml") && !strings.HasSuffix(entry.Name(), ".yml") {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			r.logger.Warn("cannot read tool manifest", "path", path, "err", err)
			continue
		}

		var m Manifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			r.logger.Warn("cannot parse tool manifest", "path", path, "err", err)
			continue
		}
		if m.Name == "" {
			base := entry.Name()
			if entry.IsDir() {
				m.Name = base
			} else {
				m.Name = strings.TrimSuffix(base, filepath.Ext(base))
			}
		}
		if len(m.Command) == 0 {
			r.logger.Warn("tool manifest has no command", "path", path, "name", m.Name)
			continue
		}

		r.register(newCommandTool(m), origin)
		r.logger.Info("loaded tool manifest", "name", m.Name, "path", path, "origin", origin)
		loaded++
	}
	return loaded, nil
}

// CommandTool runs a subprocess described by a manifest. Arguments fill
// {name} placeholders in the argv template and are also exported as
// KESTREL_ARG_<NAME> environment variables.
type CommandTool struct {
	manifest Manifest
	params   map[string]any
	timeout  time.Duration
}

func newCommandTool(m Manifest) *CommandTool {
	props := make(map[string]Param, len(m.Parameters))
	var required []string
	for name, p := range m.Parameters {
		typ := p.Type
		if typ == "" {
			typ = "string"
		}
		props[name] = Param{Type: typ, Description: p.Description, Enum: p.Enum, Default: p.Default}
		if p.Required {
			required = append(required, name)
		}
	}
	timeout := defaultManifestTimeout
	if m.Timeout > 0 {
		timeout = time.Duration(m.Timeout) * time.Second
	}
	return &CommandTool{
		manifest: m,
		params:   ToolParameters(props, required),
		timeout:  timeout,
	}
}

func (t *CommandTool) Name() string { return t.manifest.Name }

func (t *CommandTool) Description() string { return t.manifest.Description }

func (t *CommandTool) Parameters() map[string]any { return t.params }

func (t *CommandTool) Patterns() domain.UsagePatterns {
	return domain.UsagePatterns{
		Category:  t.manifest.Category,
		Patterns:  t.manifest.Patterns,
		Workflows: t.manifest.Workflows,
	}
}

func (t *CommandTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	merged := make(map[string]string)
	for name, p := range t.manifest.Parameters {
		if p.Default != nil {
			merged[name] = fmt.Sprintf("%v", p.Default)
		}
	}
	for name, v := range args {
		merged[name] = fmt.Sprintf("%v", v)
	}

	argv := make([]string, len(t.manifest.Command))
	for i, part := range t.manifest.Command {
		for name, v := range merged {
			part = strings.ReplaceAll(part, "{"+name+"}", v)
		}
		argv[i] = part
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = os.Environ()
	for name, v := range merged {
		cmd.Env = append(cmd.Env, "KESTREL_ARG_"+strings.ToUpper(name)+"="+v)
	}

	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("command tool %s timed out after %s", t.manifest.Name, t.timeout)
	}
	if err != nil {
		return "", fmt.Errorf("command tool %s: %w\n%s", t.manifest.Name, err, string(out))
	}
	return string(out), nil
}

var _ domain.PatternedTool = (*CommandTool)(nil)
