package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"kestrel/internal/domain"
)

const maxReadBytes = 256 * 1024

// resolveInWorkspace turns a model-supplied path into an absolute path and
// rejects anything that escapes the workspace root, including `..` hops and
// absolute paths pointing elsewhere.
func resolveInWorkspace(workspace, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("path must not be empty")
	}
	root, err := filepath.Abs(workspace)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	abs = filepath.Clean(abs)
	if abs != root && !strings.HasPrefix(abs, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %q is outside the workspace", p)
	}
	return abs, nil
}

// ReadFileTool returns the contents of a file inside the workspace.
type ReadFileTool struct {
	workspace string
}

func NewReadFileTool(workspace string) *ReadFileTool {
	return &ReadFileTool{workspace: workspace}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read a file from the workspace and return its contents."
}

func (t *ReadFileTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"path": {
			Type:        "string",
			Description: "File path, relative to the workspace",
		},
	}, []string{"path"})
}

func (t *ReadFileTool) Patterns() domain.UsagePatterns {
	return domain.UsagePatterns{
		Category: "files",
		Patterns: []string{
			"show the contents of config.yaml",
			"read the TODO list and summarize it",
		},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, err := resolveInWorkspace(t.workspace, ArgsString(args, "path"))
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) > maxReadBytes {
		return string(data[:maxReadBytes]) + "\n... (file truncated)", nil
	}
	return string(data), nil
}

// WriteFileTool writes a file inside the workspace, creating parent
// directories as needed.
type WriteFileTool struct {
	workspace string
}

func NewWriteFileTool(workspace string) *WriteFileTool {
	return &WriteFileTool{workspace: workspace}
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file in the workspace, replacing it if it exists."
}

func (t *WriteFileTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"path": {
			Type:        "string",
			Description: "File path, relative to the workspace",
		},
		"content": {
			Type:        "string",
			Description: "Full content to write",
		},
	}, []string{"path", "content"})
}

func (t *WriteFileTool) Patterns() domain.UsagePatterns {
	return domain.UsagePatterns{
		Category: "files",
		Patterns: []string{
			"save the report to notes/summary.md",
			"create a starter Makefile",
		},
		Workflows: map[string][]string{
			"draft and review": {"write_file", "read_file"},
		},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, err := resolveInWorkspace(t.workspace, ArgsString(args, "path"))
	if err != nil {
		return "", err
	}
	content := ArgsString(args, "content")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
}

// ListDirTool lists a directory inside the workspace.
type ListDirTool struct {
	workspace string
}

func NewListDirTool(workspace string) *ListDirTool {
	return &ListDirTool{workspace: workspace}
}

func (t *ListDirTool) Name() string { return "list_dir" }

func (t *ListDirTool) Description() string {
	return "List the entries of a workspace directory. Directories carry a trailing slash."
}

func (t *ListDirTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"path": {
			Type:        "string",
			Description: "Directory path relative to the workspace, defaults to the workspace root",
			Default:     ".",
		},
	}, nil)
}

func (t *ListDirTool) Patterns() domain.UsagePatterns {
	return domain.UsagePatterns{
		Category: "files",
		Patterns: []string{
			"what files are in the src directory",
		},
		Workflows: map[string][]string{
			"explore a project": {"list_dir", "read_file"},
		},
	}
}

func (t *ListDirTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	rel := ArgsString(args, "path")
	if strings.TrimSpace(rel) == "" {
		rel = "."
	}
	path, err := resolveInWorkspace(t.workspace, rel)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", path, err)
	}
	if len(entries) == 0 {
		return "(empty directory)", nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name()+"/")
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}

var (
	_ domain.PatternedTool = (*ReadFileTool)(nil)
	_ domain.PatternedTool = (*WriteFileTool)(nil)
	_ domain.PatternedTool = (*ListDirTool)(nil)
)
