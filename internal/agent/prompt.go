package agent

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"kestrel/internal/domain"
	"kestrel/internal/memory"
)

// PromptBuilder assembles the message list for a model call: a system
// prompt built from the agent's identity, runtime facts and rules,
// followed by the session's turn window. The system prompt is rebuilt
// on every call so the time and context sections stay current.
type PromptBuilder struct {
	agentName string
	workspace string
	rules     []string
}

func NewPromptBuilder(agentName, workspace string, rules []string) *PromptBuilder {
	return &PromptBuilder{
		agentName: agentName,
		workspace: workspace,
		rules:     rules,
	}
}

// Messages builds the full provider message list for one model call.
func (p *PromptBuilder) Messages(sess *memory.Session, additional map[string]string) []domain.Message {
	msgs := make([]domain.Message, 0, sess.Len()+1)
	msgs = append(msgs, domain.Message{
		Role:    "system",
		Content: p.System(additional, sess.ContextSnapshot()),
	})
	return append(msgs, sess.All()...)
}

// System renders the system prompt. additional entries are one-off
// context supplied by the caller for this run; scratch is the session's
// accumulated context map.
func (p *PromptBuilder) System(additional map[string]string, scratch map[string]any) string {
	workspacePath, err := filepath.Abs(p.workspace)
	if err != nil {
		workspacePath = p.workspace
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", p.agentName)
	fmt.Fprintf(&b, "You are %s, an autonomous task agent. You satisfy the user's request by calling tools and reasoning over their results, then answer in plain text when the task is done.\n", p.agentName)

	fmt.Fprintf(&b, "\n## Current Time\n%s\n", time.Now().Format("2006-01-02 15:04 (Monday)"))
	fmt.Fprintf(&b, "\n## Runtime\n%s %s, Go %s\n", runtime.GOOS, runtime.GOARCH, runtime.Version())
	fmt.Fprintf(&b, "\n## Workspace\n%s\n", workspacePath)

	if len(p.rules) > 0 {
		b.WriteString("\n## Rules\n")
		for i, rule := range p.rules {
			fmt.Fprintf(&b, "%d. %s\n", i+1, rule)
		}
	}

	b.WriteString(`
## Tool Use
- Act through the tool calling mechanism; never print raw JSON tool calls as text.
- When a tool fails, read the error and adjust the call or pick another tool.
- When the task is complete, reply with the result in plain text and stop calling tools.
`)

	writeContextBlock(&b, additional, scratch)
	return b.String()
}

// writeContextBlock renders caller-supplied context and the session
// scratch map as a labelled block. Nothing is written when both are
// empty.
func writeContextBlock(b *strings.Builder, additional map[string]string, scratch map[string]any) {
	if len(additional) == 0 && len(scratch) == 0 {
		return
	}

	b.WriteString("\n## Context\n")
	for _, k := range sortedKeys(additional) {
		fmt.Fprintf(b, "- %s: %s\n", k, additional[k])
	}
	for _, k := range sortedAnyKeys(scratch) {
		fmt.Fprintf(b, "- %s: %v\n", k, scratch[k])
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedAnyKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
