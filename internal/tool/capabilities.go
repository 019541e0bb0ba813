package tool

import (
	"fmt"
	"sort"
	"strings"

	"kestrel/internal/domain"
)

// CapabilitiesSummary renders a human-readable digest of the named tools
// grouped by category: what each tool is for and what it can be asked to
// do. Unknown names are skipped; nil means all registered tools. Purely
// descriptive, never consulted during execution.
func (r *Registry) CapabilitiesSummary(names []string) string {
	return r.describe(names, false)
}

// PatternsReport is the detailed variant of CapabilitiesSummary: it adds
// example task phrasings and suggested multi-tool workflows.
func (r *Registry) PatternsReport(names []string) string {
	return r.describe(names, true)
}

func (r *Registry) describe(names []string, detailed bool) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(names) == 0 {
		names = r.namesLocked()
	} else {
		names = append([]string(nil), names...)
		sort.Strings(names)
	}

	byCategory := make(map[string][]domain.Tool)
	for _, n := range names {
		t, ok := r.tools[n]
		if !ok {
			continue
		}
		cat := "general"
		if pt, ok := t.(domain.PatternedTool); ok {
			if c := pt.Patterns().Category; c != "" {
				cat = c
			}
		}
		byCategory[cat] = append(byCategory[cat], t)
	}

	cats := make([]string, 0, len(byCategory))
	for c := range byCategory {
		cats = append(cats, c)
	}
	sort.Strings(cats)

	var b strings.Builder
	for _, cat := range cats {
		fmt.Fprintf(&b, "[%s]\n", cat)
		for _, t := range byCategory[cat] {
			fmt.Fprintf(&b, "  %s - %s\n", t.Name(), t.Description())
			if !detailed {
				continue
			}
			pt, ok := t.(domain.PatternedTool)
			if !ok {
				continue
			}
			p := pt.Patterns()
			for _, example := range p.Patterns {
				fmt.Fprintf(&b, "    e.g. %s\n", example)
			}
			if len(p.Workflows) > 0 {
				flows := make([]string, 0, len(p.Workflows))
				for name := range p.Workflows {
					flows = append(flows, name)
				}
				sort.Strings(flows)
				for _, name := range flows {
					fmt.Fprintf(&b, "    workflow %s: %s\n", name, strings.Join(p.Workflows[name], " -> "))
				}
			}
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
