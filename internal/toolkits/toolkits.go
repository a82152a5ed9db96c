// Package toolkits talks to the external tool-execution gateway and
// narrows the per-turn tool set to the toolkits a turn actually needs.
package toolkits

import (
	"fmt"
	"slices"
	"strings"

	"github.com/meai/backend/internal/intent"
)

// SearchToolkit is the gateway's built-in web-search bundle. It needs
// no user connection, so it bypasses the enablement check.
const SearchToolkit = "COMPOSIO_SEARCH"

// Tool is one executable tool definition fetched from the gateway.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Toolkit     string         `json:"toolkit"`
	Parameters  map[string]any `json:"parameters"`
}

// Definition renders the tool in the function-call format the model
// providers accept.
func (t Tool) Definition() map[string]any {
	params := t.Parameters
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"parameters":  params,
		},
	}
}

// ErrToolUnavailable is returned when a tool call targets a tool that
// is not in the turn's tool set. This is a capability mismatch, not a
// transient failure; the loop reports it to the model instead of
// retrying.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}

// SelectToolkits resolves classifier labels against a user's enabled
// toolkits. The result is the intersection of labeled and enabled
// toolkits, plus the search bundle when SEARCH was emitted. NO_TOOL
// contributes nothing, so a pure NO_TOOL turn yields an empty set.
func SelectToolkits(labels, enabled []string) []string {
	enabledSet := make(map[string]bool, len(enabled))
	for _, slug := range enabled {
		enabledSet[strings.ToUpper(slug)] = true
	}

	var selected []string
	for _, label := range labels {
		switch label {
		case intent.NoTool:
		case intent.Search:
			if !slices.Contains(selected, SearchToolkit) {
				selected = append(selected, SearchToolkit)
			}
		default:
			if enabledSet[label] && !slices.Contains(selected, label) {
				selected = append(selected, label)
			}
		}
	}
	return selected
}

// Registry is the per-turn tool set, keyed by tool name.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry builds a registry from gateway tool definitions,
// preserving their order.
func NewRegistry(tools []Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if _, dup := r.tools[t.Name]; dup {
			continue
		}
		r.tools[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	return r
}

// Len returns the number of tools in the registry.
func (r *Registry) Len() int {
	return len(r.order)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns all tool definitions in registry order, ready to
// pass to a model call. Returns nil for an empty registry so providers
// omit the tools field entirely.
func (r *Registry) Definitions() []map[string]any {
	if len(r.order) == 0 {
		return nil
	}
	defs := make([]map[string]any, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}
