// Package toolregistry exposes registered tools to the engine.
package toolregistry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/session"
	"github.com/desduvauchelle/tamias-sub001/internal/infra/tools/builtin/shared"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/logging"
)

var _ ports.ToolExecutor = (*Registry)(nil)

// Registry implements ports.ToolExecutor over a set of named tools.
type Registry struct {
	mu         sync.RWMutex
	tools      map[string]shared.Tool
	cachedDefs []ports.ToolDefinition
	defsDirty  bool
	logger     logging.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger logging.Logger) *Registry {
	return &Registry{
		tools:     make(map[string]shared.Tool),
		defsDirty: true,
		logger:    logging.OrNop(logger),
	}
}

// Register adds a tool. Names are unique.
func (r *Registry) Register(tool shared.Tool) error {
	name := strings.TrimSpace(tool.Definition().Name)
	if name == "" {
		return fmt.Errorf("tool name required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already exists: %s", name)
	}
	r.tools[name] = tool
	r.defsDirty = true
	return nil
}

// MustRegister registers every tool and panics on duplicates; used at boot.
func (r *Registry) MustRegister(tools ...shared.Tool) {
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			panic(err)
		}
	}
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; ok {
		delete(r.tools, name)
		r.defsDirty = true
	}
}

// Definitions returns every tool definition sorted by name.
func (r *Registry) Definitions() []ports.ToolDefinition {
	r.mu.RLock()
	if !r.defsDirty {
		defs := append([]ports.ToolDefinition(nil), r.cachedDefs...)
		r.mu.RUnlock()
		return defs
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.defsDirty {
		defs := make([]ports.ToolDefinition, 0, len(r.tools))
		for _, tool := range r.tools {
			defs = append(defs, tool.Definition())
		}
		sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
		r.cachedDefs = defs
		r.defsDirty = false
	}
	return append([]ports.ToolDefinition(nil), r.cachedDefs...)
}

// Execute validates and runs one call. A panicking tool is reported as an
// error result rather than taking the session down.
func (r *Registry) Execute(ctx context.Context, call session.ToolCall) (result ports.ToolResult, err error) {
	r.mu.RLock()
	tool, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		return ports.ToolResult{}, fmt.Errorf("tool not found: %s", call.Name)
	}
	if err := validateArguments(tool.Definition(), call.Arguments); err != nil {
		return ports.ToolResult{}, err
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool %s panicked: %v", call.Name, rec)
			result = ports.ToolResult{}
			err = fmt.Errorf("tool %s crashed: %v", call.Name, rec)
		}
	}()
	return tool.Execute(ctx, call)
}
