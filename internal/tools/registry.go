package tools

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownTool indicates the requested path is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// Registry maps dotted tool paths to definitions. It is read-mostly:
// registration happens at boot and on tool-source import; lookups are
// lock-cheap and enumeration is stable by path.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Definition)}
}

// Register adds or replaces a definition. Paths must be dotted
// (namespace.operation); schemas compile at registration.
func (r *Registry) Register(def *Definition) error {
	if def == nil {
		return fmt.Errorf("definition is required")
	}
	path := strings.TrimSpace(def.Path)
	if path == "" {
		return fmt.Errorf("tool path is required")
	}
	if def.Run == nil {
		return fmt.Errorf("tool %s: run function is required", path)
	}
	if def.Approval == "" {
		def.Approval = ApprovalAuto
	}
	if err := def.compile(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[path] = def
	return nil
}

// Unregister removes a definition; unknown paths are a no-op.
func (r *Registry) Unregister(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, path)
}

// Resolve returns the definition for a path or ErrUnknownTool.
func (r *Registry) Resolve(path string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, path)
	}
	return def, nil
}

// List returns all definitions ordered by path.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*Definition, 0, len(r.tools))
	for _, def := range r.tools {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Path < defs[j].Path })
	return defs
}

// ReplaceSource atomically swaps every definition belonging to the
// named source with the given set. Used by importers on re-sync.
func (r *Registry) ReplaceSource(source string, defs []*Definition) error {
	for _, def := range defs {
		if def.Source != source {
			return fmt.Errorf("tool %s: source %q does not match %q", def.Path, def.Source, source)
		}
		if err := def.compile(); err != nil {
			return err
		}
		if def.Approval == "" {
			def.Approval = ApprovalAuto
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for path, def := range r.tools {
		if def.Source == source {
			delete(r.tools, path)
		}
	}
	for _, def := range defs {
		r.tools[def.Path] = def
	}
	return nil
}
