package schema

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/engramhq/engram/internal/logging"
)

// Registry holds every schema registered during startup. After Freeze the
// registry is immutable and safe for concurrent reads.
type Registry struct {
	mu     sync.RWMutex
	defs   map[string]Definition
	frozen bool
	logger *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		defs:   make(map[string]Definition),
		logger: logging.GetLogger("schema"),
	}
}

// Register adds a definition under its name. A duplicate name replaces the
// earlier registration with a warning, so a project-specific load wins over
// the root load.
func (r *Registry) Register(def Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("registry is frozen; schema %q registered after startup", def.Name)
	}
	if _, exists := r.defs[def.Name]; exists {
		r.logger.Warn("schema %q already registered, replacing earlier definition", def.Name)
	}
	r.defs[def.Name] = def
	return nil
}

// LoadDir loads schema files from dir. An empty selector loads every
// .yaml/.yml file recursively; otherwise selector is a comma-separated list
// of immediate subdirectory names to load recursively. Files that fail to
// parse are logged and skipped. A missing directory is a warning; an
// unreadable existing directory is an error.
func (r *Registry) LoadDir(dir, selector string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		r.logger.Warn("schema directory %s does not exist, skipping", dir)
		return nil
	}
	if err != nil {
		return fmt.Errorf("schema directory %s is not readable: %w", dir, err)
	}
	if !info.IsDir() {
		r.logger.Warn("schema path %s is not a directory, skipping", dir)
		return nil
	}

	selector = strings.TrimSpace(selector)
	if selector == "" {
		r.logger.Info("loading all schemas from %s", dir)
		return r.loadTree(dir)
	}

	for _, sub := range strings.Split(selector, ",") {
		sub = strings.TrimSpace(sub)
		if sub == "" {
			continue
		}
		target := filepath.Join(dir, sub)
		if info, err := os.Stat(target); err != nil || !info.IsDir() {
			r.logger.Warn("schema subdirectory %s does not exist, skipping", target)
			continue
		}
		r.logger.Info("loading schemas from %s", target)
		if err := r.loadTree(target); err != nil {
			return err
		}
	}
	return nil
}

// loadTree walks root and registers every schema document found. Individual
// file failures are non-fatal.
func (r *Registry) loadTree(root string) error {
	loaded := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			r.logger.Error("failed to read schema file %s: %v", path, err)
			return nil
		}
		defs, err := ParseBytes(data)
		if err != nil {
			r.logger.Error("failed to load schema file %s: %v", path, err)
			return nil
		}
		for _, def := range defs {
			if err := r.Register(def); err != nil {
				return err
			}
			r.logger.Debug("registered schema %q from %s", def.Name, filepath.Base(path))
			loaded++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk schema directory %s: %w", root, err)
	}
	if loaded == 0 {
		r.logger.Warn("no schemas found under %s", root)
	}
	return nil
}

// Freeze marks the end of startup registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
	r.logger.Info("schema registry frozen with %d schemas: %s", len(r.defs), strings.Join(r.names(), ", "))
}

// All returns every registered schema keyed by name.
func (r *Registry) All() map[string]Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Definition, len(r.defs))
	for name, def := range r.defs {
		out[name] = def
	}
	return out
}

// Subset returns the named schemas. Absent names are silently omitted.
func (r *Registry) Subset(names []string) map[string]Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Definition, len(names))
	for _, name := range names {
		if def, ok := r.defs[name]; ok {
			out[name] = def
		}
	}
	return out
}

// Names returns all registered schema names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names()
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
