package backend

import (
	"fmt"
	"sort"
	"sync"

	"github.com/seantiz/smtbridge/internal/model"
)

// autoRouting maps script languages to their default backend for auto-resolution.
var autoRouting = map[string]string{
	model.LanguageSMT2:   model.BackendGini,
	model.LanguageDIMACS: model.BackendGini,
}

// Info pairs a backend name with its capabilities.
type Info struct {
	Name         string       `json:"name"`
	Capabilities Capabilities `json:"capabilities"`
}

// Registry holds registered backends and resolves which one to use for a given
// job based on the requested backend and script language.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Backend),
	}
}

// Register adds a backend to the registry under the given name.
func (r *Registry) Register(name string, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = b
}

// Resolve returns the name and backend to use for the given backend name and
// language. An empty name or "auto" uses the autoRouting table. It returns an
// error if the resolved backend is not registered.
func (r *Registry) Resolve(name, language string) (string, Backend, error) {
	target := name
	if target == "" || target == model.BackendAuto {
		resolved, ok := autoRouting[language]
		if !ok {
			return "", nil, fmt.Errorf("no auto-routing rule for language %q", language)
		}
		target = resolved
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[target]
	if !ok {
		return "", nil, fmt.Errorf("backend %q is not registered", target)
	}
	return target, b, nil
}

// List returns information about all registered backends, sorted by name
// for a stable API response.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.backends))
	for name, b := range r.backends {
		infos = append(infos, Info{
			Name:         name,
			Capabilities: b.Capabilities(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
