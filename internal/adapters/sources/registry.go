package sources

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jobwell/jobwell-go/internal/core"
	apperrors "github.com/jobwell/jobwell-go/internal/errors"
)

// Registry resolves source names from ingestion payloads to clients.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]core.SourceClient
}

// NewRegistry creates an empty source registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]core.SourceClient)}
}

// Register adds a client under its own name. Re-registering a name is a
// programming error.
func (r *Registry) Register(client core.SourceClient) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := client.Name()
	if _, exists := r.clients[name]; exists {
		return fmt.Errorf("source %s already registered", name)
	}
	r.clients[name] = client
	return nil
}

// Get resolves a source by name. An unknown name is a permanent condition:
// retrying the same task cannot make the source appear.
func (r *Registry) Get(name string) (core.SourceClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.clients[name]
	if !ok {
		return nil, apperrors.PermanentUpstreamf("unknown source %q", name)
	}
	return client, nil
}

// Names lists registered source names in stable order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.clients))
	for name := range r.clients {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
