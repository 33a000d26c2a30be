package chain

import (
	"sort"
	"sync"

	xerrors "OpenMCP-ChainManager/internal/errors"
)

// Registry holds the supported chain configurations keyed by normalized
// chain id. It is safe for concurrent use and only hands out copies.
type Registry struct {
	mu     sync.RWMutex
	chains map[string]Config
	order  []string
}

// NewRegistry builds a registry from the given configs. Every config is
// validated and sanitized; duplicates are rejected.
func NewRegistry(configs ...Config) (*Registry, error) {
	r := &Registry{chains: make(map[string]Config, len(configs))}
	for _, cfg := range configs {
		if err := Validate(cfg).Err(); err != nil {
			return nil, err
		}
		if _, err := r.Insert(Sanitize(cfg)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Insert stores an already sanitized config. It fails with DUPLICATE_CHAIN
// when the id is taken.
func (r *Registry) Insert(cfg Config) (Config, error) {
	id := NormalizeChainID(cfg.ChainID)
	stored := cfg.Clone()
	stored.ChainID = id

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.chains[id]; exists {
		return Config{}, xerrors.New(xerrors.CodeDuplicateChain, "链已存在: "+id)
	}
	r.chains[id] = stored
	r.order = append(r.order, id)
	return stored.Clone(), nil
}

// Delete removes a chain. It reports whether the chain was present.
func (r *Registry) Delete(chainID string) bool {
	id := NormalizeChainID(chainID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.chains[id]; !ok {
		return false
	}
	delete(r.chains, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns a copy of the config registered under chainID.
func (r *Registry) Get(chainID string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.chains[NormalizeChainID(chainID)]
	if !ok {
		return Config{}, false
	}
	return cfg.Clone(), true
}

// Has reports whether chainID is registered.
func (r *Registry) Has(chainID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.chains[NormalizeChainID(chainID)]
	return ok
}

// List returns copies of every config in insertion order.
func (r *Registry) List() []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Config, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.chains[id].Clone())
	}
	return out
}

// IDs returns the registered chain ids sorted lexically.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := append([]string(nil), r.order...)
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered chains.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chains)
}

// Clear drops every registered chain.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains = make(map[string]Config)
	r.order = nil
}
