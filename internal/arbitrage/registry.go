package arbitrage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/polypulse/polypulse/internal/domain"
)

// Registry holds rules keyed by the edge type they evaluate.
type Registry struct {
	rules map[domain.EdgeType]Rule
	mu    sync.RWMutex
}

// NewRegistry returns an empty registry. Call Register to add rules.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[domain.EdgeType]Rule)}
}

// Register adds a rule under its edge type.
func (r *Registry) Register(rule Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rule.Type()] = rule
}

// Get returns the rule for an edge type, or an error if none is registered.
func (r *Registry) Get(t domain.EdgeType) (Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[t]
	if !ok {
		return nil, fmt.Errorf("arbitrage rule for edge type %q not found", t)
	}
	return rule, nil
}

// Types returns all registered edge types, sorted.
func (r *Registry) Types() []domain.EdgeType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]domain.EdgeType, 0, len(r.rules))
	for t := range r.rules {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
