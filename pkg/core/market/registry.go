package market

import (
	"fmt"
	"sync"
)

// Registry manages markets in a thread-safe manner. Status updates arrive
// from the market-lifecycle collaborator; the matching core only reads.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*Market
}

func NewRegistry() *Registry {
	return &Registry{markets: make(map[string]*Market)}
}

// Register adds a market. Returns an error if the id is already taken.
func (r *Registry) Register(m *Market) error {
	if m == nil {
		return fmt.Errorf("cannot register nil market")
	}
	if len(m.Outcomes) < 2 {
		return fmt.Errorf("market %s needs at least two outcomes", m.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.markets[m.ID]; exists {
		return fmt.Errorf("market %s already registered", m.ID)
	}
	r.markets[m.ID] = m
	return nil
}

// Get retrieves a market by id.
func (r *Registry) Get(id string) (*Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[id]
	return m, ok
}

// List returns all registered markets.
func (r *Registry) List() []*Market {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	return out
}

// Status reads a market's current trading status under the registry lock.
func (r *Registry) Status(id string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[id]
	if !ok {
		return Active, false
	}
	return m.Status, true
}

// SetStatus updates a market's trading status. Resolved is terminal.
func (r *Registry) SetStatus(id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, exists := r.markets[id]
	if !exists {
		return fmt.Errorf("market %s not found", id)
	}
	if m.Status == Resolved {
		return fmt.Errorf("market %s is resolved (terminal status)", id)
	}
	m.Status = status
	return nil
}
