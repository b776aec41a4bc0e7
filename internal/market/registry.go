package market

import (
	"sync"

	"github.com/exchange-kernel/spotkernel/internal/kernelerr"
)

// Registry is a thread-safe map of market-id and token-ticker to their
// immutable definitions. Admin writes are rare; reads dominate.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*Market
	tokens  map[string]*Token
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		markets: make(map[string]*Market),
		tokens:  make(map[string]*Token),
	}
}

// CreateToken registers a new token. Fails AlreadyExists on duplicate ticker.
func (r *Registry) CreateToken(t *Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tokens[t.Ticker]; exists {
		return kernelerr.E(kernelerr.AlreadyExists, "registry.CreateToken", nil)
	}
	r.tokens[t.Ticker] = t
	return nil
}

// GetToken looks up a token by ticker.
func (r *Registry) GetToken(ticker string) (*Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[ticker]
	if !ok {
		return nil, kernelerr.E(kernelerr.UnknownToken, "registry.GetToken", nil)
	}
	return t, nil
}

// ListTokens returns every registered token.
func (r *Registry) ListTokens() []*Token {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Token, 0, len(r.tokens))
	for _, t := range r.tokens {
		out = append(out, t)
	}
	return out
}

// CreateMarket registers a new market. Fails AlreadyExists on duplicate
// id, UnknownToken if either leg is not registered.
func (r *Registry) CreateMarket(m *Market) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.markets[m.ID]; exists {
		return kernelerr.E(kernelerr.AlreadyExists, "registry.CreateMarket", nil)
	}
	if _, ok := r.tokens[m.BaseTicker]; !ok {
		return kernelerr.E(kernelerr.UnknownToken, "registry.CreateMarket", nil)
	}
	if _, ok := r.tokens[m.QuoteTicker]; !ok {
		return kernelerr.E(kernelerr.UnknownToken, "registry.CreateMarket", nil)
	}
	r.markets[m.ID] = m
	return nil
}

// GetMarket looks up a market by id. Fails UnknownMarket if absent.
func (r *Registry) GetMarket(id string) (*Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[id]
	if !ok {
		return nil, kernelerr.E(kernelerr.UnknownMarket, "registry.GetMarket", nil)
	}
	return m, nil
}

// ListMarkets returns every registered market.
func (r *Registry) ListMarkets() []*Market {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	return out
}

// UpdateStatus changes a market's trading status, rejecting any
// transition out of Settled (terminal state).
func (r *Registry) UpdateStatus(id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.markets[id]
	if !ok {
		return kernelerr.E(kernelerr.UnknownMarket, "registry.UpdateStatus", nil)
	}
	if m.Status == Settled {
		return kernelerr.E(kernelerr.InvalidOrder, "registry.UpdateStatus", nil)
	}
	m.Status = status
	return nil
}

// Exists reports whether a market id is registered.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.markets[id]
	return ok
}
