package symbols

import (
	"sort"
	"strings"
	"sync"

	"equity-terminal/internal/events"
)

// Normalize upper-cases and trims a symbol argument.
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Registry owns the symbol -> State mapping and the active symbol.
// A State exists exactly while its symbol is subscribed.
type Registry struct {
	mu     sync.RWMutex
	states map[string]*State
	active string
	bus    *events.Bus
}

// NewRegistry creates an empty registry.
func NewRegistry(bus *events.Bus) *Registry {
	return &Registry{states: make(map[string]*State), bus: bus}
}

// GetOrCreate returns the state for symbol, creating it on first use.
// created is true only for the call that created it.
func (r *Registry) GetOrCreate(symbol string) (st *State, created bool) {
	symbol = Normalize(symbol)
	if symbol == "" {
		return nil, false
	}
	r.mu.Lock()
	st, ok := r.states[symbol]
	if !ok {
		st = newState(symbol)
		r.states[symbol] = st
	}
	r.mu.Unlock()
	if !ok {
		r.bus.Publish(events.EventSymbolAdded, events.SymbolChange{Symbol: symbol})
	}
	return st, !ok
}

// Get is a non-creating lookup.
func (r *Registry) Get(symbol string) (*State, bool) {
	symbol = Normalize(symbol)
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.states[symbol]
	return st, ok
}

// Remove drops the symbol. If it was active, the active symbol becomes undefined.
func (r *Registry) Remove(symbol string) bool {
	symbol = Normalize(symbol)
	r.mu.Lock()
	_, ok := r.states[symbol]
	wasActive := ok && r.active == symbol
	if ok {
		delete(r.states, symbol)
		if wasActive {
			r.active = ""
		}
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.bus.Publish(events.EventSymbolRemoved, events.SymbolChange{Symbol: symbol})
	if wasActive {
		r.bus.Publish(events.EventActiveChanged, events.SymbolChange{})
	}
	return true
}

// ActiveSymbol returns the active symbol, or "" when undefined.
func (r *Registry) ActiveSymbol() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// SetActiveSymbol switches the active symbol. Unknown or unchanged symbols are a no-op.
func (r *Registry) SetActiveSymbol(symbol string) bool {
	symbol = Normalize(symbol)
	r.mu.Lock()
	_, known := r.states[symbol]
	if !known || r.active == symbol {
		r.mu.Unlock()
		return false
	}
	r.active = symbol
	r.mu.Unlock()
	r.bus.Publish(events.EventActiveChanged, events.SymbolChange{Symbol: symbol})
	return true
}

// Symbols returns the subscribed symbols in sorted order.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.states))
	for s := range r.states {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Each calls fn for every state; fn must not call back into the registry.
func (r *Registry) Each(fn func(*State)) {
	r.mu.RLock()
	states := make([]*State, 0, len(r.states))
	for _, st := range r.states {
		states = append(states, st)
	}
	r.mu.RUnlock()
	for _, st := range states {
		fn(st)
	}
}
