// Package registry keeps the reference-counted mapping from symbols to the
// sessions currently viewing them.
package registry

import (
	"sort"
	"sync"
)

// Registry maps symbol -> viewer set and session -> symbols.
// A symbol is present iff at least one session views it; empty sets are never stored.
type Registry struct {
	mu       sync.RWMutex
	viewers  map[string]map[string]struct{}
	sessions map[string]map[string]struct{}
}

func New() *Registry {
	return &Registry{
		viewers:  make(map[string]map[string]struct{}),
		sessions: make(map[string]map[string]struct{}),
	}
}

// Join adds session to symbol's viewers and reports whether it was the first viewer.
func (r *Registry) Join(symbol, session string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.viewers[symbol]
	if !ok {
		set = make(map[string]struct{})
		r.viewers[symbol] = set
	}
	if _, already := set[session]; already {
		return false
	}
	set[session] = struct{}{}

	syms := r.sessions[session]
	if syms == nil {
		syms = make(map[string]struct{})
		r.sessions[session] = syms
	}
	syms[symbol] = struct{}{}

	return len(set) == 1
}

// Leave removes session from symbol's viewers and reports whether the symbol became empty.
// Leaving a symbol the session does not view is a no-op.
func (r *Registry) Leave(symbol, session string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(symbol, session)
}

// LeaveAll removes session from every symbol and returns the symbols that became empty.
func (r *Registry) LeaveAll(session string) []string {
	emptied, _ := r.LeaveWhere(session, nil)
	return emptied
}

// LeaveWhere removes session from the symbols accept allows, in one step, and
// returns the symbols that became empty and the ones it skipped. A nil accept
// allows every symbol.
func (r *Registry) LeaveWhere(session string, accept func(symbol string) bool) (emptied, skipped []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for symbol := range r.sessions[session] {
		if accept != nil && !accept(symbol) {
			skipped = append(skipped, symbol)
			continue
		}
		if r.leaveLocked(symbol, session) {
			emptied = append(emptied, symbol)
		}
	}
	sort.Strings(emptied)
	sort.Strings(skipped)
	return emptied, skipped
}

// leaveLocked must be called with mu held
func (r *Registry) leaveLocked(symbol, session string) bool {
	set, ok := r.viewers[symbol]
	if !ok {
		return false
	}
	if _, member := set[session]; !member {
		return false
	}
	delete(set, session)

	if syms := r.sessions[session]; syms != nil {
		delete(syms, symbol)
		if len(syms) == 0 {
			delete(r.sessions, session)
		}
	}

	if len(set) == 0 {
		delete(r.viewers, symbol)
		return true
	}
	return false
}

// Active reports whether symbol has at least one viewer.
func (r *Registry) Active(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.viewers[symbol]
	return ok
}

// Watching reports whether session currently views symbol.
func (r *Registry) Watching(symbol, session string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.viewers[symbol][session]
	return ok
}

func (r *Registry) Viewers(symbol string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.viewers[symbol])
}

func (r *Registry) SymbolsOf(session string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.sessions[session])
}

// Symbols returns every active symbol.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.viewers))
	for s := range r.viewers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Len is the number of active symbols.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.viewers)
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
