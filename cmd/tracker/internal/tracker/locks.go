package tracker

import (
	"hash/fnv"
	"sort"
	"sync"
)

// symbolLocks stripes symbols over a fixed set of mutexes. Two symbols may
// share a stripe; one symbol always maps to the same stripe.
type symbolLocks struct {
	stripes []sync.Mutex
}

func newSymbolLocks(n int) *symbolLocks {
	if n <= 0 {
		n = 1
	}
	return &symbolLocks{stripes: make([]sync.Mutex, n)}
}

func (l *symbolLocks) stripe(symbol string) int {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(len(l.stripes)))
}

// Lock holds the stripe of symbol until the returned func is called.
func (l *symbolLocks) Lock(symbol string) func() {
	mu := &l.stripes[l.stripe(symbol)]
	mu.Lock()
	return mu.Unlock
}

// LockMany takes the stripes of all symbols in ascending order, so two
// callers can never deadlock on overlapping sets. It returns the set of
// held stripes along with the release func.
func (l *symbolLocks) LockMany(symbols []string) (map[int]bool, func()) {
	held := make(map[int]bool, len(symbols))
	for _, s := range symbols {
		held[l.stripe(s)] = true
	}
	order := make([]int, 0, len(held))
	for i := range held {
		order = append(order, i)
	}
	sort.Ints(order)

	for _, i := range order {
		l.stripes[i].Lock()
	}
	return held, func() {
		for j := len(order) - 1; j >= 0; j-- {
			l.stripes[order[j]].Unlock()
		}
	}
}

// Covers reports whether symbol's stripe is in held.
func (l *symbolLocks) Covers(held map[int]bool, symbol string) bool {
	return held[l.stripe(symbol)]
}
