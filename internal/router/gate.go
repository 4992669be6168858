package router

import "sync"

// materializationGate is a keyed-mutex keyed on grouping signature: at most
// one goroutine may hold the lock for a given signature at a time, so
// concurrent misses for the same signature collapse into a single
// materialization. The entry for a signature is created on first acquisition
// and removed once the last waiter releases it, so idle signatures don't
// accumulate memory.
type materializationGate struct {
	mu      sync.Mutex
	entries map[string]*gateEntry
}

type gateEntry struct {
	mu       sync.Mutex
	refCount int
}

func newMaterializationGate() *materializationGate {
	return &materializationGate{entries: make(map[string]*gateEntry)}
}

// acquire blocks until the caller holds the gate for signature, and returns a
// release function that must be called exactly once.
func (g *materializationGate) acquire(signature string) func() {
	g.mu.Lock()
	entry, ok := g.entries[signature]
	if !ok {
		entry = &gateEntry{}
		g.entries[signature] = entry
	}
	entry.refCount++
	g.mu.Unlock()

	entry.mu.Lock()

	released := false
	return func() {
		if released {
			return
		}
		released = true
		entry.mu.Unlock()

		g.mu.Lock()
		entry.refCount--
		if entry.refCount == 0 {
			delete(g.entries, signature)
		}
		g.mu.Unlock()
	}
}
