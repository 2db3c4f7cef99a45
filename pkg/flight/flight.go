// Package flight coalesces concurrent calls for the same key so the work runs
// once and every caller shares its result. Results are not cached: a call
// that starts after the work finished runs it again.
package flight

import (
	"sync"
)

type Group[K comparable, V any] struct {
	mu      sync.Mutex
	pending map[K]*job[V]
}

type job[V any] struct {
	val    V
	err    error
	shared int
	done   chan struct{}
}

func NewGroup[K comparable, V any]() *Group[K, V] {
	return &Group[K, V]{pending: make(map[K]*job[V])}
}

// Do runs work for k unless a call for k is already in flight, in which case
// it waits for that call. shared reports whether the result went to more than
// one caller.
func (g *Group[K, V]) Do(k K, work func() (V, error)) (v V, err error, shared bool) {
	g.mu.Lock()
	if g.pending == nil {
		g.pending = make(map[K]*job[V])
	}
	if j, ok := g.pending[k]; ok {
		j.shared++
		g.mu.Unlock()
		<-j.done
		return j.val, j.err, true
	}

	j := &job[V]{done: make(chan struct{})}
	g.pending[k] = j
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.pending, k)
		g.mu.Unlock()
		close(j.done)
	}()

	j.val, j.err = work()
	g.mu.Lock()
	shared = j.shared > 0
	g.mu.Unlock()
	return j.val, j.err, shared
}

// Waiters reports how many callers are waiting on the work running for k.
func (g *Group[K, V]) Waiters(k K) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if j, ok := g.pending[k]; ok {
		return j.shared
	}
	return 0
}

// InFlight reports how many keys currently have work running.
func (g *Group[K, V]) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}
