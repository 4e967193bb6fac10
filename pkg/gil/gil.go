// Package gil implements the Global Interpreter Lock: a single-owner,
// strictly FIFO scheduler for cooperatively scheduled Script-Threads, and
// the Observer API used to swap thread-local state on every context
// switch. See spec.md §4.1 and §5.
package gil

import (
	"sync"

	"fish.sh/concur/pkg/diag"
)

// Gil is the scheduler and mutex that serializes Script-Threads. The zero
// value is not usable; construct one with New.
type Gil struct {
	mu        sync.Mutex
	hasOwner  bool
	owner     ThreadID
	waitqueue []*Thread
	observers []Observer
	nextID    uint64
	alive     map[ThreadID]*Thread
}

// New creates an empty Gil with no owner, no waiters and no threads.
func New() *Gil {
	return &Gil{alive: make(map[ThreadID]*Thread)}
}

// AddObserver registers an observer. Per spec.md §9, new observers may be
// registered at runtime as long as it happens before scheduling begins for
// any thread the observer cares about; there is no way to unregister one.
func (g *Gil) AddObserver(o Observer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observers = append(g.observers, o)
}

func (g *Gil) snapshotObservers() []Observer {
	return append([]Observer(nil), g.observers...)
}

// Spawn registers a new Script-Thread and fires DidSpawn on every observer,
// after releasing the Gil's bookkeeping lock. It does not schedule the
// thread; the caller must still call Run.
func (g *Gil) Spawn() *Thread {
	g.mu.Lock()
	g.nextID++
	id := ThreadID(g.nextID)
	t := &Thread{id: id, gil: g, wake: make(chan struct{}, 1)}
	g.alive[id] = t
	observers := g.snapshotObservers()
	g.mu.Unlock()

	for _, o := range observers {
		o.DidSpawn(id)
	}
	return t
}

// Owner reports the currently scheduled thread, if any.
func (g *Gil) Owner() (id ThreadID, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.owner, g.hasOwner
}

// Waiting reports the number of threads currently enqueued.
func (g *Gil) Waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waitqueue)
}

// WaitQueue returns a snapshot of the FIFO waitqueue, in scheduling order.
func (g *Gil) WaitQueue() []ThreadID {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]ThreadID, len(g.waitqueue))
	for i, t := range g.waitqueue {
		ids[i] = t.id
	}
	return ids
}

func (g *Gil) run(t *Thread) {
	g.mu.Lock()
	if !g.hasOwner {
		g.hasOwner = true
		g.owner = t.id
		g.mu.Unlock()
	} else {
		g.waitqueue = append(g.waitqueue, t)
		g.mu.Unlock()
		<-t.wake
		// The releaser has already recorded us as the owner before
		// waking us up; see release below.
	}
	g.mu.Lock()
	observers := g.snapshotObservers()
	g.mu.Unlock()
	for _, o := range observers {
		o.DidSchedule(t.id)
	}
}

func (g *Gil) release(t *Thread) {
	g.mu.Lock()
	if !g.hasOwner || g.owner != t.id {
		g.mu.Unlock()
		diag.Fatal(diag.SchedulingInvariant, "release of the GIL by a thread that does not own it")
		return
	}
	observers := g.snapshotObservers()
	g.mu.Unlock()

	for _, o := range observers {
		o.WillUnschedule(t.id)
	}

	g.mu.Lock()
	if len(g.waitqueue) > 0 {
		next := g.waitqueue[0]
		g.waitqueue = g.waitqueue[1:]
		g.owner = next.id
		g.mu.Unlock()
		next.wake <- struct{}{}
	} else {
		g.hasOwner = false
		g.owner = 0
		g.mu.Unlock()
	}
}

func (g *Gil) destroy(t *Thread) {
	g.mu.Lock()
	if g.hasOwner && g.owner == t.id {
		g.mu.Unlock()
		diag.Fatal(diag.SchedulingInvariant, "destroy of a thread that is still the GIL owner")
		return
	}
	for _, w := range g.waitqueue {
		if w.id == t.id {
			g.mu.Unlock()
			diag.Fatal(diag.SchedulingInvariant, "destroy of a thread still enqueued on the GIL")
			return
		}
	}
	if _, ok := g.alive[t.id]; !ok {
		g.mu.Unlock()
		diag.Fatal(diag.PerThreadStateAbsent, "destroy of a thread not registered with this GIL")
		return
	}
	delete(g.alive, t.id)
	observers := g.snapshotObservers()
	g.mu.Unlock()

	for _, o := range observers {
		o.WillDestroy(t.id)
	}
}
