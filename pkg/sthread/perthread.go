// Package sthread implements the Per-Thread Variable holder of spec.md
// §4.3: a process-scope variable that a Gil treats as per-Script-Thread by
// swapping its live value in and out on every context switch.
package sthread

import (
	"sync"

	"fish.sh/concur/pkg/diag"
	"fish.sh/concur/pkg/gil"
)

// Var makes the value at ptr per-Script-Thread. Accessors of the
// underlying value (Get/Set) need not change: the swap happens
// transparently via the Gil's observer hooks, so at any point during
// dispatch *ptr reflects the currently scheduled thread's value.
type Var[T any] struct {
	mu    sync.Mutex
	ptr   *T
	slots map[gil.ThreadID]T
}

// New registers ptr as a per-thread variable with g. The value at *ptr at
// the time New is called becomes the initial value seen by whichever
// thread is scheduled first.
func New[T any](g *gil.Gil, ptr *T) *Var[T] {
	v := &Var[T]{ptr: ptr, slots: make(map[gil.ThreadID]T)}
	g.AddObserver(v)
	return v
}

// Get returns the live value. Valid only while called by, or on behalf
// of, the currently scheduled thread.
func (v *Var[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return *v.ptr
}

// Set replaces the live value. Valid only while called by, or on behalf
// of, the currently scheduled thread.
func (v *Var[T]) Set(val T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	*v.ptr = val
}

// SetSlot overrides the stashed value for tid directly, bypassing the
// live value entirely. It exists for initializing a thread's per-thread
// state right after DidSpawn but before it is ever scheduled — e.g. a
// branched Script-Thread's $status starting at zero rather than
// inheriting its parent's current status (spec.md §9's branch-$status
// open question).
func (v *Var[T]) SetSlot(tid gil.ThreadID, val T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.slots[tid] = val
}

// Snapshot returns the value currently stashed for tid, without touching
// the live value. It is meant for introspection (e.g. reporting a
// background job's last known state), not for use by the thread itself.
func (v *Var[T]) Snapshot(tid gil.ThreadID) (val T, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	val, ok = v.slots[tid]
	return val, ok
}

func (v *Var[T]) DidSpawn(id gil.ThreadID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.slots[id] = *v.ptr
}

func (v *Var[T]) WillUnschedule(id gil.ThreadID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.slots[id]; !ok {
		diag.Fatal(diag.PerThreadStateAbsent, "will-unschedule: no per-thread slot")
	}
	v.slots[id] = *v.ptr
}

func (v *Var[T]) DidSchedule(id gil.ThreadID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	val, ok := v.slots[id]
	if !ok {
		diag.Fatal(diag.PerThreadStateAbsent, "did-schedule: no per-thread slot")
	}
	*v.ptr = val
}

func (v *Var[T]) WillDestroy(id gil.ThreadID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.slots, id)
}
