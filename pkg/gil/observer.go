package gil

// Observer is fired on every Script-Thread lifecycle event. Concrete
// observers (the CWD observer, per-thread variable holders) use these
// hooks to swap process-wide state around each dispatch, per spec.md
// §4.1/§4.3. Hooks are expected to be infallible: a hook that cannot
// complete its swap must log and otherwise proceed, since the Gil itself
// has no failure path for observer errors (spec.md §7).
type Observer interface {
	// DidSpawn fires exactly once per thread, right after the thread is
	// registered and before it is ever scheduled. The Gil's bookkeeping
	// lock is not held while it runs.
	DidSpawn(id ThreadID)
	// WillDestroy fires exactly once per thread, right before it is
	// deregistered. The thread is guaranteed to be neither the current
	// owner nor in the waitqueue at this point.
	WillDestroy(id ThreadID)
	// DidSchedule fires every time the thread becomes the Gil's owner,
	// including the very first time.
	DidSchedule(id ThreadID)
	// WillUnschedule fires every time the thread is about to stop being
	// the Gil's owner (via Release or Yield), before the next waiter (if
	// any) is notified.
	WillUnschedule(id ThreadID)
}
