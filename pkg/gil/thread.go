package gil

// ThreadID uniquely and monotonically identifies a Script-Thread for the
// lifetime of a Gil. IDs are never reused.
type ThreadID uint64

// Thread is an opaque handle to a Script-Thread: a cooperatively scheduled
// unit of execution registered with a Gil. It carries the private
// condition-variable-equivalent (a buffered wake channel) spec.md §3
// describes; callers never touch it directly.
type Thread struct {
	id   ThreadID
	gil  *Gil
	wake chan struct{}
}

// ID returns the thread's unique id.
func (t *Thread) ID() ThreadID { return t.id }

// Run enqueues the thread and blocks until it becomes the GIL's owner,
// returning with the GIL held. DidSchedule has fired on every observer
// before Run returns.
func (t *Thread) Run() { t.gil.run(t) }

// Release gives up ownership of the GIL. The thread must currently be the
// owner; releasing a GIL one doesn't own is a scheduling-invariant
// violation and aborts the process (spec.md §7).
func (t *Thread) Release() { t.gil.release(t) }

// Yield releases the GIL and immediately re-enqueues to reacquire it,
// going to the back of the waitqueue. Used at explicit cooperative yield
// points inside long-running script loops (spec.md §5).
func (t *Thread) Yield() {
	t.gil.release(t)
	t.gil.run(t)
}

// Destroy deregisters the thread. The thread must be neither the current
// owner nor enqueued.
func (t *Thread) Destroy() { t.gil.destroy(t) }
