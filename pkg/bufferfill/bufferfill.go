// Package bufferfill implements Buffer-Fill (spec.md §4.7): a genuine OS
// thread, not a Script-Thread, that drains a pipe into a sepbuf.Buffer
// out-of-band from the GIL.
package bufferfill

import (
	"io"
	"os"
	"sync"

	"fish.sh/concur/pkg/sepbuf"
)

// State is where a Fill is in its idle -> running -> completed lifecycle.
type State int

const (
	Idle State = iota
	Running
	Completed
)

const readChunk = 4096

// Fill drains r into a sepbuf.Buffer on a background goroutine backed by a
// blocking read, so it behaves like the preemptive OS thread spec.md
// describes: it makes progress whether or not any Script-Thread holds the
// GIL.
type Fill struct {
	r   io.ReadCloser
	buf *sepbuf.Buffer

	mu       sync.Mutex
	state    State
	shutdown bool
	done     chan struct{}
}

// New binds r as the read end of the pipe to drain and buf as the
// destination. Start must be called to begin filling.
func New(r io.ReadCloser, buf *sepbuf.Buffer) *Fill {
	return &Fill{r: r, buf: buf, done: make(chan struct{})}
}

// NewFile is a convenience for the common case of draining an *os.File.
func NewFile(f *os.File, buf *sepbuf.Buffer) *Fill { return New(f, buf) }

// Start spawns the background reader goroutine. It is a programming error
// to call Start more than once.
func (f *Fill) Start() {
	f.mu.Lock()
	if f.state != Idle {
		f.mu.Unlock()
		panic("bufferfill: Start called more than once")
	}
	f.state = Running
	f.mu.Unlock()

	go f.run()
}

func (f *Fill) run() {
	defer close(f.done)
	defer f.r.Close()
	buf := make([]byte, readChunk)
	for {
		f.mu.Lock()
		shutdown := f.shutdown
		f.mu.Unlock()
		if shutdown {
			break
		}

		n, err := f.r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			f.buf.Append(chunk, sepbuf.Inferred)
		}
		if err != nil {
			break
		}
	}
	f.mu.Lock()
	f.state = Completed
	f.mu.Unlock()
}

// Shutdown requests that the fill stop reading at its next opportunity.
// It does not itself unblock an in-flight Read; callers that need Shutdown
// to take effect immediately should also close the underlying file
// descriptor.
func (f *Fill) Shutdown() {
	f.mu.Lock()
	f.shutdown = true
	f.mu.Unlock()
}

// Wait blocks until the fill has completed (EOF, error, or shutdown). Per
// spec.md §4.7, once completion is observed no further mutation of the
// buffer occurs, so callers may safely inspect element order afterward.
func (f *Fill) Wait() { <-f.done }

// Done returns a channel that is closed when the fill completes, for
// callers that want to select on it alongside other events (e.g. a
// Script-Thread's own wake channel) without blocking the GIL.
func (f *Fill) Done() <-chan struct{} { return f.done }

// State reports the fill's current lifecycle state.
func (f *Fill) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Buffer returns the destination buffer being filled.
func (f *Fill) Buffer() *sepbuf.Buffer { return f.buf }
