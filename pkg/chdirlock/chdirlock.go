// Package chdirlock serializes fchdir(2) across Script-Threads that share
// a single process-wide current directory. See spec.md §4.4.
//
// Because chdir is process-global, two Script-Threads cannot each hold
// their own idea of "the" current directory the way they can for other
// per-thread state; instead callers wanting to run with a directory
// other than the live one must take a ticket, wait for their turn, and
// hold the lock only for as long as their directory-relative operation
// takes. Callers that agree on target directory are allowed to hold the
// lock concurrently, since fchdir has already put the process there and
// none of them will move it out from under the others.
package chdirlock

import (
	"sync"

	"golang.org/x/sys/unix"

	"fish.sh/concur/pkg/diag"
)

// Locker serializes fchdir(2) calls. The zero value is not usable;
// construct one with New.
type Locker struct {
	mu sync.Mutex
	// cond is signalled whenever holders drops to zero or the
	// waitqueue's head changes, so the next ticket can recheck.
	cond *sync.Cond

	nextTicket   uint64
	queue        []uint64 // ticket numbers waiting, in arrival order
	holders      int      // number of callers currently holding the lock
	holderDir    string   // directory the current holders agree on
	dirValid     bool     // whether holderDir/holders reflect a real hold
}

// New creates an unlocked Locker.
func New() *Locker {
	l := &Locker{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Ticket represents a queued or granted request to chdir into dir. Callers
// must call Release exactly once after Acquire returns successfully.
type Ticket struct {
	l      *Locker
	number uint64
	dir    string
}

// Acquire enters the waitqueue for dir and blocks until it is this
// caller's turn: either no one else holds the lock, or every current
// holder agrees on dir. It performs the fchdir itself using fd (an open
// handle on dir), so ownership of fd must be held by the caller for the
// duration of the call; chdirlock does not open or close it.
func (l *Locker) Acquire(fd int, dir string) (*Ticket, error) {
	l.mu.Lock()
	l.nextTicket++
	my := l.nextTicket
	l.queue = append(l.queue, my)

	for {
		if l.queue[0] != my {
			l.cond.Wait()
			continue
		}
		if l.holders == 0 || (l.dirValid && l.holderDir == dir) {
			break
		}
		l.cond.Wait()
	}

	// It's our turn and either the lock is free or everyone already
	// holding it agrees with us on dir.
	needsChdir := l.holders == 0
	l.queue = l.queue[1:]
	l.holders++
	if needsChdir {
		// Count as a holder with no agreed directory while mu is dropped,
		// so no other caller can start an fchdir of its own meanwhile.
		l.dirValid = false
		l.mu.Unlock()
		if err := unix.Fchdir(fd); err != nil {
			l.mu.Lock()
			l.holders--
			l.cond.Broadcast()
			l.mu.Unlock()
			return nil, diag.Wrap(diag.Chdir, "fchdir", err)
		}
		l.mu.Lock()
	}
	l.holderDir = dir
	l.dirValid = true
	l.cond.Broadcast() // let the next queued ticket re-check
	l.mu.Unlock()

	return &Ticket{l: l, number: my, dir: dir}, nil
}

// Release gives up this ticket's hold on the lock.
func (t *Ticket) Release() {
	l := t.l
	l.mu.Lock()
	l.holders--
	if l.holders == 0 {
		l.dirValid = false
	}
	l.cond.Broadcast()
	l.mu.Unlock()
}

// Dir reports the directory this ticket was granted for.
func (t *Ticket) Dir() string { return t.dir }
