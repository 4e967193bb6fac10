// Package cwd implements the CWD Observer of spec.md §4.4: the
// application of a Per-Thread Variable to $PWD, backed by chdirlock's
// serialized fchdir(2).
package cwd

import (
	"os"

	"fish.sh/concur/pkg/chdirlock"
	"fish.sh/concur/pkg/diag"
	"fish.sh/concur/pkg/gil"
	"fish.sh/concur/pkg/logutil"
	"fish.sh/concur/pkg/sthread"
)

var logger = logutil.GetLogger("cwd: ")

// Observer tracks a per-Script-Thread notion of the current directory,
// applying it to the real process-wide directory via a shared
// chdirlock.Locker whenever the owning thread is dispatched.
type Observer struct {
	lock *chdirlock.Locker
	pwd  string // live value, swapped by the embedded per-thread var
	v    *sthread.Var[string]
}

// New creates a CWD observer rooted at the process's actual working
// directory at the time of the call, and registers it with g.
func New(g *gil.Gil) (*Observer, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, diag.Wrap(diag.Chdir, "getwd", err)
	}
	o := &Observer{lock: chdirlock.New(), pwd: wd}
	o.v = sthread.New(g, &o.pwd)
	if err := o.chdir(wd); err != nil {
		return nil, err
	}
	// sthread.New has registered o.v; o is registered after it so that its
	// DidSchedule runs, and applies the value o.v has just swapped in to
	// the process. The Var's hooks are idempotent, so o's delegating calls
	// to them repeat the same swap harmlessly.
	g.AddObserver(o)
	return o, nil
}

// Get returns the calling thread's current directory. Valid only while
// called on behalf of the currently scheduled thread.
func (o *Observer) Get() string { return o.v.Get() }

// Chdir moves the calling thread's current directory to dir, actually
// performing fchdir(2) via the shared lock, and updates the per-thread
// value on success. dir must already be resolved to an absolute,
// existing directory; Chdir does no path resolution of its own.
func (o *Observer) Chdir(dir string) error {
	if err := o.chdir(dir); err != nil {
		return err
	}
	o.v.Set(dir)
	return nil
}

func (o *Observer) chdir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return diag.Wrap(diag.Chdir, "open directory", err)
	}
	defer f.Close()

	ticket, err := o.lock.Acquire(int(f.Fd()), dir)
	if err != nil {
		return err
	}
	defer ticket.Release()
	return nil
}

// DidSpawn, WillDestroy, DidSchedule and WillUnschedule delegate to the
// embedded Per-Thread Variable so Observer itself satisfies gil.Observer;
// this is the only place spec.md's "CWD Observer is built from a
// Per-Thread Variable" relationship is expressed in code.
func (o *Observer) DidSpawn(id gil.ThreadID)       { o.v.DidSpawn(id) }
func (o *Observer) WillDestroy(id gil.ThreadID)    { o.v.WillDestroy(id) }
func (o *Observer) DidSchedule(id gil.ThreadID) {
	o.v.DidSchedule(id)
	// The value just swapped in for id is the thread's own idea of its
	// directory; make the OS reflect it now that id owns the Gil. A
	// failure here (the directory disappeared, permissions changed) is
	// logged and ignored per spec.md §4.1/§7: the reference
	// implementation's cd_observer_t::did_schedule discards this chdir's
	// return value the same way, since a live thread with a stale $PWD
	// still gets to keep running rather than take down the whole shell.
	if err := o.chdir(o.pwd); err != nil {
		logger.Printf("restore per-thread directory on schedule: %v", err)
	}
}
func (o *Observer) WillUnschedule(id gil.ThreadID) { o.v.WillUnschedule(id) }
