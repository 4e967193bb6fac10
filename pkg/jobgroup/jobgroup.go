// Package jobgroup implements the Job Group & Pgid Owner of spec.md
// §4.5: allocation of job ids, creation and ownership of process groups,
// and the placeholder-fork trick that gives a pipeline mixing internal
// (cooperatively scheduled) and external (forked) processes a stable
// pgid to share.
package jobgroup

import (
	"os"
	"sync"
	"syscall"

	"fish.sh/concur/pkg/diag"
	"fish.sh/concur/pkg/logutil"
	"fish.sh/concur/pkg/sys"
)

var logger = logutil.GetLogger("jobgroup: ")

// Mode is the job-control mode selected by `status job-control`.
type Mode int

const (
	// Full forces every job into its own pgid, forking an owner if
	// necessary.
	Full Mode = iota
	// Interactive forces pgids only when the shell itself is
	// interactive.
	Interactive
	// None keeps every job in fish's own pgid.
	None
)

// Group is the shell's abstraction of a process group (spec.md §3). Once
// PGID is set it never changes.
type Group struct {
	// JobID is the allocated job id. Valid only if HasJobID.
	JobID    int
	HasJobID bool

	WantsJobControl bool
	WantsTerminal   bool
	Internal        bool

	PGID     int
	HasPGID  bool
	OwnsPGID bool

	// Command is the source text of the job, for `jobs` to display. It is
	// set by the caller after NewGroup returns; NewGroup itself never
	// touches it.
	Command string

	owner *ownedProc // non-nil iff OwnsPGID

	interrupt     chan struct{}
	interruptOnce sync.Once
}

// Interrupted returns a channel closed once this group has been sent
// SIGINT or SIGQUIT via Manager.Signal. Internal (in-process) stages
// poll it cooperatively, since a real kill(2) to the group's pgid never
// reaches fish's own goroutines when the group owns a pgid distinct from
// fish's (spec.md §8 scenario 5).
func (g *Group) Interrupted() <-chan struct{} {
	return g.interrupt
}

func (g *Group) closeInterrupt() {
	g.interruptOnce.Do(func() { close(g.interrupt) })
}

// Spec describes a job about to launch, for NewGroup's decision table.
type Spec struct {
	Background      bool
	ProcessCount    int
	FirstIsInternal bool
	HasInternal     bool // true if any stage of the pipeline is internal
	NeedsTerminal   bool // the first process must own the controlling terminal
	// ParentUsable is only consulted when parent is non-nil and
	// parent.Internal is true: whether this job can share that internal
	// group rather than needing its own.
	ParentUsable bool
}

// Manager owns job id allocation and the current job-control mode. The
// zero value is not usable; construct one with NewManager.
type Manager struct {
	mu          sync.Mutex
	mode        Mode
	interactive bool
	concurrent  bool // the `concurrent` feature flag, spec.md §6
	fishPGID    int
	live        map[int]*Group // keyed by JobID, for groups that have one
}

// NewManager creates a Manager. concurrent enables the cooperative
// internal-pipeline pgid-owner fork path; interactive marks whether the
// shell itself is attached to a controlling terminal interactively.
func NewManager(mode Mode, interactive, concurrent bool) *Manager {
	return &Manager{
		mode:        mode,
		interactive: interactive,
		concurrent:  concurrent,
		fishPGID:    sys.Getpgrp(),
		live:        make(map[int]*Group),
	}
}

// SetMode changes the job-control mode, per `status job-control`.
func (m *Manager) SetMode(mode Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
}

func (m *Manager) jobControlWanted() bool {
	switch m.mode {
	case Full:
		return true
	case Interactive:
		return m.interactive
	default:
		return false
	}
}

// allocateJobIDLocked returns the smallest value strictly greater than
// every job id currently live, per spec.md §8's uniqueness property.
// Callers must hold m.mu.
func (m *Manager) allocateJobIDLocked() int {
	max := 0
	for id := range m.live {
		if id > max {
			max = id
		}
	}
	return max + 1
}

// NewGroup applies the decision table of spec.md §4.5 and returns the
// group this job should run in, allocating a fresh one or forking a pgid
// owner as needed.
func (m *Manager) NewGroup(spec Spec, parent *Group) (*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if parent != nil && !spec.Background && (!parent.Internal || spec.ParentUsable) {
		return parent, nil
	}

	g := &Group{
		WantsJobControl: m.jobControlWanted(),
		WantsTerminal:   spec.NeedsTerminal,
		Internal:        spec.ProcessCount == 1 && spec.FirstIsInternal && !spec.Background,
		interrupt:       make(chan struct{}),
	}

	if !g.Internal {
		g.JobID = m.allocateJobIDLocked()
		g.HasJobID = true
	}

	if spec.FirstIsInternal && (!g.WantsJobControl || spec.NeedsTerminal) {
		g.PGID = m.fishPGID
		g.HasPGID = true
	}

	if m.concurrent && !g.HasPGID && spec.ProcessCount >= 2 && spec.HasInternal {
		owner, err := startPgidOwner()
		if err != nil {
			logger.Printf("fork pgid owner: %v (job proceeds without a shared pgid)", err)
		} else {
			g.PGID = owner.pid
			g.HasPGID = true
			g.OwnsPGID = true
			g.owner = owner
		}
	}

	if g.HasJobID {
		m.live[g.JobID] = g
	}
	return g, nil
}

// JoinPGID places pid, an already-started external child, into g's
// process group if g has one. It is a no-op for groups without a pgid.
func JoinPGID(g *Group, pid int) error {
	if !g.HasPGID {
		return nil
	}
	if err := setpgid(pid, g.PGID); err != nil {
		logger.Printf("setpgid(%d, %d): %v (signal semantics for this process weakened)", pid, g.PGID, err)
		return diag.Wrap(diag.ForkOrSetpgid, "setpgid", err)
	}
	return nil
}

// ClaimTerminal makes g's pgid the foreground process group of term, if g
// wants terminal ownership and term is actually a terminal. term is a
// parameter rather than a hardcoded os.Stdin so tests can substitute a
// pty (see jobgroup_pty_test.go) without a real controlling terminal.
func ClaimTerminal(g *Group, term *os.File) error {
	if !g.WantsTerminal || !g.HasPGID {
		return nil
	}
	if !sys.IsATTY(term) {
		return nil
	}
	if err := sys.Tcsetpgrp(int(term.Fd()), g.PGID); err != nil {
		return diag.Wrap(diag.ForkOrSetpgid, "tcsetpgrp", err)
	}
	return nil
}

// Signal delivers sig to every member of g: a real kill(2) to the
// negated pgid for external processes, and (for SIGINT/SIGQUIT, spec.md
// §8 scenario 5) closing g's cooperative interrupt channel for internal
// stages, which a process-group signal cannot otherwise reach when g's
// pgid is distinct from fish's own.
func (m *Manager) Signal(g *Group, sig syscall.Signal) error {
	var err error
	if g.HasPGID {
		err = syscall.Kill(-g.PGID, sig)
	}
	if sig == syscall.SIGINT || sig == syscall.SIGQUIT {
		g.closeInterrupt()
	}
	return err
}

// Destroy releases m's bookkeeping for g and, if g owns a pgid-holder
// process, reaps it exactly once.
func (m *Manager) Destroy(g *Group) {
	m.mu.Lock()
	if g.HasJobID {
		delete(m.live, g.JobID)
	}
	m.mu.Unlock()

	if g.OwnsPGID && g.owner != nil {
		g.owner.reap()
	}
}

// Live returns the job ids currently allocated.
func (m *Manager) Live() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int, 0, len(m.live))
	for id := range m.live {
		ids = append(ids, id)
	}
	return ids
}

// LiveGroups returns a snapshot of every currently allocated group, for
// the `jobs` builtin. The returned Groups are the live ones; callers must
// not mutate them.
func (m *Manager) LiveGroups() []*Group {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Group, 0, len(m.live))
	for _, g := range m.live {
		out = append(out, g)
	}
	return out
}
