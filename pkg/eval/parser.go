// Package eval implements the Branching Parser (spec.md §3-§4.2): the
// unit of script execution state, and the mechanism for spawning a child
// Parser + Script-Thread that underlies subshells and parallel pipeline
// stages.
package eval

import (
	"fmt"
	"sync/atomic"

	"fish.sh/concur/pkg/cwd"
	"fish.sh/concur/pkg/gil"
	"fish.sh/concur/pkg/jobgroup"
	"fish.sh/concur/pkg/joblog"
	"fish.sh/concur/pkg/persistent/list"
	"fish.sh/concur/pkg/sthread"
)

var nextParserID uint64

// ParserID uniquely identifies a Parser for the lifetime of a Runtime.
type ParserID uint64

// Parser is the unit of script execution state of spec.md §3: a scope
// chain, a current directory, a last-status/pipestatus pair and a
// backtrace. It keeps no job list of its own; live jobs are tracked by
// the Runtime's jobgroup.Manager. Only its owning Script-Thread may read
// or mutate it.
type Parser struct {
	id     ParserID
	rt     *Runtime
	thread *gil.Thread

	locals  Ns
	globals *Ns // shared by every branch descending from the same root

	backtrace []string
	parent    *Parser
}

// Runtime bundles everything shared by every Parser branching off one
// root: the Gil, the CWD observer, the per-thread status/pipestatus
// variables, the job-group manager and the job log. Constructing one
// wires the whole concurrency core together.
type Runtime struct {
	Gil        *gil.Gil
	CWD        *cwd.Observer
	Status     *sthread.Var[int]
	Pipestatus *sthread.Var[[]int]
	Jobs       *jobgroup.Manager
	JobLog     *joblog.Log // nil if job history is disabled
}

// NewRuntime wires a fresh Gil together with its CWD observer and
// per-thread status variables, ready to root a Parser tree.
func NewRuntime(jobs *jobgroup.Manager, jobLog *joblog.Log) (*Runtime, error) {
	g := gil.New()
	cwdObs, err := cwd.New(g)
	if err != nil {
		return nil, err
	}
	var liveStatus int
	var livePipestatus []int
	return &Runtime{
		Gil:        g,
		CWD:        cwdObs,
		Status:     sthread.New(g, &liveStatus),
		Pipestatus: sthread.New(g, &livePipestatus),
		Jobs:       jobs,
		JobLog:     jobLog,
	}, nil
}

// RunSync runs fn serialized against every other Script-Thread on rt's
// Gil, per spec.md §9's resolution of the `fish_sync`-vs-concurrent-
// branches Open Question: fn's Script-Thread never releases the GIL for
// the duration of the call, so no other thread can be scheduled while it
// runs. The `fish_sync` builtin itself (reloading config.fish on change)
// is out of scope (spec.md §1); this is the serialization primitive a
// future implementation of it would call.
func (rt *Runtime) RunSync(fn func()) {
	t := rt.Gil.Spawn()
	t.Run()
	fn()
	t.Release()
	t.Destroy()
}

// NewRootParser creates the first Parser of a Runtime, spawning its
// backing Script-Thread. The returned Parser is not yet scheduled; call
// Run before touching any GIL-guarded state.
func (rt *Runtime) NewRootParser() *Parser {
	globals := make(Ns)
	p := &Parser{
		id:      ParserID(atomic.AddUint64(&nextParserID, 1)),
		rt:      rt,
		locals:  make(Ns),
		globals: &globals,
	}
	p.thread = rt.Gil.Spawn()
	rt.Status.SetSlot(p.thread.ID(), 0)
	rt.Pipestatus.SetSlot(p.thread.ID(), nil)
	return p
}

// Branch creates a child Parser per spec.md §4.2: local and
// function-scoped variables become a copied, effectively read-only seed;
// globals are shared by reference. The child's $status starts at zero
// regardless of the parent's current status (spec.md §9's resolved open
// question), and its $pipestatus starts empty.
func (p *Parser) Branch() *Parser {
	child := &Parser{
		id:        ParserID(atomic.AddUint64(&nextParserID, 1)),
		rt:        p.rt,
		locals:    p.locals.Clone(),
		globals:   p.globals,
		backtrace: append([]string(nil), p.backtrace...),
		parent:    p,
	}
	child.thread = p.rt.Gil.Spawn()
	p.rt.Status.SetSlot(child.thread.ID(), 0)
	p.rt.Pipestatus.SetSlot(child.thread.ID(), nil)
	return child
}

// ID returns the Parser's unique id.
func (p *Parser) ID() ParserID { return p.id }

// Thread returns the backing Script-Thread handle.
func (p *Parser) Thread() *gil.Thread { return p.thread }

// Run acquires the GIL on behalf of this Parser's thread.
func (p *Parser) Run() { p.thread.Run() }

// Release gives up the GIL.
func (p *Parser) Release() { p.thread.Release() }

// Yield releases and immediately re-acquires the GIL, going to the back
// of the waitqueue.
func (p *Parser) Yield() { p.thread.Yield() }

// Destroy deregisters this Parser's thread. It must not be the current
// owner nor enqueued.
func (p *Parser) Destroy() { p.thread.Destroy() }

// Status returns this Parser's last exit status. Valid only while its
// thread is scheduled.
func (p *Parser) Status() int { return p.rt.Status.Get() }

// SetStatus sets this Parser's last exit status.
func (p *Parser) SetStatus(status int) { p.rt.Status.Set(status) }

// Pipestatus returns the per-stage exit statuses of the last pipeline run
// by this Parser.
func (p *Parser) Pipestatus() []int { return p.rt.Pipestatus.Get() }

// SetPipestatus records the per-stage exit statuses of a pipeline.
func (p *Parser) SetPipestatus(v []int) { p.rt.Pipestatus.Set(v) }

// Getwd returns this Parser's current directory.
func (p *Parser) Getwd() string { return p.rt.CWD.Get() }

// Chdir changes this Parser's current directory, actually performing the
// fchdir via the shared chdir serializer.
func (p *Parser) Chdir(dir string) error { return p.rt.CWD.Chdir(dir) }

// GetGlobal reads a global variable, visible to every Parser branched
// from the same root.
func (p *Parser) GetGlobal(name string) (any, bool) { return (*p.globals).Get(name) }

// SetGlobal writes a global variable. Per spec.md's "branching globals"
// testable property, this is observable in every other Parser sharing
// this root the next time each is scheduled.
func (p *Parser) SetGlobal(name string, value any) { (*p.globals).Set(name, value) }

// AppendGlobal conses value onto the persistent list bound to name in the
// global scope, creating an empty one if name is unbound or holds
// something else. This is how independently branched Script-Threads
// accumulate into one shared collection (spec.md §8's "accumulating
// subshell output without fork" scenario) without a mutex of their own:
// each read-cons-write happens while the writer holds the GIL, so the
// updates serialize the same way any other global mutation does.
func (p *Parser) AppendGlobal(name string, value any) {
	var l list.List[any]
	if cur, ok := p.GetGlobal(name); ok {
		if existing, ok := cur.(list.List[any]); ok {
			l = existing
		}
	}
	if l == nil {
		l = list.Empty[any]()
	}
	p.SetGlobal(name, l.Cons(value))
}

// GetLocal reads a local variable from this Parser's own scope.
func (p *Parser) GetLocal(name string) (any, bool) { return p.locals.Get(name) }

// SetLocal writes a local variable in this Parser's own scope. Writes
// never propagate to the parent Parser that this one branched from.
func (p *Parser) SetLocal(name string, value any) { p.locals.Set(name, value) }

// PushBacktrace appends a frame description, for error reporting.
func (p *Parser) PushBacktrace(frame string) { p.backtrace = append(p.backtrace, frame) }

// Backtrace returns the current backtrace, outermost frame first.
func (p *Parser) Backtrace() []string { return append([]string(nil), p.backtrace...) }

func (p *Parser) String() string {
	return fmt.Sprintf("parser#%d", p.id)
}
