package eval

import (
	"testing"

	"fish.sh/concur/pkg/jobgroup"
)

// newTestRoot wires a fresh Runtime with the given job-control mode and
// returns its root Parser, already scheduled (holding the GIL).
func newTestRoot(t *testing.T, mode jobgroup.Mode) *Parser {
	t.Helper()
	jobs := jobgroup.NewManager(mode, true, true)
	rt, err := NewRuntime(jobs, nil)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	p := rt.NewRootParser()
	p.Run()
	t.Cleanup(func() {
		p.Release()
		p.Destroy()
	})
	return p
}
