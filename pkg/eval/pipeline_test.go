package eval

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"fish.sh/concur/pkg/jobgroup"
	"fish.sh/concur/pkg/joblog"
	"fish.sh/concur/pkg/testutil"
)

func requireBinaries(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			t.Skipf("%s not found in PATH", name)
		}
	}
}

func TestRunPipelineInternalStages(t *testing.T) {
	root := newTestRoot(t, jobgroup.None)

	outR, outW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer outR.Close()

	stages := []Stage{
		{Op: func(fm *Frame) error {
			_, err := io.WriteString(fm.Stdout, "hello\n")
			return err
		}},
		{Op: func(fm *Frame) error {
			_, err := io.Copy(fm.Stdout, fm.Stdin)
			return err
		}},
	}
	fm := &Frame{Parser: root, Stdout: outW, Stderr: os.Stderr}

	res, err := RunPipeline(fm, stages, nil)
	if err != nil {
		t.Fatalf("RunPipeline: %v", err)
	}
	outW.Close()

	data, err := io.ReadAll(outR)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello\n" {
		t.Fatalf("piped output = %q, want %q", data, "hello\n")
	}
	if len(res.Pipestatus) != 2 || res.Pipestatus[0] != 0 || res.Pipestatus[1] != 0 {
		t.Fatalf("pipestatus = %v, want [0 0]", res.Pipestatus)
	}
	if got := root.Pipestatus(); len(got) != 2 {
		t.Fatalf("root.Pipestatus() = %v, want length 2", got)
	}
}

// TestPipelineGlobalsPropagateToParent is spec.md §8 scenario 1: a global
// set inside a pipeline stage (which runs on a branched Script-Thread) is
// visible to the calling Parser once the pipeline completes and it is
// rescheduled.
func TestPipelineGlobalsPropagateToParent(t *testing.T) {
	root := newTestRoot(t, jobgroup.None)

	stages := []Stage{
		{Op: func(fm *Frame) error {
			fm.Parser.SetGlobal("foo", "bar")
			return nil
		}},
		{Op: func(fm *Frame) error { return nil }},
	}
	fm := &Frame{Parser: root, Stdout: nil, Stderr: os.Stderr}

	if _, err := RunPipeline(fm, stages, nil); err != nil {
		t.Fatalf("RunPipeline: %v", err)
	}

	v, ok := root.GetGlobal("foo")
	if !ok || v != "bar" {
		t.Fatalf("$foo = %v, %v; want \"bar\", true", v, ok)
	}
}

func TestRunPipelineExternalStages(t *testing.T) {
	requireBinaries(t, "sh", "cat")
	root := newTestRoot(t, jobgroup.None)

	outR, outW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer outR.Close()

	devNull, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatal(err)
	}
	defer devNull.Close()

	stages := []Stage{
		{External: "sh", Args: []string{"-c", "printf hello"}},
		{External: "cat"},
	}
	fm := &Frame{Parser: root, Stdin: devNull, Stdout: outW, Stderr: os.Stderr}

	res, err := RunPipeline(fm, stages, nil)
	if err != nil {
		t.Fatalf("RunPipeline: %v", err)
	}
	outW.Close()

	data, err := io.ReadAll(outR)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Fatalf("piped output = %q, want %q", data, "hello")
	}
	if len(res.Pipestatus) != 2 || res.Pipestatus[0] != 0 || res.Pipestatus[1] != 0 {
		t.Fatalf("pipestatus = %v, want [0 0]", res.Pipestatus)
	}
}

func TestRunPipelineUnknownCommandExitStatus(t *testing.T) {
	root := newTestRoot(t, jobgroup.None)
	stages := []Stage{{External: "fish-concur-does-not-exist-anywhere"}}
	fm := &Frame{Parser: root, Stdout: os.Stdout, Stderr: os.Stderr}

	res, err := RunPipeline(fm, stages, nil)
	if err != nil {
		t.Fatalf("RunPipeline: %v", err)
	}
	if len(res.Pipestatus) != 1 || res.Pipestatus[0] != 127 {
		t.Fatalf("pipestatus = %v, want [127] for a command not found", res.Pipestatus)
	}
	if got := root.Status(); got != 127 {
		t.Fatalf("$status = %d, want 127", got)
	}
}

// TestBackgroundJobsGetDistinctPGIDs is spec.md §8 scenario 4.
func TestBackgroundJobsGetDistinctPGIDs(t *testing.T) {
	requireBinaries(t, "true")
	root := newTestRoot(t, jobgroup.Full)

	fm := &Frame{Parser: root, Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}

	job1, err := RunPipelineBackground(fm, []Stage{{External: "true"}}, nil)
	if err != nil {
		t.Fatalf("first RunPipelineBackground: %v", err)
	}
	job2, err := RunPipelineBackground(fm, []Stage{{External: "true"}}, nil)
	if err != nil {
		t.Fatalf("second RunPipelineBackground: %v", err)
	}

	if !job1.Group.HasPGID || !job2.Group.HasPGID {
		t.Fatalf("both background jobs should get a pgid: %+v %+v", job1.Group, job2.Group)
	}
	if job1.Group.PGID == job2.Group.PGID {
		t.Fatalf("two independently backgrounded jobs got the same pgid %d", job1.Group.PGID)
	}

	job1.Wait(root)
	job2.Wait(root)
}

// TestPipelinePgidCohesion is spec.md §8 scenario 3: under job-control
// full, every stage of an all-external pipeline ends up in the same
// process group. Each stage reports its own pgid on stderr (a channel the
// pipeline never repipes between stages) via /proc/self/stat.
func TestPipelinePgidCohesion(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("relies on /proc/self/stat")
	}
	requireBinaries(t, "sh", "cut")
	root := newTestRoot(t, jobgroup.Full)

	errR, errW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer errR.Close()

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer devNull.Close()

	stage := Stage{External: "sh", Args: []string{"-c", `cut -d" " -f5 /proc/self/stat 1>&2`}}
	stages := []Stage{stage, stage, stage}
	fm := &Frame{Parser: root, Stdin: devNull, Stdout: devNull, Stderr: errW}

	if _, err := RunPipeline(fm, stages, nil); err != nil {
		t.Fatalf("RunPipeline: %v", err)
	}
	errW.Close()

	data, err := io.ReadAll(errR)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Fields(strings.TrimSpace(string(data)))
	if len(lines) != 3 {
		t.Fatalf("expected 3 reported pgids, got %v", lines)
	}
	if lines[0] != lines[1] || lines[1] != lines[2] {
		t.Fatalf("pipeline stages reported different pgids: %v", lines)
	}
}

// TestInterruptTerminatesMixedPipeline is spec.md §8 scenario 5: SIGINT
// delivered to a pipeline's job group tears down both its internal stage
// (via the cooperative Frame.Interrupt channel) and its external stage
// (via a real kill(2) to the shared pgid), and afterward the group is
// gone from the `jobs` list.
func TestInterruptTerminatesMixedPipeline(t *testing.T) {
	requireBinaries(t, "sleep")
	root := newTestRoot(t, jobgroup.Full)

	interrupted := make(chan bool, 1)
	stages := []Stage{
		{Op: func(fm *Frame) error {
			select {
			case <-fm.Interrupt:
				interrupted <- true
				return fmt.Errorf("interrupted")
			case <-time.After(testutil.Scaled(5 * time.Second)):
				interrupted <- false
				return nil
			}
		}},
		{External: "sleep", Args: []string{"5"}},
	}
	fm := &Frame{Parser: root, Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}

	job, err := RunPipelineBackground(fm, stages, nil)
	if err != nil {
		t.Fatalf("RunPipelineBackground: %v", err)
	}
	if !job.Group.HasPGID {
		t.Fatal("mixed background pipeline should have gotten a pgid via the owner fork")
	}

	time.Sleep(testutil.ScaledMs(50))
	if err := job.Interrupt(root); err != nil {
		t.Fatalf("job.Interrupt: %v", err)
	}

	done := make(chan PipelineResult, 1)
	go func() { done <- job.Wait(root) }()

	select {
	case res := <-done:
		if !<-interrupted {
			t.Fatal("internal stage finished via timeout, not interruption")
		}
		if len(res.Pipestatus) != 2 {
			t.Fatalf("pipestatus = %v, want 2 entries", res.Pipestatus)
		}
		if res.Pipestatus[1] != 128+2 {
			t.Fatalf("external stage pipestatus = %d, want %d (128+SIGINT)", res.Pipestatus[1], 128+2)
		}
	case <-time.After(testutil.Scaled(4 * time.Second)):
		t.Fatal("pipeline did not terminate within 4s of being interrupted")
	}

	for _, id := range root.rt.Jobs.Live() {
		if id == job.Group.JobID {
			t.Fatalf("job %d still listed as live after completion", id)
		}
	}
}

// TestRunPipelineRecordsJobHistory checks that a completed foreground
// pipeline is appended to Runtime.JobLog, when one is configured.
func TestRunPipelineRecordsJobHistory(t *testing.T) {
	requireBinaries(t, "true")
	log, err := joblog.Open(filepath.Join(t.TempDir(), "history.bolt"))
	if err != nil {
		t.Fatalf("joblog.Open: %v", err)
	}
	defer log.Close()

	jobs := jobgroup.NewManager(jobgroup.None, true, true)
	rt, err := NewRuntime(jobs, log)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	root := rt.NewRootParser()
	root.Run()
	defer func() {
		root.Release()
		root.Destroy()
	}()

	fm := &Frame{Parser: root, Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
	if _, err := RunPipeline(fm, []Stage{{External: "true"}}, nil); err != nil {
		t.Fatalf("RunPipeline: %v", err)
	}

	entries, err := log.Recent(1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Recent(1) returned %d entries, want 1", len(entries))
	}
	if entries[0].Command != "true" {
		t.Fatalf("recorded Command = %q, want %q", entries[0].Command, "true")
	}
	if entries[0].Status != 0 {
		t.Fatalf("recorded Status = %d, want 0", entries[0].Status)
	}
	if entries[0].Ended.Before(entries[0].Started) {
		t.Fatalf("recorded Ended %v before Started %v", entries[0].Ended, entries[0].Started)
	}
}

// TestRunPipelineBackgroundRecordsJobHistory is the same check for the
// backgrounded path, whose recordJob call happens inside the job's own
// completion goroutine rather than inline in RunPipelineBackground.
func TestRunPipelineBackgroundRecordsJobHistory(t *testing.T) {
	requireBinaries(t, "true")
	log, err := joblog.Open(filepath.Join(t.TempDir(), "history.bolt"))
	if err != nil {
		t.Fatalf("joblog.Open: %v", err)
	}
	defer log.Close()

	jobs := jobgroup.NewManager(jobgroup.None, true, true)
	rt, err := NewRuntime(jobs, log)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	root := rt.NewRootParser()
	root.Run()
	defer func() {
		root.Release()
		root.Destroy()
	}()

	fm := &Frame{Parser: root, Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
	job, err := RunPipelineBackground(fm, []Stage{{External: "true"}}, nil)
	if err != nil {
		t.Fatalf("RunPipelineBackground: %v", err)
	}
	job.Wait(root)

	entries, err := log.Recent(1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Recent(1) returned %d entries, want 1", len(entries))
	}
	if entries[0].Command != "true" {
		t.Fatalf("recorded Command = %q, want %q", entries[0].Command, "true")
	}
}
