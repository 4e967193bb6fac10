package eval

import (
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"fish.sh/concur/pkg/jobgroup"
	"fish.sh/concur/pkg/joblog"
	"fish.sh/concur/pkg/logutil"
)

var logger = logutil.GetLogger("eval: ")

// Stage is one element of a pipeline: either an internal Op (a
// Script-Thread branched off the calling Parser) or an external command.
type Stage struct {
	Op       Op       // non-nil for an internal stage
	External string   // path or name to exec.LookPath, for an external stage
	Args     []string // arguments, excluding argv[0]
}

func (s Stage) internal() bool { return s.Op != nil }

// PipelineResult carries what a pipeline produced: the Job Group it ran
// in and the per-stage exit statuses, in stage order.
type PipelineResult struct {
	Group      *jobgroup.Group
	Pipestatus []int
}

// Job is a handle to a pipeline running in the background: the `&`
// syntax of spec.md §6. The `wait` builtin blocks on Wait.
type Job struct {
	Group *jobgroup.Group
	done  chan PipelineResult
}

// Wait blocks until the job reaches terminal state, with the calling
// Parser's GIL released for the duration, and returns its result.
func (j *Job) Wait(caller *Parser) PipelineResult {
	caller.Release()
	res := <-j.done
	caller.Run()
	return res
}

// Interrupt delivers SIGINT to every process and internal stage in the
// job's group: the `read Ctrl-C during a pipeline` scenario of spec.md
// §8. External members die from the real signal; internal stages see
// their Frame.Interrupt channel close.
func (j *Job) Interrupt(caller *Parser) error {
	return caller.rt.Jobs.Signal(j.Group, syscall.SIGINT)
}

// RunPipeline runs stages to completion in the foreground: the calling
// Parser blocks until every stage finishes.
func RunPipeline(fm *Frame, stages []Stage, parentGroup *jobgroup.Group) (PipelineResult, error) {
	started := time.Now()
	group, wait, err := launchPipeline(fm, stages, parentGroup, false)
	if err != nil {
		return PipelineResult{Group: group}, err
	}
	// Release the GIL while stages run: internal stages are branched
	// Script-Threads that need it to make progress.
	fm.Parser.Release()
	res := wait()
	fm.Parser.Run()
	fm.Parser.SetPipestatus(res.Pipestatus)
	last := 0
	if len(res.Pipestatus) > 0 {
		last = res.Pipestatus[len(res.Pipestatus)-1]
	}
	fm.Parser.SetStatus(last)
	recordJob(fm.Parser.rt.JobLog, group, last, started)
	fm.Parser.rt.Jobs.Destroy(group)
	return res, nil
}

// RunPipelineBackground starts stages as a new backgrounded Job (`&`) and
// returns immediately; the calling Parser's $status becomes 0 (launched
// successfully) without waiting for the job itself to finish.
func RunPipelineBackground(fm *Frame, stages []Stage, parentGroup *jobgroup.Group) (*Job, error) {
	started := time.Now()
	group, wait, err := launchPipeline(fm, stages, parentGroup, true)
	if err != nil {
		return nil, err
	}
	jobLog := fm.Parser.rt.JobLog
	job := &Job{Group: group, done: make(chan PipelineResult, 1)}
	go func() {
		res := wait()
		last := 0
		if len(res.Pipestatus) > 0 {
			last = res.Pipestatus[len(res.Pipestatus)-1]
		}
		recordJob(jobLog, group, last, started)
		fm.Parser.rt.Jobs.Destroy(group)
		job.done <- res
	}()
	fm.Parser.SetStatus(0)
	return job, nil
}

// recordJob appends a completed job's outcome to log, if job history is
// enabled (log is nil otherwise, per cmd/fish's own opt-in wiring of
// pkg/joblog). Failures are logged and ignored: a shell must not fail a
// pipeline because its own history couldn't be written.
func recordJob(log *joblog.Log, group *jobgroup.Group, status int, started time.Time) {
	if log == nil {
		return
	}
	e := joblog.Entry{
		JobID:   group.JobID,
		PGID:    group.PGID,
		Command: group.Command,
		Status:  status,
		Started: started,
		Ended:   time.Now(),
	}
	if _, err := log.Record(e); err != nil {
		logger.Printf("record job history: %v", err)
	}
}

// launchPipeline does the synchronous, GIL-holding part shared by
// foreground and background pipelines: allocating the Job Group, wiring
// pipes, and starting every stage. It returns a function that blocks
// until all stages finish and reports their result; callers decide
// whether to call it inline (foreground) or from a goroutine
// (background).
func launchPipeline(fm *Frame, stages []Stage, parentGroup *jobgroup.Group, background bool) (*jobgroup.Group, func() PipelineResult, error) {
	n := len(stages)
	spec := jobgroup.Spec{
		Background:      background,
		ProcessCount:    n,
		FirstIsInternal: n > 0 && stages[0].internal(),
		NeedsTerminal:   !background,
		ParentUsable:    parentGroup != nil && n == 1 && stages[0].internal(),
	}
	for _, s := range stages {
		if s.internal() {
			spec.HasInternal = true
			break
		}
	}

	group, err := fm.Parser.rt.Jobs.NewGroup(spec, parentGroup)
	if err != nil {
		return nil, nil, err
	}
	group.Command = describeStages(stages)

	readers := make([]*os.File, n)
	writers := make([]*os.File, n)
	for i := 0; i < n-1; i++ {
		r, w, err := os.Pipe()
		if err != nil {
			return group, nil, err
		}
		readers[i+1] = r
		writers[i] = w
	}

	// If nothing upstream (an internal-first fish-pgid, or a concurrent
	// mixed-pipeline owner fork) already gave the group a pgid, and this
	// pipeline wants job control, start stage 0 synchronously if it is
	// external, so its own pid can become the pgid the rest join —
	// the same race a forked POSIX shell resolves by making the first
	// child its own process-group leader.
	var leader *exec.Cmd
	statuses := make([]int, n)
	if !group.HasPGID && group.WantsJobControl && n > 0 && !stages[0].internal() {
		stdin := fm.Stdin
		if readers[0] != nil {
			stdin = readers[0]
		}
		stdout := fm.Stdout
		if writers[0] != nil {
			stdout = writers[0]
		}
		if cmd, err := startExternal(stages[0], stdin, stdout, fm.Stderr, 0); err == nil {
			leader = cmd
			group.PGID = cmd.Process.Pid
			group.HasPGID = true
			// The leader already set its own pgid at exec time via
			// SysProcAttr; re-assert it from the parent side too, the way
			// a forked shell calls setpgid in both parent and child to
			// close the race where a signal arrives before the child's
			// own call has run.
			if err := jobgroup.JoinPGID(group, cmd.Process.Pid); err != nil {
				logger.Printf("re-assert leader pgid: %v", err)
			}
		}
		// On error, leader stays nil and the stage loop below retries
		// stage 0 through the ordinary external path, which reports the
		// failure the same way any other failed exec would.
	}

	if group.HasPGID && fm.Stdin != nil {
		if err := jobgroup.ClaimTerminal(group, fm.Stdin); err != nil {
			logger.Printf("claim terminal: %v", err)
		}
	}

	var wg sync.WaitGroup
	wg.Add(n)

	for i, stage := range stages {
		stdin := fm.Stdin
		if readers[i] != nil {
			stdin = readers[i]
		}
		stdout := fm.Stdout
		if writers[i] != nil {
			stdout = writers[i]
		}

		if i == 0 && leader != nil {
			go func(cmd *exec.Cmd) {
				defer wg.Done()
				statuses[0] = waitExternal(cmd)
				if writers[0] != nil {
					writers[0].Close()
				}
			}(leader)
			continue
		}

		if stage.internal() {
			child := fm.Parser.Branch()
			go func(i int, stage Stage, stdin, stdout *os.File, child *Parser) {
				defer wg.Done()
				child.Run()
				childFrame := &Frame{Parser: child, Stdin: stdin, Stdout: stdout, Stderr: fm.Stderr, Interrupt: group.Interrupted()}
				err := stage.Op(childFrame)
				status := 0
				if err != nil {
					status = 1
				}
				statuses[i] = status
				child.SetStatus(status)
				child.Release()
				child.Destroy()
				if readers[i] != nil {
					readers[i].Close()
				}
				if writers[i] != nil {
					writers[i].Close()
				}
			}(i, stage, stdin, stdout, child)
		} else {
			go func(i int, stage Stage, stdin, stdout *os.File) {
				defer wg.Done()
				statuses[i] = runExternal(stage, stdin, stdout, fm.Stderr, group)
				if readers[i] != nil {
					readers[i].Close()
				}
				if writers[i] != nil {
					writers[i].Close()
				}
			}(i, stage, stdin, stdout)
		}
	}

	wait := func() PipelineResult {
		wg.Wait()
		return PipelineResult{Group: group, Pipestatus: statuses}
	}
	return group, wait, nil
}

// runExternal starts stage as a real child process, joins it to group's
// pgid if any, and waits for it, translating its exit into the 0/1/126/127
// and 128+N conventions of spec.md §6.
func runExternal(stage Stage, stdin, stdout, stderr *os.File, group *jobgroup.Group) int {
	pgid := 0
	if group.HasPGID {
		pgid = group.PGID
	}
	cmd, err := startExternal(stage, stdin, stdout, stderr, pgid)
	if err != nil {
		return exitCodeForStartError(err)
	}
	return waitExternal(cmd)
}

// startExternal resolves and starts stage. If pgid is nonzero the child
// joins that process group at fork time via SysProcAttr; otherwise it
// becomes its own group leader, which is how a pipeline's first external
// process establishes the pgid the rest join.
func startExternal(stage Stage, stdin, stdout, stderr *os.File, pgid int) (*exec.Cmd, error) {
	path, err := exec.LookPath(stage.External)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(path, stage.Args...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: pgid}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

func exitCodeForStartError(err error) int {
	if os.IsPermission(err) {
		return 126
	}
	return 127
}

// describeStages renders stages back into a single display command line,
// for the `jobs` builtin. Internal stages, whose source text the excluded
// parser would carry, show as "block".
func describeStages(stages []Stage) string {
	parts := make([]string, len(stages))
	for i, s := range stages {
		if s.internal() {
			parts[i] = "block"
			continue
		}
		parts[i] = strings.Join(append([]string{s.External}, s.Args...), " ")
	}
	return strings.Join(parts, " | ")
}

func waitExternal(cmd *exec.Cmd) int {
	err := cmd.Wait()
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return 128 + int(ws.Signal())
			}
			return ws.ExitStatus()
		}
	}
	return 1
}
