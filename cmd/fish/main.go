// Command fish is the entry point wiring the concurrency core to a
// command line. The real parser/AST is explicitly out of scope for this
// module (spec.md §1); ShellProgram stands in for it with a naive
// pipe/whitespace splitter, just enough to drive eval.RunPipeline and the
// handful of builtins this module implements from the command line.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"fish.sh/concur/pkg/buildinfo"
	"fish.sh/concur/pkg/env"
	"fish.sh/concur/pkg/eval"
	"fish.sh/concur/pkg/jobgroup"
	"fish.sh/concur/pkg/joblog"
	"fish.sh/concur/pkg/prog"
	"fish.sh/concur/pkg/sys"
)

func main() {
	if os.Getenv(jobgroup.ReexecEnv) != "" {
		jobgroup.RunPgidOwnerChild()
		return
	}
	fds := [3]*os.File{os.Stdin, os.Stdout, os.Stderr}
	os.Exit(prog.Run(fds, os.Args, buildinfo.Program, ShellProgram{}))
}

// ShellProgram runs whenever buildinfo.Program doesn't claim the flags.
type ShellProgram struct{}

func (ShellProgram) ShouldRun(f *prog.Flags) bool { return true }

func (ShellProgram) Run(fds [3]*os.File, f *prog.Flags, args []string) error {
	mode, err := eval.ParseJobControlMode(f.JobControl)
	if err != nil {
		return prog.BadUsage(err.Error())
	}

	var jobLog *joblog.Log
	if home, ok := os.LookupEnv(env.HOME); ok && home != "" {
		l, err := joblog.Open(filepath.Join(home, ".fish_job_log.bolt"))
		if err == nil {
			jobLog = l
			defer l.Close()
		}
	}

	jobs := jobgroup.NewManager(mode, sys.IsATTY(fds[0]), f.Concurrent)
	rt, err := eval.NewRuntime(jobs, jobLog)
	if err != nil {
		return err
	}
	root := rt.NewRootParser()
	root.Run()
	defer func() {
		root.Release()
		root.Destroy()
	}()

	if !f.CodeInArg || len(args) == 0 {
		return prog.BadUsage("usage: fish -c 'command | command...'")
	}

	fm := &eval.Frame{Parser: root, Stdin: fds[0], Stdout: fds[1], Stderr: fds[2]}
	status, err := runLine(fm, args[0])
	if err != nil {
		fmt.Fprintln(fds[2], "fish:", err)
	}
	return prog.Exit(status)
}

// runLine splits line into pipeline stages on "|" and each stage into
// words on whitespace, dispatches the small builtin set this module
// implements, and runs the rest as external commands. A trailing "&"
// backgrounds the pipeline; runLine still waits for it before returning,
// since a one-shot CLI invocation has nowhere else to observe its result.
func runLine(fm *eval.Frame, line string) (int, error) {
	background := false
	line = strings.TrimSpace(line)
	if strings.HasSuffix(line, "&") {
		background = true
		line = strings.TrimSpace(strings.TrimSuffix(line, "&"))
	}

	stageTexts := strings.Split(line, "|")
	stages := make([]eval.Stage, len(stageTexts))
	for i, text := range stageTexts {
		words := strings.Fields(text)
		if len(words) == 0 {
			return 2, fmt.Errorf("empty pipeline stage")
		}
		stages[i] = stageFor(words)
	}

	if background {
		job, err := eval.RunPipelineBackground(fm, stages, nil)
		if err != nil {
			return 1, err
		}
		res := job.Wait(fm.Parser)
		return lastStatus(res.Pipestatus), nil
	}

	res, err := eval.RunPipeline(fm, stages, nil)
	if err != nil {
		return 1, err
	}
	return lastStatus(res.Pipestatus), nil
}

func lastStatus(pipestatus []int) int {
	if len(pipestatus) == 0 {
		return 0
	}
	return pipestatus[len(pipestatus)-1]
}

func stageFor(words []string) eval.Stage {
	name, rest := words[0], words[1:]
	switch name {
	case "cd":
		dir := "."
		if len(rest) > 0 {
			dir = rest[0]
		}
		return eval.Stage{Op: func(fm *eval.Frame) error { return eval.BuiltinCd(fm, dir) }}
	case "jobs":
		return eval.Stage{Op: eval.BuiltinJobs}
	case "fish_debug_scheduler":
		return eval.Stage{Op: eval.BuiltinDebugScheduler}
	case "set":
		if len(rest) >= 3 && rest[0] == "-g" {
			name, value := rest[1], rest[2]
			return eval.Stage{Op: func(fm *eval.Frame) error { return eval.BuiltinSetGlobal(fm, name, value) }}
		}
		return eval.Stage{Op: func(fm *eval.Frame) error {
			return fmt.Errorf("set: only `set -g NAME VALUE` is supported")
		}}
	case "status":
		if len(rest) >= 2 && rest[0] == "job-control" {
			mode := rest[1]
			return eval.Stage{Op: func(fm *eval.Frame) error { return eval.BuiltinStatusJobControl(fm, mode) }}
		}
		return eval.Stage{Op: func(fm *eval.Frame) error {
			return fmt.Errorf("status: only `status job-control MODE` is supported")
		}}
	default:
		return eval.Stage{External: name, Args: rest}
	}
}
