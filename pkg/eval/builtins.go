package eval

import (
	"fmt"
	"io"
	"path/filepath"

	"fish.sh/concur/pkg/jobgroup"
	"fish.sh/concur/pkg/trace"
)

// BuiltinCd implements `cd`: change fm.Parser's current directory. It is a
// thin wrapper over Parser.Chdir, exposed as a builtin so scripts (and the
// excluded parser, once wired) can invoke it by name. A relative dir is
// resolved against fm.Parser's current directory first, since
// Parser.Chdir takes an absolute path.
func BuiltinCd(fm *Frame, dir string) error {
	if dir == "" {
		dir = "."
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(fm.Parser.Getwd(), dir)
	}
	if err := fm.Parser.Chdir(dir); err != nil {
		return fmt.Errorf("cd: %w", err)
	}
	return nil
}

// BuiltinWait implements `wait`: block the calling Parser until job
// finishes, releasing the GIL for the duration so other Script-Threads
// (including job's own internal stages) can run. It reports job's last
// pipestatus entry as fm.Parser's new $status.
func BuiltinWait(fm *Frame, job *Job) error {
	res := job.Wait(fm.Parser)
	fm.Parser.SetPipestatus(res.Pipestatus)
	last := 0
	if len(res.Pipestatus) > 0 {
		last = res.Pipestatus[len(res.Pipestatus)-1]
	}
	fm.Parser.SetStatus(last)
	return nil
}

// BuiltinJobs implements `jobs`: list every currently live job group,
// writing one line per job to fm.Stdout in the "%d: %s (pgid %s)" form,
// where the pgid is "-" for a group that has none.
func BuiltinJobs(fm *Frame) error {
	groups := fm.Parser.rt.Jobs.LiveGroups()
	if len(groups) == 0 {
		_, err := io.WriteString(fm.Stdout, "jobs: there are no jobs\n")
		return err
	}
	for _, g := range groups {
		pgid := "-"
		if g.HasPGID {
			pgid = fmt.Sprintf("%d", g.PGID)
		}
		line := fmt.Sprintf("%d: %s (pgid %s)\n", g.JobID, g.Command, pgid)
		if _, err := io.WriteString(fm.Stdout, line); err != nil {
			return err
		}
	}
	return nil
}

// ParseJobControlMode maps the string argument of `status job-control` to
// a jobgroup.Mode, per spec.md §6.
func ParseJobControlMode(s string) (jobgroup.Mode, error) {
	switch s {
	case "full":
		return jobgroup.Full, nil
	case "interactive":
		return jobgroup.Interactive, nil
	case "none":
		return jobgroup.None, nil
	default:
		return 0, fmt.Errorf("status job-control: unknown mode %q", s)
	}
}

// BuiltinStatusJobControl implements `status job-control MODE`.
func BuiltinStatusJobControl(fm *Frame, mode string) error {
	m, err := ParseJobControlMode(mode)
	if err != nil {
		return err
	}
	fm.Parser.rt.Jobs.SetMode(m)
	return nil
}

// BuiltinSetGlobal implements `set -g NAME VALUE`: a global assignment
// visible to every Parser branched from fm.Parser's root, per spec.md's
// "branching globals" testable property.
func BuiltinSetGlobal(fm *Frame, name string, value any) error {
	fm.Parser.SetGlobal(name, value)
	return nil
}

// BuiltinDebugScheduler implements `fish_debug_scheduler`: dump a
// point-in-time YAML snapshot of the GIL's waitqueue/owner and every live
// job group to fm.Stdout, for postmortem debugging (spec.md's Non-goals
// exclude neither observability nor this module's supplemented pkg/trace
// feature).
func BuiltinDebugScheduler(fm *Frame) error {
	snap := trace.Capture(fm.Parser.rt.Gil, fm.Parser.rt.Jobs)
	data, err := snap.YAML()
	if err != nil {
		return fmt.Errorf("fish_debug_scheduler: %w", err)
	}
	_, err = fm.Stdout.Write(data)
	return err
}
