//go:build unix

package jobgroup

import (
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// ReexecEnv, when set in a child's environment, tells cmd/fish's main to
// skip normal startup and run as a pgid-owner placeholder instead: put
// itself in its own process group and exit immediately. The group is
// already its own courtesy of the parent's SysProcAttr below; the child's
// only remaining job is to exist briefly and then go away.
const ReexecEnv = "FISH_INTERNAL_PGID_OWNER"

// RunPgidOwnerChild is the entire body of a pgid-owner placeholder
// process. cmd/fish calls this and exits instead of proceeding to normal
// startup when ReexecEnv is set.
func RunPgidOwnerChild() {
	os.Exit(0)
}

type ownedProc struct {
	pid int

	once sync.Once
	cmd  *exec.Cmd
}

// startPgidOwner forks (via a self-reexec, since Go's runtime does not
// support a bare fork()) a short-lived placeholder that immediately holds
// its own pgid open. Its pid becomes the pgid that later external
// children join via setpgid.
func startPgidOwner() (*ownedProc, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(exe)
	cmd.Env = append(os.Environ(), ReexecEnv+"=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &ownedProc{pid: cmd.Process.Pid, cmd: cmd}, nil
}

func (o *ownedProc) reap() {
	o.once.Do(func() {
		o.cmd.Wait()
	})
}

func setpgid(pid, pgid int) error {
	return syscall.Setpgid(pid, pgid)
}
