//go:build unix

package sys

import (
	"golang.org/x/sys/unix"
)

// Tcsetpgrp sets the terminal foreground process group of the terminal
// referenced by fd to pid. Job Group creation calls this when a job must
// own the controlling terminal (spec.md §4.5).
func Tcsetpgrp(fd int, pid int) error {
	return unix.IoctlSetInt(fd, unix.TIOCSPGRP, pid)
}

// Getpgrp returns the process group id of the calling process.
func Getpgrp() int {
	return unix.Getpgrp()
}

// Tcgetpgrp returns the foreground process group of the terminal
// referenced by fd.
func Tcgetpgrp(fd int) (int, error) {
	return unix.IoctlGetInt(fd, unix.TIOCGPGRP)
}
