// Package sys provides the handful of low-level terminal/process-group
// primitives the job group machinery needs, in a form that stays
// the same across the OS-specific files in this package.
package sys

import (
	"os"

	"github.com/mattn/go-isatty"
)

// IsATTY determines whether the given file is a terminal. Job Group
// creation consults this to decide whether a job must own the controlling
// terminal (spec.md §4.5).
func IsATTY(file *os.File) bool {
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
