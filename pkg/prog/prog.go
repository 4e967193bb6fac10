// Package prog provides the entry point to fish. A subprogram declares
// when it applies via ShouldRun; main tries each in order and runs the
// first match, in the style of the teacher's own buildinfo subprogram.
package prog

import (
	"flag"
	"fmt"
	"io"
	"os"

	"fish.sh/concur/pkg/logutil"
)

// Flags keeps command-line flags common to fish's subprograms.
type Flags struct {
	Log string

	Help, Version, BuildInfo, JSON bool

	CodeInArg bool

	JobControl string
	Concurrent bool
}

func newFlagSet(f *Flags) *flag.FlagSet {
	fs := flag.NewFlagSet("fish", flag.ContinueOnError)
	// Error and usage are printed explicitly by Run.
	fs.SetOutput(io.Discard)

	fs.StringVar(&f.Log, "log", "", "a file to write debug log to")

	fs.BoolVar(&f.Help, "help", false, "show usage help and quit")
	fs.BoolVar(&f.Version, "version", false, "show version and quit")
	fs.BoolVar(&f.BuildInfo, "buildinfo", false, "show build info and quit")
	fs.BoolVar(&f.JSON, "json", false, "show output in JSON, useful with -buildinfo and -version")

	fs.BoolVar(&f.CodeInArg, "c", false, "take the first argument as code to execute")

	fs.StringVar(&f.JobControl, "job-control", "interactive", "job control mode: full, interactive or none (spec.md §6)")
	fs.BoolVar(&f.Concurrent, "concurrent", true, "enable multiple Script-Threads (spec.md's `concurrent` feature flag)")

	return fs
}

func usage(out io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(out, "Usage: fish [flags] [script]")
	fmt.Fprintln(out, "Supported flags:")
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// Run parses command-line flags and runs the first program whose
// ShouldRun reports true against them. It returns the process exit
// status; the caller is expected to pass this to os.Exit.
func Run(fds [3]*os.File, args []string, programs ...Program) int {
	f := &Flags{}
	fs := newFlagSet(f)
	if err := fs.Parse(args[1:]); err != nil {
		if err == flag.ErrHelp {
			// (*flag.FlagSet).Parse returns ErrHelp when -h was requested
			// but not defined; fish defines -help, not -h.
			fmt.Fprintln(fds[2], "flag provided but not defined: -h")
		} else {
			fmt.Fprintln(fds[2], err)
		}
		usage(fds[2], fs)
		return 2
	}

	if f.Log != "" {
		if err := logutil.SetOutputFile(f.Log); err != nil {
			fmt.Fprintln(fds[2], err)
		}
	}

	if f.Help {
		usage(fds[1], fs)
		return 0
	}

	for _, p := range programs {
		if !p.ShouldRun(f) {
			continue
		}
		err := p.Run(fds, f, fs.Args())
		if err == nil {
			return 0
		}
		if msg := err.Error(); msg != "" {
			fmt.Fprintln(fds[2], msg)
		}
		switch err := err.(type) {
		case badUsageError:
			usage(fds[2], fs)
			return 2
		case exitError:
			return err.exit
		}
		return 1
	}
	return 0
}

// BadUsage returns a special error that may be returned by Program.Run. It
// causes Run to print a message, the usage information, and exit with 2.
func BadUsage(msg string) error { return badUsageError{msg} }

type badUsageError struct{ msg string }

func (e badUsageError) Error() string { return e.msg }

// Exit returns a special error that may be returned by Program.Run,
// causing Run to exit with the given code without printing any message.
// Exit(0) returns nil.
func Exit(exit int) error {
	if exit == 0 {
		return nil
	}
	return exitError{exit}
}

type exitError struct{ exit int }

func (e exitError) Error() string { return "" }

// Program is a subprogram of fish. ShouldRun decides whether it applies to
// the parsed flags; Run executes it.
type Program interface {
	ShouldRun(f *Flags) bool
	Run(fds [3]*os.File, f *Flags, args []string) error
}
