// Package testutil contains common test utilities: temporary directories,
// environment save/restore, and CI-safe scaled sleeps for tests that
// exercise the scheduler or background I/O.
package testutil

import (
	"path/filepath"
	"testing"
)

// Cleanuper wraps the Cleanup method. It is a subset of [testing.TB], thus
// satisfied by [*testing.T] and [*testing.B].
type Cleanuper interface {
	Cleanup(func())
}

// TempDir creates a new temporary directory and arranges for it to be
// removed when the test finishes. Symlinks are resolved so tests can
// reliably compare it against os.Getwd after a chdir.
func TempDir(t testing.TB) string {
	t.Helper()
	dir := t.TempDir()
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatal(err)
	}
	return resolved
}
