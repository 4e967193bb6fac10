package chdirlock_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fish.sh/concur/pkg/chdirlock"
	"fish.sh/concur/pkg/testutil"
)

func openDir(t *testing.T, dir string) *os.File {
	t.Helper()
	f, err := os.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestAcquireChangesDirectory(t *testing.T) {
	dir := testutil.TempDir(t)
	l := chdirlock.New()
	f := openDir(t, dir)

	ticket, err := l.Acquire(int(f.Fd()), dir)
	if err != nil {
		t.Fatal(err)
	}
	defer ticket.Release()

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	got, _ := filepath.EvalSymlinks(cwd)
	want, _ := filepath.EvalSymlinks(dir)
	if got != want {
		t.Fatalf("cwd = %q, want %q", got, want)
	}
}

func TestSharedHoldingSameDir(t *testing.T) {
	dir := testutil.TempDir(t)
	l := chdirlock.New()
	f := openDir(t, dir)

	t1, err := l.Acquire(int(f.Fd()), dir)
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		t2, err := l.Acquire(int(f.Fd()), dir)
		if err != nil {
			t.Error(err)
			close(done)
			return
		}
		t2.Release()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(testutil.Scaled(2 * time.Second)):
		t.Fatal("second acquire on the same directory blocked; shared holding not honored")
	}
	t1.Release()
}

func TestFIFOOrderAcrossDirectories(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	l := chdirlock.New()
	fa := openDir(t, dirA)
	fb := openDir(t, dirB)

	first, err := l.Acquire(int(fa.Fd()), dirA)
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var order []string
	releaseB := make(chan struct{})
	releaseA := make(chan struct{})
	go func() {
		<-releaseB
		tk, err := l.Acquire(int(fb.Fd()), dirB)
		if err != nil {
			t.Error(err)
			return
		}
		mu.Lock()
		order = append(order, "B")
		mu.Unlock()
		tk.Release()
	}()
	go func() {
		<-releaseA
		tk, err := l.Acquire(int(fa.Fd()), dirA)
		if err != nil {
			t.Error(err)
			return
		}
		mu.Lock()
		order = append(order, "A")
		mu.Unlock()
		tk.Release()
	}()

	// B (a different directory) queues first, then A (the directory the
	// first holder is already in); A must not overtake B.
	close(releaseB)
	time.Sleep(testutil.ScaledMs(20)) // let B block in Acquire
	close(releaseA)
	time.Sleep(testutil.ScaledMs(20)) // let A block in Acquire behind B
	first.Release()

	time.Sleep(testutil.ScaledMs(100))
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "B" || order[1] != "A" {
		t.Fatalf("waiters finished in order %v, want [B A]", order)
	}
}
