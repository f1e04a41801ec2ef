package daemon

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/zoza1982/picoflow-sub000/internal/scheduler"
	"github.com/zoza1982/picoflow-sub000/internal/store"
	"github.com/zoza1982/picoflow-sub000/internal/workflow"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "picoflow.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAcquireLockRejectsSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "picoflow.lock")

	d1 := New(scheduler.New(openTestStore(t), nil), nil)
	if err := d1.AcquireLock(path); err != nil {
		t.Fatalf("first AcquireLock: %v", err)
	}
	defer d1.ReleaseLock()

	d2 := New(scheduler.New(openTestStore(t), nil), nil)
	if err := d2.AcquireLock(path); err == nil {
		t.Fatal("expected second AcquireLock on the same path to fail")
	}
}

func TestAcquireLockCanBeReacquiredAfterRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "picoflow.lock")

	d1 := New(scheduler.New(openTestStore(t), nil), nil)
	if err := d1.AcquireLock(path); err != nil {
		t.Fatalf("first AcquireLock: %v", err)
	}
	d1.ReleaseLock()

	d2 := New(scheduler.New(openTestStore(t), nil), nil)
	if err := d2.AcquireLock(path); err != nil {
		t.Fatalf("AcquireLock after release: %v", err)
	}
	d2.ReleaseLock()
}

func TestFireSkipsOverlappingRun(t *testing.T) {
	d := New(scheduler.New(openTestStore(t), nil), nil)

	wf := &workflow.Workflow{
		Name: "slow",
		Tasks: []*workflow.Task{
			{Name: "sleep", Kind: workflow.KindShell, Shell: &workflow.ShellConfig{Command: "/bin/sleep", Args: []string{"1"}}},
		},
	}

	done := make(chan struct{})
	go func() {
		d.fire(wf)
		close(done)
	}()

	// Give the first fire time to mark the workflow running before the
	// second one checks the no-overlap map.
	time.Sleep(50 * time.Millisecond)
	d.fire(wf) // should be skipped-and-logged, not a second concurrent run

	<-done

	d.mu.Lock()
	running := d.running["slow"]
	d.mu.Unlock()
	if running {
		t.Fatal("running flag left set after fire completed")
	}
}
