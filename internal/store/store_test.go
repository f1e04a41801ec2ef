package store

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "picoflow.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetOrCreateWorkflowIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	a, err := s.GetOrCreateWorkflow("linear")
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	b, err := s.GetOrCreateWorkflow("linear")
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if a.ID != b.ID {
		t.Fatalf("expected same row id, got %s and %s", a.ID, b.ID)
	}
}

func TestExecutionLifecycle(t *testing.T) {
	s := openTestStore(t)
	wf, _ := s.GetOrCreateWorkflow("linear")
	execID, err := s.StartExecution(wf.ID, wf.Name, 3)
	if err != nil {
		t.Fatalf("StartExecution: %v", err)
	}

	if _, err := s.RecordTaskStart(execID, "a", 1); err != nil {
		t.Fatalf("RecordTaskStart: %v", err)
	}
	exitCode := 0
	if err := s.RecordTaskCompletion(execID, "a", 1, TaskSuccess, &exitCode, "ok", "", false, ""); err != nil {
		t.Fatalf("RecordTaskCompletion: %v", err)
	}

	if err := s.FinishExecution(execID, ExecutionSuccess, 1, 0); err != nil {
		t.Fatalf("FinishExecution: %v", err)
	}

	attempts, err := s.TaskAttempts(execID)
	if err != nil {
		t.Fatalf("TaskAttempts: %v", err)
	}
	if len(attempts) != 1 || attempts[0].Status != TaskSuccess {
		t.Fatalf("unexpected attempts: %+v", attempts)
	}

	history, err := s.History(HistoryFilter{WorkflowName: "linear", Limit: 10})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].Status != ExecutionSuccess {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestCrashRecoveryMarksRunningExecutionFailed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "picoflow.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	wf, _ := s.GetOrCreateWorkflow("crashy")
	execID, err := s.StartExecution(wf.ID, wf.Name, 1)
	if err != nil {
		t.Fatalf("StartExecution: %v", err)
	}
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	history, err := s2.History(HistoryFilter{WorkflowName: "crashy", Limit: 10})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	var found *ExecutionSummary
	for i := range history {
		if history[i].ID == execID {
			found = &history[i]
		}
	}
	if found == nil {
		t.Fatalf("expected recovered execution in history, got %+v", history)
	}
	if found.Status != ExecutionFailed {
		t.Fatalf("expected Failed status after crash recovery, got %s", found.Status)
	}
}

func TestCleanupIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	wf, _ := s.GetOrCreateWorkflow("old")
	execID, _ := s.StartExecution(wf.ID, wf.Name, 1)
	_ = execID
	if err := s.FinishExecution(execID, ExecutionSuccess, 1, 0); err != nil {
		t.Fatalf("FinishExecution: %v", err)
	}

	deletedFirst, err := s.Cleanup(-1) // cutoff in the future: everything is "older"
	if err != nil {
		t.Fatalf("first cleanup: %v", err)
	}
	if deletedFirst == 0 {
		t.Fatal("expected first cleanup to delete the stale execution")
	}

	deletedSecond, err := s.Cleanup(-1)
	if err != nil {
		t.Fatalf("second cleanup: %v", err)
	}
	if deletedSecond != 0 {
		t.Fatalf("expected idempotent second cleanup, deleted %d more rows", deletedSecond)
	}
}

func TestStatisticsAggregatesPerTaskDurations(t *testing.T) {
	s := openTestStore(t)
	wf, _ := s.GetOrCreateWorkflow("stats")
	execID, _ := s.StartExecution(wf.ID, wf.Name, 1)
	if _, err := s.RecordTaskStart(execID, "a", 1); err != nil {
		t.Fatalf("RecordTaskStart: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	exitCode := 0
	if err := s.RecordTaskCompletion(execID, "a", 1, TaskSuccess, &exitCode, "", "", false, ""); err != nil {
		t.Fatalf("RecordTaskCompletion: %v", err)
	}
	s.FinishExecution(execID, ExecutionSuccess, 1, 0)

	stats, err := s.Statistics("stats")
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.Total != 1 || stats.Success != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	ts, ok := stats.PerTask["a"]
	if !ok {
		t.Fatalf("expected per-task stats for %q", "a")
	}
	if ts.Success != 1 {
		t.Fatalf("expected 1 successful attempt, got %d", ts.Success)
	}
}
