// Package scheduler drives one workflow Execution to a terminal state.
// Shape is kept from the teacher's DAGEngine.Execute/executeDAG
// (services/orchestrator/dag_engine.go): build the graph, run a worker pool
// bounded by a semaphore, fold results, sync.WaitGroup to join. The teacher
// schedules a child the instant its own in-degree hits zero; this package
// instead walks the graph's explicit levels one at a time so a level
// boundary is an observable synchronization point, required for bounding
// per-level concurrency and for running the "did this level fail" check the
// teacher's fine-grained dataflow has no place to run.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoza1982/picoflow-sub000/internal/executor"
	"github.com/zoza1982/picoflow-sub000/internal/graph"
	"github.com/zoza1982/picoflow-sub000/internal/retry"
	"github.com/zoza1982/picoflow-sub000/internal/store"
	"github.com/zoza1982/picoflow-sub000/internal/workflow"
	"github.com/zoza1982/picoflow-sub000/internal/xerrors"
)

// Recorder receives scheduler/executor events for the metrics adapter.
// A nil Recorder (the zero value of *Scheduler.Metrics) is valid: every
// call site nil-checks before recording, the same "metrics registry lazily
// initialized only if a port is configured" design the Design Notes call
// for.
type Recorder interface {
	ObserveTaskDuration(taskName string, d time.Duration)
	IncTaskExecutions(taskName, status string)
	IncTaskRetries(taskName string)
	IncWorkflowExecutions(status string)
	SetActiveTasks(n int)
}

const defaultShutdownGrace = 60 * time.Second

// Scheduler executes one workflow to a terminal Execution state.
type Scheduler struct {
	Store         *store.Store
	Logger        *slog.Logger
	Metrics       Recorder
	ShutdownGrace time.Duration
}

// New builds a Scheduler with documented defaults.
func New(st *store.Store, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{Store: st, Logger: logger, ShutdownGrace: defaultShutdownGrace}
}

type levelOutcome struct {
	taskName string
	status   store.TaskStatus
	blocking bool // true when failure must cancel the rest of the execution
}

// Run executes wf to completion. ctx carries the cooperative shutdown
// signal (§4.5): when it is cancelled, no new tasks are started and
// in-flight tasks are given ShutdownGrace before a hard cancellation is
// propagated into the executor layer.
func (s *Scheduler) Run(ctx context.Context, wf *workflow.Workflow) (string, error) {
	g, err := graph.Build(wf)
	if err != nil {
		return "", err
	}

	wfRow, err := s.Store.GetOrCreateWorkflow(string(wf.Name))
	if err != nil {
		return "", err
	}

	execID, err := s.Store.StartExecution(wfRow.ID, wfRow.Name, len(wf.Tasks))
	if err != nil {
		return "", err
	}

	grace := s.ShutdownGrace
	if grace <= 0 {
		grace = defaultShutdownGrace
	}
	hardCtx, hardCancel := context.WithCancel(context.Background())
	defer hardCancel()
	runDone := make(chan struct{})
	defer close(runDone)
	go func() {
		select {
		case <-ctx.Done():
			select {
			case <-time.After(grace):
				hardCancel()
			case <-runDone:
			}
		case <-runDone:
		}
	}()

	maxParallel := wf.Config.MaxParallel
	if maxParallel <= 0 {
		maxParallel = workflow.DefaultConfig().MaxParallel
	}
	sem := make(chan struct{}, maxParallel)

	successful, failed := 0, 0
	blocked := false
	var activeTasks int64

	for _, level := range g.Levels() {
		if blocked {
			break
		}
		if ctx.Err() != nil {
			blocked = true
			break
		}

		var wg sync.WaitGroup
		outcomes := make(chan levelOutcome, len(level))

		for _, name := range level {
			task := wf.TaskByName(name)
			if ctx.Err() != nil {
				outcomes <- levelOutcome{taskName: string(name), status: store.TaskFailed, blocking: !task.ContinueOnFailure}
				continue
			}
			wg.Add(1)
			sem <- struct{}{}
			go func(t *workflow.Task) {
				defer wg.Done()
				defer func() { <-sem }()
				if s.Metrics != nil {
					s.Metrics.SetActiveTasks(int(atomic.AddInt64(&activeTasks, 1)))
					defer func() { s.Metrics.SetActiveTasks(int(atomic.AddInt64(&activeTasks, -1))) }()
				}
				status := s.runTaskWithRetry(ctx, hardCtx, wf, t, execID)
				outcomes <- levelOutcome{
					taskName: string(t.Name),
					status:   status,
					blocking: status != store.TaskSuccess && !t.ContinueOnFailure,
				}
			}(task)
		}

		wg.Wait()
		close(outcomes)

		for o := range outcomes {
			switch o.status {
			case store.TaskSuccess:
				successful++
			default:
				failed++
			}
			if o.blocking {
				blocked = true
			}
		}
	}

	finalStatus := store.ExecutionSuccess
	if blocked || failed > 0 {
		finalStatus = store.ExecutionFailed
	}
	if err := s.Store.FinishExecution(execID, finalStatus, successful, failed); err != nil {
		return execID, err
	}
	if s.Metrics != nil {
		s.Metrics.IncWorkflowExecutions(string(finalStatus))
	}
	return execID, nil
}

// runTaskWithRetry drives one task's attempt loop: executor invocation,
// retry-with-backoff on Failed/Timeout up to the task's effective retry
// count, and a terminal status recorded on every attempt row (a retried
// attempt's row also carries its next_retry_at). ctx is the
// cooperative-shutdown signal checked between attempts; hardCtx is passed
// into the executor itself so a grace-period expiry kills in-flight work.
func (s *Scheduler) runTaskWithRetry(ctx, hardCtx context.Context, wf *workflow.Workflow, t *workflow.Task, execID string) store.TaskStatus {
	maxAttempts := wf.EffectiveRetry(t)
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	timeoutSeconds := wf.EffectiveTimeoutSeconds(t)

	for attempt := 1; ; attempt++ {
		if _, err := s.Store.RecordTaskStart(execID, string(t.Name), attempt); err != nil {
			s.Logger.Error("record task start failed", "task", t.Name, "error", err)
			return store.TaskFailed
		}

		var deadline time.Time
		if timeoutSeconds > 0 {
			deadline = time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
		} else {
			// timeout 0: the deadline is 24 hours out (the largest configurable
			// timeout); apart from that the attempt is bounded only by hardCtx.
			deadline = time.Now().Add(24 * time.Hour)
		}

		exec := s.buildExecutor(t)
		start := time.Now()
		result := exec.Execute(hardCtx, deadline)
		duration := time.Since(start)

		if s.Metrics != nil {
			s.Metrics.ObserveTaskDuration(string(t.Name), duration)
		}

		if result.Status == executor.StatusSuccess {
			s.recordCompletion(execID, t.Name, attempt, store.TaskSuccess, result)
			return store.TaskSuccess
		}

		terminalStatus := store.TaskFailed
		if result.Status == executor.StatusTimeout {
			terminalStatus = store.TaskTimeout
		}

		if attempt < maxAttempts && ctx.Err() == nil {
			backoff := retry.Backoff(attempt)
			nextRetryAt := time.Now().Add(backoff)
			if err := s.Store.RecordTaskRetry(execID, string(t.Name), attempt, nextRetryAt, result.Error); err != nil {
				s.Logger.Error("record task retry failed", "task", t.Name, "error", err)
			}
			// The attempt row keeps next_retry_at and ends in its own
			// terminal status; the retry is a new attempt row.
			s.recordCompletion(execID, t.Name, attempt, terminalStatus, result)
			if s.Metrics != nil {
				s.Metrics.IncTaskRetries(string(t.Name))
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
			case <-hardCtx.Done():
			}
			continue
		}

		if ctx.Err() != nil && result.Status != executor.StatusSuccess {
			result.Error = "shutdown"
		}
		s.recordCompletion(execID, t.Name, attempt, terminalStatus, result)
		return terminalStatus
	}
}

func (s *Scheduler) recordCompletion(execID string, taskName workflow.NameId, attempt int, status store.TaskStatus, result executor.Result) {
	if err := s.Store.RecordTaskCompletion(execID, string(taskName), attempt, status, result.ExitCode, result.Stdout, result.Stderr, result.OutputTruncated, result.Error); err != nil {
		s.Logger.Error("record task completion failed", "task", taskName, "error", err)
	}
	if s.Metrics != nil {
		s.Metrics.IncTaskExecutions(string(taskName), string(status))
	}
}

func (s *Scheduler) buildExecutor(t *workflow.Task) executor.Executor {
	switch t.Kind {
	case workflow.KindShell:
		return &executor.ShellTask{Command: t.Shell.Command, Args: t.Shell.Args, Workdir: t.Shell.Workdir, Env: t.Shell.Env}
	case workflow.KindSSH:
		return &executor.SSHTask{Host: t.SSH.Host, Port: t.SSH.Port, User: t.SSH.User, Command: t.SSH.Command, KeyPath: t.SSH.KeyPath}
	case workflow.KindHTTP:
		return &executor.HTTPTask{URL: t.HTTP.URL, Method: t.HTTP.Method, Headers: t.HTTP.Headers, Body: httpBodyString(t.HTTP.Body)}
	default:
		return failingExecutor{err: &xerrors.Fatal{Cause: fmt.Errorf("unknown task kind %q", t.Kind)}}
	}
}

// failingExecutor always returns Failed; reached only if a Task somehow
// carries a Kind value that passed validation but has no concrete config
// (an internal invariant violation, per §7's Fatal).
type failingExecutor struct{ err error }

func (f failingExecutor) Execute(ctx context.Context, deadline time.Time) executor.Result {
	return executor.Result{Status: executor.StatusFailed, Error: f.err.Error()}
}

func httpBodyString(body map[string]any) string {
	if len(body) == 0 {
		return ""
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return string(data)
}
