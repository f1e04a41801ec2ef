// Package executor implements the uniform executor capability the
// scheduler invokes for every task kind. The interface shape — one struct
// per task kind, each with an Execute method — is kept from the teacher's
// TaskExecutor/MultiTaskExecutor dispatch (services/orchestrator/task_executor.go)
// and its per-kind plugin structs (services/orchestrator/plugins.go), with
// the speculative kinds the teacher stubbed out (gRPC, model inference,
// SQL, Kafka, OPA policy) dropped — see DESIGN.md.
package executor

import (
	"context"
	"time"
)

// Status is the terminal outcome of one executor invocation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusTimeout Status = "timeout"
)

// MaxCaptureBytes bounds stdout/stderr capture for every executor kind.
const MaxCaptureBytes = 10 << 20 // 10 MiB

// Result is the uniform outcome every executor kind returns.
type Result struct {
	Status            Status
	ExitCode          *int
	Stdout            string
	Stderr            string
	Duration          time.Duration
	OutputTruncated   bool
	Error             string
}

// Executor is implemented by ShellTask, SSHTask, and HTTPTask.
type Executor interface {
	// Execute runs the task to completion or until deadline elapses.
	// deadline is absolute, not a duration, so retries each get a fresh
	// deadline computed by the caller.
	Execute(ctx context.Context, deadline time.Time) Result
}
