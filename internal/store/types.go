// Package store is the durable record of workflows, executions, and task
// attempts, adapted from the teacher's WorkflowStore in
// services/orchestrator/persistence.go: same engine (go.etcd.io/bbolt, "no
// cgo" for easy deployment on small devices), same one-bucket-per-table
// layout with composite-key secondary-index buckets, generalized from the
// teacher's workflow/execution-only schema to the full executions +
// task_executions + retention_policy schema §6.4 requires, and with crash
// recovery (absent in the teacher) added at Open.
package store

import "time"

// ExecutionStatus is the terminal/in-flight status of an Execution row.
type ExecutionStatus string

const (
	ExecutionRunning ExecutionStatus = "running"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
)

// TaskStatus is the status of one TaskAttempt row.
type TaskStatus string

const (
	TaskPending  TaskStatus = "pending"
	TaskRunning  TaskStatus = "running"
	TaskSuccess  TaskStatus = "success"
	TaskFailed   TaskStatus = "failed"
	TaskRetrying TaskStatus = "retrying"
	TaskTimeout  TaskStatus = "timeout"
)

// WorkflowRow is the persisted identity row for a workflow name.
type WorkflowRow struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Execution is one run of a workflow end to end.
type Execution struct {
	ID              string     `json:"id"`
	WorkflowID      string     `json:"workflow_id"`
	WorkflowName    string     `json:"workflow_name"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Status          ExecutionStatus `json:"status"`
	TotalTasks      int        `json:"total_tasks"`
	SuccessfulTasks int        `json:"successful_tasks"`
	FailedTasks     int        `json:"failed_tasks"`
	Note            string     `json:"note,omitempty"`
}

// TaskAttempt is one invocation of a task's executor.
type TaskAttempt struct {
	ID              string     `json:"id"`
	ExecutionID     string     `json:"execution_id"`
	TaskName        string     `json:"task_name"`
	Attempt         int        `json:"attempt"`
	Status          TaskStatus `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ExitCode        *int       `json:"exit_code,omitempty"`
	Stdout          string     `json:"stdout,omitempty"`
	Stderr          string     `json:"stderr,omitempty"`
	OutputTruncated bool       `json:"output_truncated,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	NextRetryAt     *time.Time `json:"next_retry_at,omitempty"`
}

// RetentionPolicy bounds how long an execution's rows survive.
type RetentionPolicy struct {
	WorkflowName  string `json:"workflow_name"`
	MaxExecutions int    `json:"max_executions"`
	MaxAgeDays    int    `json:"max_age_days"`
}

// WorkflowSummary is a row returned by ListWorkflows.
type WorkflowSummary struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ExecutionSummary is a row returned by History.
type ExecutionSummary struct {
	ID              string          `json:"id"`
	WorkflowName    string          `json:"workflow_name"`
	Status          ExecutionStatus `json:"status"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	TotalTasks      int             `json:"total_tasks"`
	SuccessfulTasks int             `json:"successful_tasks"`
	FailedTasks     int             `json:"failed_tasks"`
}

// TaskStats is the per-task-name aggregate folded by Statistics.
type TaskStats struct {
	TaskName    string        `json:"task_name"`
	Total       int           `json:"total"`
	Success     int           `json:"success"`
	Failed      int           `json:"failed"`
	MinDuration time.Duration `json:"min_duration"`
	MaxDuration time.Duration `json:"max_duration"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// Statistics is the aggregate returned by the Statistics query.
type Statistics struct {
	WorkflowName string                   `json:"workflow_name"`
	Total        int                      `json:"total"`
	Success      int                      `json:"success"`
	Failed       int                      `json:"failed"`
	SuccessRate  float64                  `json:"success_rate"`
	AvgDuration  time.Duration            `json:"avg_duration"`
	MinDuration  time.Duration            `json:"min_duration"`
	MaxDuration  time.Duration            `json:"max_duration"`
	PerTask      map[string]*TaskStats    `json:"per_task"`
}

// HistoryFilter narrows the History query.
type HistoryFilter struct {
	WorkflowName string
	Status       ExecutionStatus
	Limit        int
	Offset       int
}

const crashRecoveryNote = "process crashed during execution"
