package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/zoza1982/picoflow-sub000/internal/xerrors"
)

var (
	bucketWorkflows        = []byte("workflows")
	bucketExecutions       = []byte("executions")
	bucketExecutionsIndex  = []byte("executions_by_workflow_started")
	bucketTaskExecutions   = []byte("task_executions")
	bucketTaskExecIndex    = []byte("task_executions_by_execution")
	bucketTaskExecByKey    = []byte("task_executions_by_key")
	bucketRetentionPolicy  = []byte("retention_policy")
)

var allBuckets = [][]byte{
	bucketWorkflows, bucketExecutions, bucketExecutionsIndex,
	bucketTaskExecutions, bucketTaskExecIndex, bucketTaskExecByKey,
	bucketRetentionPolicy,
}

// Store is the embedded, transactional record of workflows, executions, and
// task attempts. One bucket per table, as in the teacher's persistence.go,
// plus secondary-index buckets for the (workflow, started_at) and
// (execution, task, attempt) lookups §4.3/§6.4 require.
type Store struct {
	db *bbolt.DB
}

// Open creates the database file and buckets if absent, then runs crash
// recovery: any Execution left in status Running is rewritten to Failed
// with an audit note, inside one transaction, per §4.3/P6.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, &xerrors.StorageError{Op: "open", Cause: err}
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, &xerrors.StorageError{Op: "create buckets", Cause: err}
	}

	s := &Store{db: db}
	if err := s.recoverCrashedExecutions(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) recoverCrashedExecutions() error {
	now := time.Now()
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketExecutions)
		var toFix []Execution
		err := bucket.ForEach(func(k, v []byte) error {
			var exec Execution
			if err := json.Unmarshal(v, &exec); err != nil {
				return nil
			}
			if exec.Status == ExecutionRunning {
				toFix = append(toFix, exec)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, exec := range toFix {
			exec.Status = ExecutionFailed
			exec.Note = crashRecoveryNote
			exec.CompletedAt = &now
			data, err := json.Marshal(exec)
			if err != nil {
				return err
			}
			if err := bucket.Put([]byte(exec.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &xerrors.StorageError{Op: "recover crashed executions", Cause: err}
	}
	return nil
}

// GetOrCreateWorkflow returns the workflow row for name, creating it with a
// fresh id if it does not already exist. Calling it twice with the same
// name returns the same row id (R2).
func (s *Store) GetOrCreateWorkflow(name string) (WorkflowRow, error) {
	var row WorkflowRow
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketWorkflows)
		data := bucket.Get([]byte(name))
		if data != nil {
			return json.Unmarshal(data, &row)
		}
		row = WorkflowRow{ID: uuid.NewString(), Name: name, CreatedAt: time.Now()}
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(name), data)
	})
	if err != nil {
		return WorkflowRow{}, &xerrors.StorageError{Op: "get_or_create_workflow", Cause: err}
	}
	return row, nil
}

func executionIndexKey(workflowID string, startedAt time.Time, executionID string) []byte {
	return []byte(fmt.Sprintf("%s:%020d:%s", workflowID, startedAt.UnixNano(), executionID))
}

// StartExecution creates an Execution row in status Running and returns its id.
func (s *Store) StartExecution(workflowID, workflowName string, totalTasks int) (string, error) {
	exec := Execution{
		ID:           uuid.NewString(),
		WorkflowID:   workflowID,
		WorkflowName: workflowName,
		StartedAt:    time.Now(),
		Status:       ExecutionRunning,
		TotalTasks:   totalTasks,
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(exec)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketExecutions).Put([]byte(exec.ID), data); err != nil {
			return err
		}
		idx := tx.Bucket(bucketExecutionsIndex)
		return idx.Put(executionIndexKey(workflowID, exec.StartedAt, exec.ID), []byte(exec.ID))
	})
	if err != nil {
		return "", &xerrors.StorageError{Op: "start_execution", Cause: err}
	}
	return exec.ID, nil
}

// FinishExecution marks an Execution terminal.
func (s *Store) FinishExecution(executionID string, status ExecutionStatus, successful, failed int) error {
	now := time.Now()
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketExecutions)
		data := bucket.Get([]byte(executionID))
		if data == nil {
			return fmt.Errorf("execution %s not found", executionID)
		}
		var exec Execution
		if err := json.Unmarshal(data, &exec); err != nil {
			return err
		}
		exec.Status = status
		exec.CompletedAt = &now
		exec.SuccessfulTasks = successful
		exec.FailedTasks = failed
		out, err := json.Marshal(exec)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(executionID), out)
	})
	if err != nil {
		return &xerrors.StorageError{Op: "finish_execution", Cause: err}
	}
	return nil
}

func taskAttemptKey(executionID, taskName string, attempt int) []byte {
	return []byte(fmt.Sprintf("%s:%s:%06d", executionID, taskName, attempt))
}

// RecordTaskStart creates (or reuses, on a duplicate call) a TaskAttempt row
// in status Running for (executionID, taskName, attempt).
func (s *Store) RecordTaskStart(executionID, taskName string, attempt int) (string, error) {
	var id string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		byKey := tx.Bucket(bucketTaskExecByKey)
		key := taskAttemptKey(executionID, taskName, attempt)
		if existing := byKey.Get(key); existing != nil {
			id = string(existing)
		} else {
			id = uuid.NewString()
			if err := byKey.Put(key, []byte(id)); err != nil {
				return err
			}
			if err := tx.Bucket(bucketTaskExecIndex).Put([]byte(fmt.Sprintf("%s:%s", executionID, id)), []byte(id)); err != nil {
				return err
			}
		}
		row := TaskAttempt{
			ID:          id,
			ExecutionID: executionID,
			TaskName:    taskName,
			Attempt:     attempt,
			Status:      TaskRunning,
			StartedAt:   time.Now(),
		}
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTaskExecutions).Put([]byte(id), data)
	})
	if err != nil {
		return "", &xerrors.StorageError{Op: "record_task_start", Cause: err}
	}
	return id, nil
}

// RecordTaskCompletion writes the terminal row for an attempt.
func (s *Store) RecordTaskCompletion(executionID, taskName string, attempt int, status TaskStatus, exitCode *int, stdout, stderr string, truncated bool, errMsg string) error {
	now := time.Now()
	return s.updateTaskAttempt(executionID, taskName, attempt, func(row *TaskAttempt) {
		row.Status = status
		row.CompletedAt = &now
		row.ExitCode = exitCode
		row.Stdout = stdout
		row.Stderr = stderr
		row.OutputTruncated = truncated
		row.ErrorMessage = errMsg
	}, "record_task_completion")
}

// RecordTaskRetry marks an attempt Retrying with its scheduled next-retry time.
func (s *Store) RecordTaskRetry(executionID, taskName string, attempt int, nextRetryAt time.Time, errMsg string) error {
	return s.updateTaskAttempt(executionID, taskName, attempt, func(row *TaskAttempt) {
		row.Status = TaskRetrying
		row.NextRetryAt = &nextRetryAt
		row.ErrorMessage = errMsg
	}, "record_task_retry")
}

func (s *Store) updateTaskAttempt(executionID, taskName string, attempt int, mutate func(*TaskAttempt), op string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		byKey := tx.Bucket(bucketTaskExecByKey)
		key := taskAttemptKey(executionID, taskName, attempt)
		id := byKey.Get(key)
		if id == nil {
			return fmt.Errorf("task attempt %s/%s/%d not found", executionID, taskName, attempt)
		}
		bucket := tx.Bucket(bucketTaskExecutions)
		data := bucket.Get(id)
		if data == nil {
			return fmt.Errorf("task attempt row %s missing", string(id))
		}
		var row TaskAttempt
		if err := json.Unmarshal(data, &row); err != nil {
			return err
		}
		mutate(&row)
		out, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return bucket.Put(id, out)
	})
	if err != nil {
		return &xerrors.StorageError{Op: op, Cause: err}
	}
	return nil
}

// ListWorkflows returns every known workflow, sorted by name.
func (s *Store) ListWorkflows() ([]WorkflowSummary, error) {
	var out []WorkflowSummary
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketWorkflows).ForEach(func(k, v []byte) error {
			var row WorkflowRow
			if err := json.Unmarshal(v, &row); err != nil {
				return nil
			}
			out = append(out, WorkflowSummary{Name: row.Name, CreatedAt: row.CreatedAt})
			return nil
		})
	})
	if err != nil {
		return nil, &xerrors.StorageError{Op: "list_workflows", Cause: err}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// TaskAttempts returns every attempt recorded for an execution, ordered by
// task name then attempt number.
func (s *Store) TaskAttempts(executionID string) ([]TaskAttempt, error) {
	var out []TaskAttempt
	err := s.db.View(func(tx *bbolt.Tx) error {
		idx := tx.Bucket(bucketTaskExecIndex)
		attempts := tx.Bucket(bucketTaskExecutions)
		prefix := []byte(executionID + ":")
		c := idx.Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			data := attempts.Get(v)
			if data == nil {
				continue
			}
			var row TaskAttempt
			if err := json.Unmarshal(data, &row); err != nil {
				continue
			}
			out = append(out, row)
		}
		return nil
	})
	if err != nil {
		return nil, &xerrors.StorageError{Op: "task_attempts", Cause: err}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TaskName != out[j].TaskName {
			return out[i].TaskName < out[j].TaskName
		}
		return out[i].Attempt < out[j].Attempt
	})
	return out, nil
}

// History lists executions matching filter, newest first.
func (s *Store) History(filter HistoryFilter) ([]ExecutionSummary, error) {
	var all []Execution
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketExecutions).ForEach(func(k, v []byte) error {
			var exec Execution
			if err := json.Unmarshal(v, &exec); err != nil {
				return nil
			}
			if filter.WorkflowName != "" && exec.WorkflowName != filter.WorkflowName {
				return nil
			}
			if filter.Status != "" && exec.Status != filter.Status {
				return nil
			}
			all = append(all, exec)
			return nil
		})
	})
	if err != nil {
		return nil, &xerrors.StorageError{Op: "history", Cause: err}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.After(all[j].StartedAt) })

	offset := filter.Offset
	if offset > len(all) {
		offset = len(all)
	}
	all = all[offset:]
	limit := filter.Limit
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}

	out := make([]ExecutionSummary, 0, len(all))
	for _, exec := range all {
		out = append(out, ExecutionSummary{
			ID: exec.ID, WorkflowName: exec.WorkflowName, Status: exec.Status,
			StartedAt: exec.StartedAt, CompletedAt: exec.CompletedAt,
			TotalTasks: exec.TotalTasks, SuccessfulTasks: exec.SuccessfulTasks, FailedTasks: exec.FailedTasks,
		})
	}
	return out, nil
}

// Statistics aggregates duration/success-rate per task for workflowName,
// folding TaskAttempt rows the way the teacher's GetStats folds bucket
// counts, extended to a per-task duration min/avg/max.
func (s *Store) Statistics(workflowName string) (Statistics, error) {
	stats := Statistics{WorkflowName: workflowName, PerTask: map[string]*TaskStats{}}

	var executionIDs []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketExecutions).ForEach(func(k, v []byte) error {
			var exec Execution
			if err := json.Unmarshal(v, &exec); err != nil {
				return nil
			}
			if exec.WorkflowName != workflowName {
				return nil
			}
			executionIDs = append(executionIDs, exec.ID)
			stats.Total++
			switch exec.Status {
			case ExecutionSuccess:
				stats.Success++
			case ExecutionFailed:
				stats.Failed++
			}
			return nil
		})
	})
	if err != nil {
		return Statistics{}, &xerrors.StorageError{Op: "statistics", Cause: err}
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Success) / float64(stats.Total)
	}

	var durations []time.Duration
	for _, execID := range executionIDs {
		attempts, err := s.TaskAttempts(execID)
		if err != nil {
			return Statistics{}, err
		}
		for _, a := range attempts {
			if a.CompletedAt == nil {
				continue
			}
			d := a.CompletedAt.Sub(a.StartedAt)
			durations = append(durations, d)

			ts, ok := stats.PerTask[a.TaskName]
			if !ok {
				ts = &TaskStats{TaskName: a.TaskName, MinDuration: d, MaxDuration: d}
				stats.PerTask[a.TaskName] = ts
			}
			ts.Total++
			switch a.Status {
			case TaskSuccess:
				ts.Success++
			case TaskFailed, TaskTimeout:
				ts.Failed++
			}
			if d < ts.MinDuration {
				ts.MinDuration = d
			}
			if d > ts.MaxDuration {
				ts.MaxDuration = d
			}
			ts.AvgDuration = ((ts.AvgDuration * time.Duration(ts.Total-1)) + d) / time.Duration(ts.Total)
		}
	}
	if len(durations) > 0 {
		var sum, min, max time.Duration
		min = durations[0]
		for _, d := range durations {
			sum += d
			if d < min {
				min = d
			}
			if d > max {
				max = d
			}
		}
		stats.AvgDuration = sum / time.Duration(len(durations))
		stats.MinDuration = min
		stats.MaxDuration = max
	}
	return stats, nil
}

// Cleanup removes executions (and their cascaded task_execution rows) older
// than retentionDays. Returns the number of execution rows deleted.
// Idempotent: a second call with the same retentionDays deletes nothing
// further (R1), since only strictly-older rows ever match.
func (s *Store) Cleanup(retentionDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	deleted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		execBucket := tx.Bucket(bucketExecutions)
		execIndex := tx.Bucket(bucketExecutionsIndex)
		taskBucket := tx.Bucket(bucketTaskExecutions)
		taskIndex := tx.Bucket(bucketTaskExecIndex)
		taskByKey := tx.Bucket(bucketTaskExecByKey)

		var stale []Execution
		err := execBucket.ForEach(func(k, v []byte) error {
			var exec Execution
			if err := json.Unmarshal(v, &exec); err != nil {
				return nil
			}
			if exec.StartedAt.Before(cutoff) {
				stale = append(stale, exec)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, exec := range stale {
			prefix := []byte(exec.ID + ":")
			c := taskIndex.Cursor()
			var idxKeysToDelete [][]byte
			var attemptIDsToDelete [][]byte
			for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
				idxKeysToDelete = append(idxKeysToDelete, append([]byte(nil), k...))
				attemptIDsToDelete = append(attemptIDsToDelete, append([]byte(nil), v...))
			}
			for i, idxKey := range idxKeysToDelete {
				if err := taskIndex.Delete(idxKey); err != nil {
					return err
				}
				if err := taskBucket.Delete(attemptIDsToDelete[i]); err != nil {
					return err
				}
			}

			byKeyPrefix := []byte(exec.ID + ":")
			bc := taskByKey.Cursor()
			var byKeyKeysToDelete [][]byte
			for k, _ := bc.Seek(byKeyPrefix); k != nil && strings.HasPrefix(string(k), string(byKeyPrefix)); k, _ = bc.Next() {
				byKeyKeysToDelete = append(byKeyKeysToDelete, append([]byte(nil), k...))
			}
			for _, k := range byKeyKeysToDelete {
				if err := taskByKey.Delete(k); err != nil {
					return err
				}
			}

			if err := execIndex.Delete(executionIndexKey(exec.WorkflowID, exec.StartedAt, exec.ID)); err != nil {
				return err
			}
			if err := execBucket.Delete([]byte(exec.ID)); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, &xerrors.StorageError{Op: "cleanup", Cause: err}
	}
	return deleted, nil
}

// PutRetentionPolicy stores the retention policy for a workflow.
func (s *Store) PutRetentionPolicy(p RetentionPolicy) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketRetentionPolicy).Put([]byte(p.WorkflowName), data)
	})
	if err != nil {
		return &xerrors.StorageError{Op: "put_retention_policy", Cause: err}
	}
	return nil
}
