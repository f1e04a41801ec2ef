// Package xerrors defines the tagged error union shared across picoflow's
// components. Every error that crosses a component boundary is one of these
// types, so callers can map it to an exit code with a single type switch
// instead of string-matching messages.
package xerrors

import (
	"errors"
	"fmt"
)

// Exit codes, per the CLI contract.
const (
	ExitOK             = 0
	ExitGeneral        = 1
	ExitValidation     = 2
	ExitExecution      = 3
	ExitConfig         = 4
	ExitIO             = 5
	ExitStorage        = 6
	ExitNetwork        = 7
	ExitTimeout        = 8
	ExitInterrupted    = 9
)

// InvalidInput covers parser/validation failures: size, syntax, limits,
// names, absolute-path, dependency reference.
type InvalidInput struct {
	Reason string
}

func (e *InvalidInput) Error() string { return fmt.Sprintf("invalid input: %s", e.Reason) }
func (e *InvalidInput) ExitCode() int  { return ExitValidation }

// CycleDetected means the dependency graph contains a cycle; Nodes names the
// tasks participating in it.
type CycleDetected struct {
	Nodes []string
}

func (e *CycleDetected) Error() string {
	return fmt.Sprintf("cycle detected among tasks: %v", e.Nodes)
}
func (e *CycleDetected) ExitCode() int { return ExitValidation }

// StorageError wraps a state-store failure. It is always fatal to the
// execution that triggered it.
type StorageError struct {
	Op    string
	Cause error
}

func (e *StorageError) Error() string  { return fmt.Sprintf("storage error during %s: %v", e.Op, e.Cause) }
func (e *StorageError) Unwrap() error  { return e.Cause }
func (e *StorageError) ExitCode() int  { return ExitStorage }

// ExecutorError wraps a shell-spawn, SSH auth/connect, or HTTP transport
// failure. Output truncation is not an error and is represented separately
// via Result.OutputTruncated.
type ExecutorError struct {
	Kind  string // "shell" | "ssh" | "http"
	Cause error
}

func (e *ExecutorError) Error() string { return fmt.Sprintf("%s executor error: %v", e.Kind, e.Cause) }
func (e *ExecutorError) Unwrap() error { return e.Cause }
func (e *ExecutorError) ExitCode() int {
	if e.Kind == "ssh" {
		return ExitNetwork
	}
	return ExitExecution
}

// Timeout means an attempt exceeded its deadline.
type Timeout struct {
	TaskName string
}

func (e *Timeout) Error() string { return fmt.Sprintf("task %q exceeded its deadline", e.TaskName) }
func (e *Timeout) ExitCode() int  { return ExitTimeout }

// Cancelled means shutdown or an upstream failure aborted this attempt.
type Cancelled struct {
	Reason string
}

func (e *Cancelled) Error() string { return fmt.Sprintf("cancelled: %s", e.Reason) }
func (e *Cancelled) ExitCode() int  { return ExitInterrupted }

// Blocked means a guard refused the operation outright: SSRF guard,
// host-key mismatch, header injection.
type Blocked struct {
	Reason string
}

func (e *Blocked) Error() string { return fmt.Sprintf("blocked: %s", e.Reason) }
func (e *Blocked) ExitCode() int  { return ExitExecution }

// Fatal marks an internal invariant violation. Always logged by the caller.
type Fatal struct {
	Cause error
}

func (e *Fatal) Error() string { return fmt.Sprintf("fatal: %v", e.Cause) }
func (e *Fatal) Unwrap() error { return e.Cause }
func (e *Fatal) ExitCode() int  { return ExitGeneral }

// coder is implemented by every type in this package.
type coder interface {
	error
	ExitCode() int
}

// ExitCode maps any error to a CLI exit code, defaulting to ExitGeneral for
// errors that did not originate in this package.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		var c coder
		if asCoder(e, &c) {
			return c.ExitCode()
		}
	}
	return ExitGeneral
}

func asCoder(err error, target *coder) bool {
	switch e := err.(type) {
	case *InvalidInput, *CycleDetected, *StorageError, *ExecutorError, *Timeout, *Cancelled, *Blocked, *Fatal:
		*target = e.(coder)
		return true
	default:
		return false
	}
}
