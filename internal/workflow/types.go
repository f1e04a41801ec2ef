// Package workflow holds the declarative workflow data model and the
// parser/validator that turns workflow description bytes (see spec §6.1)
// into a validated Workflow. Types here mirror the JSON/YAML-tagged struct
// style the teacher uses for its Workflow/Task pair (see
// services/orchestrator/main.go in the retrieval pack), generalized from
// the teacher's HTTP-only task shape to the three kinds this spec names.
package workflow

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// nameIDPattern is the character class every NameId must satisfy.
var nameIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// NameId is a validated identifier: workflow names and task names are both
// NameIds. It is a distinct type (not a bare string) so the character-class
// and length invariant has one home, its Validate method, which the
// workflow validator calls for the workflow name and every task name. A
// plain conversion such as NameId("x") is not checked.
type NameId string

// Validate reports whether n satisfies the NameId character class and
// length limit.
func (n NameId) Validate() error {
	if !nameIDPattern.MatchString(string(n)) {
		return fmt.Errorf("name %q must match [A-Za-z0-9_-]{1,64}", string(n))
	}
	return nil
}

func (n NameId) String() string { return string(n) }

// TaskKind is the tagged variant of executor a task invokes. Modeled as a
// string enum rather than a shared base type / runtime polymorphism
// hierarchy, per the Design Notes' re-architecture point on dynamic
// dispatch across executor kinds.
type TaskKind string

const (
	KindShell TaskKind = "shell"
	KindSSH   TaskKind = "ssh"
	KindHTTP  TaskKind = "http"
)

// Config holds global defaults for a workflow (spec §6.1 "config:" block).
type Config struct {
	MaxParallel    int `yaml:"max_parallel"`
	RetryDefault   int `yaml:"retry_default"`
	TimeoutDefault int `yaml:"timeout_default"` // seconds
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{MaxParallel: 4, RetryDefault: 3, TimeoutDefault: 300}
}

// ShellConfig is the kind-specific config for a shell task.
type ShellConfig struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args,omitempty"`
	Workdir string            `yaml:"workdir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// SSHConfig is the kind-specific config for an SSH task.
type SSHConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port,omitempty"`
	User    string `yaml:"user"`
	Command string `yaml:"command"`
	KeyPath string `yaml:"key_path,omitempty"`
}

// HTTPConfig is the kind-specific config for an HTTP task.
type HTTPConfig struct {
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Body    map[string]any    `yaml:"body,omitempty"`
}

// Task is one node in the workflow's dependency graph.
type Task struct {
	Name              NameId   `yaml:"name"`
	Kind              TaskKind `yaml:"type"`
	DependsOn         []NameId `yaml:"depends_on,omitempty"`
	Retry             *int     `yaml:"retry,omitempty"`
	Timeout           *int     `yaml:"timeout,omitempty"` // seconds
	ContinueOnFailure bool     `yaml:"continue_on_failure,omitempty"`

	Shell *ShellConfig `yaml:"-"`
	SSH   *SSHConfig   `yaml:"-"`
	HTTP  *HTTPConfig  `yaml:"-"`

	// ConfigNode is the kind-specific "config:" block, kept raw until the
	// task's Kind is known so it can be decoded into Shell/SSH/HTTP by
	// decodeAndValidateShell/SSH/HTTP.
	ConfigNode yaml.Node `yaml:"config"`
}

// Workflow is the parsed, not-yet-validated top level document.
type Workflow struct {
	Name        NameId  `yaml:"name"`
	Description string  `yaml:"description,omitempty"`
	Schedule    string  `yaml:"schedule,omitempty"`
	Config      Config  `yaml:"config,omitempty"`
	Tasks       []*Task `yaml:"tasks"`
}

// TaskByName returns the task with the given name, or nil.
func (w *Workflow) TaskByName(name NameId) *Task {
	for _, t := range w.Tasks {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// EffectiveRetry returns the task's retry override, or the workflow default.
func (w *Workflow) EffectiveRetry(t *Task) int {
	if t.Retry != nil {
		return *t.Retry
	}
	return w.Config.RetryDefault
}

// EffectiveTimeoutSeconds returns the task's timeout override, or the
// workflow default. A value of 0 means "no timeout" per spec B4.
func (w *Workflow) EffectiveTimeoutSeconds(t *Task) int {
	if t.Timeout != nil {
		return *t.Timeout
	}
	return w.Config.TimeoutDefault
}
