package workflow

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/zoza1982/picoflow-sub000/internal/xerrors"
)

// Size and shape limits, per spec §3/§4.1.
const (
	MaxSourceBytes  = 1 << 20 // 1 MiB
	MaxTasks        = 1000
	MaxNameLen      = 64
	MaxCommandBytes = 4 << 10  // 4 KiB
	MaxArgBytes     = 4 << 10  // 4 KiB per arg
	MaxArgs         = 256
	MaxDescription  = 256
)

// Parse decodes and fully validates a workflow description, in the order
// §4.1 specifies: size, then syntax, then structural completeness, then
// per-task limits, then per-kind validation. Cycle detection is left to the
// graph package.
func Parse(src []byte) (*Workflow, error) {
	if len(src) > MaxSourceBytes {
		return nil, &xerrors.InvalidInput{Reason: fmt.Sprintf("source is %d bytes, exceeds %d byte limit", len(src), MaxSourceBytes)}
	}

	dec := yaml.NewDecoder(bytes.NewReader(src))
	dec.KnownFields(true)
	var wf Workflow
	if err := dec.Decode(&wf); err != nil {
		return nil, &xerrors.InvalidInput{Reason: fmt.Sprintf("syntax error: %v", err)}
	}

	if err := Validate(&wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// Validate checks structural completeness, per-task limits, and per-kind
// validation against an already-decoded Workflow. Parse calls this after
// decoding; callers holding a Workflow built programmatically (e.g. tests)
// can call it directly.
func Validate(wf *Workflow) error {
	if err := wf.Name.Validate(); err != nil {
		return &xerrors.InvalidInput{Reason: err.Error()}
	}
	if len(wf.Description) > MaxDescription {
		return &xerrors.InvalidInput{Reason: fmt.Sprintf("description exceeds %d characters", MaxDescription)}
	}
	if len(wf.Tasks) == 0 {
		return &xerrors.InvalidInput{Reason: "workflow has no tasks"}
	}
	if len(wf.Tasks) > MaxTasks {
		return &xerrors.InvalidInput{Reason: fmt.Sprintf("workflow has %d tasks, exceeds %d limit", len(wf.Tasks), MaxTasks)}
	}

	applyConfigDefaults(&wf.Config)
	if err := validateConfig(wf.Config); err != nil {
		return err
	}

	seen := make(map[NameId]bool, len(wf.Tasks))
	for _, t := range wf.Tasks {
		if err := t.Name.Validate(); err != nil {
			return &xerrors.InvalidInput{Reason: err.Error()}
		}
		if seen[t.Name] {
			return &xerrors.InvalidInput{Reason: fmt.Sprintf("duplicate task name %q", t.Name)}
		}
		seen[t.Name] = true
	}

	for _, t := range wf.Tasks {
		if err := validateTask(wf, t); err != nil {
			return err
		}
	}

	for _, t := range wf.Tasks {
		for _, dep := range t.DependsOn {
			if wf.TaskByName(dep) == nil {
				return &xerrors.InvalidInput{Reason: fmt.Sprintf("task %q depends on unknown task %q", t.Name, dep)}
			}
		}
	}

	return nil
}

func applyConfigDefaults(c *Config) {
	d := DefaultConfig()
	if c.MaxParallel == 0 {
		c.MaxParallel = d.MaxParallel
	}
	if c.RetryDefault == 0 {
		c.RetryDefault = d.RetryDefault
	}
	if c.TimeoutDefault == 0 {
		c.TimeoutDefault = d.TimeoutDefault
	}
}

func validateConfig(c Config) error {
	if c.MaxParallel < 1 || c.MaxParallel > 256 {
		return &xerrors.InvalidInput{Reason: fmt.Sprintf("config.max_parallel %d out of range [1,256]", c.MaxParallel)}
	}
	if c.RetryDefault < 0 || c.RetryDefault > 100 {
		return &xerrors.InvalidInput{Reason: fmt.Sprintf("config.retry_default %d out of range [0,100]", c.RetryDefault)}
	}
	if c.TimeoutDefault < 0 || c.TimeoutDefault > 86400 {
		return &xerrors.InvalidInput{Reason: fmt.Sprintf("config.timeout_default %d out of range [0,86400]", c.TimeoutDefault)}
	}
	return nil
}

func validateTask(wf *Workflow, t *Task) error {
	if t.Retry != nil && (*t.Retry < 0 || *t.Retry > 100) {
		return &xerrors.InvalidInput{Reason: fmt.Sprintf("task %q retry %d out of range [0,100]", t.Name, *t.Retry)}
	}
	if t.Timeout != nil && (*t.Timeout < 0 || *t.Timeout > 86400) {
		return &xerrors.InvalidInput{Reason: fmt.Sprintf("task %q timeout %d out of range [0,86400]", t.Name, *t.Timeout)}
	}

	switch t.Kind {
	case KindShell:
		return decodeAndValidateShell(t)
	case KindSSH:
		return decodeAndValidateSSH(t)
	case KindHTTP:
		return decodeAndValidateHTTP(t)
	default:
		return &xerrors.InvalidInput{Reason: fmt.Sprintf("task %q has unknown type %q", t.Name, t.Kind)}
	}
}
