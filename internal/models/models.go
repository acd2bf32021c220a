// Package models defines the core domain types for conductor.
package models

import (
	"encoding/json"
	"time"
)

// Kind is the fleet layer a managed process belongs to.
type Kind string

const (
	KindCoordinator Kind = "coordinator"
	KindSpecialist  Kind = "specialist"
	KindLeaf        Kind = "leaf"
)

// Kinds lists the fleet layers in start order.
var Kinds = []Kind{KindCoordinator, KindSpecialist, KindLeaf}

// Valid reports whether k is a known fleet layer.
func (k Kind) Valid() bool {
	switch k {
	case KindCoordinator, KindSpecialist, KindLeaf:
		return true
	}
	return false
}

// LaunchMode selects the launch strategy for a process.
type LaunchMode string

const (
	// LaunchSubprocess starts the worker as a separate OS process.
	LaunchSubprocess LaunchMode = "subprocess"
	// LaunchInProcess constructs the worker inside the conductor process.
	LaunchInProcess LaunchMode = "inprocess"
)

// LaunchConfig holds everything needed to start a worker identically on restart.
type LaunchConfig struct {
	Mode       LaunchMode        `json:"mode" yaml:"mode"`
	Command    string            `json:"command" yaml:"command"`
	Args       []string          `json:"args,omitempty" yaml:"args"`
	Dir        string            `json:"dir,omitempty" yaml:"dir"`
	Env        map[string]string `json:"env,omitempty" yaml:"env"`
	Port       int               `json:"port,omitempty" yaml:"port"`
	HealthPath string            `json:"health_path,omitempty" yaml:"health_path"`
}

// Equal reports whether two launch configs describe the same launch.
func (lc LaunchConfig) Equal(other LaunchConfig) bool {
	if lc.Mode != other.Mode || lc.Command != other.Command || lc.Dir != other.Dir ||
		lc.Port != other.Port || lc.HealthPath != other.HealthPath {
		return false
	}
	if len(lc.Args) != len(other.Args) || len(lc.Env) != len(other.Env) {
		return false
	}
	for i := range lc.Args {
		if lc.Args[i] != other.Args[i] {
			return false
		}
	}
	for k, v := range lc.Env {
		if ov, ok := other.Env[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so callers cannot mutate a stored config.
func (lc LaunchConfig) Clone() LaunchConfig {
	out := lc
	if lc.Args != nil {
		out.Args = append([]string(nil), lc.Args...)
	}
	if lc.Env != nil {
		out.Env = make(map[string]string, len(lc.Env))
		for k, v := range lc.Env {
			out.Env[k] = v
		}
	}
	return out
}

// ProcessSpec declares one member of the fleet.
type ProcessSpec struct {
	ID     string       `json:"id" yaml:"id"`
	Kind   Kind         `json:"kind" yaml:"kind"`
	Launch LaunchConfig `json:"launch" yaml:",inline"`
}

// ProcessState is the supervisor's view of a managed process.
type ProcessState string

const (
	ProcessRunning    ProcessState = "running"
	ProcessRestarting ProcessState = "restarting"
	ProcessFailed     ProcessState = "failed"
)

// SnapshotEntry is the externally readable projection of one live process.
type SnapshotEntry struct {
	PID          int          `json:"pid"`
	Kind         Kind         `json:"kind"`
	LaunchConfig LaunchConfig `json:"launch_config"`
	StartedAt    time.Time    `json:"started_at"`
}

// ProcessSnapshot maps process id to its snapshot entry.
type ProcessSnapshot map[string]SnapshotEntry

// ProcessEvent records a lifecycle event of a managed process.
type ProcessEvent struct {
	ID        string    `json:"id"`
	ProcessID string    `json:"process_id"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Process event names.
const (
	EventRegistered    = "registered"
	EventUnhealthy     = "unhealthy"
	EventRestarted     = "restarted"
	EventRestartFailed = "restart_failed"
	EventFailed        = "failed"
	EventTerminated    = "terminated"
)

// DomainTask is a named unit of scheduling work.
type DomainTask struct {
	Name         string   `json:"name" yaml:"name"`
	Dependencies []string `json:"depends_on,omitempty" yaml:"depends_on"`
	Priority     int      `json:"priority" yaml:"priority"`
	// Worker is the fleet process id that serves this domain, if any.
	Worker string `json:"worker,omitempty" yaml:"worker"`
	// Synthesis marks the task that combines the other selected results.
	Synthesis bool     `json:"synthesis,omitempty" yaml:"synthesis"`
	Keywords  []string `json:"keywords,omitempty" yaml:"keywords"`
	Pattern   string   `json:"pattern,omitempty" yaml:"pattern"`
}

// Step is one batch of an ExecutionPlan.
type Step struct {
	Priority int      `json:"priority"`
	Tasks    []string `json:"tasks"`
	Parallel bool     `json:"parallel"`
}

// ExecutionPlan is an ordered list of steps.
type ExecutionPlan struct {
	Steps []Step `json:"steps"`
}

// Tasks returns every task name in step order.
func (p ExecutionPlan) Tasks() []string {
	var out []string
	for _, s := range p.Steps {
		out = append(out, s.Tasks...)
	}
	return out
}

// StepIndex returns the index of the step holding name, or -1.
func (p ExecutionPlan) StepIndex(name string) int {
	for i, s := range p.Steps {
		for _, t := range s.Tasks {
			if t == name {
				return i
			}
		}
	}
	return -1
}

// TaskResult is the outcome of one DomainTask.
type TaskResult struct {
	Value json.RawMessage `json:"value,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Failed reports whether the task produced an error marker.
func (r TaskResult) Failed() bool {
	return r.Error != ""
}

// RunStatus represents the state of a plan run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusRejected  RunStatus = "rejected"
)

// PlanRun represents one scheduled request.
type PlanRun struct {
	ID         string                `json:"id"`
	Request    string                `json:"request"`
	Plan       ExecutionPlan         `json:"plan"`
	Status     RunStatus             `json:"status"`
	Error      string                `json:"error,omitempty"`
	Results    map[string]TaskResult `json:"results,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
	FinishedAt *time.Time            `json:"finished_at,omitempty"`
}

// Decision represents a recorded supervisor or scheduler decision for audit.
type Decision struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	Subject    string    `json:"subject,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
