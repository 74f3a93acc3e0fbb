package types

import (
	"fmt"
	"strings"
	"time"
)

// RolloutState represents the lifecycle state of a rollout
type RolloutState string

const (
	RolloutPending    RolloutState = "pending"
	RolloutDeploying  RolloutState = "deploying"
	RolloutProbing    RolloutState = "probing"
	RolloutSucceeded  RolloutState = "succeeded"
	RolloutFailed     RolloutState = "failed"
	RolloutRolledBack RolloutState = "rolled_back"
)

// Terminal reports whether the state is final. A rollout never leaves a
// terminal state.
func (s RolloutState) Terminal() bool {
	switch s {
	case RolloutSucceeded, RolloutFailed, RolloutRolledBack:
		return true
	}
	return false
}

// Stage identifies which part of a rollout produced a failure cause
type Stage string

const (
	StageDeploy   Stage = "deploy"
	StageProbe    Stage = "probe"
	StageRollback Stage = "rollback"
)

// FailureCause records why a rollout stage failed
type FailureCause struct {
	Stage  Stage  `json:"stage"`
	Reason string `json:"reason"`
}

func (c FailureCause) String() string {
	return fmt.Sprintf("%s: %s", c.Stage, c.Reason)
}

// RolloutRequest describes one requested rollout. It is validated at intake
// and never mutated afterwards.
type RolloutRequest struct {
	// Host is the target host identifier, the unit of mutual exclusion
	Host string `json:"host"`

	// Reference is the version/commit/branch being deployed
	Reference string `json:"reference"`

	// Endpoint overrides the target's configured health endpoint when set
	Endpoint string `json:"endpoint,omitempty"`

	// ProbeInterval overrides the target's probe interval when > 0
	ProbeInterval time.Duration `json:"probe_interval,omitempty"`

	// ProbeTimeout overrides the target's overall probe timeout when > 0
	ProbeTimeout time.Duration `json:"probe_timeout,omitempty"`

	// MaxAttempts overrides the target's probe attempt bound when > 0
	MaxAttempts int `json:"max_attempts,omitempty"`
}

// Validate checks the request for the fields every rollout needs
func (r *RolloutRequest) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("rollout request: host is required")
	}
	if strings.TrimSpace(r.Reference) == "" {
		return fmt.Errorf("rollout request: reference is required")
	}
	if r.Endpoint != "" && !strings.HasPrefix(r.Endpoint, "http://") && !strings.HasPrefix(r.Endpoint, "https://") {
		return fmt.Errorf("rollout request: endpoint must be an http(s) URL")
	}
	if r.MaxAttempts < 0 {
		return fmt.Errorf("rollout request: max attempts must not be negative")
	}
	return nil
}

// Rollout is the persisted record of one rollout. It is the only entity
// with a lifecycle: created Pending at intake, updated once per stage
// transition, immutable after reaching a terminal state.
type Rollout struct {
	ID                string         `json:"id"`
	Host              string         `json:"host"`
	Reference         string         `json:"reference"`
	PreviousReference string         `json:"previous_reference,omitempty"`
	State             RolloutState   `json:"state"`
	Causes            []FailureCause `json:"causes,omitempty"`
	StartedAt         time.Time      `json:"started_at"`
	FinishedAt        time.Time      `json:"finished_at,omitzero"`
}

// CauseString flattens the recorded causes for logs and CLI output
func (r *Rollout) CauseString() string {
	if len(r.Causes) == 0 {
		return ""
	}
	parts := make([]string, len(r.Causes))
	for i, c := range r.Causes {
		parts[i] = c.String()
	}
	return strings.Join(parts, "; ")
}

// CommandResult is the outcome of one executed command, local or remote.
// A non-zero exit status is a normal result, not an error.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	TimedOut bool
}

// OK reports whether the command ran to completion with exit status zero
func (r *CommandResult) OK() bool {
	return r != nil && !r.TimedOut && r.ExitCode == 0
}

// ProbeStatus classifies the terminal outcome of a probe loop
type ProbeStatus string

const (
	ProbeHealthy     ProbeStatus = "healthy"
	ProbeUnhealthy   ProbeStatus = "unhealthy"
	ProbeUnreachable ProbeStatus = "unreachable"
	ProbeTimedOut    ProbeStatus = "timed_out"
)

// ProbeOutcome is the result of one bounded probe loop
type ProbeOutcome struct {
	Status   ProbeStatus
	Reason   string
	Attempts int
	Elapsed  time.Duration
}

func (o ProbeOutcome) Healthy() bool {
	return o.Status == ProbeHealthy
}

func (o ProbeOutcome) String() string {
	if o.Reason == "" {
		return string(o.Status)
	}
	return fmt.Sprintf("%s (%s)", o.Status, o.Reason)
}
