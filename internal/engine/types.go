package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/lockstep-ci/lockstep/internal/artifact"
	"github.com/lockstep-ci/lockstep/internal/config"
	"github.com/lockstep-ci/lockstep/internal/gate"
)

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunPending   RunStatus = "Pending"
	RunRunning   RunStatus = "Running"
	RunSucceeded RunStatus = "Succeeded"
	RunFailed    RunStatus = "Failed"
	RunAborted   RunStatus = "Aborted"
)

// StageStatus is the lifecycle state of a stage within a run.
type StageStatus string

const (
	StagePending StageStatus = "Pending"
	StageRunning StageStatus = "Running"
	StagePassed  StageStatus = "Passed"
	StageFailed  StageStatus = "Failed"
	StageSkipped StageStatus = "Skipped"
)

// StageResult captures the outcome of one stage within a run. Once the
// stage is terminal the result is never modified again.
type StageResult struct {
	Stage      string              `json:"stage"`
	Status     StageStatus         `json:"status"`
	ExitCode   int                 `json:"exit_code"`
	Reason     string              `json:"reason,omitempty"`
	OutputRef  string              `json:"output_ref,omitempty"`
	Gates      []gate.Result       `json:"gates,omitempty"`
	Artifacts  []artifact.Artifact `json:"artifacts,omitempty"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
}

// RunResult is the in-memory view of a single pipeline run, owned
// exclusively by the engine for its lifetime.
type RunResult struct {
	Pipeline   string         `json:"pipeline"`
	Number     int            `json:"number"`
	Status     RunStatus      `json:"status"`
	Reason     string         `json:"reason,omitempty"`
	Stages     []*StageResult `json:"stages"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Stage returns the result for a stage by name, or nil.
func (r *RunResult) Stage(name string) *StageResult {
	for _, s := range r.Stages {
		if s.Stage == name {
			return s
		}
	}
	return nil
}

// DefinitionError is a malformed pipeline definition, detected before any
// stage runs. The run never leaves Pending.
type DefinitionError struct {
	Errors []config.ValidationError
}

func (e *DefinitionError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, verr := range e.Errors {
		msgs = append(msgs, verr.Error())
	}
	return fmt.Sprintf("invalid pipeline definition: %s", strings.Join(msgs, "; "))
}
