package event

import "time"

// Event types emitted over the run/stage event stream.
const (
	RunStarted     = "run_started"
	RunFinished    = "run_finished"
	RunAborted     = "run_aborted"
	StageStarted   = "stage_started"
	StagePassed    = "stage_passed"
	StageFailed    = "stage_failed"
	StageSkipped   = "stage_skipped"
	GateEvaluated  = "gate_evaluated"
	ArtifactStored = "artifact_stored"
)

// Event is one structured run/stage transition, consumable by downstream
// systems (notification, GitOps sync triggers).
type Event struct {
	Type      string    `json:"type"`
	Pipeline  string    `json:"pipeline"`
	Run       int       `json:"run"`
	Stage     string    `json:"stage,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher delivers events to a downstream consumer. Publishing is
// best-effort; delivery failures never fail a run.
type Publisher interface {
	Publish(ev Event)
	Close()
}

// multi fans out to several publishers.
type multi struct {
	publishers []Publisher
}

// Multi combines publishers into one.
func Multi(publishers ...Publisher) Publisher {
	return &multi{publishers: publishers}
}

func (m *multi) Publish(ev Event) {
	for _, p := range m.publishers {
		p.Publish(ev)
	}
}

func (m *multi) Close() {
	for _, p := range m.publishers {
		p.Close()
	}
}

// Discard swallows all events (for tests).
type Discard struct{}

func (Discard) Publish(Event) {}
func (Discard) Close()        {}
