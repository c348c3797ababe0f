package tool

import (
	"errors"
	"strings"
	"time"
)

// ErrTimeout marks an invocation that exceeded its deadline. The underlying
// process group has been terminated.
var ErrTimeout = errors.New("tool timed out")

// ErrInvocation marks an invocation where the process failed to start or
// died outside its own control (distinct from a non-zero exit).
var ErrInvocation = errors.New("tool invocation failed")

// Result holds the raw outcome of one external command invocation.
type Result struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Finding is one normalized issue reported by a tool (vulnerability,
// test failure, policy violation).
type Finding struct {
	ID       string `json:"id"`
	Severity string `json:"severity,omitempty"`
	Title    string `json:"title,omitempty"`
	Target   string `json:"target,omitempty"`
}

// Report is the normalized, parsed view of a tool's structured output.
// Parsed=false means the output could not be interpreted; gate evaluation
// treats that as a failure, never a silent pass.
type Report struct {
	Parsed   bool               `json:"parsed"`
	Summary  string             `json:"summary"`
	Findings []Finding          `json:"findings,omitempty"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
}

// NormalizeSeverity maps tool-specific severity spellings onto the
// canonical upper-case set used by gate policies.
func NormalizeSeverity(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL":
		return "CRITICAL"
	case "HIGH", "IMPORTANT":
		return "HIGH"
	case "MEDIUM", "MODERATE":
		return "MEDIUM"
	case "LOW", "MINOR":
		return "LOW"
	case "NEGLIGIBLE", "INFO", "INFORMATIONAL", "NONE":
		return "NEGLIGIBLE"
	default:
		return "UNKNOWN"
	}
}
