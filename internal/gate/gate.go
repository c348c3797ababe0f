package gate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lockstep-ci/lockstep/internal/config"
	"github.com/lockstep-ci/lockstep/internal/tool"
)

// Result is the outcome of evaluating one policy against a tool report.
type Result struct {
	Policy    string         `json:"policy"`
	Passed    bool           `json:"passed"`
	Reason    string         `json:"reason"`
	Breakdown map[string]int `json:"severity_breakdown,omitempty"`
}

// severityRank orders severities for threshold comparison. Unrecognized
// severities rank above CRITICAL so they always exceed any configured
// threshold (fail closed).
var severityRank = map[string]int{
	"NEGLIGIBLE": 1,
	"LOW":        2,
	"MEDIUM":     3,
	"HIGH":       4,
	"CRITICAL":   5,
}

const unknownRank = 6

func rank(severity string) int {
	if r, ok := severityRank[severity]; ok {
		return r
	}
	return unknownRank
}

// Evaluate applies a single policy to a tool report. It is a pure function:
// identical inputs always yield an identical Result. A missing or unparsed
// report fails, never passes.
func Evaluate(name string, policy config.Policy, report *tool.Report) Result {
	res := Result{Policy: name, Passed: true}

	if report == nil || !report.Parsed {
		res.Passed = false
		res.Reason = "unparseable tool output"
		return res
	}

	res.Breakdown = breakdown(report.Findings)
	var reasons []string

	if policy.MaxSeverity != "" {
		threshold := rank(policy.MaxSeverity)
		if policy.MaxFindings != nil {
			// Combined rule: cap the count of findings at or above the threshold.
			violating := findingsAtOrAbove(report.Findings, threshold)
			if len(violating) > *policy.MaxFindings {
				res.Passed = false
				reasons = append(reasons, fmt.Sprintf("%d findings at or above %s (max %d): %s",
					len(violating), policy.MaxSeverity, *policy.MaxFindings, describe(violating)))
			}
		} else {
			violating := findingsAbove(report.Findings, threshold)
			if len(violating) > 0 {
				res.Passed = false
				reasons = append(reasons, fmt.Sprintf("%d findings exceed %s: %s",
					len(violating), policy.MaxSeverity, describe(violating)))
			}
		}
	} else if policy.MaxFindings != nil {
		if len(report.Findings) > *policy.MaxFindings {
			res.Passed = false
			reasons = append(reasons, fmt.Sprintf("%d findings (max %d)",
				len(report.Findings), *policy.MaxFindings))
		}
	}

	if policy.MinCoverage != nil {
		coverage, ok := report.Metrics["coverage"]
		switch {
		case !ok:
			res.Passed = false
			reasons = append(reasons, "missing coverage metric")
		case coverage < *policy.MinCoverage:
			res.Passed = false
			reasons = append(reasons, fmt.Sprintf("coverage %.1f%% below minimum %.1f%%",
				coverage*100, *policy.MinCoverage*100))
		}
	}

	if policy.MaxFailures != nil {
		failed, ok := report.Metrics["tests_failed"]
		switch {
		case !ok:
			res.Passed = false
			reasons = append(reasons, "missing tests_failed metric")
		case int(failed) > *policy.MaxFailures:
			res.Passed = false
			reasons = append(reasons, fmt.Sprintf("%d test failures (max %d)",
				int(failed), *policy.MaxFailures))
		}
	}

	if res.Passed {
		res.Reason = "ok"
	} else {
		res.Reason = strings.Join(reasons, "; ")
	}
	return res
}

// EvaluateAll applies the named policies in order and reports the aggregate
// status. The aggregate passes only if every policy passes (AND semantics).
func EvaluateAll(policies map[string]config.Policy, names []string, report *tool.Report) ([]Result, bool) {
	results := make([]Result, 0, len(names))
	passed := true
	for _, name := range names {
		r := Evaluate(name, policies[name], report)
		if !r.Passed {
			passed = false
		}
		results = append(results, r)
	}
	return results, passed
}

func breakdown(findings []tool.Finding) map[string]int {
	if len(findings) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, f := range findings {
		sev := f.Severity
		if sev == "" {
			sev = "UNKNOWN"
		}
		counts[sev]++
	}
	return counts
}

func findingsAbove(findings []tool.Finding, threshold int) []tool.Finding {
	var out []tool.Finding
	for _, f := range findings {
		if rank(f.Severity) > threshold {
			out = append(out, f)
		}
	}
	return out
}

func findingsAtOrAbove(findings []tool.Finding, threshold int) []tool.Finding {
	var out []tool.Finding
	for _, f := range findings {
		if rank(f.Severity) >= threshold {
			out = append(out, f)
		}
	}
	return out
}

// describe renders a deterministic, bounded list of finding identifiers.
func describe(findings []tool.Finding) string {
	const maxListed = 5

	parts := make([]string, 0, len(findings))
	for _, f := range findings {
		sev := f.Severity
		if sev == "" {
			sev = "UNKNOWN"
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", f.ID, sev))
	}
	sort.Strings(parts)

	if len(parts) > maxListed {
		parts = append(parts[:maxListed], fmt.Sprintf("and %d more", len(findings)-maxListed))
	}
	return strings.Join(parts, ", ")
}
