package gate

import (
	"reflect"
	"strings"
	"testing"

	"github.com/lockstep-ci/lockstep/internal/config"
	"github.com/lockstep-ci/lockstep/internal/tool"
)

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func cleanScan() *tool.Report {
	return &tool.Report{Parsed: true, Summary: "no vulnerabilities found"}
}

func criticalScan() *tool.Report {
	return &tool.Report{
		Parsed: true,
		Findings: []tool.Finding{
			{ID: "CVE-2024-1234", Severity: "CRITICAL", Title: "buffer overflow", Target: "openssl"},
			{ID: "CVE-2024-5678", Severity: "LOW", Title: "timing leak", Target: "zlib"},
		},
	}
}

func testReport(failed int, coverage float64) *tool.Report {
	return &tool.Report{
		Parsed: true,
		Metrics: map[string]float64{
			"tests_total":  12,
			"tests_failed": float64(failed),
			"coverage":     coverage,
		},
	}
}

func TestEvaluate_MaxFailuresPass(t *testing.T) {
	res := Evaluate("no-test-failures", config.Policy{MaxFailures: intPtr(0)}, testReport(0, 0.9))
	if !res.Passed {
		t.Fatalf("expected pass, got %q", res.Reason)
	}
}

func TestEvaluate_MaxFailuresFail(t *testing.T) {
	res := Evaluate("no-test-failures", config.Policy{MaxFailures: intPtr(0)}, testReport(2, 0.9))
	if res.Passed {
		t.Fatal("expected fail")
	}
	if !strings.Contains(res.Reason, "2 test failures") {
		t.Errorf("reason should name the failure count, got %q", res.Reason)
	}
}

func TestEvaluate_MaxSeverityFail(t *testing.T) {
	res := Evaluate("no-high-vulns", config.Policy{MaxSeverity: "HIGH"}, criticalScan())
	if res.Passed {
		t.Fatal("expected fail")
	}
	if !strings.Contains(res.Reason, "CRITICAL") {
		t.Errorf("reason should include the violating severity, got %q", res.Reason)
	}
	if res.Breakdown["CRITICAL"] != 1 || res.Breakdown["LOW"] != 1 {
		t.Errorf("unexpected breakdown %v", res.Breakdown)
	}
}

func TestEvaluate_MaxSeverityPassBelowThreshold(t *testing.T) {
	rep := &tool.Report{
		Parsed:   true,
		Findings: []tool.Finding{{ID: "CVE-1", Severity: "MEDIUM"}},
	}
	res := Evaluate("no-high-vulns", config.Policy{MaxSeverity: "HIGH"}, rep)
	if !res.Passed {
		t.Fatalf("MEDIUM must not exceed HIGH threshold, got %q", res.Reason)
	}
}

func TestEvaluate_CombinedSeverityAndCount(t *testing.T) {
	// max_severity HIGH + max_findings 0 counts findings at or above HIGH.
	rep := &tool.Report{
		Parsed:   true,
		Findings: []tool.Finding{{ID: "CVE-1", Severity: "HIGH"}},
	}
	policy := config.Policy{MaxSeverity: "HIGH", MaxFindings: intPtr(0)}
	res := Evaluate("strict", policy, rep)
	if res.Passed {
		t.Fatal("expected fail: HIGH finding counts against the cap")
	}
}

func TestEvaluate_UnknownSeverityFailsClosed(t *testing.T) {
	rep := &tool.Report{
		Parsed:   true,
		Findings: []tool.Finding{{ID: "CVE-1", Severity: "BANANAS"}},
	}
	res := Evaluate("no-criticals", config.Policy{MaxSeverity: "CRITICAL"}, rep)
	if res.Passed {
		t.Fatal("unrecognized severities must exceed every threshold")
	}
}

func TestEvaluate_MinCoverage(t *testing.T) {
	res := Evaluate("coverage-80", config.Policy{MinCoverage: floatPtr(0.8)}, testReport(0, 0.75))
	if res.Passed {
		t.Fatal("expected fail")
	}
	if !strings.Contains(res.Reason, "75.0%") {
		t.Errorf("reason should include actual coverage, got %q", res.Reason)
	}

	res = Evaluate("coverage-80", config.Policy{MinCoverage: floatPtr(0.8)}, testReport(0, 0.86))
	if !res.Passed {
		t.Fatalf("expected pass, got %q", res.Reason)
	}
}

func TestEvaluate_MissingMetricFailsClosed(t *testing.T) {
	rep := &tool.Report{Parsed: true, Metrics: map[string]float64{}}
	res := Evaluate("coverage-80", config.Policy{MinCoverage: floatPtr(0.8)}, rep)
	if res.Passed {
		t.Fatal("missing metric must fail")
	}
	if !strings.Contains(res.Reason, "missing coverage metric") {
		t.Errorf("reason should name the missing metric, got %q", res.Reason)
	}
}

func TestEvaluate_UnparseableFailsClosed(t *testing.T) {
	unparsed := &tool.Report{Parsed: false, Summary: "exit code 0 (no structured parser)"}
	for _, rep := range []*tool.Report{nil, unparsed} {
		res := Evaluate("anything", config.Policy{MaxFindings: intPtr(100)}, rep)
		if res.Passed {
			t.Fatal("unparseable output must fail")
		}
		if res.Reason != "unparseable tool output" {
			t.Errorf("expected canonical reason, got %q", res.Reason)
		}
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	policy := config.Policy{MaxSeverity: "HIGH"}
	first := Evaluate("no-high-vulns", policy, criticalScan())
	second := Evaluate("no-high-vulns", policy, criticalScan())
	if !reflect.DeepEqual(first, second) {
		t.Errorf("evaluation not deterministic:\n  %+v\n  %+v", first, second)
	}
}

func TestEvaluateAll_ANDSemantics(t *testing.T) {
	policies := map[string]config.Policy{
		"no-test-failures": {MaxFailures: intPtr(0)},
		"coverage-80":      {MinCoverage: floatPtr(0.8)},
	}

	results, passed := EvaluateAll(policies, []string{"no-test-failures", "coverage-80"}, testReport(0, 0.9))
	if !passed {
		t.Fatal("expected aggregate pass")
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	_, passed = EvaluateAll(policies, []string{"no-test-failures", "coverage-80"}, testReport(0, 0.5))
	if passed {
		t.Fatal("one failing policy must fail the aggregate")
	}
}
