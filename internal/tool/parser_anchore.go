package tool

import (
	"encoding/json"
	"fmt"
)

// AnchoreParser parses anchore-cli image vuln JSON reports.
type AnchoreParser struct{}

type anchoreReport struct {
	ImageDigest     string                 `json:"imageDigest"`
	Vulnerabilities []anchoreVulnerability `json:"vulnerabilities"`
}

type anchoreVulnerability struct {
	Vuln        string `json:"vuln"`
	Severity    string `json:"severity"`
	Package     string `json:"package"`
	PackageName string `json:"package_name"`
	Fix         string `json:"fix"`
	URL         string `json:"url"`
}

func (p *AnchoreParser) Parse(raw string, exitCode int) Report {
	var report anchoreReport
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return Report{
			Parsed:  false,
			Summary: fmt.Sprintf("exit code %d (could not parse anchore JSON)", exitCode),
		}
	}
	// A digest-less report with no vulnerability list is not an anchore
	// document; refuse to treat it as a clean scan.
	if report.ImageDigest == "" && report.Vulnerabilities == nil {
		return Report{
			Parsed:  false,
			Summary: fmt.Sprintf("exit code %d (not an anchore report)", exitCode),
		}
	}

	var findings []Finding
	for _, v := range report.Vulnerabilities {
		target := v.Package
		if target == "" {
			target = v.PackageName
		}
		findings = append(findings, Finding{
			ID:       v.Vuln,
			Severity: NormalizeSeverity(v.Severity),
			Title:    fmt.Sprintf("fix: %s", orNone(v.Fix)),
			Target:   target,
		})
	}

	return Report{
		Parsed:   true,
		Summary:  severitySummary(findings),
		Findings: findings,
		Metrics:  severityMetrics(findings),
	}
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
