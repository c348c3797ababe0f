package tool

import (
	"encoding/json"
	"fmt"
)

// TrivyParser parses trivy --format json scan reports.
type TrivyParser struct{}

type trivyReport struct {
	SchemaVersion int           `json:"SchemaVersion"`
	Results       []trivyResult `json:"Results"`
}

type trivyResult struct {
	Target          string               `json:"Target"`
	Vulnerabilities []trivyVulnerability `json:"Vulnerabilities"`
}

type trivyVulnerability struct {
	VulnerabilityID string `json:"VulnerabilityID"`
	PkgName         string `json:"PkgName"`
	Severity        string `json:"Severity"`
	Title           string `json:"Title"`
}

func (p *TrivyParser) Parse(raw string, exitCode int) Report {
	var report trivyReport
	if err := json.Unmarshal([]byte(raw), &report); err != nil || report.SchemaVersion == 0 {
		return Report{
			Parsed:  false,
			Summary: fmt.Sprintf("exit code %d (could not parse trivy JSON)", exitCode),
		}
	}

	var findings []Finding
	for _, result := range report.Results {
		for _, v := range result.Vulnerabilities {
			findings = append(findings, Finding{
				ID:       v.VulnerabilityID,
				Severity: NormalizeSeverity(v.Severity),
				Title:    v.Title,
				Target:   fmt.Sprintf("%s (%s)", result.Target, v.PkgName),
			})
		}
	}

	return Report{
		Parsed:   true,
		Summary:  severitySummary(findings),
		Findings: findings,
		Metrics:  severityMetrics(findings),
	}
}

// severitySummary renders the one-line "N vulnerabilities (...)" summary.
func severitySummary(findings []Finding) string {
	if len(findings) == 0 {
		return "no vulnerabilities found"
	}
	counts := countBySeverity(findings)
	return fmt.Sprintf("%d vulnerabilities (%d critical, %d high, %d medium, %d low)",
		len(findings), counts["CRITICAL"], counts["HIGH"], counts["MEDIUM"], counts["LOW"])
}

func countBySeverity(findings []Finding) map[string]int {
	counts := make(map[string]int)
	for _, f := range findings {
		counts[f.Severity]++
	}
	return counts
}

func severityMetrics(findings []Finding) map[string]float64 {
	counts := countBySeverity(findings)
	return map[string]float64{
		"findings_total":    float64(len(findings)),
		"findings_critical": float64(counts["CRITICAL"]),
		"findings_high":     float64(counts["HIGH"]),
		"findings_medium":   float64(counts["MEDIUM"]),
		"findings_low":      float64(counts["LOW"]),
	}
}
