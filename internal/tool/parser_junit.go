package tool

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// JUnitParser parses JUnit-style testsuite XML reports (surefire, gotestsum, etc.).
type JUnitParser struct{}

type junitTestSuites struct {
	XMLName xml.Name         `xml:"testsuites"`
	Suites  []junitTestSuite `xml:"testsuite"`
}

type junitTestSuite struct {
	Name       string          `xml:"name,attr"`
	Tests      int             `xml:"tests,attr"`
	Failures   int             `xml:"failures,attr"`
	Errors     int             `xml:"errors,attr"`
	Skipped    int             `xml:"skipped,attr"`
	Properties []junitProperty `xml:"properties>property"`
	Cases      []junitTestCase `xml:"testcase"`
}

type junitProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type junitTestCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Failure   *junitProblem `xml:"failure"`
	Error     *junitProblem `xml:"error"`
}

type junitProblem struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
}

func (p *JUnitParser) Parse(raw string, exitCode int) Report {
	suites, err := decodeJUnit(raw)
	if err != nil {
		return Report{
			Parsed:  false,
			Summary: fmt.Sprintf("exit code %d (could not parse JUnit XML: %v)", exitCode, err),
		}
	}

	var total, failed, errored, skipped int
	var findings []Finding
	var coverage *float64

	for _, s := range suites {
		tests := s.Tests
		if tests == 0 {
			tests = len(s.Cases)
		}
		total += tests
		failed += s.Failures
		errored += s.Errors
		skipped += s.Skipped

		for _, c := range s.Cases {
			problem := c.Failure
			if problem == nil {
				problem = c.Error
			}
			if problem == nil {
				continue
			}
			findings = append(findings, Finding{
				ID:     c.Name,
				Title:  problem.Message,
				Target: c.ClassName,
			})
		}

		for _, prop := range s.Properties {
			if !strings.EqualFold(prop.Name, "coverage") {
				continue
			}
			if v, perr := parseCoverage(prop.Value); perr == nil {
				coverage = &v
			}
		}
	}

	broken := failed + errored
	passed := total - broken - skipped

	metrics := map[string]float64{
		"tests_total":   float64(total),
		"tests_passed":  float64(passed),
		"tests_failed":  float64(broken),
		"tests_skipped": float64(skipped),
	}
	if coverage != nil {
		metrics["coverage"] = *coverage
	}

	return Report{
		Parsed:   true,
		Summary:  fmt.Sprintf("%d passed, %d failed, %d skipped of %d", passed, broken, skipped, total),
		Findings: findings,
		Metrics:  metrics,
	}
}

// decodeJUnit accepts both a <testsuites> wrapper and a bare <testsuite> root.
func decodeJUnit(raw string) ([]junitTestSuite, error) {
	var wrapper junitTestSuites
	if err := xml.Unmarshal([]byte(raw), &wrapper); err == nil {
		return wrapper.Suites, nil
	}

	var single junitTestSuite
	if err := xml.Unmarshal([]byte(raw), &single); err != nil {
		return nil, err
	}
	return []junitTestSuite{single}, nil
}

// parseCoverage accepts "0.85" or "85%" style values and returns a fraction.
func parseCoverage(value string) (float64, error) {
	value = strings.TrimSpace(value)
	percent := strings.HasSuffix(value, "%")
	value = strings.TrimSuffix(value, "%")
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	if percent || v > 1 {
		v /= 100
	}
	return v, nil
}
