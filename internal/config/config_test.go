package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
pipeline:
  name: payments-service
  max_parallel: 2
  defaults:
    timeout: 10m
  policies:
    no-test-failures:
      max_failures: 0
    no-high-vulns:
      max_severity: HIGH
      max_findings: 0
  stages:
    - name: build
      command: mvn -B package
      outputs:
        - pattern: "target/*.jar"
          media_type: application/java-archive
          retention: compliance
    - name: unit-test
      command: mvn -B test
      depends_on: [build]
      parser: junit
      report: target/surefire-reports/TEST-all.xml
      policies: [no-test-failures]
    - name: image-scan
      command: trivy image --format json -o trivy.json app:latest
      depends_on: [build]
      timeout: 5m
      parser: trivy
      report: trivy.json
      policies: [no-high-vulns]
      credentials: registry
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := cfg.Pipeline
	if p.Name != "payments-service" {
		t.Errorf("expected name=payments-service, got %q", p.Name)
	}
	if len(p.Stages) != 3 {
		t.Fatalf("expected 3 stages, got %d", len(p.Stages))
	}
	if p.Workdir != "." {
		t.Errorf("expected default workdir, got %q", p.Workdir)
	}

	// Default timeout applied to stages without their own
	if p.Stages[0].Timeout != "10m" {
		t.Errorf("expected build timeout=10m, got %q", p.Stages[0].Timeout)
	}
	// Explicit timeout preserved
	if p.Stages[2].Timeout != "5m" {
		t.Errorf("expected image-scan timeout=5m, got %q", p.Stages[2].Timeout)
	}

	pol, ok := p.Policies["no-high-vulns"]
	if !ok {
		t.Fatal("expected no-high-vulns policy")
	}
	if pol.MaxSeverity != "HIGH" {
		t.Errorf("expected max_severity=HIGH, got %q", pol.MaxSeverity)
	}
	if pol.MaxFindings == nil || *pol.MaxFindings != 0 {
		t.Errorf("expected max_findings=0, got %v", pol.MaxFindings)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func hasError(errs []ValidationError, field string) bool {
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}

func TestValidate_DuplicateStageName(t *testing.T) {
	cfg := &PipelineConfig{Pipeline: Pipeline{
		Name: "p",
		Stages: []Stage{
			{Name: "build", Command: "make"},
			{Name: "build", Command: "make"},
		},
	}}
	errs := Validate(cfg)
	if !hasError(errs, "pipeline.stages[1].name") {
		t.Errorf("expected duplicate name error, got %v", errs)
	}
}

func TestValidate_UnknownDependency(t *testing.T) {
	cfg := &PipelineConfig{Pipeline: Pipeline{
		Name: "p",
		Stages: []Stage{
			{Name: "test", Command: "make test", DependsOn: []string{"build"}},
		},
	}}
	errs := Validate(cfg)
	if !hasError(errs, "pipeline.stages[0].depends_on") {
		t.Errorf("expected undefined stage error, got %v", errs)
	}
}

func TestValidate_SelfDependency(t *testing.T) {
	cfg := &PipelineConfig{Pipeline: Pipeline{
		Name: "p",
		Stages: []Stage{
			{Name: "build", Command: "make", DependsOn: []string{"build"}},
		},
	}}
	errs := Validate(cfg)
	if !hasError(errs, "pipeline.stages[0].depends_on") {
		t.Errorf("expected self-dependency error, got %v", errs)
	}
}

func TestValidate_DependencyCycle(t *testing.T) {
	cfg := &PipelineConfig{Pipeline: Pipeline{
		Name: "p",
		Stages: []Stage{
			{Name: "a", Command: "true", DependsOn: []string{"c"}},
			{Name: "b", Command: "true", DependsOn: []string{"a"}},
			{Name: "c", Command: "true", DependsOn: []string{"b"}},
		},
	}}
	errs := Validate(cfg)
	if !hasError(errs, "pipeline.stages") {
		t.Errorf("expected cycle error, got %v", errs)
	}
}

func TestValidate_PoliciesRequireParser(t *testing.T) {
	cfg := &PipelineConfig{Pipeline: Pipeline{
		Name:     "p",
		Policies: map[string]Policy{"strict": {MaxFindings: intPtr(0)}},
		Stages: []Stage{
			{Name: "scan", Command: "scan", Policies: []string{"strict"}},
		},
	}}
	errs := Validate(cfg)
	if !hasError(errs, "pipeline.stages[0].parser") {
		t.Errorf("expected parser-required error, got %v", errs)
	}
}

func TestValidate_UnknownParserAndPolicy(t *testing.T) {
	cfg := &PipelineConfig{Pipeline: Pipeline{
		Name: "p",
		Stages: []Stage{
			{Name: "scan", Command: "scan", Parser: "sarif", Policies: []string{"nope"}},
		},
	}}
	errs := Validate(cfg)
	if !hasError(errs, "pipeline.stages[0].parser") {
		t.Errorf("expected unrecognized parser error, got %v", errs)
	}
	if !hasError(errs, "pipeline.stages[0].policies") {
		t.Errorf("expected undefined policy error, got %v", errs)
	}
}

func TestValidate_BadDurationAndRetention(t *testing.T) {
	cfg := &PipelineConfig{Pipeline: Pipeline{
		Name: "p",
		Stages: []Stage{
			{
				Name:    "build",
				Command: "make",
				Timeout: "ten minutes",
				Outputs: []Output{{Pattern: "out/*", Retention: "forever"}},
			},
		},
	}}
	errs := Validate(cfg)
	if !hasError(errs, "pipeline.stages[0].timeout") {
		t.Errorf("expected invalid duration error, got %v", errs)
	}
	if !hasError(errs, "pipeline.stages[0].outputs[0].retention") {
		t.Errorf("expected unrecognized retention error, got %v", errs)
	}
}

func TestValidate_EmptyPolicy(t *testing.T) {
	cfg := &PipelineConfig{Pipeline: Pipeline{
		Name:     "p",
		Policies: map[string]Policy{"empty": {}},
		Stages:   []Stage{{Name: "build", Command: "make"}},
	}}
	errs := Validate(cfg)
	if !hasError(errs, "pipeline.policies.empty") {
		t.Errorf("expected empty policy error, got %v", errs)
	}
}

func intPtr(v int) *int { return &v }
