package config

import (
	"fmt"
	"time"
)

// ValidationError represents a single validation issue with a pipeline definition.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// recognizedParsers is the set of valid parser names for stages.
var recognizedParsers = map[string]bool{
	"junit":     true,
	"trivy":     true,
	"anchore":   true,
	"cyclonedx": true,
	"generic":   true,
}

// recognizedSeverities is the set of valid max_severity thresholds.
var recognizedSeverities = map[string]bool{
	"CRITICAL":   true,
	"HIGH":       true,
	"MEDIUM":     true,
	"LOW":        true,
	"NEGLIGIBLE": true,
}

// recognizedRetention is the set of valid artifact retention classes.
// Empty is allowed; the store fails closed to the maximum class.
var recognizedRetention = map[string]bool{
	"":           true,
	"compliance": true,
	"ephemeral":  true,
}

// Validate checks a pipeline definition for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
// A non-empty result is a definition error: no stage may run.
func Validate(cfg *PipelineConfig) []ValidationError {
	var errs []ValidationError
	p := cfg.Pipeline

	if p.Name == "" {
		errs = append(errs, ValidationError{Field: "pipeline.name", Message: "is required"})
	}
	if len(p.Stages) == 0 {
		errs = append(errs, ValidationError{Field: "pipeline.stages", Message: "at least one stage is required"})
	}

	// Build set of stage names for dependency validation
	stageNames := make(map[string]bool)
	for i, s := range p.Stages {
		if s.Name == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("pipeline.stages[%d].name", i),
				Message: "is required",
			})
			continue
		}
		if stageNames[s.Name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("pipeline.stages[%d].name", i),
				Message: fmt.Sprintf("duplicate stage name %q", s.Name),
			})
		}
		stageNames[s.Name] = true
	}

	for i, s := range p.Stages {
		prefix := fmt.Sprintf("pipeline.stages[%d]", i)

		if s.Command == "" {
			errs = append(errs, ValidationError{Field: prefix + ".command", Message: "is required"})
		}

		for _, dep := range s.DependsOn {
			if dep == s.Name {
				errs = append(errs, ValidationError{
					Field:   prefix + ".depends_on",
					Message: fmt.Sprintf("stage %q depends on itself", s.Name),
				})
				continue
			}
			if !stageNames[dep] {
				errs = append(errs, ValidationError{
					Field:   prefix + ".depends_on",
					Message: fmt.Sprintf("references undefined stage %q", dep),
				})
			}
		}

		if s.Parser != "" && !recognizedParsers[s.Parser] {
			errs = append(errs, ValidationError{
				Field:   prefix + ".parser",
				Message: fmt.Sprintf("unrecognized parser %q", s.Parser),
			})
		}

		for _, name := range s.Policies {
			if _, ok := p.Policies[name]; !ok {
				errs = append(errs, ValidationError{
					Field:   prefix + ".policies",
					Message: fmt.Sprintf("references undefined policy %q", name),
				})
			}
		}

		// Gated stages need structured output to evaluate against.
		if len(s.Policies) > 0 && s.Parser == "" {
			errs = append(errs, ValidationError{
				Field:   prefix + ".parser",
				Message: "stage with policies must declare a parser",
			})
		}

		if s.Timeout != "" {
			if _, err := time.ParseDuration(s.Timeout); err != nil {
				errs = append(errs, ValidationError{
					Field:   prefix + ".timeout",
					Message: fmt.Sprintf("invalid duration %q", s.Timeout),
				})
			}
		}

		for j, out := range s.Outputs {
			if out.Pattern == "" {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s.outputs[%d].pattern", prefix, j),
					Message: "is required",
				})
			}
			if !recognizedRetention[out.Retention] {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s.outputs[%d].retention", prefix, j),
					Message: fmt.Sprintf("unrecognized retention class %q", out.Retention),
				})
			}
		}
	}

	// Validate policy rules
	for name, pol := range p.Policies {
		prefix := fmt.Sprintf("pipeline.policies.%s", name)
		if pol.MaxSeverity != "" && !recognizedSeverities[pol.MaxSeverity] {
			errs = append(errs, ValidationError{
				Field:   prefix + ".max_severity",
				Message: fmt.Sprintf("unrecognized severity %q", pol.MaxSeverity),
			})
		}
		if pol.MinCoverage != nil && (*pol.MinCoverage < 0 || *pol.MinCoverage > 1) {
			errs = append(errs, ValidationError{
				Field:   prefix + ".min_coverage",
				Message: "must be between 0 and 1",
			})
		}
		if pol.MaxFindings != nil && *pol.MaxFindings < 0 {
			errs = append(errs, ValidationError{
				Field:   prefix + ".max_findings",
				Message: "must not be negative",
			})
		}
		if pol.MaxFailures != nil && *pol.MaxFailures < 0 {
			errs = append(errs, ValidationError{
				Field:   prefix + ".max_failures",
				Message: "must not be negative",
			})
		}
		if pol.MaxSeverity == "" && pol.MaxFindings == nil && pol.MinCoverage == nil && pol.MaxFailures == nil {
			errs = append(errs, ValidationError{
				Field:   prefix,
				Message: "policy has no rules",
			})
		}
	}

	if d := p.Defaults.Timeout; d != "" {
		if _, err := time.ParseDuration(d); err != nil {
			errs = append(errs, ValidationError{
				Field:   "pipeline.defaults.timeout",
				Message: fmt.Sprintf("invalid duration %q", d),
			})
		}
	}

	// Cycle detection only makes sense once names resolve.
	if len(errs) == 0 {
		if cycle := findCycle(p.Stages); cycle != "" {
			errs = append(errs, ValidationError{
				Field:   "pipeline.stages",
				Message: fmt.Sprintf("dependency cycle through stage %q", cycle),
			})
		}
	}

	return errs
}

// findCycle runs a depth-first search over the dependency graph and returns
// the name of a stage on a cycle, or "" if the graph is acyclic.
func findCycle(stages []Stage) string {
	deps := make(map[string][]string, len(stages))
	for _, s := range stages {
		deps[s.Name] = s.DependsOn
	}

	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS path
		black = 2 // fully explored
	)
	color := make(map[string]int, len(stages))

	var visit func(name string) string
	visit = func(name string) string {
		color[name] = gray
		for _, dep := range deps[name] {
			switch color[dep] {
			case gray:
				return dep
			case white:
				if c := visit(dep); c != "" {
					return c
				}
			}
		}
		color[name] = black
		return ""
	}

	for _, s := range stages {
		if color[s.Name] == white {
			if c := visit(s.Name); c != "" {
				return c
			}
		}
	}
	return ""
}
