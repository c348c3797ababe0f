package config

// PipelineConfig is the top-level configuration structure parsed from pipeline YAML.
type PipelineConfig struct {
	Pipeline Pipeline `yaml:"pipeline"`
}

// Pipeline defines the full pipeline: metadata, defaults, gate policies, and stages.
type Pipeline struct {
	Name        string            `yaml:"name"`
	Workdir     string            `yaml:"workdir"`
	MaxParallel int               `yaml:"max_parallel"`
	Env         map[string]string `yaml:"env"`
	Defaults    StageDefaults     `yaml:"defaults"`
	Policies    map[string]Policy `yaml:"policies"`
	Stages      []Stage           `yaml:"stages"`
}

// StageDefaults holds default values applied to stages that don't specify their own.
type StageDefaults struct {
	Timeout string `yaml:"timeout"`
	Parser  string `yaml:"parser"`
}

// Policy is a declarative gate rule evaluated against a parsed tool report.
// Count and threshold fields are pointers because zero is a meaningful
// configured value (e.g. max_findings: 0).
type Policy struct {
	MaxSeverity string   `yaml:"max_severity"`
	MaxFindings *int     `yaml:"max_findings"`
	MinCoverage *float64 `yaml:"min_coverage"`
	MaxFailures *int     `yaml:"max_failures"`
}

// Output declares an artifact pattern a stage produces.
type Output struct {
	Pattern   string `yaml:"pattern"`
	MediaType string `yaml:"media_type"`
	Retention string `yaml:"retention"`
}

// Stage defines a single unit of pipeline work: one command, optional
// structured-output parsing, gate policies, and declared artifacts.
type Stage struct {
	Name              string            `yaml:"name"`
	Command           string            `yaml:"command"`
	Env               map[string]string `yaml:"env"`
	DependsOn         []string          `yaml:"depends_on"`
	Timeout           string            `yaml:"timeout"`
	Parser            string            `yaml:"parser"`
	Report            string            `yaml:"report"`
	Policies          []string          `yaml:"policies"`
	Credentials       string            `yaml:"credentials"`
	ContinueOnFailure bool              `yaml:"continue_on_failure"`
	Outputs           []Output          `yaml:"outputs"`
}
