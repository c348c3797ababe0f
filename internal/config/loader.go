package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a pipeline definition from the given YAML file path.
// After parsing, it applies defaults to stages that don't specify their own values.
func Load(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline file: %w", err)
	}

	var cfg PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing pipeline YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a pipeline definition in standard locations and
// loads the first one found. Search order: ./pipeline.yaml, ~/.lockstep/pipeline.yaml
func LoadDefault() (*PipelineConfig, error) {
	candidates := []string{"pipeline.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".lockstep", "pipeline.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, fmt.Errorf("no pipeline definition found (searched: %v)", candidates)
}

// applyDefaults merges pipeline-level defaults into stages that don't set
// their own values and fills in the workdir and parallelism floor.
func applyDefaults(cfg *PipelineConfig) {
	p := &cfg.Pipeline

	if p.Workdir == "" {
		p.Workdir = "."
	}
	if p.MaxParallel <= 0 {
		p.MaxParallel = 1
	}

	for i := range p.Stages {
		s := &p.Stages[i]

		if s.Timeout == "" && p.Defaults.Timeout != "" {
			s.Timeout = p.Defaults.Timeout
		}
		if s.Parser == "" && p.Defaults.Parser != "" {
			s.Parser = p.Defaults.Parser
		}
	}
}
