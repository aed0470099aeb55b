// Package config resolves the pipeline configuration once at startup from a
// YAML file, command-line flags and built-in defaults.
package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"amplicon-pipeline/internal/model"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() model.PipelineConfig {
	return model.PipelineConfig{
		OutputDir:          "pipeline_output",
		Quality:            10,
		MinLength:          1000,
		MaxLength:          2000,
		Threads:            runtime.NumCPU(),
		MinReads:           1000,
		SubsampleThreshold: 30000,
		SubsampleSeed:      model.DefaultSeed,
		ClassifyMethod:     model.MethodVsearch,
		MinFrequency:       10,
		TaxonomyLevel:      7,
		KitName:            "SQK-16S114-24",
		BasecallerModel:    "sup",
		FailurePolicy:      model.FailFast,
		LogLevel:           "info",
	}
}

// Load reads a YAML config file over the defaults. An empty path returns the defaults.
func Load(path string) (model.PipelineConfig, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, &model.ConfigurationError{Field: "config", Value: path, Reason: err.Error()}
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &model.ConfigurationError{Field: "config", Value: path, Reason: fmt.Sprintf("invalid YAML: %v", err)}
	}
	return cfg, nil
}

// Save writes cfg as YAML, used to record the resolved parameters of a run.
func Save(path string, cfg model.PipelineConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
