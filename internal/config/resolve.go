package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"amplicon-pipeline/internal/model"
)

// Resolve validates cfg, makes every path absolute and creates the output
// directory. Nothing touches the filesystem until validation has passed.
func Resolve(cfg model.PipelineConfig) (model.PipelineConfig, error) {
	if !model.ValidClassificationMethod(cfg.ClassifyMethod) {
		return cfg, &model.ConfigurationError{
			Field:  "classification_method",
			Value:  cfg.ClassifyMethod,
			Reason: "must be one of sklearn, vsearch, blast",
		}
	}
	if err := checkNumbers(cfg); err != nil {
		return cfg, err
	}
	if cfg.FailurePolicy != model.FailFast && cfg.FailurePolicy != model.SkipFailed {
		return cfg, &model.ConfigurationError{
			Field: "failure_policy", Value: cfg.FailurePolicy,
			Reason: "must be fail-fast or skip-failed",
		}
	}
	if cfg.OutputDir == "" {
		return cfg, &model.ConfigurationError{Field: "output_dir", Reason: "is required"}
	}

	var err error
	if cfg.ResourceDir, err = optionalPath("resource_dir", cfg.ResourceDir, "", true); err != nil {
		return cfg, err
	}
	if cfg.ScriptDir, err = optionalPath("script_dir", cfg.ScriptDir, "", true); err != nil {
		return cfg, err
	}
	if cfg.InputDir, err = requiredPath("input_dir", cfg.InputDir, "", true); err != nil {
		return cfg, err
	}
	if cfg.PrimerFile, err = requiredPath("primer_file", cfg.PrimerFile, cfg.ResourceDir, false); err != nil {
		return cfg, err
	}
	if cfg.ReferenceSeqs, err = requiredPath("reference_seqs", cfg.ReferenceSeqs, cfg.ResourceDir, false); err != nil {
		return cfg, err
	}
	if cfg.ReferenceTaxonomy, err = requiredPath("reference_taxonomy", cfg.ReferenceTaxonomy, cfg.ResourceDir, false); err != nil {
		return cfg, err
	}
	if cfg.ClassifyMethod == model.MethodSklearn {
		cfg.Classifier, err = requiredPath("classifier", cfg.Classifier, cfg.ResourceDir, false)
	} else {
		cfg.Classifier, err = optionalPath("classifier", cfg.Classifier, cfg.ResourceDir, false)
	}
	if err != nil {
		return cfg, err
	}

	out, err := filepath.Abs(cfg.OutputDir)
	if err != nil {
		return cfg, &model.ConfigurationError{Field: "output_dir", Value: cfg.OutputDir, Reason: err.Error()}
	}
	if fi, err := os.Stat(out); err == nil && !fi.IsDir() {
		return cfg, &model.ConfigurationError{Field: "output_dir", Value: out, Reason: "exists and is not a directory"}
	}
	cfg.OutputDir = out
	if cfg.StorePath == "" {
		cfg.StorePath = filepath.Join(out, "pipeline.db")
	} else if cfg.StorePath, err = filepath.Abs(cfg.StorePath); err != nil {
		return cfg, &model.ConfigurationError{Field: "store_path", Value: cfg.StorePath, Reason: err.Error()}
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return cfg, &model.ConfigurationError{Field: "output_dir", Value: cfg.OutputDir, Reason: err.Error()}
	}
	return cfg, nil
}

func checkNumbers(cfg model.PipelineConfig) error {
	positive := []struct {
		field string
		value int64
	}{
		{"quality", int64(cfg.Quality)},
		{"min_length", int64(cfg.MinLength)},
		{"max_length", int64(cfg.MaxLength)},
		{"threads", int64(cfg.Threads)},
		{"min_reads", cfg.MinReads},
		{"subsample_threshold", cfg.SubsampleThreshold},
		{"min_frequency", cfg.MinFrequency},
		{"taxonomy_level", int64(cfg.TaxonomyLevel)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return &model.ConfigurationError{Field: p.field, Value: strconv.FormatInt(p.value, 10), Reason: "must be greater than zero"}
		}
	}
	if cfg.MinLength > cfg.MaxLength {
		return &model.ConfigurationError{
			Field: "min_length", Value: strconv.Itoa(cfg.MinLength),
			Reason: fmt.Sprintf("exceeds max_length %d", cfg.MaxLength),
		}
	}
	if cfg.MinReads > cfg.SubsampleThreshold {
		return &model.ConfigurationError{
			Field: "min_reads", Value: strconv.FormatInt(cfg.MinReads, 10),
			Reason: fmt.Sprintf("exceeds subsample_threshold %d", cfg.SubsampleThreshold),
		}
	}
	if cfg.SubsampleSeed < 0 {
		return &model.ConfigurationError{Field: "subsample_seed", Value: strconv.FormatInt(cfg.SubsampleSeed, 10), Reason: "must not be negative"}
	}
	if cfg.ToolTimeout < 0 {
		return &model.ConfigurationError{Field: "tool_timeout", Value: cfg.ToolTimeout.String(), Reason: "must not be negative"}
	}
	return nil
}

func requiredPath(field, p, base string, dir bool) (string, error) {
	if p == "" {
		return "", &model.ConfigurationError{Field: field, Reason: "is required"}
	}
	return optionalPath(field, p, base, dir)
}

// optionalPath resolves p against base (when relative and base is set) and
// checks that it exists with the expected kind. Empty p passes through.
func optionalPath(field, p, base string, dir bool) (string, error) {
	if p == "" {
		return "", nil
	}
	if !filepath.IsAbs(p) && base != "" {
		if _, err := os.Stat(filepath.Join(base, p)); err == nil {
			p = filepath.Join(base, p)
		}
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", &model.ConfigurationError{Field: field, Value: p, Reason: err.Error()}
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return "", &model.ConfigurationError{Field: field, Value: abs, Reason: "does not exist"}
	}
	if dir && !fi.IsDir() {
		return "", &model.ConfigurationError{Field: field, Value: abs, Reason: "is not a directory"}
	}
	if !dir && fi.IsDir() {
		return "", &model.ConfigurationError{Field: field, Value: abs, Reason: "is a directory"}
	}
	return abs, nil
}
