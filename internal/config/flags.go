package config

import (
	"strings"

	"github.com/spf13/pflag"

	"amplicon-pipeline/internal/model"
)

// RegisterFlags declares the run options on fs. Defaults shown in help come
// from DefaultConfig; only flags the user sets override the config file.
func RegisterFlags(fs *pflag.FlagSet) {
	d := DefaultConfig()
	fs.StringP("config", "c", "", "YAML config file")
	fs.StringP("input", "i", "", "input directory (raw signal or per-barcode read directories)")
	fs.Bool("demultiplexed", false, "input is already demultiplexed into per-barcode directories")
	fs.StringP("output", "o", d.OutputDir, "output directory (created if missing)")
	fs.String("script-dir", "", "directory searched for tool executables before PATH")
	fs.String("resource-dir", "", "directory relative reference paths are resolved against")
	fs.String("primers", "", "primer sequence FASTA")
	fs.String("ref-seqs", "", "reference sequence artifact")
	fs.String("ref-taxonomy", "", "reference taxonomy artifact")
	fs.String("classifier", "", "pre-trained classifier artifact (sklearn)")
	fs.StringP("method", "m", d.ClassifyMethod, "classification method: sklearn, vsearch or blast")
	fs.IntP("quality", "q", d.Quality, "minimum mean read quality")
	fs.Int("min-length", d.MinLength, "minimum read length")
	fs.Int("max-length", d.MaxLength, "maximum read length")
	fs.IntP("threads", "t", d.Threads, "parallel per-file workers and tool threads")
	fs.Int64("min-reads", d.MinReads, "drop samples with fewer reads")
	fs.Int64("subsample", d.SubsampleThreshold, "subsample samples above this many reads to exactly this many")
	fs.Int64("seed", d.SubsampleSeed, "subsampling seed")
	fs.Int64("min-frequency", d.MinFrequency, "minimum taxon frequency kept in the final table")
	fs.Int("level", d.TaxonomyLevel, "taxonomy level the table is collapsed to")
	fs.String("kit", d.KitName, "sequencing kit used for demultiplexing")
	fs.String("model", d.BasecallerModel, "basecalling model")
	fs.String("failure-policy", d.FailurePolicy, "per-file failure handling: fail-fast or skip-failed")
	fs.Bool("keep-intermediates", false, "do not delete superseded stage inputs")
	fs.Duration("tool-timeout", 0, "bound on each external tool call (0 = none)")
	fs.String("store", "", "run store database (default <output>/pipeline.db)")
	fs.StringSlice("tool", nil, "tool binary override, name=path (repeatable)")
}

// ApplyFlags copies every flag the user explicitly set onto cfg.
func ApplyFlags(cfg *model.PipelineConfig, fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		err = applyFlag(cfg, fs, f.Name)
	})
	return err
}

func applyFlag(cfg *model.PipelineConfig, fs *pflag.FlagSet, name string) error {
	var err error
	switch name {
	case "input":
		cfg.InputDir, err = fs.GetString(name)
	case "demultiplexed":
		cfg.PreDemultiplexed, err = fs.GetBool(name)
	case "output":
		cfg.OutputDir, err = fs.GetString(name)
	case "script-dir":
		cfg.ScriptDir, err = fs.GetString(name)
	case "resource-dir":
		cfg.ResourceDir, err = fs.GetString(name)
	case "primers":
		cfg.PrimerFile, err = fs.GetString(name)
	case "ref-seqs":
		cfg.ReferenceSeqs, err = fs.GetString(name)
	case "ref-taxonomy":
		cfg.ReferenceTaxonomy, err = fs.GetString(name)
	case "classifier":
		cfg.Classifier, err = fs.GetString(name)
	case "method":
		cfg.ClassifyMethod, err = fs.GetString(name)
	case "quality":
		cfg.Quality, err = fs.GetInt(name)
	case "min-length":
		cfg.MinLength, err = fs.GetInt(name)
	case "max-length":
		cfg.MaxLength, err = fs.GetInt(name)
	case "threads":
		cfg.Threads, err = fs.GetInt(name)
	case "min-reads":
		cfg.MinReads, err = fs.GetInt64(name)
	case "subsample":
		cfg.SubsampleThreshold, err = fs.GetInt64(name)
	case "seed":
		cfg.SubsampleSeed, err = fs.GetInt64(name)
	case "min-frequency":
		cfg.MinFrequency, err = fs.GetInt64(name)
	case "level":
		cfg.TaxonomyLevel, err = fs.GetInt(name)
	case "kit":
		cfg.KitName, err = fs.GetString(name)
	case "model":
		cfg.BasecallerModel, err = fs.GetString(name)
	case "failure-policy":
		cfg.FailurePolicy, err = fs.GetString(name)
	case "keep-intermediates":
		cfg.KeepIntermediates, err = fs.GetBool(name)
	case "tool-timeout":
		cfg.ToolTimeout, err = fs.GetDuration(name)
	case "store":
		cfg.StorePath, err = fs.GetString(name)
	case "tool":
		var pairs []string
		if pairs, err = fs.GetStringSlice(name); err != nil {
			return err
		}
		if cfg.Tools == nil {
			cfg.Tools = make(map[string]string)
		}
		for _, p := range pairs {
			k, v, ok := strings.Cut(p, "=")
			if !ok || k == "" || v == "" {
				return &model.ConfigurationError{Field: "tool", Value: p, Reason: "expected name=path"}
			}
			cfg.Tools[k] = v
		}
	}
	return err
}
