package model

import "time"

// Classification methods accepted by the Classify stage
const (
	MethodSklearn = "sklearn"
	MethodVsearch = "vsearch"
	MethodBlast   = "blast"
)

// Dispatch failure policies
const (
	FailFast    = "fail-fast"
	SkipFailed  = "skip-failed"
	DefaultSeed = 11
)

// ValidClassificationMethod reports whether m names a supported classification strategy
func ValidClassificationMethod(m string) bool {
	switch m {
	case MethodSklearn, MethodVsearch, MethodBlast:
		return true
	}
	return false
}

// PipelineConfig is the resolved, immutable configuration for one run.
// All paths are absolute once produced by config.Resolve.
type PipelineConfig struct {
	InputDir         string `json:"input_dir" yaml:"input_dir"`
	PreDemultiplexed bool   `json:"pre_demultiplexed" yaml:"pre_demultiplexed"`
	OutputDir        string `json:"output_dir" yaml:"output_dir"`
	ScriptDir        string `json:"script_dir" yaml:"script_dir"`
	ResourceDir      string `json:"resource_dir" yaml:"resource_dir"`

	PrimerFile        string `json:"primer_file" yaml:"primer_file"`
	ReferenceSeqs     string `json:"reference_seqs" yaml:"reference_seqs"`
	ReferenceTaxonomy string `json:"reference_taxonomy" yaml:"reference_taxonomy"`
	Classifier        string `json:"classifier,omitempty" yaml:"classifier"`

	Quality   int `json:"quality" yaml:"quality"`
	MinLength int `json:"min_length" yaml:"min_length"`
	MaxLength int `json:"max_length" yaml:"max_length"`
	Threads   int `json:"threads" yaml:"threads"`

	MinReads           int64  `json:"min_reads" yaml:"min_reads"`
	SubsampleThreshold int64  `json:"subsample_threshold" yaml:"subsample_threshold"`
	SubsampleSeed      int64  `json:"subsample_seed" yaml:"subsample_seed"`
	ClassifyMethod     string `json:"classification_method" yaml:"classification_method"`
	MinFrequency       int64  `json:"min_frequency" yaml:"min_frequency"`
	TaxonomyLevel      int    `json:"taxonomy_level" yaml:"taxonomy_level"`

	KitName         string `json:"kit_name,omitempty" yaml:"kit_name"`
	BasecallerModel string `json:"basecaller_model,omitempty" yaml:"basecaller_model"`

	FailurePolicy     string        `json:"failure_policy" yaml:"failure_policy"`
	KeepIntermediates bool          `json:"keep_intermediates" yaml:"keep_intermediates"`
	ToolTimeout       time.Duration `json:"tool_timeout" yaml:"tool_timeout"`

	// Tools maps a logical tool name (e.g. "qiime") to the binary to execute
	Tools map[string]string      `json:"tools,omitempty" yaml:"tools"`
	Retry map[string]RetryConfig `json:"retry,omitempty" yaml:"retry"`

	StorePath string `json:"store_path" yaml:"store_path"`
	LogLevel  string `json:"log_level" yaml:"log_level"`
}

// Binary returns the executable configured for a logical tool name
func (c PipelineConfig) Binary(tool string) string {
	if b, ok := c.Tools[tool]; ok && b != "" {
		return b
	}
	return tool
}

// SampleFile is one sample's read set at a given stage
type SampleFile struct {
	ID    string `json:"id"`
	Path  string `json:"path"`
	Count int64  `json:"count"`
	Stage string `json:"stage"`
}

// Outputs summarizes a finished run
type Outputs struct {
	RunID          string        `json:"run_id"`
	Resumed        bool          `json:"resumed"`
	InputReads     int64         `json:"input_reads"`
	ClassifyInput  int64         `json:"classify_input"`
	ClassifiedRead int64         `json:"classified_reads"`
	Taxa           int           `json:"taxa"`
	TablePath      string        `json:"table_path"`
	TaxonomyPath   string        `json:"taxonomy_path"`
	Duration       time.Duration `json:"duration"`
}
