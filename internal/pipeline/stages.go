package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"amplicon-pipeline/internal/model"
	"amplicon-pipeline/internal/seqio"
	"amplicon-pipeline/internal/tool"
	"amplicon-pipeline/pkg/utils"
)

// Stage names, in execution order
const (
	StageDemultiplex  = "demultiplex"
	StageTrim         = "trim"
	StageFilter       = "filter_convert"
	StageTriage       = "triage"
	StageConcatenate  = "concatenate"
	StageImport       = "import"
	StageFeatureTable = "feature_table"
	StageChimera      = "chimera_filter"
	StageReorient     = "reorient"
	StageClassify     = "classify"
	StageCollapse     = "collapse_taxonomy"
	StageFrequency    = "frequency_filter"
	StageExport       = "export_results"
)

// Artifact names inside the output directory. Their presence is read back as
// progress, so they must not change between releases.
const (
	DirDemux              = "demux"
	DirTrimmed            = "trimmed"
	DirFiltered           = "filtered"
	DirFasta              = "fasta"
	DirTriaged            = "triaged"
	FileBasecalled        = "basecalled.bam"
	FileCombined          = "combined.fasta"
	FileSequences         = "sequences.qza"
	FileFeatureTSV        = "feature-table.tsv"
	FileFeatureBiom       = "feature-table.biom"
	FileTable             = "table.qza"
	DirChimera            = "chimera"
	FileTableNonchimeric  = "table-nonchimeric.qza"
	FileOriented          = "oriented-seqs.qza"
	FileUnmatched         = "unmatched-seqs.qza"
	FileTableOriented     = "table-oriented.qza"
	FileTaxonomy          = "taxonomy.qza"
	FileSearchResults     = "search-results.qza"
	FileCollapsed         = "collapsed-table.qza"
	FileCollapsedFiltered = "collapsed-filtered.qza"
	DirExported           = "exported"
	FileBarplot           = "taxa-barplot.qzv"
)

// Stage is one step of the fixed sequence. Outputs are the characteristic
// artifacts: when all exist the stage is done. Reclaim lists the superseded
// inputs deleted once the stage has succeeded.
type Stage struct {
	Name    string
	Inputs  []string
	Outputs []string
	Reclaim []string
	Workers int
	Run     func(ctx context.Context) (stageReport, error)
}

type stageReport struct {
	Files  int
	Failed int
	Detail string
}

// runContext carries everything a stage needs. It is built once per run and
// holds only absolute paths; no stage changes the working directory.
type runContext struct {
	cfg        model.PipelineConfig
	out        *utils.OutputManager
	invoker    tool.Invoker
	dispatcher *Dispatcher
	triager    *Triager
	ledger     *Ledger
	logger     *zap.Logger

	resumed       bool
	classifyInput int64
}

// RequiredTools lists the external programs a run with cfg will invoke
func RequiredTools(cfg model.PipelineConfig) []string {
	tools := []string{"cutadapt", "chopper", "seqkit", "seqtk", "biom", "qiime"}
	if !cfg.PreDemultiplexed {
		tools = append([]string{"dorado"}, tools...)
	}
	return tools
}

func (rc *runContext) path(parts ...string) string { return rc.out.Path(parts...) }

func (rc *runContext) threads() string { return strconv.Itoa(rc.cfg.Threads) }

// stages builds the fixed stage sequence
func (rc *runContext) stages() []Stage {
	p := rc.path
	nonchimeras := p(DirChimera, "nonchimeras.qza")
	chimeras := p(DirChimera, "chimeras.qza")

	classifyInputs := []string{p(FileOriented)}
	if rc.cfg.ClassifyMethod == model.MethodSklearn {
		classifyInputs = append(classifyInputs, rc.cfg.Classifier)
	} else {
		classifyInputs = append(classifyInputs, rc.cfg.ReferenceSeqs, rc.cfg.ReferenceTaxonomy)
	}

	return []Stage{
		{
			Name:    StageDemultiplex,
			Inputs:  []string{rc.cfg.InputDir},
			Outputs: []string{p(DirDemux)},
			Reclaim: []string{p(FileBasecalled)},
			Workers: rc.dispatcher.Workers(),
			Run:     rc.demultiplex,
		},
		{
			Name:    StageTrim,
			Inputs:  []string{p(DirDemux), rc.cfg.PrimerFile},
			Outputs: []string{p(DirTrimmed)},
			Reclaim: []string{p(DirDemux)},
			Workers: rc.dispatcher.Workers(),
			Run:     rc.trim,
		},
		{
			Name:    StageFilter,
			Inputs:  []string{p(DirTrimmed)},
			Outputs: []string{p(DirFasta)},
			Reclaim: []string{p(DirTrimmed), p(DirFiltered)},
			Workers: rc.dispatcher.Workers(),
			Run:     rc.filterConvert,
		},
		{
			Name:    StageTriage,
			Inputs:  []string{p(DirFasta)},
			Outputs: []string{p(DirTriaged)},
			Reclaim: []string{p(DirFasta)},
			Workers: rc.dispatcher.Workers(),
			Run:     rc.triage,
		},
		{
			Name:    StageConcatenate,
			Inputs:  []string{p(DirTriaged)},
			Outputs: []string{p(FileCombined)},
			Reclaim: []string{p(DirTriaged)},
			Workers: 1,
			Run:     rc.concatenate,
		},
		{
			Name:    StageImport,
			Inputs:  []string{p(FileCombined)},
			Outputs: []string{p(FileSequences)},
			Workers: 1,
			Run:     rc.importSequences,
		},
		{
			Name:    StageFeatureTable,
			Inputs:  []string{p(FileCombined)},
			Outputs: []string{p(FileTable)},
			Reclaim: []string{p(FileCombined), p(FileFeatureTSV), p(FileFeatureBiom)},
			Workers: 1,
			Run:     rc.featureTable,
		},
		{
			Name:    StageChimera,
			Inputs:  []string{p(FileTable), p(FileSequences), rc.cfg.ReferenceSeqs},
			Outputs: []string{nonchimeras, p(FileTableNonchimeric)},
			Reclaim: []string{p(FileTable), p(FileSequences)},
			Workers: 1,
			Run:     rc.chimeraFilter,
		},
		{
			Name:    StageReorient,
			Inputs:  []string{nonchimeras, p(FileTableNonchimeric), rc.cfg.ReferenceSeqs},
			Outputs: []string{p(FileOriented), p(FileTableOriented)},
			Reclaim: []string{p(FileTableNonchimeric), nonchimeras, chimeras},
			Workers: 1,
			Run:     rc.reorient,
		},
		{
			Name:    StageClassify,
			Inputs:  classifyInputs,
			Outputs: []string{p(FileTaxonomy)},
			Workers: 1,
			Run:     rc.classify,
		},
		{
			Name:    StageCollapse,
			Inputs:  []string{p(FileTableOriented), p(FileTaxonomy)},
			Outputs: []string{p(FileCollapsed)},
			Workers: 1,
			Run:     rc.collapse,
		},
		{
			Name:    StageFrequency,
			Inputs:  []string{p(FileCollapsed)},
			Outputs: []string{p(FileCollapsedFiltered)},
			Reclaim: []string{p(FileCollapsed)},
			Workers: 1,
			Run:     rc.frequencyFilter,
		},
		{
			Name:    StageExport,
			Inputs:  []string{p(FileCollapsedFiltered), p(FileTaxonomy), p(FileOriented), p(FileTableOriented)},
			Outputs: []string{rc.exportedTable(), rc.exportedTaxonomy(), p(FileBarplot)},
			Workers: 1,
			Run:     rc.export,
		},
	}
}

func (rc *runContext) exportedTable() string {
	return rc.path(DirExported, "collapsed-table.tsv")
}

func (rc *runContext) exportedTaxonomy() string {
	return rc.path(DirExported, "taxonomy", "taxonomy.tsv")
}

func (rc *runContext) exportedSequences() string {
	return rc.path(DirExported, "sequences", "dna-sequences.fasta")
}

// sampleFiles lists and counts the read files of dir
func sampleFiles(dir, stage string) ([]model.SampleFile, error) {
	paths, err := seqio.ListReadFiles(dir)
	if err != nil {
		return nil, err
	}
	files := make([]model.SampleFile, 0, len(paths))
	for _, path := range paths {
		n, err := seqio.CountRecords(path)
		if err != nil {
			return nil, err
		}
		files = append(files, model.SampleFile{ID: seqio.SampleID(path), Path: path, Count: n, Stage: stage})
	}
	return files, nil
}

func sumReads(files []model.SampleFile) int64 {
	var n int64
	for _, f := range files {
		n += f.Count
	}
	return n
}

func sortFiles(files []model.SampleFile) {
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
}

// mapFiles runs op over every read file of inDir through the dispatcher,
// staging results in outDir.partial and publishing the directory once the
// batch has drained. The stage's transition is recorded to the ledger.
func (rc *runContext) mapFiles(ctx context.Context, stage, inDir, outDir, reason string,
	op func(ctx context.Context, f model.SampleFile, staging string) (model.SampleFile, error)) (stageReport, error) {
	files, err := sampleFiles(inDir, stage)
	if err != nil {
		return stageReport{}, err
	}
	staging, err := rc.out.PrepareDir(outDir)
	if err != nil {
		return stageReport{}, err
	}
	batch, err := rc.dispatcher.Run(ctx, stage, files, func(ctx context.Context, f model.SampleFile) (model.SampleFile, error) {
		return op(ctx, f, staging)
	})
	if err != nil {
		return stageReport{Failed: len(batch.Failed)}, err
	}
	if err := rc.out.Publish(outDir); err != nil {
		return stageReport{}, err
	}
	produced, err := sampleFiles(outDir, stage)
	if err != nil {
		return stageReport{}, err
	}
	if len(batch.Failed) > 0 {
		reason = fmt.Sprintf("%s; %d file(s) failed", reason, len(batch.Failed))
	}
	if err := rc.ledger.Record(stage, sumReads(files), sumReads(produced), reason); err != nil {
		return stageReport{}, err
	}
	return stageReport{Files: len(produced), Failed: len(batch.Failed)}, nil
}

func (rc *runContext) demultiplex(ctx context.Context) (stageReport, error) {
	out := rc.path(DirDemux)
	staging, err := rc.out.PrepareDir(out)
	if err != nil {
		return stageReport{}, err
	}

	var failed int
	if rc.cfg.PreDemultiplexed {
		groups, err := barcodeGroups(rc.cfg.InputDir)
		if err != nil {
			return stageReport{}, err
		}
		samples := make([]model.SampleFile, 0, len(groups))
		for id := range groups {
			samples = append(samples, model.SampleFile{ID: id, Stage: StageDemultiplex})
		}
		sortFiles(samples)
		batch, err := rc.dispatcher.Run(ctx, StageDemultiplex, samples, func(_ context.Context, f model.SampleFile) (model.SampleFile, error) {
			f.Path = filepath.Join(staging, f.ID+".fastq")
			return f, seqio.MergeReads(groups[f.ID], f.Path)
		})
		if err != nil {
			return stageReport{Failed: len(batch.Failed)}, err
		}
		failed = len(batch.Failed)
	} else if err := rc.basecall(ctx, staging); err != nil {
		return stageReport{}, err
	}

	if err := rc.out.Publish(out); err != nil {
		return stageReport{}, err
	}
	files, err := sampleFiles(out, StageDemultiplex)
	if err != nil {
		return stageReport{}, err
	}
	if len(files) == 0 {
		return stageReport{}, &model.StagePostconditionError{Stage: StageDemultiplex, Path: out, Err: errors.New("no per-sample read files")}
	}
	if err := rc.ledger.RecordAbsolute(StageDemultiplex, sumReads(files), fmt.Sprintf("%d samples demultiplexed", len(files))); err != nil {
		return stageReport{}, err
	}
	return stageReport{Files: len(files), Failed: failed}, nil
}

// basecall runs the basecaller over the raw signal directory and splits the
// calls per barcode into staging as <sample>.fastq.
func (rc *runContext) basecall(ctx context.Context, staging string) error {
	bam := rc.path(FileBasecalled)
	if err := rc.invoker.Invoke(ctx, tool.Invocation{
		Stage:    StageDemultiplex,
		Tool:     "dorado",
		Class:    model.ClassBasecall,
		Args:     []string{"basecaller", rc.cfg.BasecallerModel, rc.cfg.InputDir, "--kit-name", rc.cfg.KitName},
		Inputs:   []string{rc.cfg.InputDir},
		Outputs:  []string{bam},
		StdoutTo: bam,
	}); err != nil {
		return err
	}
	if err := rc.invoker.Invoke(ctx, tool.Invocation{
		Stage:   StageDemultiplex,
		Tool:    "dorado",
		Class:   model.ClassBasecall,
		Args:    []string{"demux", "--output-dir", staging, "--emit-fastq", "--kit-name", rc.cfg.KitName, bam},
		Inputs:  []string{bam},
		Outputs: []string{staging},
	}); err != nil {
		return err
	}
	return flattenDemux(staging, rc.cfg.KitName)
}

// flattenDemux merges every barcode's read files found under dir into
// dir/<barcode>.fastq and discards unclassified reads. A barcode may be split
// over several files and run folders.
func flattenDemux(dir, kit string) error {
	groups := make(map[string][]string)
	var ids []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !seqio.IsReadFile(d.Name()) {
			return nil
		}
		id := strings.TrimPrefix(seqio.SampleID(path), kit+"_")
		if strings.Contains(strings.ToLower(id), "unclassified") {
			return os.Remove(path)
		}
		if _, ok := groups[id]; !ok {
			ids = append(ids, id)
		}
		groups[id] = append(groups[id], path)
		return nil
	})
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := seqio.MergeReads(groups[id], filepath.Join(dir, id+".fastq.tmp")); err != nil {
			return err
		}
		for _, path := range groups[id] {
			if err := os.Remove(path); err != nil {
				return err
			}
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
				return err
			}
			continue
		}
		if name := e.Name(); strings.HasSuffix(name, ".fastq.tmp") {
			if err := os.Rename(filepath.Join(dir, name), filepath.Join(dir, strings.TrimSuffix(name, ".tmp"))); err != nil {
				return err
			}
		}
	}
	return nil
}

// barcodeGroups maps each sample of a pre-demultiplexed input to its read
// files: one sample per subdirectory, or per file at the top level.
func barcodeGroups(inputDir string) (map[string][]string, error) {
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, err
	}
	groups := make(map[string][]string)
	for _, e := range entries {
		path := filepath.Join(inputDir, e.Name())
		if strings.Contains(strings.ToLower(e.Name()), "unclassified") {
			continue
		}
		if e.IsDir() {
			files, err := seqio.ListReadFiles(path)
			if err != nil {
				return nil, err
			}
			if len(files) > 0 {
				groups[e.Name()] = files
			}
			continue
		}
		if seqio.IsReadFile(e.Name()) {
			id := seqio.SampleID(e.Name())
			groups[id] = append(groups[id], path)
		}
	}
	if len(groups) == 0 {
		return nil, &model.StagePreconditionError{Stage: StageDemultiplex, Path: inputDir}
	}
	return groups, nil
}

func (rc *runContext) trim(ctx context.Context) (stageReport, error) {
	return rc.mapFiles(ctx, StageTrim, rc.path(DirDemux), rc.path(DirTrimmed), "primer not found",
		func(ctx context.Context, f model.SampleFile, staging string) (model.SampleFile, error) {
			dst := filepath.Join(staging, f.ID+".fastq")
			err := rc.invoker.Invoke(ctx, tool.Invocation{
				Stage:   StageTrim,
				Tool:    "cutadapt",
				Class:   model.ClassReads,
				Args:    []string{"-g", "file:" + rc.cfg.PrimerFile, "--discard-untrimmed", "--revcomp", "--quiet", "-o", dst, f.Path},
				Inputs:  []string{f.Path, rc.cfg.PrimerFile},
				Outputs: []string{dst},
			})
			f.Path = dst
			return f, err
		})
}

func (rc *runContext) filterConvert(ctx context.Context) (stageReport, error) {
	filtered := rc.path(DirFiltered)
	if err := os.MkdirAll(filtered, 0o755); err != nil {
		return stageReport{}, err
	}
	reason := fmt.Sprintf("quality < %d or length outside [%d, %d]", rc.cfg.Quality, rc.cfg.MinLength, rc.cfg.MaxLength)
	return rc.mapFiles(ctx, StageFilter, rc.path(DirTrimmed), rc.path(DirFasta), reason,
		func(ctx context.Context, f model.SampleFile, staging string) (model.SampleFile, error) {
			fq := filepath.Join(filtered, f.ID+".fastq")
			if err := rc.invoker.Invoke(ctx, tool.Invocation{
				Stage: StageFilter,
				Tool:  "chopper",
				Class: model.ClassReads,
				Args: []string{
					"-q", strconv.Itoa(rc.cfg.Quality),
					"--minlength", strconv.Itoa(rc.cfg.MinLength),
					"--maxlength", strconv.Itoa(rc.cfg.MaxLength),
					"--threads", "1",
					"-i", f.Path,
				},
				Inputs:   []string{f.Path},
				Outputs:  []string{fq},
				StdoutTo: fq,
			}); err != nil {
				return f, err
			}
			fa := filepath.Join(staging, f.ID+".fasta")
			err := rc.invoker.Invoke(ctx, tool.Invocation{
				Stage:   StageFilter,
				Tool:    "seqkit",
				Class:   model.ClassReads,
				Args:    []string{"fq2fa", fq, "-o", fa},
				Inputs:  []string{fq},
				Outputs: []string{fa},
			})
			f.Path = fa
			return f, err
		})
}

func (rc *runContext) triage(ctx context.Context) (stageReport, error) {
	files, err := sampleFiles(rc.path(DirFasta), StageFilter)
	if err != nil {
		return stageReport{}, err
	}
	out := rc.path(DirTriaged)
	staging, err := rc.out.PrepareDir(out)
	if err != nil {
		return stageReport{}, err
	}
	res, err := rc.triager.Triage(ctx, files, staging)
	if err != nil {
		return stageReport{}, err
	}
	if err := rc.out.Publish(out); err != nil {
		return stageReport{}, err
	}
	var failed int
	for _, d := range res.Dropped {
		if d.Reason == ReasonFailed {
			failed++
		}
	}
	return stageReport{
		Files:  len(res.Files()),
		Failed: failed,
		Detail: fmt.Sprintf("kept %d, subsampled %d, dropped %d", len(res.Kept), len(res.Subsampled), len(res.Dropped)),
	}, nil
}

func (rc *runContext) concatenate(ctx context.Context) (stageReport, error) {
	files, err := sampleFiles(rc.path(DirTriaged), StageTriage)
	if err != nil {
		return stageReport{}, err
	}
	if len(files) == 0 {
		return stageReport{}, errors.New("no samples left after triage")
	}
	sources := make([]seqio.Source, 0, len(files))
	for _, f := range files {
		sources = append(sources, seqio.Source{Sample: f.ID, Path: f.Path})
	}
	n, err := seqio.Concatenate(sources, rc.path(FileCombined))
	if err != nil {
		return stageReport{}, err
	}
	if err := rc.ledger.Record(StageConcatenate, sumReads(files), n, fmt.Sprintf("%d samples combined", len(files))); err != nil {
		return stageReport{}, err
	}
	return stageReport{Files: len(files)}, nil
}

func (rc *runContext) importSequences(ctx context.Context) (stageReport, error) {
	combined := rc.path(FileCombined)
	want, err := seqio.CountRecords(combined)
	if err != nil {
		return stageReport{}, err
	}
	err = rc.invoker.Invoke(ctx, tool.Invocation{
		Stage: StageImport,
		Tool:  "qiime",
		Class: model.ClassArtifact,
		Args: []string{"tools", "import",
			"--type", "FeatureData[Sequence]",
			"--input-path", combined,
			"--output-path", rc.path(FileSequences)},
		Inputs:  []string{combined},
		Outputs: []string{rc.path(FileSequences)},
		Verify:  expectRecords(want),
	})
	return stageReport{Files: 1}, err
}

func (rc *runContext) featureTable(ctx context.Context) (stageReport, error) {
	tsv, biom := rc.path(FileFeatureTSV), rc.path(FileFeatureBiom)
	table, err := seqio.BuildFeatureTable(rc.path(FileCombined), tsv)
	if err != nil {
		return stageReport{}, err
	}
	if err := rc.invoker.Invoke(ctx, tool.Invocation{
		Stage:   StageFeatureTable,
		Tool:    "biom",
		Class:   model.ClassArtifact,
		Args:    []string{"convert", "-i", tsv, "-o", biom, "--table-type=OTU table", "--to-hdf5"},
		Inputs:  []string{tsv},
		Outputs: []string{biom},
	}); err != nil {
		return stageReport{}, err
	}
	err = rc.invoker.Invoke(ctx, tool.Invocation{
		Stage: StageFeatureTable,
		Tool:  "qiime",
		Class: model.ClassArtifact,
		Args: []string{"tools", "import",
			"--type", "FeatureTable[Frequency]",
			"--input-format", "BIOMV210Format",
			"--input-path", biom,
			"--output-path", rc.path(FileTable)},
		Inputs:  []string{biom},
		Outputs: []string{rc.path(FileTable)},
	})
	return stageReport{Files: 1, Detail: fmt.Sprintf("%d samples, %d features", len(table.Samples()), len(table.Features()))}, err
}

func (rc *runContext) chimeraFilter(ctx context.Context) (stageReport, error) {
	before, err := seqio.CountArtifact(rc.path(FileSequences))
	if err != nil {
		return stageReport{}, err
	}
	if err := os.MkdirAll(rc.path(DirChimera), 0o755); err != nil {
		return stageReport{}, err
	}
	nonchimeras := rc.path(DirChimera, "nonchimeras.qza")
	if err := rc.invoker.Invoke(ctx, tool.Invocation{
		Stage: StageChimera,
		Tool:  "qiime",
		Class: model.ClassArtifact,
		Args: []string{"vsearch", "uchime-ref",
			"--i-table", rc.path(FileTable),
			"--i-sequences", rc.path(FileSequences),
			"--i-reference-sequences", rc.cfg.ReferenceSeqs,
			"--p-threads", rc.threads(),
			"--o-nonchimeras", nonchimeras,
			"--o-chimeras", rc.path(DirChimera, "chimeras.qza"),
			"--o-stats", rc.path(DirChimera, "stats.qza")},
		Inputs:  []string{rc.path(FileTable), rc.path(FileSequences), rc.cfg.ReferenceSeqs},
		Outputs: []string{nonchimeras},
	}); err != nil {
		return stageReport{}, err
	}
	if err := rc.filterTable(ctx, StageChimera, rc.path(FileTable), nonchimeras, rc.path(FileTableNonchimeric)); err != nil {
		return stageReport{}, err
	}
	after, err := seqio.CountArtifact(nonchimeras)
	if err != nil {
		return stageReport{}, err
	}
	return stageReport{Files: 1}, rc.ledger.Record(StageChimera, before, after, "chimeric sequences")
}

func (rc *runContext) reorient(ctx context.Context) (stageReport, error) {
	nonchimeras := rc.path(DirChimera, "nonchimeras.qza")
	before, err := seqio.CountArtifact(nonchimeras)
	if err != nil {
		return stageReport{}, err
	}
	if err := rc.invoker.Invoke(ctx, tool.Invocation{
		Stage: StageReorient,
		Tool:  "qiime",
		Class: model.ClassArtifact,
		Args: []string{"rescript", "orient-seqs",
			"--i-sequences", nonchimeras,
			"--i-reference-sequences", rc.cfg.ReferenceSeqs,
			"--p-threads", rc.threads(),
			"--o-oriented-seqs", rc.path(FileOriented),
			"--o-unmatched-seqs", rc.path(FileUnmatched)},
		Inputs:  []string{nonchimeras, rc.cfg.ReferenceSeqs},
		Outputs: []string{rc.path(FileOriented)},
	}); err != nil {
		return stageReport{}, err
	}
	if err := rc.filterTable(ctx, StageReorient, rc.path(FileTableNonchimeric), rc.path(FileOriented), rc.path(FileTableOriented)); err != nil {
		return stageReport{}, err
	}
	after, err := seqio.CountArtifact(rc.path(FileOriented))
	if err != nil {
		return stageReport{}, err
	}
	return stageReport{Files: 1}, rc.ledger.Record(StageReorient, before, after, "no match to reference orientation")
}

// filterTable keeps the features of table present in the metadata artifact
func (rc *runContext) filterTable(ctx context.Context, stage, table, metadata, out string) error {
	return rc.invoker.Invoke(ctx, tool.Invocation{
		Stage: stage,
		Tool:  "qiime",
		Class: model.ClassArtifact,
		Args: []string{"feature-table", "filter-features",
			"--i-table", table,
			"--m-metadata-file", metadata,
			"--o-filtered-table", out},
		Inputs:  []string{table, metadata},
		Outputs: []string{out},
	})
}

func (rc *runContext) classify(ctx context.Context) (stageReport, error) {
	oriented := rc.path(FileOriented)
	n, err := seqio.CountArtifact(oriented)
	if err != nil {
		return stageReport{}, err
	}
	rc.classifyInput = n
	if !rc.resumed {
		if err := rc.ledger.Record(StageClassify, n, n, "classification input"); err != nil {
			return stageReport{}, err
		}
	}

	inv := tool.Invocation{
		Stage:   StageClassify,
		Tool:    "qiime",
		Class:   model.ClassClassify,
		Outputs: []string{rc.path(FileTaxonomy)},
	}
	switch rc.cfg.ClassifyMethod {
	case model.MethodSklearn:
		inv.Args = []string{"feature-classifier", "classify-sklearn",
			"--i-classifier", rc.cfg.Classifier,
			"--i-reads", oriented,
			"--p-n-jobs", rc.threads(),
			"--o-classification", rc.path(FileTaxonomy)}
		inv.Inputs = []string{rc.cfg.Classifier, oriented}
	case model.MethodVsearch, model.MethodBlast:
		action := "classify-consensus-vsearch"
		if rc.cfg.ClassifyMethod == model.MethodBlast {
			action = "classify-consensus-blast"
		}
		inv.Args = []string{"feature-classifier", action,
			"--i-query", oriented,
			"--i-reference-reads", rc.cfg.ReferenceSeqs,
			"--i-reference-taxonomy", rc.cfg.ReferenceTaxonomy,
			"--o-classification", rc.path(FileTaxonomy),
			"--o-search-results", rc.path(FileSearchResults)}
		if rc.cfg.ClassifyMethod == model.MethodVsearch {
			inv.Args = append(inv.Args, "--p-threads", rc.threads())
		}
		inv.Inputs = []string{oriented, rc.cfg.ReferenceSeqs, rc.cfg.ReferenceTaxonomy}
	default:
		return stageReport{}, &model.ConfigurationError{Field: "classification_method", Value: rc.cfg.ClassifyMethod, Reason: "unsupported"}
	}
	return stageReport{Files: 1, Detail: rc.cfg.ClassifyMethod}, rc.invoker.Invoke(ctx, inv)
}

func (rc *runContext) collapse(ctx context.Context) (stageReport, error) {
	err := rc.invoker.Invoke(ctx, tool.Invocation{
		Stage: StageCollapse,
		Tool:  "qiime",
		Class: model.ClassArtifact,
		Args: []string{"taxa", "collapse",
			"--i-table", rc.path(FileTableOriented),
			"--i-taxonomy", rc.path(FileTaxonomy),
			"--p-level", strconv.Itoa(rc.cfg.TaxonomyLevel),
			"--o-collapsed-table", rc.path(FileCollapsed)},
		Inputs:  []string{rc.path(FileTableOriented), rc.path(FileTaxonomy)},
		Outputs: []string{rc.path(FileCollapsed)},
	})
	return stageReport{Files: 1, Detail: fmt.Sprintf("level %d", rc.cfg.TaxonomyLevel)}, err
}

func (rc *runContext) frequencyFilter(ctx context.Context) (stageReport, error) {
	err := rc.invoker.Invoke(ctx, tool.Invocation{
		Stage: StageFrequency,
		Tool:  "qiime",
		Class: model.ClassArtifact,
		Args: []string{"feature-table", "filter-features",
			"--i-table", rc.path(FileCollapsed),
			"--p-min-frequency", strconv.FormatInt(rc.cfg.MinFrequency, 10),
			"--o-filtered-table", rc.path(FileCollapsedFiltered)},
		Inputs:  []string{rc.path(FileCollapsed)},
		Outputs: []string{rc.path(FileCollapsedFiltered)},
	})
	return stageReport{Files: 1, Detail: fmt.Sprintf("min frequency %d", rc.cfg.MinFrequency)}, err
}

func (rc *runContext) export(ctx context.Context) (stageReport, error) {
	tableDir := rc.path(DirExported, "table")
	exports := []struct{ artifact, dir, payload string }{
		{rc.path(FileCollapsedFiltered), tableDir, filepath.Join(tableDir, "feature-table.biom")},
		{rc.path(FileTaxonomy), filepath.Dir(rc.exportedTaxonomy()), rc.exportedTaxonomy()},
		{rc.path(FileOriented), filepath.Dir(rc.exportedSequences()), rc.exportedSequences()},
	}
	for _, e := range exports {
		if err := rc.invoker.Invoke(ctx, tool.Invocation{
			Stage:   StageExport,
			Tool:    "qiime",
			Class:   model.ClassArtifact,
			Args:    []string{"tools", "export", "--input-path", e.artifact, "--output-path", e.dir},
			Inputs:  []string{e.artifact},
			Outputs: []string{e.payload},
		}); err != nil {
			return stageReport{}, err
		}
	}
	if err := rc.invoker.Invoke(ctx, tool.Invocation{
		Stage:   StageExport,
		Tool:    "biom",
		Class:   model.ClassArtifact,
		Args:    []string{"convert", "-i", exports[0].payload, "-o", rc.exportedTable(), "--to-tsv"},
		Inputs:  []string{exports[0].payload},
		Outputs: []string{rc.exportedTable()},
	}); err != nil {
		return stageReport{}, err
	}

	taxa, err := seqio.SplitByTaxon(rc.exportedSequences(), rc.exportedTaxonomy(), rc.path(DirExported, "taxa_fasta"))
	if err != nil {
		return stageReport{}, fmt.Errorf("split sequences by taxon: %w", err)
	}

	summary, err := seqio.SummarizeTable(rc.exportedTable())
	if err != nil {
		return stageReport{}, err
	}
	before := rc.classifyInput
	if before == 0 {
		if before, err = seqio.CountArtifact(rc.path(FileOriented)); err != nil {
			return stageReport{}, err
		}
	}
	if err := rc.ledger.Record(StageFrequency, before, summary.Total,
		fmt.Sprintf("taxa below frequency %d", rc.cfg.MinFrequency)); err != nil {
		return stageReport{}, err
	}

	err = rc.invoker.Invoke(ctx, tool.Invocation{
		Stage: StageExport,
		Tool:  "qiime",
		Class: model.ClassArtifact,
		Args: []string{"taxa", "barplot",
			"--i-table", rc.path(FileTableOriented),
			"--i-taxonomy", rc.path(FileTaxonomy),
			"--o-visualization", rc.path(FileBarplot)},
		Inputs:  []string{rc.path(FileTableOriented), rc.path(FileTaxonomy)},
		Outputs: []string{rc.path(FileBarplot)},
	})
	return stageReport{Files: taxa, Detail: fmt.Sprintf("%d taxa in %d samples", summary.Features, summary.Samples)}, err
}

// expectRecords verifies that a sequence artifact holds exactly want records
func expectRecords(want int64) func([]string) error {
	return func(outs []string) error {
		got, err := seqio.CountArtifact(outs[0])
		if err != nil {
			return err
		}
		if got != want {
			return fmt.Errorf("artifact holds %d records, expected %d", got, want)
		}
		return nil
	}
}
