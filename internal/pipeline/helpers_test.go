package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"amplicon-pipeline/internal/model"
	"amplicon-pipeline/internal/seqio"
	"amplicon-pipeline/internal/tool"
)

// fakeTools stands in for every external program. It produces the artifacts
// a real tool would, with predictable read counts: chimera filtering and
// reorientation each drop the first sequence.
type fakeTools struct {
	mu    sync.Mutex
	calls []tool.Command
	// silent names subcommands that exit 0 without writing anything
	silent map[string]bool
}

func (f *fakeTools) Run(_ context.Context, cmd tool.Command) (tool.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()

	args := cmd.Arguments
	sub := cmd.Binary
	if len(args) > 0 {
		sub = args[0]
	}
	if cmd.Binary == "qiime" && len(args) > 1 {
		sub = args[1]
	}
	if f.silent[sub] {
		return tool.Result{}, nil
	}

	var err error
	switch cmd.Binary {
	case "seqtk":
		n, _ := strconv.Atoi(args[len(args)-1])
		err = writeRecords(cmd.Stdout, "sub", n)
	case "cutadapt":
		err = copyFile(args[len(args)-1], flagValue(args, "-o"))
	case "chopper":
		var in *os.File
		if in, err = os.Open(flagValue(args, "-i")); err == nil {
			_, err = io.Copy(cmd.Stdout, in)
			in.Close()
		}
	case "seqkit":
		err = fastqToFasta(args[1], flagValue(args, "-o"))
	case "biom":
		out := flagValue(args, "-o")
		if hasArg(args, "--to-tsv") {
			err = os.WriteFile(out, []byte("# Constructed from biom file\n#OTU ID\tbarcode01\tbarcode03\n"+
				"k__Bacteria;g__Bacillus\t1.0\t1.0\nk__Bacteria;g__Listeria\t1.0\t0.0\n"), 0o644)
		} else {
			err = touch(out)
		}
	case "qiime":
		err = f.qiime(args)
	case "dorado":
		err = dorado(cmd)
	}
	if err != nil {
		return tool.Result{ExitCode: 1, Stderr: err.Error()}, nil
	}
	return tool.Result{Duration: time.Millisecond}, nil
}

func (f *fakeTools) qiime(args []string) error {
	switch strings.Join(args[:2], " ") {
	case "tools import":
		if flagValue(args, "--type") == "FeatureData[Sequence]" {
			b, err := os.ReadFile(flagValue(args, "--input-path"))
			if err != nil {
				return err
			}
			return writeArtifactFile(flagValue(args, "--output-path"), string(b))
		}
		return touch(flagValue(args, "--output-path"))
	case "vsearch uchime-ref":
		return splitFirst(flagValue(args, "--i-sequences"), flagValue(args, "--o-nonchimeras"),
			flagValue(args, "--o-chimeras"), flagValue(args, "--o-stats"))
	case "rescript orient-seqs":
		return splitFirst(flagValue(args, "--i-sequences"), flagValue(args, "--o-oriented-seqs"),
			flagValue(args, "--o-unmatched-seqs"), "")
	case "feature-table filter-features":
		return touch(flagValue(args, "--o-filtered-table"))
	case "taxa collapse":
		return touch(flagValue(args, "--o-collapsed-table"))
	case "taxa barplot":
		return touch(flagValue(args, "--o-visualization"))
	case "tools export":
		return exportArtifact(flagValue(args, "--input-path"), flagValue(args, "--output-path"))
	}
	if args[0] == "feature-classifier" {
		if out := flagValue(args, "--o-search-results"); out != "" {
			if err := touch(out); err != nil {
				return err
			}
		}
		return touch(flagValue(args, "--o-classification"))
	}
	return fmt.Errorf("unexpected qiime call %v", args)
}

// dorado basecalls to a BAM on stdout and demultiplexes into a nested tree
// the way the real tool lays out several run folders. barcode01 is split
// across two runs.
func dorado(cmd tool.Command) error {
	args := cmd.Arguments
	switch args[0] {
	case "basecaller":
		_, err := cmd.Stdout.Write([]byte("BAM\x01"))
		return err
	case "demux":
		out, kit := flagValue(args, "--output-dir"), flagValue(args, "--kit-name")
		for name, data := range map[string]string{
			"run1/fastq_pass/barcode01/" + kit + "_barcode01.fastq": fastq("a", 3),
			"run2/fastq_pass/barcode01/" + kit + "_barcode01.fastq": fastq("b", 2),
			"run1/fastq_pass/barcode02/" + kit + "_barcode02.fastq": fastq("c", 1),
			"run1/fastq_pass/barcode03/" + kit + "_barcode03.fastq": fastq("d", 2),
			"run1/" + kit + "_unclassified.fastq":                   fastq("u", 4),
		} {
			p := filepath.Join(out, name)
			if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unexpected dorado call %v", args)
}

func (f *fakeTools) binaries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.Binary)
	}
	return out
}

func flagValue(args []string, name string) string {
	for i, a := range args {
		if a == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func hasArg(args []string, name string) bool {
	for _, a := range args {
		if a == name {
			return true
		}
	}
	return false
}

func touch(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("artifact"), 0o644)
}

func copyFile(src, dst string) error {
	b, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, b, 0o644)
}

func writeRecords(w io.Writer, prefix string, n int) error {
	var buf bytes.Buffer
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&buf, ">%s%d\nACGTACGT\n", prefix, i)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func fastqToFasta(in, out string) error {
	rc, err := seqio.Open(in)
	if err != nil {
		return err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	var buf bytes.Buffer
	for i := 0; i+1 < len(lines); i += 4 {
		fmt.Fprintf(&buf, ">%s\n%s\n", strings.TrimPrefix(lines[i], "@"), lines[i+1])
	}
	return os.WriteFile(out, buf.Bytes(), 0o644)
}

func writeArtifactFile(path, fasta string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(fh)
	w, err := zw.Create("5e1f/data/dna-sequences.fasta")
	if err != nil {
		fh.Close()
		return err
	}
	if _, err := w.Write([]byte(fasta)); err != nil {
		fh.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}

func artifactRecords(path string) ([]seqio.Record, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	var recs []seqio.Record
	for _, f := range zr.File {
		if !strings.HasSuffix(f.Name, "/data/dna-sequences.fasta") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		err = seqio.ScanFasta(rc, func(r seqio.Record) error {
			recs = append(recs, r)
			return nil
		})
		rc.Close()
		if err != nil {
			return nil, err
		}
	}
	return recs, nil
}

// splitFirst writes all but the first record of in to kept and the first to
// removed; extra, when set, is touched.
func splitFirst(in, kept, removed, extra string) error {
	recs, err := artifactRecords(in)
	if err != nil {
		return err
	}
	var keep, drop bytes.Buffer
	for i, r := range recs {
		w := &keep
		if i == 0 {
			w = &drop
		}
		if err := seqio.WriteFasta(w, r); err != nil {
			return err
		}
	}
	if err := writeArtifactFile(kept, keep.String()); err != nil {
		return err
	}
	if err := writeArtifactFile(removed, drop.String()); err != nil {
		return err
	}
	if extra != "" {
		return touch(extra)
	}
	return nil
}

func exportArtifact(artifact, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	switch filepath.Base(artifact) {
	case FileOriented:
		recs, err := artifactRecords(artifact)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		for _, r := range recs {
			if err := seqio.WriteFasta(&buf, r); err != nil {
				return err
			}
		}
		return os.WriteFile(filepath.Join(dir, "dna-sequences.fasta"), buf.Bytes(), 0o644)
	case FileTaxonomy:
		recs, err := artifactRecords(filepath.Join(filepath.Dir(artifact), FileOriented))
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		buf.WriteString("Feature ID\tTaxon\tConfidence\n")
		for _, r := range recs {
			fmt.Fprintf(&buf, "%s\tk__Bacteria; g__Bacillus\t0.99\n", r.ID)
		}
		return os.WriteFile(filepath.Join(dir, "taxonomy.tsv"), buf.Bytes(), 0o644)
	}
	return touch(filepath.Join(dir, "feature-table.biom"))
}

func fastq(prefix string, n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "@%s%d\nACGTACGT\n+\nIIIIIIII\n", prefix, i)
	}
	return b.String()
}

func writeInput(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, data := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
	}
}

// testConfig lays out a pre-demultiplexed run: barcode01 holds 5 reads over
// two chunks, barcode02 one read, barcode03 two reads.
func testConfig(t *testing.T) model.PipelineConfig {
	t.Helper()
	root := t.TempDir()
	input := filepath.Join(root, "input")
	writeInput(t, input, map[string]string{
		"barcode01/chunk_a.fastq":  fastq("a", 3),
		"barcode01/chunk_b.fastq":  fastq("b", 2),
		"barcode02/reads.fastq":    fastq("c", 1),
		"barcode03/reads.fastq":    fastq("d", 2),
		"unclassified/reads.fastq": fastq("u", 4),
	})
	res := filepath.Join(root, "resources")
	writeInput(t, res, map[string]string{
		"primers.fasta":    ">27F\nAGAGTTTGATCMTGGCTCAG\n",
		"ref-seqs.qza":     "ref",
		"ref-taxonomy.qza": "tax",
	})
	return model.PipelineConfig{
		InputDir:           input,
		PreDemultiplexed:   true,
		OutputDir:          filepath.Join(root, "out"),
		PrimerFile:         filepath.Join(res, "primers.fasta"),
		ReferenceSeqs:      filepath.Join(res, "ref-seqs.qza"),
		ReferenceTaxonomy:  filepath.Join(res, "ref-taxonomy.qza"),
		Quality:            10,
		MinLength:          1000,
		MaxLength:          2000,
		Threads:            2,
		MinReads:           2,
		SubsampleThreshold: 4,
		SubsampleSeed:      model.DefaultSeed,
		ClassifyMethod:     model.MethodVsearch,
		MinFrequency:       1,
		TaxonomyLevel:      7,
		FailurePolicy:      model.FailFast,
	}
}

var errLocked = errors.New("database is locked")

// lockedStore is a run store whose every write fails
type lockedStore struct {
	mu     sync.Mutex
	ledger int
}

func (s *lockedStore) SaveRun(string, model.PipelineConfig, bool) error { return nil }
func (s *lockedStore) UpdateRunStatus(string, string) error             { return errLocked }
func (s *lockedStore) SaveStageProgress(string, model.StageMetrics) error {
	return errLocked
}
func (s *lockedStore) SaveRunError(string, string, error) error { return errLocked }

func (s *lockedStore) SaveLedgerEntry(string, model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger++
	return errLocked
}

func (s *lockedStore) ledgerCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger
}

// basecallConfig is testConfig starting from raw signal instead of
// per-barcode reads
func basecallConfig(t *testing.T) model.PipelineConfig {
	cfg := testConfig(t)
	cfg.PreDemultiplexed = false
	cfg.KitName = "SQK-16S114-24"
	cfg.BasecallerModel = "sup"
	return cfg
}

func newAdapter(r tool.Runner) *tool.Adapter {
	return tool.NewAdapter(r, nil, zap.NewNop(),
		tool.WithSleep(func(context.Context, time.Duration) error { return nil }))
}
