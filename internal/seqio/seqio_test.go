package seqio

import (
	"archive/zip"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const plainFasta = `>seq1
ACGT
ACGT
>seq2 some description
NNnn
`

const plainFastq = `@read1
ACGT
+
@@@@
@read2
TTTT
+
IIII
`

func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
	return p
}

func writeGz(t *testing.T, dir, name, data string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	fh, err := os.Create(p)
	require.NoError(t, err)
	gw := gzip.NewWriter(fh)
	_, err = gw.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	require.NoError(t, fh.Close())
	return p
}

// writeArtifact builds a minimal managed artifact: a zip with the payload under <uuid>/data/
func writeArtifact(t *testing.T, dir, name, fasta string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	fh, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(fh)
	meta, err := zw.Create("0b1c/metadata.yaml")
	require.NoError(t, err)
	_, _ = meta.Write([]byte("uuid: 0b1c\ntype: FeatureData[Sequence]\n"))
	data, err := zw.Create("0b1c/data/dna-sequences.fasta")
	require.NoError(t, err)
	_, _ = data.Write([]byte(fasta))
	require.NoError(t, zw.Close())
	require.NoError(t, fh.Close())
	return p
}

func TestCountRecords(t *testing.T) {
	dir := t.TempDir()

	t.Run("fasta", func(t *testing.T) {
		n, err := CountRecords(writeFile(t, dir, "a.fasta", plainFasta))
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)
	})

	t.Run("fastq quality line starting with @", func(t *testing.T) {
		n, err := CountRecords(writeFile(t, dir, "a.fastq", plainFastq))
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)
	})

	t.Run("gzip fastq", func(t *testing.T) {
		n, err := CountRecords(writeGz(t, dir, "b.fastq.gz", plainFastq))
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)
	})

	t.Run("empty file", func(t *testing.T) {
		n, err := CountRecords(writeFile(t, dir, "empty.fasta", ""))
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("truncated fastq", func(t *testing.T) {
		_, err := CountRecords(writeFile(t, dir, "trunc.fastq", "@r1\nACGT\n+\n"))
		assert.Error(t, err)
	})
}

func TestCountDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "s1.fasta", plainFasta)
	writeGz(t, dir, "s2.fastq.gz", plainFastq)
	writeFile(t, dir, "notes.txt", "ignored")

	n, err := CountDir(dir)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
}

func TestCountArtifact(t *testing.T) {
	dir := t.TempDir()
	p := writeArtifact(t, dir, "seqs.qza", plainFasta)

	n, err := CountArtifact(p)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	id, err := ArtifactUUID(p)
	require.NoError(t, err)
	assert.Equal(t, "0b1c", id)

	_, err = CountArtifact(writeFile(t, dir, "bogus.qza", "not a zip"))
	assert.Error(t, err)
}

func TestConcatenateAndFeatureTable(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "bc_01.fasta", plainFasta)
	b := writeFile(t, dir, "bc02.fasta", ">x\nAC\n")
	combined := filepath.Join(dir, "combined.fasta")

	n, err := Concatenate([]Source{{Sample: "bc_01", Path: a}, {Sample: "bc02", Path: b}}, combined)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	table, err := BuildFeatureTable(combined, filepath.Join(dir, "feature-table.tsv"))
	require.NoError(t, err)
	assert.Equal(t, []string{"bc-01", "bc02"}, table.Samples())
	assert.Equal(t, []string{"bc-01_1", "bc-01_2", "bc02_1"}, table.Features())

	raw, err := os.ReadFile(filepath.Join(dir, "feature-table.tsv"))
	require.NoError(t, err)
	assert.Equal(t, "#OTU ID\tbc-01\tbc02\nbc-01_1\t1\t0\nbc-01_2\t1\t0\nbc02_1\t0\t1\n", string(raw))
}

func TestSplitByTaxon(t *testing.T) {
	dir := t.TempDir()
	fasta := writeFile(t, dir, "dna-sequences.fasta", ">f1\nAAA\n>f2\nCCC\n>f3\nGGG\n")
	tax := writeFile(t, dir, "taxonomy.tsv",
		"Feature ID\tTaxon\tConfidence\nf1\tk__Bacteria; g__Bacillus\t0.9\nf2\tk__Bacteria; g__Bacillus\t0.8\n")

	out := filepath.Join(dir, "taxa")
	n, err := SplitByTaxon(fasta, tax, out)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := CountRecords(filepath.Join(out, "k__Bacteria__g__Bacillus.fasta"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, got)
}

func TestSplitByTaxonSkipsEmptyTaxon(t *testing.T) {
	dir := t.TempDir()
	fasta := writeFile(t, dir, "dna-sequences.fasta", ">f1\nAAA\n>f2\nCCC\n")
	tax := writeFile(t, dir, "taxonomy.tsv", "Feature ID\tTaxon\tConfidence\nf1\t\t0.5\nf2\tk__Bactéria\t0.9\n")

	out := filepath.Join(dir, "taxa")
	n, err := SplitByTaxon(fasta, tax, out)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"k__Bactéria.fasta"}, names)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a_b.c-d_", SanitizeFilename("a b.c-d;"))
	assert.Equal(t, "k__Bactéria__g__Ṡtreptococcus", SanitizeFilename("k__Bactéria; g__Ṡtreptococcus"))
	assert.Equal(t, "x_y", SanitizeFilename("x/y"))
}

func TestSummarizeTable(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "table.tsv",
		"# Constructed from biom file\n#OTU ID\ts1\ts2\nk__A;g__B\t10.0\t5.0\nUnassigned\t1.0\t0.0\n")

	sum, err := SummarizeTable(p)
	require.NoError(t, err)
	assert.Equal(t, TableSummary{Features: 2, Samples: 2, Total: 16}, sum)
}

func TestSampleID(t *testing.T) {
	assert.Equal(t, "barcode01", SampleID("/x/barcode01.fastq.gz"))
	assert.Equal(t, "s1", SampleID("s1.fasta"))
	assert.True(t, IsReadFile("reads.FQ.gz"))
	assert.False(t, IsReadFile("notes.txt"))
}
