package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amplicon-pipeline/internal/seqio"
)

func TestFlattenDemux(t *testing.T) {
	dir := t.TempDir()
	writeInput(t, dir, map[string]string{
		"run1/fastq_pass/barcode01/KIT_barcode01.fastq": fastq("a", 2),
		"run2/fastq_pass/barcode01/KIT_barcode01.fastq": fastq("b", 1),
		"run1/fastq_pass/barcode07/KIT_barcode07.fastq": fastq("c", 3),
		"run1/KIT_unclassified.fastq":                   fastq("u", 5),
		"run2/fastq_fail/Unclassified.fastq":            fastq("v", 1),
	})

	require.NoError(t, flattenDemux(dir, "KIT"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"barcode01.fastq", "barcode07.fastq"}, names)

	n, err := seqio.CountRecords(filepath.Join(dir, "barcode01.fastq"))
	require.NoError(t, err)
	assert.EqualValues(t, 3, n, "reads from both runs are kept")
	n, err = seqio.CountRecords(filepath.Join(dir, "barcode07.fastq"))
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestFlattenDemuxKeepsFlatFiles(t *testing.T) {
	dir := t.TempDir()
	writeInput(t, dir, map[string]string{
		"barcode02.fastq":            fastq("a", 1),
		"nested/KIT_barcode02.fastq": fastq("b", 2),
	})

	require.NoError(t, flattenDemux(dir, "KIT"))

	n, err := seqio.CountRecords(filepath.Join(dir, "barcode02.fastq"))
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.NoDirExists(t, filepath.Join(dir, "nested"))
}
