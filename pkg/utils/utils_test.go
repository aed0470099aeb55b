package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareAndPublish(t *testing.T) {
	om := NewOutputManager(t.TempDir())
	dir := om.Path("trimmed")

	staging, err := om.PrepareDir(dir)
	require.NoError(t, err)
	assert.Equal(t, dir+".partial", staging)
	require.NoError(t, os.WriteFile(filepath.Join(staging, "s1.fastq"), []byte("@r\nA\n+\nI\n"), 0o644))
	assert.False(t, Exists(dir), "output is invisible until published")

	require.NoError(t, om.Publish(dir))
	assert.True(t, Exists(filepath.Join(dir, "s1.fastq")))
	assert.False(t, Exists(staging))
}

func TestListArtifacts(t *testing.T) {
	om := NewOutputManager(t.TempDir())
	require.NoError(t, os.WriteFile(om.Path("taxonomy.qza"), []byte("zip"), 0o644))
	require.NoError(t, os.Mkdir(om.Path("exported"), 0o755))
	require.NoError(t, os.Mkdir(om.Path("fasta.partial"), 0o755))

	got, err := om.ListArtifacts()
	require.NoError(t, err)
	assert.Equal(t, []ArtifactInfo{
		{Name: "exported", Type: "directory", IsDir: true},
		{Name: "taxonomy.qza", Type: "artifact", Size: 3},
	}, got)
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, 2*time.Second, ParseDuration("2s", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("soon", time.Minute))
	assert.InDelta(t, 25.0, Percent(1, 4), 1e-9)
	assert.Zero(t, Percent(1, 0))
	assert.Equal(t, "1.5 KiB", HumanBytes(1536))
	assert.Equal(t, "fastq", NewOutputManager("").GetFileType("barcode01.fastq.gz"))
}
