package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const partialSuffix = ".partial"

// OutputManager handles output file organization and path management.
// Every path it returns is absolute when BaseOutputDir is.
type OutputManager struct {
	BaseOutputDir string
}

// ArtifactInfo describes one entry of the output directory
type ArtifactInfo struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Size  int64  `json:"size"`
	IsDir bool   `json:"is_dir"`
}

// NewOutputManager creates a new output manager
func NewOutputManager(baseOutputDir string) *OutputManager {
	return &OutputManager{
		BaseOutputDir: baseOutputDir,
	}
}

// Path joins parts under the output directory
func (om *OutputManager) Path(parts ...string) string {
	return filepath.Join(append([]string{om.BaseOutputDir}, parts...)...)
}

// Partial is the staging name of a directory output
func (om *OutputManager) Partial(dir string) string {
	return dir + partialSuffix
}

// PrepareDir clears any stale staging directory for dir and recreates it empty.
func (om *OutputManager) PrepareDir(dir string) (string, error) {
	staging := om.Partial(dir)
	if err := os.RemoveAll(staging); err != nil {
		return "", fmt.Errorf("failed to clear %s: %w", staging, err)
	}
	if err := os.MkdirAll(staging, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", staging, err)
	}
	return staging, nil
}

// Publish renames the staging directory of dir into place
func (om *OutputManager) Publish(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.Rename(om.Partial(dir), dir)
}

// GetFileType determines the artifact type based on extension
func (om *OutputManager) GetFileType(fileName string) string {
	name := strings.ToLower(strings.TrimSuffix(fileName, ".gz"))
	switch filepath.Ext(name) {
	case ".qza":
		return "artifact"
	case ".qzv":
		return "visualization"
	case ".tsv":
		return "table"
	case ".biom":
		return "biom"
	case ".fasta", ".fa", ".fna":
		return "fasta"
	case ".fastq", ".fq":
		return "fastq"
	case ".bam":
		return "bam"
	case ".log":
		return "log"
	case ".json":
		return "json"
	default:
		return "unknown"
	}
}

// GetFileSize returns the size of a file in bytes
func (om *OutputManager) GetFileSize(filePath string) (int64, error) {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return 0, err
	}
	return fileInfo.Size(), nil
}

// ListArtifacts lists the top-level entries of the output directory, skipping
// staging directories.
func (om *OutputManager) ListArtifacts() ([]ArtifactInfo, error) {
	entries, err := os.ReadDir(om.BaseOutputDir)
	if err != nil {
		return nil, err
	}
	var out []ArtifactInfo
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), partialSuffix) {
			continue
		}
		info := ArtifactInfo{Name: e.Name(), IsDir: e.IsDir()}
		if e.IsDir() {
			info.Type = "directory"
		} else {
			info.Type = om.GetFileType(e.Name())
			if size, err := om.GetFileSize(om.Path(e.Name())); err == nil {
				info.Size = size
			}
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// EnsureOutputDirExists ensures the base output directory exists
func (om *OutputManager) EnsureOutputDirExists() error {
	return os.MkdirAll(om.BaseOutputDir, 0755)
}
