package seqio

import (
	"archive/zip"
	"fmt"
	"path"
	"strings"
)

// sequencePayloads are the data files a managed sequence artifact may carry
var sequencePayloads = []string{"dna-sequences.fasta", "sequences.fasta", "dna-sequences.fa"}

// CountArtifact counts the sequence records held inside a managed artifact
// (a zip archive whose payload lives under <uuid>/data/).
func CountArtifact(artifactPath string) (int64, error) {
	zr, err := zip.OpenReader(artifactPath)
	if err != nil {
		return 0, fmt.Errorf("open artifact %s: %w", artifactPath, err)
	}
	defer zr.Close()

	f := findPayload(zr.File)
	if f == nil {
		return 0, fmt.Errorf("artifact %s: no sequence payload", artifactPath)
	}
	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	n, err := CountReader(rc)
	if err != nil {
		return 0, fmt.Errorf("artifact %s: %w", artifactPath, err)
	}
	return n, nil
}

// ArtifactUUID returns the top-level directory name of an artifact archive
func ArtifactUUID(artifactPath string) (string, error) {
	zr, err := zip.OpenReader(artifactPath)
	if err != nil {
		return "", err
	}
	defer zr.Close()
	for _, f := range zr.File {
		if root, _, ok := strings.Cut(f.Name, "/"); ok && root != "" {
			return root, nil
		}
	}
	return "", fmt.Errorf("artifact %s: empty archive", artifactPath)
}

func findPayload(files []*zip.File) *zip.File {
	for _, f := range files {
		dir, base := path.Split(f.Name)
		if !strings.HasSuffix(strings.TrimSuffix(dir, "/"), "/data") {
			continue
		}
		for _, want := range sequencePayloads {
			if base == want {
				return f
			}
		}
	}
	return nil
}
