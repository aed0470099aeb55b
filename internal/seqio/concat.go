package seqio

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Source is one per-sample FASTA feeding a concatenation
type Source struct {
	Sample string
	Path   string
}

// Concatenate writes every source into one FASTA, renaming reads to
// SAMPLE_n (n from 1 within each sample). Underscores in sample ids are
// replaced with '-' so the sample stays recoverable from the read id.
// It returns the number of records written.
func Concatenate(sources []Source, outPath string) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(outPath), ".combined-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriterSize(tmp, 1<<16)
	var total int64
	for _, src := range sources {
		sample := strings.ReplaceAll(src.Sample, "_", "-")
		rc, err := Open(src.Path)
		if err != nil {
			tmp.Close()
			return 0, err
		}
		var n int64
		err = ScanFasta(rc, func(rec Record) error {
			n++
			return WriteFasta(w, Record{ID: fmt.Sprintf("%s_%d", sample, n), Seq: rec.Seq})
		})
		rc.Close()
		if err != nil {
			tmp.Close()
			return 0, fmt.Errorf("concatenate %s: %w", src.Path, err)
		}
		total += n
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), outPath); err != nil {
		return 0, err
	}
	return total, nil
}

// MergeReads concatenates raw read files (FASTQ or FASTA, optionally gzipped)
// into one uncompressed file, as used when gathering pre-demultiplexed chunks.
func MergeReads(inputs []string, outPath string) error {
	tmp, err := os.CreateTemp(filepath.Dir(outPath), ".merge-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriterSize(tmp, 1<<16)
	for _, in := range inputs {
		rc, err := Open(in)
		if err != nil {
			tmp.Close()
			return err
		}
		_, err = w.ReadFrom(rc)
		rc.Close()
		if err != nil {
			tmp.Close()
			return fmt.Errorf("merge %s: %w", in, err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), outPath)
}
