package seqio

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FeatureTable maps sample id -> feature id -> count
type FeatureTable map[string]map[string]int64

// ReadFeatureCounts groups the reads of a combined FASTA by sample. Read ids
// are expected as SAMPLE_n; the sample is the text before the first '_'.
func ReadFeatureCounts(fastaPath string) (FeatureTable, error) {
	rc, err := Open(fastaPath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	table := make(FeatureTable)
	err = ScanFasta(rc, func(rec Record) error {
		sample, _, _ := strings.Cut(rec.ID, "_")
		if table[sample] == nil {
			table[sample] = make(map[string]int64)
		}
		table[sample][rec.ID]++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fastaPath, err)
	}
	return table, nil
}

// Samples returns the sample ids in sorted order
func (t FeatureTable) Samples() []string {
	out := make([]string, 0, len(t))
	for s := range t {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Features returns every feature id across all samples in sorted order
func (t FeatureTable) Features() []string {
	seen := make(map[string]struct{})
	for _, feats := range t {
		for f := range feats {
			seen[f] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// WriteTSV writes the table in the "#OTU ID" layout accepted by biom convert.
// The file is written to a temporary name and renamed into place.
func (t FeatureTable) WriteTSV(outPath string) error {
	tmp, err := os.CreateTemp(filepath.Dir(outPath), ".feature-table-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	samples := t.Samples()
	fmt.Fprintf(w, "#OTU ID\t%s\n", strings.Join(samples, "\t"))
	for _, feature := range t.Features() {
		w.WriteString(feature)
		for _, s := range samples {
			fmt.Fprintf(w, "\t%d", t[s][feature])
		}
		w.WriteByte('\n')
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

// BuildFeatureTable reads a combined FASTA and writes its per-sample feature table
func BuildFeatureTable(fastaPath, outPath string) (FeatureTable, error) {
	table, err := ReadFeatureCounts(fastaPath)
	if err != nil {
		return nil, err
	}
	if err := table.WriteTSV(outPath); err != nil {
		return nil, fmt.Errorf("write feature table: %w", err)
	}
	return table, nil
}
