package seqio

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
)

// ReadTaxonomy loads a feature -> taxon map from a taxonomy TSV. The first line
// is a header; rows with fewer than two columns are ignored.
func ReadTaxonomy(path string) (map[string]string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	out := make(map[string]string)
	sc := bufio.NewScanner(fh)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	first := true
	for sc.Scan() {
		if first {
			first = false
			continue
		}
		parts := strings.Split(strings.TrimSpace(sc.Text()), "\t")
		if len(parts) >= 2 {
			out[parts[0]] = parts[1]
		}
	}
	return out, sc.Err()
}

// SanitizeFilename keeps Unicode letters and numbers and "._-"; anything else
// becomes '_'
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsNumber(r), r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// SplitByTaxon writes one FASTA per assigned taxon into outDir and returns the
// number of files written. Sequences without an assignment, or with an empty
// taxon, are skipped.
func SplitByTaxon(fastaPath, taxonomyPath, outDir string) (int, error) {
	taxa, err := ReadTaxonomy(taxonomyPath)
	if err != nil {
		return 0, fmt.Errorf("read taxonomy: %w", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, err
	}

	rc, err := Open(fastaPath)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	groups := make(map[string][]Record)
	err = ScanFasta(rc, func(rec Record) error {
		if taxon := taxa[rec.ID]; taxon != "" {
			rec.Seq = append([]byte(nil), rec.Seq...)
			groups[taxon] = append(groups[taxon], rec)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	names := make([]string, 0, len(groups))
	for t := range groups {
		names = append(names, t)
	}
	sort.Strings(names)
	for _, taxon := range names {
		if err := writeFastaFile(filepath.Join(outDir, SanitizeFilename(taxon)+".fasta"), groups[taxon]); err != nil {
			return 0, err
		}
	}
	return len(groups), nil
}

func writeFastaFile(path string, recs []Record) error {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(fh)
	for _, r := range recs {
		if err := WriteFasta(w, r); err != nil {
			fh.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}
