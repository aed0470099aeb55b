package seqio

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// TableSummary totals a feature table exported to TSV
type TableSummary struct {
	Features int
	Samples  int
	Total    int64
}

// SummarizeTable reads a TSV feature table (as written by biom convert --to-tsv,
// including its "# Constructed from biom file" preamble) and totals its counts.
func SummarizeTable(path string) (TableSummary, error) {
	fh, err := os.Open(path)
	if err != nil {
		return TableSummary{}, err
	}
	defer fh.Close()

	var sum TableSummary
	var total float64
	sc := bufio.NewScanner(fh)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if strings.HasPrefix(line, "#OTU ID") {
				sum.Samples = len(strings.Split(line, "\t")) - 1
			}
			continue
		}
		cols := strings.Split(line, "\t")
		sum.Features++
		for _, c := range cols[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(c), 64)
			if err != nil {
				return TableSummary{}, fmt.Errorf("%s: feature %s: %w", path, cols[0], err)
			}
			total += v
		}
	}
	if err := sc.Err(); err != nil {
		return TableSummary{}, err
	}
	sum.Total = int64(total + 0.5)
	return sum, nil
}
