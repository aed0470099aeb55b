package seqio

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// CountRecords returns the number of reads in a FASTA or FASTQ file.
// The format is detected from the first non-blank byte.
func CountRecords(path string) (int64, error) {
	rc, err := Open(path)
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	n, err := CountReader(rc)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", path, err)
	}
	return n, nil
}

// CountReader counts FASTA or FASTQ records read from r
func CountReader(r io.Reader) (int64, error) {
	br := bufio.NewReaderSize(r, 1<<16)
	var (
		n      int64
		format byte
		// FASTQ line position within a record; 0 is the header
		pos int
	)
	for {
		line, err := br.ReadSlice('\n')
		if err == bufio.ErrBufferFull {
			// long sequence line: drain the rest of it
			for err == bufio.ErrBufferFull {
				_, err = br.ReadSlice('\n')
			}
			line = []byte{'x'}
		}
		eof := err == io.EOF
		if err != nil && !eof {
			return 0, err
		}
		line = bytes.TrimRight(line, "\r\n")
		if len(line) > 0 {
			if format == 0 {
				format = line[0]
				if format != '>' && format != '@' {
					return 0, fmt.Errorf("unrecognised sequence format (starts with %q)", format)
				}
			}
			switch format {
			case '>':
				if line[0] == '>' {
					n++
				}
			case '@':
				if pos == 0 {
					n++
				}
				pos = (pos + 1) % 4
			}
		}
		if eof {
			break
		}
	}
	if format == '@' && pos != 0 {
		return 0, fmt.Errorf("truncated FASTQ record")
	}
	return n, nil
}

// ListReadFiles returns the sequence files directly inside dir, sorted by name
func ListReadFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && IsReadFile(e.Name()) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// CountDir sums the records of every sequence file directly inside dir
func CountDir(dir string) (int64, error) {
	files, err := ListReadFiles(dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range files {
		n, err := CountRecords(f)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
