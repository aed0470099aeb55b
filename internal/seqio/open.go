// Package seqio reads and writes the plain sequence files that move between
// pipeline stages. It only counts and regroups records; it never interprets
// sequence content.
package seqio

import (
	"compress/gzip"
	"io"
	"os"
	"strings"
)

// multiReadCloser closes multiple io.Closers when Close() is called.
type multiReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiReadCloser) Close() error {
	var err error
	for _, c := range m.closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Open opens a sequence file, transparently decompressing gzip input.
// Gzip is detected by magic number (1F 8B) or by .gz suffix.
func Open(path string) (io.ReadCloser, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var sig [2]byte
	n, _ := fh.Read(sig[:])
	if _, err := fh.Seek(0, io.SeekStart); err != nil {
		_ = fh.Close()
		return nil, err
	}
	if (n == 2 && sig[0] == 0x1f && sig[1] == 0x8b) || strings.HasSuffix(path, ".gz") {
		gr, err := gzip.NewReader(fh)
		if err != nil {
			_ = fh.Close()
			return nil, err
		}
		return &multiReadCloser{Reader: gr, closers: []io.Closer{gr, fh}}, nil
	}
	return fh, nil
}

// IsReadFile reports whether name looks like a FASTA/FASTQ file, compressed or not
func IsReadFile(name string) bool {
	n := strings.ToLower(strings.TrimSuffix(name, ".gz"))
	for _, ext := range []string{".fastq", ".fq", ".fasta", ".fa", ".fna"} {
		if strings.HasSuffix(n, ext) {
			return true
		}
	}
	return false
}

// SampleID strips directory and sequence extensions from a read file name
func SampleID(name string) string {
	n := name
	if i := strings.LastIndexByte(n, '/'); i >= 0 {
		n = n[i+1:]
	}
	n = strings.TrimSuffix(n, ".gz")
	for _, ext := range []string{".fastq", ".fq", ".fasta", ".fa", ".fna"} {
		if strings.HasSuffix(strings.ToLower(n), ext) {
			return n[:len(n)-len(ext)]
		}
	}
	return n
}
