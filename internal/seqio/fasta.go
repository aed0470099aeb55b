package seqio

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// Record is one FASTA record. Seq keeps the raw sequence lines joined.
type Record struct {
	ID   string
	Desc string
	Seq  []byte
}

// ScanFasta calls fn for each record in r. Records are not retained between calls.
func ScanFasta(r io.Reader, fn func(Record) error) error {
	br := bufio.NewReaderSize(r, 1<<16)
	var (
		cur  Record
		have bool
	)
	flush := func() error {
		if !have {
			return nil
		}
		return fn(cur)
	}
	for {
		line, err := br.ReadBytes('\n')
		eof := err == io.EOF
		if err != nil && !eof {
			return err
		}
		line = bytes.TrimRight(line, "\r\n")
		if len(line) > 0 && line[0] == '>' {
			if ferr := flush(); ferr != nil {
				return ferr
			}
			header := strings.TrimSpace(string(line[1:]))
			id, desc, _ := strings.Cut(header, " ")
			cur = Record{ID: id, Desc: desc}
			have = true
		} else if len(line) > 0 {
			if !have {
				return fmt.Errorf("sequence data before first header")
			}
			cur.Seq = append(cur.Seq, line...)
		}
		if eof {
			break
		}
	}
	return flush()
}

// WriteFasta writes one record with the sequence on a single line
func WriteFasta(w io.Writer, rec Record) error {
	header := rec.ID
	if rec.Desc != "" {
		header += " " + rec.Desc
	}
	if _, err := fmt.Fprintf(w, ">%s\n", header); err != nil {
		return err
	}
	if _, err := w.Write(rec.Seq); err != nil {
		return err
	}
	_, err := w.Write([]byte{'\n'})
	return err
}
