// Package csv streams UTF-8 CSV uploads with a header row.
package csv

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"hospitaletl/internal/parser"
)

const utf8BOM = "\uFEFF"

func init() {
	parser.Register(parser.Format{Name: "csv", Match: Match, Stream: Stream})
}

// Match accepts text/csv and friends, and any upload named *.csv (browsers
// on Windows label CSV files application/vnd.ms-excel).
func Match(contentType, fileName string) bool {
	if parser.Ext(fileName) == ".csv" {
		return true
	}
	switch contentType {
	case "text/csv", "application/csv", "text/comma-separated-values":
		return true
	}
	return false
}

// Stream reads the header then emits one row per record. Records the
// csv.Reader rejects (bare quotes, unterminated fields) are emitted with
// Err set and reading continues with the next record.
func Stream(ctx context.Context, r io.Reader, onHeader func([]string), out chan<- parser.Row) error {
	br := bufio.NewReaderSize(r, 64*1024)
	if b, err := br.Peek(len(utf8BOM)); err == nil && string(b) == utf8BOM {
		_, _ = br.Discard(len(utf8BOM))
	}
	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1 // tolerant; width is checked against the header
	cr.ReuseRecord = true

	hdr, err := cr.Read()
	if errors.Is(err, io.EOF) {
		if onHeader != nil {
			onHeader(nil)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	headers := parser.Keys(append([]string(nil), hdr...))
	if onHeader != nil {
		onHeader(headers)
	}

	n := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		n++
		row := parser.Row{Number: n}
		var pe *csv.ParseError
		switch {
		case err == nil:
			row.Values, row.Err = parser.Values(headers, rec)
		case errors.As(err, &pe):
			row.Err = fmt.Errorf("line %d: %w", pe.StartLine, pe.Err)
		default:
			return fmt.Errorf("csv read: %w", err)
		}

		select {
		case out <- row:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
