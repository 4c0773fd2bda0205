// Package parser turns an uploaded file into a stream of keyed rows. Each
// supported file format registers itself from its own package; importing
// hospitaletl/internal/parser/all makes CSV and spreadsheet uploads readable.
package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"hospitaletl/internal/ddl"
)

// ErrUnsupportedType is returned when no format accepts an upload's
// content type and file name.
var ErrUnsupportedType = errors.New("unsupported file type")

// Row is one data row of an upload.
type Row struct {
	// Number is the 1-based ordinal of the data row; the header is row 0.
	Number int
	// Values maps each header to its cell; empty cells are nil.
	Values map[string]any
	// Err is set when the row could not be read. Values may be partial.
	Err error
}

// Blank reports whether every cell of r is empty.
func (r Row) Blank() bool {
	for _, v := range r.Values {
		if !ddl.IsBlank(v) {
			return false
		}
	}
	return true
}

// StreamFunc reads the header, reports it through onHeader, then sends
// every data row to out in file order. It returns on EOF, on a fatal read
// error or when ctx is done. It never closes out.
type StreamFunc func(ctx context.Context, r io.Reader, onHeader func([]string), out chan<- Row) error

// Format is one registered file format.
type Format struct {
	Name string
	// Match reports whether the format reads a file with this content type
	// and name.
	Match  func(contentType, fileName string) bool
	Stream StreamFunc
}

var (
	mu      sync.RWMutex
	formats []Format
)

// Register adds f, replacing a format of the same name.
func Register(f Format) {
	mu.Lock()
	defer mu.Unlock()
	for i := range formats {
		if formats[i].Name == f.Name {
			formats[i] = f
			return
		}
	}
	formats = append(formats, f)
}

// ForContentType returns the first format that matches.
func ForContentType(contentType, fileName string) (Format, error) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	mu.RLock()
	defer mu.RUnlock()
	for _, f := range formats {
		if f.Match(ct, fileName) {
			return f, nil
		}
	}
	return Format{}, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
}

// Ext returns the lower-cased extension of name, with the dot.
func Ext(name string) string { return strings.ToLower(filepath.Ext(name)) }

// Count runs f over r and returns the number of data rows, including blank
// and unreadable ones, plus the header.
func Count(ctx context.Context, f Format, r io.Reader) (int, []string, error) {
	var (
		n       int
		headers []string
	)
	out := make(chan Row, 256)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(out)
		return f.Stream(gctx, r, func(h []string) { headers = h }, out)
	})
	g.Go(func() error {
		for range out {
			n++
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return 0, nil, err
	}
	return n, headers, nil
}

// Keys fixes up raw header cells: trims them, strips a UTF-8 BOM from the
// first and names empty ones column_<n>.
func Keys(raw []string) []string {
	out := make([]string, len(raw))
	for i, h := range raw {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		out[i] = h
	}
	return out
}

// Values zips headers with cells. Missing cells are nil; cells beyond the
// header are an error.
func Values(headers, cells []string) (map[string]any, error) {
	m := make(map[string]any, len(headers))
	for i, h := range headers {
		if i >= len(cells) {
			m[h] = nil
			continue
		}
		v := strings.TrimSpace(cells[i])
		if v == "" {
			m[h] = nil
		} else {
			m[h] = v
		}
	}
	if extra := cells[min(len(headers), len(cells)):]; len(extra) > 0 {
		for _, c := range extra {
			if strings.TrimSpace(c) != "" {
				return m, fmt.Errorf("row has %d fields, header has %d", len(cells), len(headers))
			}
		}
	}
	return m, nil
}
