// Package xlsx streams the first worksheet of an Office Open XML workbook.
package xlsx

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"hospitaletl/internal/parser"
)

func init() {
	parser.Register(parser.Format{Name: "xlsx", Match: Match, Stream: Stream})
}

// Match accepts spreadsheet content types and *.xlsx/*.xlsm names, but
// leaves *.csv to the CSV format whatever the declared type.
func Match(contentType, fileName string) bool {
	switch parser.Ext(fileName) {
	case ".csv":
		return false
	case ".xlsx", ".xlsm":
		return true
	}
	return strings.Contains(contentType, "excel") || strings.Contains(contentType, "spreadsheet")
}

// Stream emits the rows of the first worksheet; row 1 is the header.
// Cells are read as displayed, so dates arrive in the sheet's number
// format.
func Stream(ctx context.Context, r io.Reader, onHeader func([]string), out chan<- parser.Row) error {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		if onHeader != nil {
			onHeader(nil)
		}
		return nil
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		return fmt.Errorf("sheet %s: %w", sheets[0], err)
	}
	defer rows.Close()

	if !rows.Next() {
		if onHeader != nil {
			onHeader(nil)
		}
		return rows.Error()
	}
	hdr, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	headers := parser.Keys(hdr)
	if onHeader != nil {
		onHeader(headers)
	}

	n := 0
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		n++
		row := parser.Row{Number: n}
		cells, err := rows.Columns()
		if err != nil {
			row.Err = fmt.Errorf("row %d: %w", n+1, err)
		} else {
			row.Values, row.Err = parser.Values(headers, cells)
		}
		select {
		case out <- row:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return rows.Error()
}
