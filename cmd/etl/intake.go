package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"hospitaletl/internal/category"
	"hospitaletl/internal/datasource/file"
	"hospitaletl/internal/jobs"
	"hospitaletl/internal/mapping"
	"hospitaletl/internal/parser"
	"hospitaletl/internal/schema"
)

const previewRows = 5

// uploadInput is what the operator states about a file being registered.
type uploadInput struct {
	HospitalID  int64
	UserID      string
	Category    string
	ContentType string
}

var extContentTypes = map[string]string{
	".csv":  "text/csv",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xlsm": "application/vnd.ms-excel.sheet.macroEnabled.12",
	".xls":  "application/vnd.ms-excel",
}

// contentTypeFor guesses a MIME type from the file extension.
func contentTypeFor(name string) string {
	if ct, ok := extContentTypes[parser.Ext(name)]; ok {
		return ct
	}
	return "application/octet-stream"
}

// registerUpload records a file already on disk as a completed upload,
// with its size, row count and a preview of the first rows.
func registerUpload(ctx context.Context, store *jobs.Store, path string, in uploadInput) (jobs.Upload, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return jobs.Upload{}, err
	}
	src := file.NewLocal(abs)
	size, err := src.Size()
	if err != nil {
		return jobs.Upload{}, err
	}
	ct := in.ContentType
	if ct == "" {
		ct = contentTypeFor(abs)
	}
	f, err := parser.ForContentType(ct, filepath.Base(abs))
	if err != nil {
		return jobs.Upload{}, err
	}

	r, err := src.Open(ctx)
	if err != nil {
		return jobs.Upload{}, err
	}
	total, _, err := parser.Count(ctx, f, r)
	r.Close()
	if err != nil {
		return jobs.Upload{}, fmt.Errorf("count rows: %w", err)
	}
	preview, err := readPreview(ctx, src, f, previewRows)
	if err != nil {
		return jobs.Upload{}, fmt.Errorf("preview: %w", err)
	}

	u := jobs.Upload{
		HospitalID:   in.HospitalID,
		UserID:       in.UserID,
		FileName:     filepath.Base(abs),
		FilePath:     abs,
		FileType:     ct,
		FileSize:     size,
		DataCategory: category.Normalize(in.Category),
		Status:       jobs.UploadCompleted,
		TotalRows:    int64(total),
		Preview:      preview,
	}
	if err := store.CreateUpload(ctx, &u); err != nil {
		return jobs.Upload{}, err
	}
	return u, nil
}

// readPreview returns the header and the first n readable rows, stopping
// the reader once it has them.
func readPreview(ctx context.Context, src *file.Local, f parser.Format, n int) (jobs.Preview, error) {
	r, err := src.Open(ctx)
	if err != nil {
		return jobs.Preview{}, err
	}
	defer r.Close()

	p := jobs.Preview{Rows: []map[string]any{}}
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	out := make(chan parser.Row, n)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(out)
		err := f.Stream(gctx, r, func(h []string) { p.Headers = h }, out)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		for row := range out {
			if row.Err != nil || len(p.Rows) == n {
				continue
			}
			p.Rows = append(p.Rows, row.Values)
			if len(p.Rows) == n {
				stop()
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return jobs.Preview{}, err
	}
	return p, nil
}

// importedMapping decodes one entry of a mapping file. Omitted
// is_active means active; omitted types mean a direct string mapping.
type importedMapping struct {
	mapping.FieldMapping
	IsActive *bool `json:"is_active"`
}

// decodeMappings reads a JSON array of field mappings.
func decodeMappings(r io.Reader) ([]mapping.FieldMapping, error) {
	var in []importedMapping
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("decode mappings: %w", err)
	}
	out := make([]mapping.FieldMapping, len(in))
	for i, m := range in {
		fm := m.FieldMapping
		fm.IsActive = m.IsActive == nil || *m.IsActive
		if fm.MappingType == "" {
			fm.MappingType = mapping.TypeDirect
		}
		if fm.DataType == "" {
			fm.DataType = mapping.DataString
		}
		if fm.Position == 0 {
			fm.Position = i
		}
		out[i] = fm
	}
	return out, nil
}

// importMappings replaces the mapping set of an upload with the contents
// of a JSON file. An invalid set is rejected and the stored set kept.
func importMappings(ctx context.Context, store *jobs.Store, uploadID, path string) ([]mapping.FieldMapping, error) {
	u, err := store.GetUpload(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ms, err := decodeMappings(f)
	if err != nil {
		return nil, err
	}
	if err := store.ReplaceMappings(ctx, u, ms, schema.Reserved()...); err != nil {
		return nil, err
	}
	return store.Mappings(ctx, u.ID)
}
