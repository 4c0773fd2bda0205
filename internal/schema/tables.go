// Package schema is the dynamic table manager. It names the raw, staging
// and core tables, declares their columns and indexes, and migrates them on
// demand through a registry keyed by (hospital, category, stage).
package schema

import (
	"fmt"

	"hospitaletl/internal/category"
	"hospitaletl/internal/ddl"
	"hospitaletl/internal/mapping"
)

// Stages.
const (
	StageRaw     = "raw"
	StageStaging = "staging"
	StageCore    = "core"
)

// Envelope columns shared by the row tables.
const (
	ColID               = "id"
	ColHospitalID       = "hospital_id"
	ColUploadID         = "data_upload_id"
	ColJobID            = "etl_job_id"
	ColRowNumber        = "row_number"
	ColSourceData       = "source_data"
	ColValidationErrors = "validation_errors"
	ColExtractedAt      = "extracted_at"
	ColSourceReference  = "source_reference"
	ColDataCategory     = "data_category"
	ColCreatedAt        = "created_at"
	ColUpdatedAt        = "updated_at"
)

// Reserved lists the envelope column names a mapping target may not use.
func Reserved() []string {
	return []string{
		ColID, ColHospitalID, ColUploadID, ColJobID, ColRowNumber, ColSourceData,
		ColValidationErrors, ColExtractedAt, ColSourceReference, ColDataCategory,
		ColCreatedAt, ColUpdatedAt,
	}
}

// RawTable names the raw table of one hospital and category.
func RawTable(hospitalID int64, cat string) string {
	return fmt.Sprintf("raw_%s_%d", category.Normalize(cat), hospitalID)
}

// StagingTable names the staging table of one hospital and category.
func StagingTable(hospitalID int64, cat string) string {
	return fmt.Sprintf("staging_%s_%d", category.Normalize(cat), hospitalID)
}

// CoreTable names the core table of a category. Categories without
// dedicated logic share the general core table.
func CoreTable(cat string) string {
	return fmt.Sprintf("core_%s_data", category.Lookup(cat).Name)
}

func col(name string, kind ddl.Kind, nullable bool) ddl.ColumnDef {
	return ddl.ColumnDef{Name: name, Kind: kind, Nullable: nullable}
}

func envelope() []ddl.ColumnDef {
	return []ddl.ColumnDef{
		{Name: ColID, Kind: ddl.KindID},
		col(ColHospitalID, ddl.KindInteger, false),
		col(ColUploadID, ddl.KindKey, false),
		col(ColJobID, ddl.KindKey, false),
	}
}

func timestamps() []ddl.ColumnDef {
	return []ddl.ColumnDef{
		col(ColCreatedAt, ddl.KindDateTime, false),
		col(ColUpdatedAt, ddl.KindDateTime, false),
	}
}

// RawDef declares the raw table: one row per source row, kept verbatim as
// JSON.
func RawDef(hospitalID int64, cat string) ddl.TableDef {
	cols := append(envelope(),
		col(ColRowNumber, ddl.KindInteger, true),
		col(ColSourceData, ddl.KindJSON, true),
		col(ColExtractedAt, ddl.KindDateTime, true),
	)
	return ddl.TableDef{
		FQN:     RawTable(hospitalID, cat),
		Columns: append(cols, timestamps()...),
		Indexes: []ddl.IndexDef{
			{Columns: []string{ColHospitalID, ColUploadID}},
			{Columns: []string{ColJobID}},
			{Columns: []string{ColRowNumber}},
		},
	}
}

// StagingDef declares the staging table for an active mapping set: the
// mapped columns typed by data_type, then the category's calculated
// columns, then the source row and its validation errors.
func StagingDef(hospitalID int64, cat string, ms []mapping.FieldMapping) ddl.TableDef {
	t := ddl.TableDef{
		FQN:     StagingTable(hospitalID, cat),
		Columns: append(envelope(), col(ColRowNumber, ddl.KindInteger, true)),
		Indexes: []ddl.IndexDef{{Columns: []string{ColJobID}}},
	}
	for _, m := range ms {
		t = t.WithColumns(m.ColumnDef())
	}
	t = t.WithColumns(category.Lookup(cat).Calculated...)
	t = t.WithColumns(
		col(ColSourceData, ddl.KindJSON, true),
		col(ColValidationErrors, ddl.KindJSON, true),
	)
	return t.WithColumns(timestamps()...)
}

// CoreDef declares the core table of a category: the common business
// columns, the category's fixed columns, and any mapped field the fixed
// schema does not already carry.
func CoreDef(cat string, ms []mapping.FieldMapping) ddl.TableDef {
	c := category.Lookup(cat)
	t := ddl.TableDef{
		FQN: CoreTable(cat),
		Columns: append(envelope(),
			col(ColSourceReference, ddl.KindInteger, true),
			col(ColDataCategory, ddl.KindKey, true),
			col("department", ddl.KindString, true),
			col("date", ddl.KindDate, true),
			col("description", ddl.KindText, true),
		),
		Indexes: []ddl.IndexDef{
			{Columns: []string{ColHospitalID, ColDataCategory}},
			{Columns: []string{ColUploadID}},
			{Columns: []string{ColJobID}},
			{Columns: []string{"date"}},
		},
	}
	t = t.WithColumns(c.Columns...)
	for _, m := range ms {
		t = t.WithColumns(m.ColumnDef())
	}
	return t.WithColumns(timestamps()...)
}

// DataColumns returns the columns of a staging table that carry row data:
// everything except the envelope, row bookkeeping and timestamps.
func DataColumns(staging ddl.TableDef) []ddl.ColumnDef {
	skip := map[string]bool{}
	for _, n := range Reserved() {
		skip[n] = true
	}
	var out []ddl.ColumnDef
	for _, c := range staging.Columns {
		if !skip[c.Name] {
			out = append(out, c)
		}
	}
	return out
}
