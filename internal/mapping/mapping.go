// Package mapping holds the field-mapping model and the per-row logic that
// applies it: the value transformer, the row validator and the checks run
// on a mapping set before it is used.
package mapping

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"hospitaletl/internal/config"
	"hospitaletl/internal/ddl"
)

// Mapping kinds.
const (
	TypeDirect      = "direct"
	TypeCalculated  = "calculated"
	TypeLookup      = "lookup"
	TypeConditional = "conditional"
)

// Target data types.
const (
	DataString   = "string"
	DataInteger  = "integer"
	DataDecimal  = "decimal"
	DataBoolean  = "boolean"
	DataDate     = "date"
	DataDateTime = "datetime"
)

var (
	mappingTypes = []string{TypeDirect, TypeCalculated, TypeLookup, TypeConditional}
	dataTypes    = []string{DataString, DataInteger, DataDecimal, DataBoolean, DataDate, DataDateTime}
)

var (
	// ErrTargetCollision is returned when two active mappings, or a mapping
	// and a reserved column, resolve to the same column name.
	ErrTargetCollision = errors.New("mapping: target field collision")
	// ErrInvalid marks a mapping with a missing or unknown attribute.
	ErrInvalid = errors.New("mapping: invalid field mapping")
)

// FieldMapping declares how one source column becomes one target field.
type FieldMapping struct {
	ID                  string         `json:"id"`
	HospitalID          int64          `json:"hospital_id"`
	UploadID            string         `json:"data_upload_id"`
	SourceField         string         `json:"source_field"`
	TargetField         string         `json:"target_field"`
	MappingType         string         `json:"mapping_type"`
	DataType            string         `json:"data_type"`
	TransformationRules config.Options `json:"transformation_rules"`
	ValidationRules     config.Options `json:"validation_rules"`
	IsRequired          bool           `json:"is_required"`
	IsActive            bool           `json:"is_active"`
	Description         string         `json:"description,omitempty"`
	Position            int            `json:"order_index"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// Column is the table column the mapping writes to.
func (m FieldMapping) Column() string { return ddl.Ident(m.TargetField) }

// ColumnDef is the staging/core column definition for the mapping.
func (m FieldMapping) ColumnDef() ddl.ColumnDef {
	return ddl.ColumnDef{Name: m.Column(), Kind: ddl.KindFromDataType(m.DataType), Nullable: true}
}

// Active returns the active mappings ordered by Position, keeping input
// order for ties.
func Active(ms []FieldMapping) []FieldMapping {
	out := make([]FieldMapping, 0, len(ms))
	for _, m := range ms {
		if m.IsActive {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// Check validates the attributes of a single mapping.
func (m FieldMapping) Check() error {
	switch {
	case strings.TrimSpace(m.SourceField) == "":
		return fmt.Errorf("%w: source_field is required", ErrInvalid)
	case strings.TrimSpace(m.TargetField) == "":
		return fmt.Errorf("%w: target_field is required", ErrInvalid)
	case m.Column() == "":
		return fmt.Errorf("%w: target_field %q has no usable characters", ErrInvalid, m.TargetField)
	case !contains(mappingTypes, m.MappingType):
		return fmt.Errorf("%w: mapping_type %q not in %v", ErrInvalid, m.MappingType, mappingTypes)
	case !contains(dataTypes, m.DataType):
		return fmt.Errorf("%w: data_type %q not in %v", ErrInvalid, m.DataType, dataTypes)
	}
	return nil
}

// ValidateSet checks every active mapping and rejects a set in which two
// targets, or a target and one of reserved, share a column name.
func ValidateSet(ms []FieldMapping, reserved ...string) error {
	taken := make(map[string]string, len(ms)+len(reserved))
	for _, r := range reserved {
		taken[strings.ToLower(r)] = "reserved column"
	}
	var errs []error
	for _, m := range Active(ms) {
		if err := m.Check(); err != nil {
			errs = append(errs, fmt.Errorf("%s -> %s: %w", m.SourceField, m.TargetField, err))
			continue
		}
		col := m.Column()
		if prev, ok := taken[col]; ok {
			errs = append(errs, fmt.Errorf("%w: %q (column %s) already used by %s", ErrTargetCollision, m.TargetField, col, prev))
			continue
		}
		taken[col] = fmt.Sprintf("mapping %q", m.SourceField)
	}
	return errors.Join(errs...)
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
