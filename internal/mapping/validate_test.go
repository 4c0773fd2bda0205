package mapping

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	ms := []FieldMapping{
		{TargetField: "Revenue", DataType: DataDecimal, IsRequired: true},
		{TargetField: "patient_id", DataType: DataString, IsRequired: true},
		{TargetField: "bed_count", DataType: DataInteger},
		{TargetField: "is_readmitted", DataType: DataBoolean},
	}

	tests := []struct {
		name string
		row  map[string]any
		want []string
	}{
		{
			name: "valid",
			row:  map[string]any{"revenue": 10.5, "patient_id": "P1", "bed_count": int64(3), "is_readmitted": true},
		},
		{
			name: "missing required",
			row:  map[string]any{"revenue": nil, "patient_id": "  "},
			want: []string{
				"Required field 'Revenue' is missing or empty",
				"Required field 'patient_id' is missing or empty",
			},
		},
		{
			name: "bad types",
			row:  map[string]any{"revenue": "12,5", "patient_id": "P1", "bed_count": "3.5", "is_readmitted": "maybe"},
			want: []string{
				"Field 'Revenue' has invalid data type. Expected: decimal",
				"Field 'bed_count' has invalid data type. Expected: integer",
				"Field 'is_readmitted' has invalid data type. Expected: boolean",
			},
		},
		{
			name: "negative numbers",
			row:  map[string]any{"revenue": -4.25, "patient_id": "P1", "bed_count": int64(-2)},
		},
	}
	for _, tt := range tests {
		got := Validate(tt.row, ms)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: Validate = %#v, want %#v", tt.name, got, tt.want)
		}
	}
}

func TestValidType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		v        any
		dataType string
		want     bool
	}{
		{"12", DataInteger, true},
		{"12.0", DataInteger, false},
		{20.0, DataInteger, true},
		{"12.", DataDecimal, true},
		{".5", DataDecimal, false},
		{"N", DataBoolean, true},
		{"2024-02-30", DataDate, false},
		{time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), DataDate, true},
		{"2024-02-01T10:00:00Z", DataDateTime, true},
		{"anything", DataString, true},
	}
	for _, c := range cases {
		if got := ValidType(c.v, c.dataType); got != c.want {
			t.Errorf("ValidType(%#v, %s) = %v, want %v", c.v, c.dataType, got, c.want)
		}
	}
}

func TestValidateSet(t *testing.T) {
	t.Parallel()

	ok := []FieldMapping{
		{SourceField: "매출", TargetField: "revenue", MappingType: TypeDirect, DataType: DataDecimal, IsActive: true},
		{SourceField: "비용", TargetField: "cost", MappingType: TypeDirect, DataType: DataDecimal, IsActive: true},
		{SourceField: "old", TargetField: "revenue", MappingType: TypeDirect, DataType: DataDecimal, IsActive: false},
	}
	require.NoError(t, ValidateSet(ok, "id", "hospital_id"))

	collide := append(ok, FieldMapping{SourceField: "Revenue2", TargetField: " Revenue ", MappingType: TypeDirect, DataType: DataString, IsActive: true})
	err := ValidateSet(collide)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTargetCollision))
	assert.Contains(t, err.Error(), "column revenue")

	reserved := []FieldMapping{{SourceField: "h", TargetField: "Hospital ID", MappingType: TypeDirect, DataType: DataString, IsActive: true}}
	err = ValidateSet(reserved, "hospital_id")
	assert.ErrorIs(t, err, ErrTargetCollision)

	bad := []FieldMapping{
		{SourceField: "a", TargetField: "a", MappingType: "formula", DataType: DataString, IsActive: true},
		{SourceField: "", TargetField: "b", MappingType: TypeDirect, DataType: DataString, IsActive: true},
		{SourceField: "c", TargetField: "c", MappingType: TypeDirect, DataType: "money", IsActive: true},
	}
	err = ValidateSet(bad)
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), `mapping_type "formula"`)
	assert.Contains(t, err.Error(), "source_field is required")
	assert.Contains(t, err.Error(), `data_type "money"`)
}

func TestActive_OrdersByPosition(t *testing.T) {
	t.Parallel()

	got := Active([]FieldMapping{
		{TargetField: "c", Position: 2, IsActive: true},
		{TargetField: "x", Position: 0, IsActive: false},
		{TargetField: "a", Position: 1, IsActive: true},
		{TargetField: "b", Position: 1, IsActive: true},
	})
	names := make([]string, len(got))
	for i, m := range got {
		names[i] = m.TargetField
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}
