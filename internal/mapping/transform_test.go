package mapping

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"hospitaletl/internal/config"
)

func newTestTransformer() *Transformer { return NewTransformer(zerolog.Nop()) }

func directMapping(target, dataType string) FieldMapping {
	return FieldMapping{SourceField: target, TargetField: target, MappingType: TypeDirect, DataType: dataType, IsActive: true}
}

/*
TestValue_Direct verifies the per-type coercions of a direct mapping,
including lenient integer parsing and nil on unparseable dates.
*/
func TestValue_Direct(t *testing.T) {
	t.Parallel()

	tr := newTestTransformer()
	cases := []struct {
		name     string
		raw      any
		dataType string
		want     any
	}{
		{"int", "42", DataInteger, int64(42)},
		{"int prefix", "42abc", DataInteger, int64(42)},
		{"int non-numeric", "abc", DataInteger, int64(0)},
		{"int thousands", "1,200", DataInteger, int64(1200)},
		{"decimal", "12.5", DataDecimal, 12.5},
		{"decimal junk", "x", DataDecimal, 0.0},
		{"string", " keep ", DataString, " keep "},
		{"unknown type", 7, "weird", "7"},
		{"date bad", "not a date", DataDate, nil},
		{"blank int stays nil", "  ", DataInteger, nil},
		{"nil string stays nil", nil, DataString, nil},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := tr.Value(tc.raw, directMapping("f", tc.dataType))
			if got != tc.want {
				t.Fatalf("Value(%#v, %s) = %#v (%T), want %#v (%T)", tc.raw, tc.dataType, got, got, tc.want, tc.want)
			}
		})
	}
}

func TestValue_DirectBoolean(t *testing.T) {
	t.Parallel()

	tr := newTestTransformer()
	m := directMapping("flag", DataBoolean)
	for _, in := range []string{"true", "1", "yes", "y", "t", "TRUE", "Yes", " Y "} {
		if got := tr.Value(in, m); got != true {
			t.Errorf("Value(%q) = %#v, want true", in, got)
		}
	}
	for _, in := range []string{"false", "0", "no", "nope", "2", "ja"} {
		if got := tr.Value(in, m); got != false {
			t.Errorf("Value(%q) = %#v, want false", in, got)
		}
	}
}

func TestValue_DirectDates(t *testing.T) {
	t.Parallel()

	tr := newTestTransformer()
	got, ok := tr.Value("2024-03-15", directMapping("d", DataDate)).(time.Time)
	if !ok || got.Format("2006-01-02") != "2024-03-15" {
		t.Fatalf("date = %#v", got)
	}
	dt, ok := tr.Value("2024-03-15 08:30:00", directMapping("d", DataDateTime)).(time.Time)
	if !ok || dt.Hour() != 8 || dt.Minute() != 30 {
		t.Fatalf("datetime = %#v", dt)
	}
}

func TestValue_Calculated(t *testing.T) {
	t.Parallel()

	tr := newTestTransformer()
	calc := func(formula string) FieldMapping {
		return FieldMapping{TargetField: "x", MappingType: TypeCalculated, DataType: DataDecimal,
			TransformationRules: config.Options{"formula": formula}}
	}
	cases := []struct {
		formula string
		raw     any
		want    any
	}{
		{"multiply_by_2", "10", 20.0},
		{"multiply_by_1.5", 4, 6.0},
		{"divide_by_4", "10", 2.5},
		{"divide_by_0", "10", 0.0},
		{"add_3", "1.5", 4.5},
		{"subtract_10", "5", -5.0},
		{"square_it", "5", "5"},
		{"", "5", "5"},
	}
	for _, tc := range cases {
		if got := tr.Value(tc.raw, calc(tc.formula)); got != tc.want {
			t.Errorf("formula %q on %v = %#v, want %#v", tc.formula, tc.raw, got, tc.want)
		}
	}
}

func TestValue_Lookup(t *testing.T) {
	t.Parallel()

	tr := newTestTransformer()
	m := FieldMapping{TargetField: "gender", MappingType: TypeLookup, DataType: DataString,
		TransformationRules: config.Options{"lookup_table": map[string]any{"M": "male", "F": "female", "1": "one"}}}

	if got := tr.Value("M", m); got != "male" {
		t.Fatalf("hit = %#v", got)
	}
	if got := tr.Value(int64(1), m); got != "one" {
		t.Fatalf("stringified key = %#v", got)
	}
	if got := tr.Value("X", m); got != "X" {
		t.Fatalf("miss = %#v", got)
	}
	m.TransformationRules = nil
	if got := tr.Value("M", m); got != "M" {
		t.Fatalf("no table = %#v", got)
	}
}

func TestValue_Conditional(t *testing.T) {
	t.Parallel()

	tr := newTestTransformer()
	m := FieldMapping{TargetField: "level", MappingType: TypeConditional, DataType: DataString,
		TransformationRules: config.Options{"conditions": []any{
			map[string]any{"operator": "greater_than", "operand": 100, "result": "high"},
			map[string]any{"operator": "equals", "operand": "50", "result": "mid"},
			map[string]any{"operator": "starts_with", "operand": "ER", "result": "emergency"},
			map[string]any{"operator": "ends_with", "operand": "-OUT", "result": "outpatient"},
			map[string]any{"operator": "contains", "operand": "ward", "result": "inpatient"},
			map[string]any{"operator": "less_than", "operand": "10", "result": "low"},
			map[string]any{"operator": "between", "operand": "1", "result": "never"},
		}}}

	cases := map[string]any{
		"150":         "high",
		"50":          "mid",
		"ER-12":       "emergency",
		"CARD-OUT":    "outpatient",
		"north ward":  "inpatient",
		"3":           "low",
		"75":          "75",
		"unmatched x": "low", // ToFloat("unmatched x") == 0 < 10
	}
	for in, want := range cases {
		if got := tr.Value(in, m); got != want {
			t.Errorf("Value(%q) = %#v, want %#v", in, got, want)
		}
	}
}

func TestValue_UnknownTypePassesThrough(t *testing.T) {
	t.Parallel()

	tr := newTestTransformer()
	if got := tr.Value("abc", FieldMapping{MappingType: "regex"}); got != "abc" {
		t.Fatalf("got %#v", got)
	}
}

func TestValue_RecoversAndLogs(t *testing.T) {
	t.Parallel()

	var buf strings.Builder
	tr := NewTransformer(zerolog.New(&buf))
	// A lookup table of the wrong shape is ignored; a conditions entry whose
	// operand panics on stringification is recovered.
	m := FieldMapping{TargetField: "boom", MappingType: TypeConditional,
		TransformationRules: config.Options{"conditions": []any{
			map[string]any{"operator": "equals", "operand": panicky{}, "result": "x"},
		}}}
	if got := tr.Value("raw", m); got != "raw" {
		t.Fatalf("got %#v, want raw value back", got)
	}
	if !strings.Contains(buf.String(), `"target_field":"boom"`) {
		t.Fatalf("expected warn log, got %q", buf.String())
	}
}

type panicky struct{}

func (panicky) String() string { panic("stringer exploded") }

func TestRow_ResolvesSourceFieldsByIdent(t *testing.T) {
	t.Parallel()

	tr := newTestTransformer()
	ms := []FieldMapping{
		directMapping("revenue", DataDecimal),
		{SourceField: "Patient Name", TargetField: "Patient Name", MappingType: TypeDirect, DataType: DataString},
		directMapping("missing", DataInteger),
	}
	got := tr.Row(map[string]any{"Revenue ": "100", "patient_name": "Kim"}, ms)

	if got["revenue"] != 100.0 {
		t.Fatalf("revenue = %#v", got["revenue"])
	}
	if got["patient_name"] != "Kim" {
		t.Fatalf("patient_name = %#v", got["patient_name"])
	}
	if v, ok := got["missing"]; !ok || v != nil {
		t.Fatalf("missing = %#v, %v", v, ok)
	}
}
