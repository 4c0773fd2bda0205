package ddl

import (
	"testing"
	"time"
)

func TestToFloatAndToInt64_PrefixParse(t *testing.T) {
	t.Parallel()

	floats := []struct {
		in   any
		want float64
	}{
		{"12.5kg", 12.5},
		{" 7", 7},
		{"1,200.5", 1200.5},
		{"abc", 0},
		{nil, 0},
		{int64(3), 3},
		{".5", 0.5},
	}
	for _, tt := range floats {
		if got := ToFloat(tt.in); got != tt.want {
			t.Errorf("ToFloat(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}

	ints := []struct {
		in   any
		want int64
	}{
		{"42.9", 42},
		{"-3 beds", -3},
		{"beds", 0},
		{9.99, 9},
		{"", 0},
	}
	for _, tt := range ints {
		if got := ToInt64(tt.in); got != tt.want {
			t.Errorf("ToInt64(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseDate(t *testing.T) {
	t.Parallel()

	want := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2024-03-09", "2024/03/09", "2024.03.09", "20240309", "03/09/2024", "2024-03-09T10:11:12Z"} {
		got, ok := ParseDate(in)
		if !ok || !got.Equal(want) {
			t.Errorf("ParseDate(%q) = %v, %v", in, got, ok)
		}
	}
	if _, ok := ParseDate("not a date"); ok {
		t.Errorf("ParseDate accepted garbage")
	}
}

func TestAsString(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   any
		want string
	}{
		{20.0, "20"},
		{1e21, "1000000000000000000000"},
		{int64(5), "5"},
		{true, "true"},
		{time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), "2024-01-02"},
		{nil, ""},
	}
	for _, tt := range cases {
		if got := AsString(tt.in); got != tt.want {
			t.Errorf("AsString(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		kind Kind
		in   any
		want any
	}{
		{"int from string", KindInteger, "12", int64(12)},
		{"int rejects text", KindInteger, "A", nil},
		{"int rejects fraction", KindInteger, 1.5, nil},
		{"decimal from string", KindDecimal, "3.25", 3.25},
		{"bool token", KindBoolean, "Y", true},
		{"bool false token", KindBoolean, "no", false},
		{"bool unknown", KindBoolean, "maybe", nil},
		{"blank string", KindString, "  ", nil},
		{"json map", KindJSON, map[string]any{"a": 1}, `{"a":1}`},
		{"date", KindDate, "2024-02-01", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
		{"nil", KindDecimal, nil, nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Normalize(tt.kind, tt.in)
			if gt, ok := got.(time.Time); ok {
				if !gt.Equal(tt.want.(time.Time)) {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
				return
			}
			if got != tt.want {
				t.Fatalf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	m, err := DecodeJSONMap(`{"name":"a","n":"1"}`)
	if err != nil || m["name"] != "a" {
		t.Fatalf("DecodeJSONMap = %v, %v", m, err)
	}
	if _, err := DecodeJSONMap(`[1]`); err == nil {
		t.Fatalf("expected error for array")
	}

	l, err := DecodeJSONList(`["x", "y"]`)
	if err != nil || len(l) != 2 || l[1] != "y" {
		t.Fatalf("DecodeJSONList = %v, %v", l, err)
	}
	if l, _ := DecodeJSONList("[]"); len(l) != 0 {
		t.Fatalf("empty list decoded to %v", l)
	}
}
