package ddl

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestIdent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"revenue", "revenue"},
		{"  Revenue (KRW) ", "revenue_krw"},
		{"Číslo účtu", "cislo_uctu"},
		{"2024 budget", "f_2024_budget"},
		{"bed--count__", "bed_count"},
		{"환자 ID", "환자_id"},
		{"!!!", ""},
	}
	for _, tt := range tests {
		if got := Ident(tt.in); got != tt.want {
			t.Errorf("Ident(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIdent_TruncatesOnRuneBoundary(t *testing.T) {
	t.Parallel()

	got := Ident(strings.Repeat("진료", 40))
	if len(got) > maxIdentLen {
		t.Fatalf("len = %d, want <= %d", len(got), maxIdentLen)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncation split a rune: %q", got)
	}
}
