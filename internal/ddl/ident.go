package ddl

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Ident turns an arbitrary header or target-field label into a column name:
// lower-cased, accents stripped, runs of separators and punctuation folded
// to one underscore, and trimmed to the identifier limit. Letters outside
// Latin (e.g. Hangul) are kept; renderers always quote identifiers.
//
//	"Revenue (KRW)"  -> "revenue_krw"
//	"Číslo účtu"     -> "cislo_uctu"
//	"2024 budget"    -> "f_2024_budget"
func Ident(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	prevUnderscore := false
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			prevUnderscore = false
		default:
			if !prevUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				prevUnderscore = true
			}
		}
	}
	out := strings.TrimRight(b.String(), "_")
	if out == "" {
		return ""
	}
	if r := []rune(out)[0]; unicode.IsDigit(r) {
		out = "f_" + out
	}
	return truncateIdent(out)
}

// truncateIdent keeps at most maxIdentLen bytes without splitting a rune.
func truncateIdent(s string) string {
	if len(s) <= maxIdentLen {
		return s
	}
	cut := maxIdentLen
	for cut > 0 && !utf8RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimRight(s[:cut], "_")
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }
