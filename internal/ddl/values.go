package ddl

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// dateLayouts are tried in order by ParseDate. The first layouts cover the
// spreadsheet exports seen in practice (ISO, dotted Korean, US slashes).
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	"2006. 1. 2.",
	"2006. 1. 2",
	"20060102",
	"01/02/2006",
	"1/2/2006",
	"02-Jan-2006",
	"Jan 2, 2006",
	"2 Jan 2006",
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
}

// ParseDate parses s as a calendar date. A full timestamp is accepted and
// truncated to its date.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if t, ok := parseDateTimeOnly(s); ok {
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

// ParseDateTime parses s as a timestamp; a bare date means midnight UTC.
func ParseDateTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, ok := parseDateTimeOnly(s); ok {
		return t, true
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseDateTimeOnly(s string) (time.Time, bool) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// AsTime accepts a time.Time or anything that stringifies to a parseable
// date or timestamp.
func AsTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, !t.IsZero()
	default:
		return ParseDateTime(AsString(v))
	}
}

var (
	floatPrefix = regexp.MustCompile(`^\s*[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?`)
	intPrefix   = regexp.MustCompile(`^\s*[+-]?\d+`)
)

// ToFloat converts v leniently: numeric types convert directly, strings are
// read up to the first character that cannot continue a number ("12.5kg" is
// 12.5), and anything unreadable is 0.
func ToFloat(v any) float64 {
	switch n := v.(type) {
	case nil:
		return 0
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case bool:
		if n {
			return 1
		}
		return 0
	}
	m := floatPrefix.FindString(strings.ReplaceAll(AsString(v), ",", ""))
	if m == "" {
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(m), 64)
	if err != nil {
		return 0
	}
	return f
}

// ToInt64 is ToFloat's integer counterpart; floats truncate toward zero and
// only the leading digits of a string count ("42.9" is 42).
func ToInt64(v any) int64 {
	switch n := v.(type) {
	case nil:
		return 0
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0
		}
		return int64(n)
	case float32:
		return int64(n)
	case bool:
		if n {
			return 1
		}
		return 0
	}
	m := intPrefix.FindString(strings.ReplaceAll(AsString(v), ",", ""))
	if m == "" {
		return 0
	}
	i, err := strconv.ParseInt(strings.TrimSpace(m), 10, 64)
	if err != nil {
		return 0
	}
	return i
}

// IsNumeric reports whether v is a number or a string holding exactly one.
func IsNumeric(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	case nil, bool:
		return false
	}
	_, err := strconv.ParseFloat(strings.TrimSpace(AsString(v)), 64)
	return err == nil
}

// AsString renders v the way it would appear in a CSV cell. Floats never use
// exponent notation and whole floats drop the fraction.
func AsString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format("2006-01-02")
		}
		return t.Format(time.RFC3339)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// IsBlank reports nil, empty or whitespace-only values.
func IsBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []byte:
		return strings.TrimSpace(string(t)) == ""
	}
	return false
}

// Round2 rounds half away from zero to two decimals.
func Round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// Normalize converts v into the Go value stored in a column of the given
// kind. It returns nil when v cannot be represented; callers keep the raw
// cell in source_data, so nothing is lost.
func Normalize(kind Kind, v any) any {
	if v == nil {
		return nil
	}
	switch kind {
	case KindInteger:
		switch n := v.(type) {
		case int64:
			return n
		case int:
			return int64(n)
		case float64:
			if n != math.Trunc(n) {
				return nil
			}
			return int64(n)
		}
		s := strings.TrimSpace(AsString(v))
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		return nil
	case KindDecimal:
		switch n := v.(type) {
		case float64:
			if math.IsNaN(n) || math.IsInf(n, 0) {
				return nil
			}
			return n
		case int64:
			return float64(n)
		case int:
			return float64(n)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(AsString(v)), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	case KindBoolean:
		if b, ok := v.(bool); ok {
			return b
		}
		switch strings.ToLower(strings.TrimSpace(AsString(v))) {
		case "true", "1", "yes", "y", "t":
			return true
		case "false", "0", "no", "n", "f":
			return false
		}
		return nil
	case KindDate:
		if t, ok := v.(time.Time); ok {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		}
		if t, ok := ParseDate(AsString(v)); ok {
			return t
		}
		return nil
	case KindDateTime:
		if t, ok := AsTime(v); ok {
			return t
		}
		return nil
	case KindJSON:
		switch t := v.(type) {
		case string:
			return t
		case []byte:
			return string(t)
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return string(b)
	default:
		if IsBlank(v) {
			return nil
		}
		return AsString(v)
	}
}

// DecodeJSONMap reads a JSON object column. Backends return JSON either
// decoded (pgx JSONB) or as text.
func DecodeJSONMap(v any) (map[string]any, error) {
	switch t := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return t, nil
	case string:
		return decodeObject([]byte(t))
	case []byte:
		return decodeObject(t)
	default:
		return nil, fmt.Errorf("ddl: unsupported JSON value %T", v)
	}
}

// DecodeJSONList reads a JSON array of strings, e.g. validation_errors.
func DecodeJSONList(v any) ([]string, error) {
	var raw []any
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []any:
		raw = t
	case []string:
		return t, nil
	case string, []byte:
		s := AsString(t)
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		if err := json.Unmarshal([]byte(s), &raw); err != nil {
			return nil, fmt.Errorf("ddl: decode list: %w", err)
		}
	default:
		return nil, fmt.Errorf("ddl: unsupported JSON list %T", v)
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		out = append(out, AsString(e))
	}
	return out, nil
}

func decodeObject(b []byte) (map[string]any, error) {
	if len(strings.TrimSpace(string(b))) == 0 {
		return map[string]any{}, nil
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("ddl: decode object: %w", err)
	}
	return out, nil
}
