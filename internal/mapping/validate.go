package mapping

import (
	"fmt"
	"regexp"
	"strings"

	"hospitaletl/internal/ddl"
)

var (
	integerPattern = regexp.MustCompile(`^-?\d+$`)
	decimalPattern = regexp.MustCompile(`^-?\d+\.?\d*$`)
	boolTokens     = map[string]struct{}{
		"true": {}, "false": {}, "1": {}, "0": {}, "yes": {}, "no": {}, "y": {}, "n": {}, "t": {}, "f": {},
	}
)

// Validate checks a transformed row against ms and returns one message per
// problem. An empty result means the row is valid.
func Validate(row map[string]any, ms []FieldMapping) []string {
	var errs []string
	for _, m := range ms {
		v := row[m.Column()]
		if ddl.IsBlank(v) {
			if m.IsRequired {
				errs = append(errs, fmt.Sprintf("Required field '%s' is missing or empty", m.TargetField))
			}
			continue
		}
		if !ValidType(v, m.DataType) {
			errs = append(errs, fmt.Sprintf("Field '%s' has invalid data type. Expected: %s", m.TargetField, m.DataType))
		}
	}
	return errs
}

// ValidType reports whether v reads as dataType. Strings and unknown types
// always pass.
func ValidType(v any, dataType string) bool {
	s := strings.TrimSpace(ddl.AsString(v))
	switch dataType {
	case DataInteger:
		return integerPattern.MatchString(s)
	case DataDecimal:
		return decimalPattern.MatchString(s)
	case DataBoolean:
		_, ok := boolTokens[strings.ToLower(s)]
		return ok
	case DataDate:
		_, ok := ddl.ParseDate(s)
		return ok
	case DataDateTime:
		_, ok := ddl.ParseDateTime(s)
		return ok
	default:
		return true
	}
}
