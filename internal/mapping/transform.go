package mapping

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"hospitaletl/internal/ddl"
)

var truthy = map[string]struct{}{"true": {}, "1": {}, "yes": {}, "y": {}, "t": {}}

var formulas = []struct {
	re *regexp.Regexp
	fn func(v, n float64) float64
}{
	{regexp.MustCompile(`multiply_by_(\d+\.?\d*)`), func(v, n float64) float64 { return v * n }},
	{regexp.MustCompile(`divide_by_(\d+\.?\d*)`), func(v, n float64) float64 {
		if n == 0 {
			return 0
		}
		return v / n
	}},
	{regexp.MustCompile(`add_(\d+\.?\d*)`), func(v, n float64) float64 { return v + n }},
	{regexp.MustCompile(`subtract_(\d+\.?\d*)`), func(v, n float64) float64 { return v - n }},
}

// Transformer applies field mappings to source rows.
type Transformer struct {
	Log zerolog.Logger
}

// NewTransformer returns a Transformer logging to log.
func NewTransformer(log zerolog.Logger) *Transformer {
	return &Transformer{Log: log}
}

// Value converts raw according to m. It never fails: any error inside a
// conversion is logged and raw is returned unchanged.
func (t *Transformer) Value(raw any, m FieldMapping) (out any) {
	defer func() {
		if r := recover(); r != nil {
			t.Log.Warn().
				Str("target_field", m.TargetField).
				Str("mapping_type", m.MappingType).
				Interface("panic", r).
				Msg("value transform failed; keeping raw value")
			out = raw
		}
	}()

	switch m.MappingType {
	case TypeDirect:
		return direct(raw, m.DataType)
	case TypeCalculated:
		return calculated(raw, m.TransformationRules.String("formula", ""))
	case TypeLookup:
		if table := m.TransformationRules.Map("lookup_table"); table != nil {
			if v, ok := table[ddl.AsString(raw)]; ok {
				return v
			}
		}
		return raw
	case TypeConditional:
		for _, c := range m.TransformationRules.Objects("conditions") {
			if evaluate(raw, c.String("operator", ""), c.Any("operand")) {
				return c.Any("result")
			}
		}
		return raw
	default:
		return raw
	}
}

// Row applies every mapping to source and returns the mapped values keyed
// by column name. A mapping whose source column is absent yields nil.
func (t *Transformer) Row(source map[string]any, ms []FieldMapping) map[string]any {
	out := make(map[string]any, len(ms))
	var byIdent map[string]string
	for _, m := range ms {
		v, ok := source[m.SourceField]
		if !ok {
			if byIdent == nil {
				byIdent = make(map[string]string, len(source))
				for k := range source {
					byIdent[ddl.Ident(k)] = k
				}
			}
			if k, found := byIdent[ddl.Ident(m.SourceField)]; found {
				v = source[k]
			}
		}
		out[m.Column()] = t.Value(v, m)
	}
	return out
}

func direct(v any, dataType string) any {
	if ddl.IsBlank(v) {
		return nil
	}
	switch dataType {
	case DataInteger:
		return ddl.ToInt64(v)
	case DataDecimal:
		return ddl.ToFloat(v)
	case DataBoolean:
		if b, ok := v.(bool); ok {
			return b
		}
		_, ok := truthy[strings.ToLower(strings.TrimSpace(ddl.AsString(v)))]
		return ok
	case DataDate:
		if tm, ok := ddl.Normalize(ddl.KindDate, v).(time.Time); ok {
			return tm
		}
		return nil
	case DataDateTime:
		if tm, ok := ddl.AsTime(v); ok {
			return tm
		}
		return nil
	default:
		return ddl.AsString(v)
	}
}

func calculated(v any, formula string) any {
	if formula == "" || ddl.IsBlank(v) {
		return v
	}
	for _, f := range formulas {
		sm := f.re.FindStringSubmatch(formula)
		if sm == nil {
			continue
		}
		n, err := strconv.ParseFloat(sm[1], 64)
		if err != nil {
			return v
		}
		return f.fn(ddl.ToFloat(v), n)
	}
	return v
}

func evaluate(v any, operator string, operand any) bool {
	s, o := ddl.AsString(v), ddl.AsString(operand)
	switch operator {
	case "equals":
		return s == o
	case "contains":
		return strings.Contains(s, o)
	case "starts_with":
		return strings.HasPrefix(s, o)
	case "ends_with":
		return strings.HasSuffix(s, o)
	case "greater_than":
		return ddl.ToFloat(v) > ddl.ToFloat(operand)
	case "less_than":
		return ddl.ToFloat(v) < ddl.ToFloat(operand)
	default:
		return false
	}
}
