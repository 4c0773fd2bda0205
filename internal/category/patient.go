package category

import "hospitaletl/internal/ddl"

var ageGroupLabels = []string{"노년", "중년", "청년", "소아"}

func init() {
	Register(Category{
		Name: "patient",
		Columns: []ddl.ColumnDef{
			col("patient_id", ddl.KindString),
			col("age", ddl.KindInteger),
			col("gender", ddl.KindString),
			col("age_group", ddl.KindString),
			col("admission_date", ddl.KindDate),
			col("discharge_date", ddl.KindDate),
			col("length_of_stay", ddl.KindInteger),
			col("diagnosis", ddl.KindString),
			col("doctor", ddl.KindString),
			col("admission_year", ddl.KindInteger),
			col("admission_month", ddl.KindInteger),
			col("patient_category", ddl.KindString),
		},
		Calculated: []ddl.ColumnDef{
			col("length_of_stay", ddl.KindInteger),
			col("age_group", ddl.KindString),
		},
		Calculate: calculatePatient,
		Derive:    derivePatient,
	})
}

func calculatePatient(row map[string]any) {
	if present(row, "admission_date", "discharge_date") {
		in, okIn := date(row["admission_date"])
		out, okOut := date(row["discharge_date"])
		if okIn && okOut {
			row["length_of_stay"] = int64(out.Sub(in).Hours() / 24)
		}
	}
	if present(row, "age") {
		row["age_group"] = band(float64(ddl.ToInt64(row["age"])), []float64{65, 40, 18}, ageGroupLabels)
	}
}

func derivePatient(s map[string]any) map[string]any {
	out := map[string]any{
		"admission_year":   nil,
		"admission_month":  nil,
		"patient_category": classifyPatient(s),
	}
	if d, ok := date(s["admission_date"]); ok {
		out["admission_year"] = int64(d.Year())
		out["admission_month"] = int64(d.Month())
	}
	return out
}

// classifyPatient checks age before length of stay. A row without an age
// is never Pediatric.
func classifyPatient(s map[string]any) string {
	los := ddl.ToInt64(s["length_of_stay"])
	switch {
	case present(s, "age") && ddl.ToInt64(s["age"]) < 18:
		return "Pediatric"
	case los > 30:
		return "Long-term"
	case los < 3:
		return "Short-term"
	default:
		return "Standard"
	}
}
