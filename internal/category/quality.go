package category

import (
	"math"

	"hospitaletl/internal/ddl"
)

var (
	gradeLabels = []string{"A", "B", "C", "D", "F"}
	tierLabels  = []string{"Excellent", "Good", "Average", "Below Average", "Poor"}
)

func init() {
	Register(Category{
		Name: "quality",
		Columns: []ddl.ColumnDef{
			col("patient_id", ddl.KindString),
			col("satisfaction_score", ddl.KindDecimal),
			col("satisfaction_grade", ddl.KindString),
			col("readmission", ddl.KindBoolean),
			col("complication", ddl.KindBoolean),
			col("infection", ddl.KindBoolean),
			col("mortality", ddl.KindBoolean),
			col("assessment_date", ddl.KindDate),
			col("quality_tier", ddl.KindString),
			col("satisfaction_normalized", ddl.KindDecimal),
		},
		Calculated: []ddl.ColumnDef{
			col("satisfaction_grade", ddl.KindString),
		},
		Calculate: func(row map[string]any) {
			if present(row, "satisfaction_score") {
				row["satisfaction_grade"] = band(ddl.ToFloat(row["satisfaction_score"]), scoreBands, gradeLabels)
			}
		},
		Derive: func(s map[string]any) map[string]any {
			score := ddl.ToFloat(s["satisfaction_score"])
			return map[string]any{
				"assessment_date":         s["date"],
				"quality_tier":            band(score, scoreBands, tierLabels),
				"satisfaction_normalized": ddl.Round2(math.Min(score, 100)),
			}
		},
	})
}
