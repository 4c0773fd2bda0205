package category

import (
	"math"

	"hospitaletl/internal/ddl"
)

func init() {
	Register(Category{
		Name: "operational",
		Columns: []ddl.ColumnDef{
			col("bed_count", ddl.KindInteger),
			col("occupied_beds", ddl.KindInteger),
			col("staff_count", ddl.KindInteger),
			col("patient_count", ddl.KindInteger),
			col("occupancy_rate", ddl.KindDecimal),
			col("staff_patient_ratio", ddl.KindDecimal),
			col("los_average", ddl.KindDecimal),
			col("turnover_rate", ddl.KindDecimal),
			col("report_date", ddl.KindDate),
			col("report_year", ddl.KindInteger),
			col("report_month", ddl.KindInteger),
			col("efficiency_score", ddl.KindDecimal),
		},
		Calculated: []ddl.ColumnDef{
			col("occupancy_rate", ddl.KindDecimal),
			col("staff_patient_ratio", ddl.KindDecimal),
		},
		Calculate: calculateOperational,
		Derive:    deriveOperational,
	})
}

func calculateOperational(row map[string]any) {
	if present(row, "bed_count", "occupied_beds") {
		beds, occupied := ddl.ToInt64(row["bed_count"]), ddl.ToInt64(row["occupied_beds"])
		row["occupancy_rate"] = ratio(float64(occupied), float64(beds), 100)
	}
	if present(row, "staff_count", "patient_count") {
		staff, patients := ddl.ToInt64(row["staff_count"]), ddl.ToInt64(row["patient_count"])
		row["staff_patient_ratio"] = ratio(float64(patients), float64(staff), 1)
	}
}

func deriveOperational(s map[string]any) map[string]any {
	out := map[string]any{
		"report_date":      s["date"],
		"report_year":      nil,
		"report_month":     nil,
		"efficiency_score": efficiencyScore(ddl.ToFloat(s["occupancy_rate"]), ddl.ToFloat(s["staff_patient_ratio"])),
	}
	if d, ok := date(s["date"]); ok {
		out["report_year"] = int64(d.Year())
		out["report_month"] = int64(d.Month())
	}
	return out
}

// efficiencyScore blends occupancy (70%) with a staffing term (30%) that
// is 100/ratio capped at 100. Both inputs zero means no score.
func efficiencyScore(occupancy, ratio float64) any {
	if occupancy == 0 && ratio == 0 {
		return nil
	}
	staffing := 0.0
	if ratio > 0 {
		staffing = math.Min(100/ratio, 100)
	}
	return ddl.Round2(occupancy*0.7 + staffing*0.3)
}
