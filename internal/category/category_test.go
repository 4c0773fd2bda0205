package category

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"financial", "general", "operational", "patient", "quality"}, Names())
	assert.Equal(t, "financial", Lookup(" Financial ").Name)
	assert.Equal(t, Default, Lookup("").Name)
	assert.Equal(t, Default, Lookup("laboratory").Name)
	assert.True(t, Known("quality"))
	assert.False(t, Known("laboratory"))
	assert.Equal(t, "laboratory", Normalize("Laboratory"))
	assert.Equal(t, Default, Normalize("  "))
}

func TestCalculatedColumnsAreCoreColumns(t *testing.T) {
	t.Parallel()

	for _, name := range Names() {
		c := Lookup(name)
		core := map[string]bool{}
		for _, col := range c.Columns {
			core[col.Name] = true
		}
		for _, col := range c.Calculated {
			assert.Truef(t, core[col.Name], "%s: calculated column %s missing from core columns", name, col.Name)
		}
	}
}

func TestFinancial(t *testing.T) {
	t.Parallel()

	fin := Lookup("financial")

	row := map[string]any{"revenue": 100.0, "cost": "80", "budget": 100.0}
	fin.Calculate(row)
	assert.Equal(t, 20.0, row["profit"])
	assert.Equal(t, 20.0, row["profit_margin"])
	assert.Equal(t, 0.0, row["budget_variance"])

	row = map[string]any{"revenue": 110.0, "budget": 100.0}
	fin.Calculate(row)
	assert.Equal(t, 10.0, row["budget_variance"])
	assert.Equal(t, 10.0, row["budget_variance_percent"])
	assert.NotContains(t, row, "profit")

	// zero denominators
	row = map[string]any{"revenue": 0.0, "cost": 50.0, "budget": 0.0}
	fin.Calculate(row)
	assert.Equal(t, -50.0, row["profit"])
	assert.Equal(t, 0.0, row["profit_margin"])
	assert.Equal(t, 0.0, row["budget_variance_percent"])

	d := fin.Derive(map[string]any{"date": "2024-08-15", "revenue": "1234.567", "cost": nil})
	assert.Equal(t, int64(2024), d["fiscal_year"])
	assert.Equal(t, int64(3), d["fiscal_quarter"])
	assert.Equal(t, int64(8), d["fiscal_month"])
	assert.Equal(t, 1234.57, d["revenue_normalized"])
	assert.Equal(t, 0.0, d["cost_normalized"])

	d = fin.Derive(map[string]any{"date": "someday"})
	assert.Nil(t, d["fiscal_year"])
	assert.Nil(t, d["fiscal_quarter"])
}

func TestOperational(t *testing.T) {
	t.Parallel()

	op := Lookup("operational")

	row := map[string]any{"bed_count": int64(200), "occupied_beds": "150", "staff_count": int64(40), "patient_count": int64(100)}
	op.Calculate(row)
	assert.Equal(t, 75.0, row["occupancy_rate"])
	assert.Equal(t, 2.5, row["staff_patient_ratio"])

	row = map[string]any{"bed_count": 0, "occupied_beds": 3, "staff_count": 0, "patient_count": 9}
	op.Calculate(row)
	assert.Equal(t, 0.0, row["occupancy_rate"])
	assert.Equal(t, 0.0, row["staff_patient_ratio"])

	d := op.Derive(map[string]any{"date": time.Date(2024, 11, 3, 0, 0, 0, 0, time.UTC), "occupancy_rate": 75.0, "staff_patient_ratio": 2.5})
	assert.Equal(t, int64(2024), d["report_year"])
	assert.Equal(t, int64(11), d["report_month"])
	// 75*0.7 + min(100/2.5, 100)*0.3 = 52.5 + 12
	assert.Equal(t, 64.5, d["efficiency_score"])

	d = op.Derive(map[string]any{"occupancy_rate": 90.0, "staff_patient_ratio": 0.5})
	assert.Equal(t, 93.0, d["efficiency_score"])

	d = op.Derive(map[string]any{"occupancy_rate": 0, "staff_patient_ratio": nil})
	assert.Nil(t, d["efficiency_score"])
	assert.Nil(t, d["report_year"])
}

func TestQuality(t *testing.T) {
	t.Parallel()

	q := Lookup("quality")
	grades := map[float64]string{100: "A", 90: "A", 89.5: "B", 80: "B", 79: "C", 60: "D", 59.9: "F", 0: "F"}
	for score, want := range grades {
		row := map[string]any{"satisfaction_score": score}
		q.Calculate(row)
		assert.Equalf(t, want, row["satisfaction_grade"], "score %v", score)
	}

	row := map[string]any{}
	q.Calculate(row)
	assert.NotContains(t, row, "satisfaction_grade")

	d := q.Derive(map[string]any{"satisfaction_score": "72.5", "date": "2024-01-31"})
	assert.Equal(t, "Average", d["quality_tier"])
	assert.Equal(t, 72.5, d["satisfaction_normalized"])
	assert.Equal(t, "2024-01-31", d["assessment_date"])

	d = q.Derive(map[string]any{"satisfaction_score": 130.0})
	assert.Equal(t, "Excellent", d["quality_tier"])
	assert.Equal(t, 100.0, d["satisfaction_normalized"])

	d = q.Derive(map[string]any{"satisfaction_score": 61.0})
	assert.Equal(t, "Below Average", d["quality_tier"])
}

func TestPatient(t *testing.T) {
	t.Parallel()

	p := Lookup("patient")

	row := map[string]any{
		"admission_date": time.Date(2024, 2, 27, 0, 0, 0, 0, time.UTC),
		"discharge_date": "2024-03-02",
		"age":            int64(45),
	}
	p.Calculate(row)
	assert.Equal(t, int64(4), row["length_of_stay"])
	assert.Equal(t, "중년", row["age_group"])

	for age, want := range map[int64]string{0: "소아", 17: "소아", 18: "청년", 39: "청년", 40: "중년", 64: "중년", 65: "노년", 99: "노년"} {
		r := map[string]any{"age": age}
		p.Calculate(r)
		assert.Equalf(t, want, r["age_group"], "age %d", age)
	}

	r := map[string]any{"admission_date": "bad", "discharge_date": "2024-01-01"}
	p.Calculate(r)
	assert.NotContains(t, r, "length_of_stay")

	cases := []struct {
		row  map[string]any
		want string
	}{
		{map[string]any{"age": int64(10), "length_of_stay": int64(40)}, "Pediatric"},
		{map[string]any{"age": int64(50), "length_of_stay": int64(31)}, "Long-term"},
		{map[string]any{"age": int64(50), "length_of_stay": int64(2)}, "Short-term"},
		{map[string]any{"age": int64(50), "length_of_stay": int64(3)}, "Standard"},
		{map[string]any{"length_of_stay": int64(10)}, "Standard"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, p.Derive(c.row)["patient_category"])
	}

	d := p.Derive(map[string]any{"admission_date": "2023-12-05"})
	require.Equal(t, int64(2023), d["admission_year"])
	assert.Equal(t, int64(12), d["admission_month"])
}

func TestGeneralHasNoCalculations(t *testing.T) {
	t.Parallel()

	g := Lookup("anything")
	row := map[string]any{"value": 1.0}
	g.Calculate(row)
	assert.Len(t, row, 1)
	assert.Nil(t, g.Derive(row))
}
