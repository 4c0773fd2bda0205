package category

import "hospitaletl/internal/ddl"

func init() {
	Register(Category{
		Name: "financial",
		Columns: []ddl.ColumnDef{
			col("revenue", ddl.KindDecimal),
			col("cost", ddl.KindDecimal),
			col("profit", ddl.KindDecimal),
			col("budget", ddl.KindDecimal),
			col("profit_margin", ddl.KindDecimal),
			col("budget_variance", ddl.KindDecimal),
			col("budget_variance_percent", ddl.KindDecimal),
			col("account_code", ddl.KindString),
			col("fiscal_year", ddl.KindInteger),
			col("fiscal_quarter", ddl.KindInteger),
			col("fiscal_month", ddl.KindInteger),
			col("revenue_normalized", ddl.KindDecimal),
			col("cost_normalized", ddl.KindDecimal),
		},
		Calculated: []ddl.ColumnDef{
			col("profit", ddl.KindDecimal),
			col("profit_margin", ddl.KindDecimal),
			col("budget_variance", ddl.KindDecimal),
			col("budget_variance_percent", ddl.KindDecimal),
		},
		Calculate: calculateFinancial,
		Derive:    deriveFinancial,
	})
}

// calculateFinancial sets profit and margin from revenue and cost, and the
// budget variance from budget and revenue. Each ratio guards its own
// denominator.
func calculateFinancial(row map[string]any) {
	if present(row, "revenue", "cost") {
		revenue, cost := ddl.ToFloat(row["revenue"]), ddl.ToFloat(row["cost"])
		row["profit"] = revenue - cost
		row["profit_margin"] = ratio(revenue-cost, revenue, 100)
	}
	if present(row, "budget", "revenue") {
		budget, revenue := ddl.ToFloat(row["budget"]), ddl.ToFloat(row["revenue"])
		row["budget_variance"] = revenue - budget
		row["budget_variance_percent"] = ratio(revenue-budget, budget, 100)
	}
}

func deriveFinancial(s map[string]any) map[string]any {
	out := map[string]any{
		"fiscal_year":        nil,
		"fiscal_quarter":     nil,
		"fiscal_month":       nil,
		"revenue_normalized": ddl.Round2(ddl.ToFloat(s["revenue"])),
		"cost_normalized":    ddl.Round2(ddl.ToFloat(s["cost"])),
	}
	if d, ok := date(s["date"]); ok {
		out["fiscal_year"] = int64(d.Year())
		out["fiscal_quarter"] = int64((int(d.Month())-1)/3 + 1)
		out["fiscal_month"] = int64(d.Month())
	}
	return out
}
