package category

import "hospitaletl/internal/ddl"

func init() {
	Register(Category{
		Name: Default,
		Columns: []ddl.ColumnDef{
			col("name", ddl.KindString),
			col("category", ddl.KindString),
			col("value", ddl.KindDecimal),
			col("metadata", ddl.KindJSON),
		},
	})
}
