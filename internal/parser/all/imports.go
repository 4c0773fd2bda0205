// Package all registers every built-in upload format with the parser
// package. Import it for side effects:
//
//	import _ "hospitaletl/internal/parser/all"
package all

import (
	_ "hospitaletl/internal/parser/csv"
	_ "hospitaletl/internal/parser/xlsx"
)
