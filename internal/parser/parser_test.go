package parser_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hospitaletl/internal/parser"
	_ "hospitaletl/internal/parser/all"
)

func TestForContentType(t *testing.T) {
	t.Parallel()

	f, err := parser.ForContentType("text/csv", "upload.bin")
	require.NoError(t, err)
	assert.Equal(t, "csv", f.Name)

	f, err = parser.ForContentType("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "upload")
	require.NoError(t, err)
	assert.Equal(t, "xlsx", f.Name)

	_, err = parser.ForContentType("application/pdf", "scan.pdf")
	require.Error(t, err)
	assert.True(t, errors.Is(err, parser.ErrUnsupportedType))
	assert.Contains(t, err.Error(), "application/pdf")
}

func TestCount(t *testing.T) {
	t.Parallel()

	f, err := parser.ForContentType("text/csv", "")
	require.NoError(t, err)

	n, headers, err := parser.Count(context.Background(), f, strings.NewReader("a,b\n1,2\n,\n3,\"4\n5,6\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, headers)
	assert.Equal(t, 3, n)
}

func TestKeysAndValues(t *testing.T) {
	t.Parallel()

	keys := parser.Keys([]string{"\uFEFFid", " name ", ""})
	assert.Equal(t, []string{"id", "name", "column_3"}, keys)

	v, err := parser.Values(keys, []string{"1", "  "})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "1", "name": nil, "column_3": nil}, v)

	_, err = parser.Values(keys, []string{"1", "2", "3", "", ""})
	require.NoError(t, err, "trailing empty cells are tolerated")

	_, err = parser.Values(keys, []string{"1", "2", "3", "4"})
	assert.ErrorContains(t, err, "row has 4 fields, header has 3")

	assert.True(t, parser.Row{Values: map[string]any{"a": nil, "b": " "}}.Blank())
	assert.False(t, parser.Row{Values: map[string]any{"a": "x"}}.Blank())
}
