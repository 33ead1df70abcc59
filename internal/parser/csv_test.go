package parser

import (
	"fmt"
	"strings"
	"testing"

	"github.com/dgallion1/ragingest/internal/fragment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVParser_RowGroupsUnderTitles(t *testing.T) {
	var in strings.Builder
	in.WriteString("name,qty\n")
	for i := range 25 {
		fmt.Fprintf(&in, "item%d,%d\n", i, i)
	}

	frags, err := (&CSVParser{}).Parse(strings.NewReader(in.String()), "stock.csv")
	require.NoError(t, err)
	require.Len(t, frags, 4)

	first, table1, second, table2 := frags[0], frags[1], frags[2], frags[3]

	assert.Equal(t, fragment.Title, first.Category)
	assert.Equal(t, "Rows 2-21", first.Content)
	assert.False(t, first.HasParent())
	assert.Equal(t, fragment.Title, second.Category)
	assert.Equal(t, "Rows 22-26", second.Content)
	assert.False(t, second.HasParent(), "row groups are siblings")

	assert.Equal(t, fragment.Table, table1.Category)
	assert.Equal(t, first.ID, table1.ParentID)
	assert.True(t, strings.HasPrefix(table1.Content, "Headers: name, qty"))
	assert.Contains(t, table1.Content, "name: item0, qty: 0")
	assert.Contains(t, table1.Content, "name: item19, qty: 19")
	assert.NotContains(t, table1.Content, "item20")

	assert.Equal(t, second.ID, table2.ParentID)
	assert.Contains(t, table2.Content, "name: item24, qty: 24")
	assert.Equal(t, "text/csv", table2.StringAttr(fragment.AttrFiletype))
	assert.Equal(t, "stock.csv", table2.StringAttr(fragment.AttrFilename))
}

func TestCSVParser_ExtraCellsWithoutHeader(t *testing.T) {
	frags, err := (&CSVParser{}).Parse(strings.NewReader("a\n1,2\n"), "x.csv")
	require.NoError(t, err)
	require.Len(t, frags, 2)
	assert.Contains(t, frags[1].Content, "a: 1, 2")
}

func TestCSVParser_Empty(t *testing.T) {
	frags, err := (&CSVParser{}).Parse(strings.NewReader(""), "empty.csv")
	require.NoError(t, err)
	assert.Empty(t, frags)
}
