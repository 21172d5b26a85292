package rollup

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mesh-intelligence/tokenplan/pkg/types"
)

func TestBuildTree(t *testing.T) {
	keys := []types.DetailKey{
		{Category: "web", Subcategory: "cc"},
		{Category: "code", Subcategory: "py"},
		{Category: "web", Subcategory: "wiki"},
		{Category: "web", Subcategory: "cc"},
	}

	got := BuildTree(keys)

	assert.Equal(t, []types.CategoryNode{
		{ID: 1, Name: "web", Subcategories: []types.SubcategoryNode{{ID: 2, Name: "cc"}, {ID: 5, Name: "wiki"}}},
		{ID: 3, Name: "code", Subcategories: []types.SubcategoryNode{{ID: 4, Name: "py"}}},
	}, got)
}

func TestBuildTreeEmpty(t *testing.T) {
	assert.Empty(t, BuildTree(nil))
}

func TestMergeTree(t *testing.T) {
	tree := []types.CategoryNode{
		{ID: 1, Name: "web", Subcategories: []types.SubcategoryNode{{ID: 2, Name: "cc"}, {ID: 3, Name: "wiki"}}},
		{ID: 4, Name: "code"},
	}
	totals := map[[2]string]types.Totals{
		{"web", "cc"}:  {TokenCountTotal: "100.50", ActualTokenTotal: "50.25"},
		{"code", "py"}: {TokenCountTotal: "7.00", ActualTokenTotal: "7.00"},
	}

	got := MergeTree(tree, totals)

	assert.Len(t, got, 2)
	assert.Equal(t, types.Totals{TokenCountTotal: "100.50", ActualTokenTotal: "50.25"}, got[0].Totals)
	assert.Equal(t, types.ZeroTotals(), got[0].Subcategories[1].Totals)
	assert.Equal(t, types.ZeroTotals(), got[1].Totals)
	assert.NotNil(t, got[1].Subcategories)
}
