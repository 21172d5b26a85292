package rollup

import "github.com/mesh-intelligence/tokenplan/pkg/types"

// BuildTree rebuilds a category tree from detail keys, grouping
// subcategories under their category in first-seen order. Ids are assigned
// from 1 in the order nodes are created.
func BuildTree(keys []types.DetailKey) []types.CategoryNode {
	var tree []types.CategoryNode
	catIndex := map[string]int{}
	seen := map[[2]string]bool{}
	var next int64

	for _, k := range keys {
		i, ok := catIndex[k.Category]
		if !ok {
			next++
			i = len(tree)
			catIndex[k.Category] = i
			tree = append(tree, types.CategoryNode{ID: next, Name: k.Category, Subcategories: []types.SubcategoryNode{}})
		}
		pair := [2]string{k.Category, k.Subcategory}
		if seen[pair] {
			continue
		}
		seen[pair] = true
		next++
		tree[i].Subcategories = append(tree[i].Subcategories, types.SubcategoryNode{ID: next, Name: k.Subcategory})
	}
	return tree
}

// MergeTree attaches detail totals to a category tree. Subcategories with no
// detail read as zero; category totals are the sums of their subcategories.
func MergeTree(tree []types.CategoryNode, totals map[[2]string]types.Totals) []types.CategoryStats {
	out := make([]types.CategoryStats, 0, len(tree))
	for _, cat := range tree {
		stats := types.CategoryStats{
			ID:            cat.ID,
			Name:          cat.Name,
			Subcategories: make([]types.SubcategoryStats, 0, len(cat.Subcategories)),
		}
		subTotals := make([]types.Totals, 0, len(cat.Subcategories))
		for _, sub := range cat.Subcategories {
			t, ok := totals[[2]string{cat.Name, sub.Name}]
			if !ok {
				t = types.ZeroTotals()
			}
			stats.Subcategories = append(stats.Subcategories, types.SubcategoryStats{ID: sub.ID, Name: sub.Name, Totals: t})
			subTotals = append(subTotals, t)
		}
		stats.Totals = SumTotals(subTotals...)
		out = append(out, stats)
	}
	return out
}
