package sqlite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/tokenplan/pkg/types"
)

func stageNames(t *testing.T, p *PlanDB) []string {
	t.Helper()
	stages, err := p.ListStages()
	require.NoError(t, err)
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.Name
	}
	return names
}

func TestPlanDB_GetOrCreateStage(t *testing.T) {
	p := openTestPlan(t, "alpha")

	s1, err := p.GetOrCreateStage("pretrain")
	require.NoError(t, err)
	assert.Equal(t, 0, s1.Order)
	assert.Empty(t, s1.Categories)
	assert.Empty(t, s1.Merges)

	s2, err := p.GetOrCreateStage("sft")
	require.NoError(t, err)
	assert.Equal(t, 1, s2.Order)

	again, err := p.GetOrCreateStage("pretrain")
	require.NoError(t, err)
	assert.Equal(t, s1.StageID, again.StageID)

	assert.Equal(t, []string{"pretrain", "sft"}, stageNames(t, p))

	_, err = p.GetOrCreateStage(" ")
	assert.ErrorIs(t, err, types.ErrInvalidName)
}

func TestPlanDB_CreateStageDuplicate(t *testing.T) {
	p := openTestPlan(t, "alpha")

	_, err := p.CreateStage("sft")
	require.NoError(t, err)
	_, err = p.CreateStage("sft")
	assert.ErrorIs(t, err, types.ErrDuplicateName)
}

func TestPlanDB_ReplaceStageContents(t *testing.T) {
	p := openTestPlan(t, "alpha")
	s, err := p.GetOrCreateStage("S1")
	require.NoError(t, err)

	rows := []types.Row{{Category: "web", TotalTokens: "10"}, {Category: "code", Note: "n"}}
	merges := []types.Merge{{StartRow: 0, EndRow: 1, StartCol: 0, EndCol: 0}}
	require.NoError(t, p.ReplaceStageContents(s.StageID, rows, merges))

	got, err := p.StageRows(s.StageID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "web", got[0].Category)
	assert.Equal(t, "code", got[1].Category)
	assert.NotZero(t, got[0].Key)

	require.NoError(t, p.ReplaceStageContents(s.StageID, rows[1:], nil))
	got, err = p.StageRows(s.StageID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "code", got[0].Category)

	stages, err := p.ListStages()
	require.NoError(t, err)
	assert.Empty(t, stages[0].Merges)
}

func TestPlanDB_ReconcileStages(t *testing.T) {
	p := openTestPlan(t, "alpha")

	_, err := p.UpsertDetailRow("old", "web", "cc", types.DetailRow{Key: 1, TokenCount: "5"})
	require.NoError(t, err)
	_, err = p.GetOrCreateStage("keep")
	require.NoError(t, err)

	incoming := []types.StageData{
		{Name: "keep", Rows: []types.Row{{Category: "a"}}},
		{Name: "new", Rows: []types.Row{{Category: "b"}, {Category: "c"}}, Merges: []types.Merge{{EndRow: 1}}},
	}
	require.NoError(t, p.ReconcileStages(incoming))
	assert.Equal(t, []string{"keep", "new"}, stageNames(t, p))

	report, err := p.Aggregate()
	require.NoError(t, err)
	assert.Empty(t, report.SubcategoryStats, "details of removed stages are gone")

	require.NoError(t, p.ReconcileStages(incoming))
	set, err := p.StageSet()
	require.NoError(t, err)
	assert.Equal(t, []string{"keep", "new"}, set.Names())
	assert.Len(t, set[1].Rows, 2)
	assert.Equal(t, []types.Merge{{EndRow: 1}}, set[1].Merges)

	summaries, err := p.StageSummaries()
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, 1, summaries[0].RowCount)
	assert.Equal(t, 2, summaries[1].RowCount)

	n, err := p.StageCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPlanDB_ReconcileToEmpty(t *testing.T) {
	p := openTestPlan(t, "alpha")
	_, err := p.GetOrCreateStage("a")
	require.NoError(t, err)

	require.NoError(t, p.ReconcileStages(nil))
	assert.Empty(t, stageNames(t, p))
}

func TestPlanDB_CategoryTreeSelfHeals(t *testing.T) {
	p := openTestPlan(t, "alpha")

	_, err := p.UpsertDetailRow("S1", "web", "cc", types.DetailRow{Key: 1})
	require.NoError(t, err)
	_, err = p.UpsertDetailRow("S1", "code", "py", types.DetailRow{Key: 1})
	require.NoError(t, err)
	_, err = p.UpsertDetailRow("S1", "web", "wiki", types.DetailRow{Key: 1})
	require.NoError(t, err)

	_, tree, err := p.CategoryTree("S1")
	require.NoError(t, err)
	want := []types.CategoryNode{
		{ID: 1, Name: "web", Subcategories: []types.SubcategoryNode{{ID: 2, Name: "cc"}, {ID: 5, Name: "wiki"}}},
		{ID: 3, Name: "code", Subcategories: []types.SubcategoryNode{{ID: 4, Name: "py"}}},
	}
	assert.Equal(t, want, tree)

	stages, err := p.ListStages()
	require.NoError(t, err)
	assert.Equal(t, want, stages[0].Categories, "rebuilt tree is persisted")
}

func TestPlanDB_CategoryTreeEmptyStage(t *testing.T) {
	p := openTestPlan(t, "alpha")

	description, tree, err := p.CategoryTree("fresh")
	require.NoError(t, err)
	assert.Empty(t, description)
	assert.NotNil(t, tree)
	assert.Empty(t, tree)
}

func TestPlanDB_SaveCategoryTree(t *testing.T) {
	p := openTestPlan(t, "alpha")

	tree := []types.CategoryNode{{ID: 42, Name: "web", Subcategories: []types.SubcategoryNode{{ID: 7, Name: "cc"}}}}
	require.NoError(t, p.SaveCategoryTree("S1", "stage notes", tree))

	description, got, err := p.CategoryTree("S1")
	require.NoError(t, err)
	assert.Equal(t, "stage notes", description)
	assert.Equal(t, tree, got, "client ids are kept")
}

func TestPlanDB_CategoryView(t *testing.T) {
	p := openTestPlan(t, "alpha")

	tree := []types.CategoryNode{{ID: 1, Name: "web", Subcategories: []types.SubcategoryNode{{ID: 2, Name: "cc"}, {ID: 3, Name: "wiki"}}}}
	require.NoError(t, p.SaveCategoryTree("S1", "", tree))
	_, err := p.UpsertDetailRow("S1", "web", "cc", types.DetailRow{Key: 1, TokenCount: "10.5", ActualToken: "3"})
	require.NoError(t, err)

	view, err := p.CategoryView("S1")
	require.NoError(t, err)
	require.Len(t, view.Categories, 1)
	assert.Equal(t, types.Totals{TokenCountTotal: "10.50", ActualTokenTotal: "3.00"}, view.Categories[0].Totals)
	assert.Equal(t, types.ZeroTotals(), view.Categories[0].Subcategories[1].Totals)
}

func TestPlanDB_DeleteStage(t *testing.T) {
	p := openTestPlan(t, "alpha")

	assert.ErrorIs(t, p.DeleteStage("missing"), types.ErrNotFound)

	_, err := p.UpsertDetailRow("S1", "web", "cc", types.DetailRow{Key: 1})
	require.NoError(t, err)
	require.NoError(t, p.DeleteStage("S1"))
	assert.Empty(t, stageNames(t, p))

	d, err := p.GetOrCreateDetail("S1", "web", "cc")
	require.NoError(t, err)
	assert.Empty(t, d.Rows, "recreated stage starts empty")
}
