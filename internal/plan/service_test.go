package plan

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/tokenplan/internal/logging"
	"github.com/mesh-intelligence/tokenplan/pkg/types"
)

var (
	admin  = types.Caller{Name: "admin", Authorized: true}
	viewer = types.Caller{Name: "viewer"}
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := New(types.Config{DataDir: t.TempDir()}, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func detailKey(stage, cat, sub string) types.DetailKey {
	return types.DetailKey{Stage: stage, Category: cat, Subcategory: sub}
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(types.Config{}, nil)
	assert.ErrorIs(t, err, types.ErrDataDirEmpty)
}

func TestService_MutationsRequireAuthorization(t *testing.T) {
	s := newTestService(t)
	key := detailKey("S1", "web", "cc")

	_, err := s.CreatePlan(viewer, "alpha", "")
	assert.ErrorIs(t, err, types.ErrUnauthorized)
	_, err = s.UpdatePlan(viewer, "alpha", "")
	assert.ErrorIs(t, err, types.ErrUnauthorized)
	assert.ErrorIs(t, s.DeletePlan(viewer, "alpha"), types.ErrUnauthorized)
	assert.ErrorIs(t, s.SavePlanData(viewer, "alpha", types.PlanData{}), types.ErrUnauthorized)
	_, err = s.CreateStage(viewer, "alpha", "S1")
	assert.ErrorIs(t, err, types.ErrUnauthorized)
	assert.ErrorIs(t, s.DeleteStage(viewer, "alpha", "S1"), types.ErrUnauthorized)
	assert.ErrorIs(t, s.SaveCategories(viewer, "alpha", "S1", "", nil), types.ErrUnauthorized)
	_, err = s.SaveDetail(viewer, "alpha", key, "", nil)
	assert.ErrorIs(t, err, types.ErrUnauthorized)
	_, err = s.UpdateDetailDescription(viewer, "alpha", key, "")
	assert.ErrorIs(t, err, types.ErrUnauthorized)
	_, err = s.UpsertRow(viewer, "alpha", key, types.DetailRow{Key: 1})
	assert.ErrorIs(t, err, types.ErrUnauthorized)
	_, err = s.DeleteRows(viewer, "alpha", key, []int64{1})
	assert.ErrorIs(t, err, types.ErrUnauthorized)
	assert.ErrorIs(t, s.ImportPlan(viewer, "alpha", "x.jsonl"), types.ErrUnauthorized)

	plans, err := s.ListPlans()
	require.NoError(t, err)
	assert.Empty(t, plans, "rejected calls leave no state")
}

func TestService_PlanLifecycle(t *testing.T) {
	s := newTestService(t)

	p, err := s.CreatePlan(admin, "alpha", "first")
	require.NoError(t, err)
	assert.Equal(t, "ALPHA", p.Name)

	_, err = s.CreatePlan(admin, "Alpha", "again")
	assert.ErrorIs(t, err, types.ErrDuplicateName)

	_, err = s.CreateStage(admin, "alpha", "pretrain")
	require.NoError(t, err)

	plans, err := s.ListPlans()
	require.NoError(t, err)
	assert.Equal(t, []types.PlanSummary{{Key: "alpha", Name: "ALPHA 训练计划", Description: "first", StageCount: 1}}, plans)

	_, err = s.UpdatePlan(admin, "missing", "x")
	assert.ErrorIs(t, err, types.ErrNotFound)
	updated, err := s.UpdatePlan(admin, "alpha", "second")
	require.NoError(t, err)
	assert.Equal(t, "second", updated.Description)

	require.NoError(t, s.DeletePlan(admin, "ALPHA"))
	assert.ErrorIs(t, s.DeletePlan(admin, "alpha"), types.ErrNotFound)
	_, statErr := os.Stat(s.StoragePath("alpha"))
	assert.True(t, os.IsNotExist(statErr))

	_, err = s.ListStages("alpha")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestService_ScenarioA(t *testing.T) {
	s := newTestService(t)
	_, err := s.CreatePlan(admin, "A", "")
	require.NoError(t, err)
	key := detailKey("S1", "web", "cc")

	_, err = s.UpsertRow(admin, "A", key, types.DetailRow{Key: 1, TokenCount: "1000.50", ActualToken: "1000.50"})
	require.NoError(t, err)
	totals, err := s.UpsertRow(admin, "A", key, types.DetailRow{Key: 2, TokenCount: "2500.75", ActualToken: "2375.71"})
	require.NoError(t, err)
	assert.Equal(t, types.Totals{TokenCountTotal: "3501.25", ActualTokenTotal: "3376.21"}, totals)

	result, err := s.DeleteRows(admin, "A", key, []int64{1})
	require.NoError(t, err)
	assert.Equal(t, "2500.75", result.TokenCountTotal)
	assert.Equal(t, 1, result.Total)

	stages, err := s.ListStages("A")
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, "S1", stages[0].Name)
}

func TestService_PlanDataRoundTrip(t *testing.T) {
	s := newTestService(t)

	var data types.PlanData
	require.NoError(t, json.Unmarshal([]byte(`{"description":"mix","stages":{
		"pretrain":{"rows":[{"category":"web","total_tokens":"100"}],"merges":[{"startRow":0,"endRow":1,"startCol":0,"endCol":2}]},
		"sft":{"rows":[]}
	}}`), &data))
	require.NoError(t, s.SavePlanData(admin, "beta", data))

	got, err := s.GetPlanData("BETA")
	require.NoError(t, err)
	assert.Equal(t, "mix", got.Description)
	assert.Equal(t, []string{"pretrain", "sft"}, got.Stages.Names())
	assert.Equal(t, "100", got.Stages[0].Rows[0].TotalTokens)
	assert.NotZero(t, got.Stages[0].Rows[0].Key)

	data.Stages = data.Stages[1:]
	require.NoError(t, s.SavePlanData(admin, "beta", data))
	got, err = s.GetPlanData("beta")
	require.NoError(t, err)
	assert.Equal(t, []string{"sft"}, got.Stages.Names())
}

func TestService_SavePlanDataValidates(t *testing.T) {
	s := newTestService(t)

	bad := types.PlanData{Stages: types.StageSet{{Name: "s", Merges: []types.Merge{{StartRow: 3, EndRow: 1}}}}}
	assert.ErrorIs(t, s.SavePlanData(admin, "alpha", bad), types.ErrInvalidData)

	unnamed := types.PlanData{Stages: types.StageSet{{Name: ""}}}
	assert.ErrorIs(t, s.SavePlanData(admin, "alpha", unnamed), types.ErrInvalidData)
}

func TestService_GetPlanDataCreatesPlan(t *testing.T) {
	s := newTestService(t)

	data, err := s.GetPlanData("fresh")
	require.NoError(t, err)
	assert.Empty(t, data.Stages)

	p, err := s.GetPlan("FRESH")
	require.NoError(t, err)
	assert.Equal(t, "FRESH", p.Name)
}

func TestService_Categories(t *testing.T) {
	s := newTestService(t)

	tree := []types.CategoryNode{{ID: 1, Name: "web", Subcategories: []types.SubcategoryNode{{ID: 2, Name: "cc"}}}}
	require.NoError(t, s.SaveCategories(admin, "alpha", "S1", "notes", tree))
	_, err := s.UpsertRow(admin, "alpha", detailKey("S1", "web", "cc"), types.DetailRow{Key: 1, TokenCount: "12"})
	require.NoError(t, err)

	view, err := s.GetCategories("alpha", "S1")
	require.NoError(t, err)
	assert.Equal(t, "notes", view.Description)
	require.Len(t, view.Categories, 1)
	assert.Equal(t, "12.00", view.Categories[0].TokenCountTotal)

	bad := []types.CategoryNode{{ID: 1, Name: ""}}
	assert.ErrorIs(t, s.SaveCategories(admin, "alpha", "S1", "", bad), types.ErrInvalidData)
}

func TestService_DetailPaging(t *testing.T) {
	s := newTestService(t)
	key := detailKey("S1", "web", "cc")

	rows := make([]types.DetailRow, 25)
	for i := range rows {
		rows[i] = types.DetailRow{Key: int64(i + 1), TokenCount: "1"}
	}
	totals, err := s.SaveDetail(admin, "alpha", key, "desc", rows)
	require.NoError(t, err)
	assert.Equal(t, "25.00", totals.TokenCountTotal)

	page, err := s.GetDetail("alpha", key, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, types.DefaultPageSize, page.PageSize)
	assert.Len(t, page.Rows, 5)
	assert.Equal(t, 25, page.Total)
	assert.Equal(t, "desc", page.Description)

	_, err = s.UpdateDetailDescription(admin, "alpha", key, "changed")
	require.NoError(t, err)
	page, err = s.GetDetail("alpha", key, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, "changed", page.Description)
	assert.Len(t, page.Rows, 10)

	_, err = s.GetDetail("alpha", detailKey("S1", "", "cc"), 1, 10)
	assert.ErrorIs(t, err, types.ErrInvalidData)
}

func TestService_VisualizationCache(t *testing.T) {
	s := newTestService(t)

	_, err := s.Visualization("missing")
	assert.ErrorIs(t, err, types.ErrNotFound)

	key := detailKey("S1", "web", "cc")
	_, err = s.UpsertRow(admin, "alpha", key, types.DetailRow{Key: 1, TokenCount: "10", ActualToken: "5"})
	require.NoError(t, err)

	first, err := s.Visualization("alpha")
	require.NoError(t, err)
	assert.Equal(t, 10.0, first.Overview.TotalTokenCount)
	s.reports.wait()

	hits := testutil.ToFloat64(reportCacheTotal.WithLabelValues("hit"))
	cached, err := s.Visualization("alpha")
	require.NoError(t, err)
	assert.Equal(t, first, cached)
	assert.Equal(t, hits+1, testutil.ToFloat64(reportCacheTotal.WithLabelValues("hit")))

	_, err = s.UpsertRow(admin, "alpha", key, types.DetailRow{Key: 2, TokenCount: "30", ActualToken: "0"})
	require.NoError(t, err)

	fresh, err := s.Visualization("alpha")
	require.NoError(t, err)
	assert.Equal(t, 40.0, fresh.Overview.TotalTokenCount)
	require.Len(t, fresh.CategoryStats, 1)
	assert.Equal(t, 12.5, fresh.CategoryStats[0].UsageRate)
}

func TestService_SaveDetailRejectsRepeatedKeys(t *testing.T) {
	s := newTestService(t)
	key := detailKey("S", "c", "s")

	_, err := s.SaveDetail(admin, "alpha", key, "", []types.DetailRow{{Key: 1}, {Key: 1}})
	assert.ErrorIs(t, err, types.ErrInvalidData)
	assert.True(t, IsUserError(err))

	_, err = s.SaveDetail(viewer, "alpha", key, "", []types.DetailRow{{Key: 1}, {Key: 1}})
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	page, err := s.GetDetail("alpha", key, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Rows)
}

func TestService_ReadsKeepReportCache(t *testing.T) {
	s := newTestService(t)
	key := detailKey("S1", "web", "cc")
	_, err := s.UpsertRow(admin, "alpha", key, types.DetailRow{Key: 1, TokenCount: "10"})
	require.NoError(t, err)

	first, err := s.Visualization("alpha")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Overview.TotalStages)
	s.reports.wait()

	for i := 0; i < 3; i++ {
		_, err = s.GetCategories("alpha", "S1")
		require.NoError(t, err)
		_, err = s.GetDetail("alpha", key, 1, 10)
		require.NoError(t, err)
	}
	hits := testutil.ToFloat64(reportCacheTotal.WithLabelValues("hit"))
	cached, err := s.Visualization("alpha")
	require.NoError(t, err)
	assert.Equal(t, first, cached)
	assert.Equal(t, hits+1, testutil.ToFloat64(reportCacheTotal.WithLabelValues("hit")))

	// Reading an unknown stage creates it.
	_, err = s.GetCategories("alpha", "S2")
	require.NoError(t, err)
	fresh, err := s.Visualization("alpha")
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.Overview.TotalStages)
}

func TestService_StageCreateDelete(t *testing.T) {
	s := newTestService(t)

	_, err := s.CreateStage(admin, "alpha", "sft")
	require.NoError(t, err)
	_, err = s.CreateStage(admin, "alpha", "sft")
	assert.ErrorIs(t, err, types.ErrDuplicateName)

	assert.ErrorIs(t, s.DeleteStage(admin, "alpha", "nope"), types.ErrNotFound)
	assert.ErrorIs(t, s.DeleteStage(admin, "unknown", "sft"), types.ErrNotFound)
	require.NoError(t, s.DeleteStage(admin, "alpha", "sft"))

	stages, err := s.ListStages("alpha")
	require.NoError(t, err)
	assert.Empty(t, stages)
}

func TestService_ExportImport(t *testing.T) {
	s := newTestService(t)

	_, err := s.CreatePlan(admin, "src", "source plan")
	require.NoError(t, err)
	_, err = s.SaveDetail(admin, "src", detailKey("S1", "web", "cc"), "d", []types.DetailRow{{Key: 1, TokenCount: "2.5"}})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "src.jsonl")
	assert.ErrorIs(t, s.ExportPlan("missing", path), types.ErrNotFound)
	require.NoError(t, s.ExportPlan("src", path))

	require.NoError(t, s.ImportPlan(admin, "dst", path))

	p, err := s.GetPlan("dst")
	require.NoError(t, err)
	assert.Equal(t, "source plan", p.Description)

	report, err := s.Visualization("dst")
	require.NoError(t, err)
	assert.Equal(t, 2.5, report.Overview.TotalTokenCount)
}

func TestIsUserError(t *testing.T) {
	assert.True(t, IsUserError(types.ErrNotFound))
	assert.True(t, IsUserError(authorize(viewer)))
	assert.False(t, IsUserError(os.ErrPermission))
	assert.NoError(t, authorize(admin))
}
