package sqlite

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/tokenplan/pkg/types"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { r.Shutdown() })
	return r
}

func openTestPlan(t *testing.T, tenant string) *PlanDB {
	t.Helper()
	h, err := newTestRegistry(t).Open(tenant)
	require.NoError(t, err)
	return h
}

func TestNewRegistry_EmptyDataDir(t *testing.T) {
	_, err := NewRegistry("", nil)
	assert.ErrorIs(t, err, types.ErrDataDirEmpty)
}

func TestRegistry_OpenReturnsSameStorage(t *testing.T) {
	r := newTestRegistry(t)

	first, err := r.Open("alpha")
	require.NoError(t, err)
	_, err = first.UpsertDetailRow("S1", "web", "cc", types.DetailRow{Key: 1, TokenCount: "5"})
	require.NoError(t, err)

	second, err := r.Open(" ALPHA ")
	require.NoError(t, err)
	assert.Same(t, first, second)

	d, err := second.GetOrCreateDetail("S1", "web", "cc")
	require.NoError(t, err)
	assert.Len(t, d.Rows, 1)
	assert.Equal(t, r.Path("alpha"), second.Path())
	assert.Equal(t, "ALPHA", second.Tenant())
}

func TestRegistry_PathIsLowerCase(t *testing.T) {
	r := newTestRegistry(t)
	assert.Equal(t, "alpha.db", filepath.Base(r.Path("Alpha")))
	assert.Equal(t, plansDir, filepath.Base(filepath.Dir(r.Path("Alpha"))))
}

func TestRegistry_OpenRejectsBadNames(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Open("  ")
	assert.ErrorIs(t, err, types.ErrEmptyTenant)

	_, err = r.Open("../escape")
	assert.ErrorIs(t, err, types.ErrInvalidName)
}

func TestRegistry_CloseThenOpenIsEmpty(t *testing.T) {
	r := newTestRegistry(t)

	h, err := r.Open("alpha")
	require.NoError(t, err)
	_, err = h.GetOrCreateStage("S1")
	require.NoError(t, err)

	require.NoError(t, r.Close("alpha"))
	assert.False(t, r.Cached("alpha"))
	_, statErr := os.Stat(r.Path("alpha"))
	assert.True(t, os.IsNotExist(statErr))

	_, err = h.ListStages()
	assert.ErrorIs(t, err, types.ErrStorageClosed)

	fresh, err := r.Open("alpha")
	require.NoError(t, err)
	assert.NotSame(t, h, fresh)
	stages, err := fresh.ListStages()
	require.NoError(t, err)
	assert.Empty(t, stages)
}

func TestRegistry_CloseUnknownTenant(t *testing.T) {
	r := newTestRegistry(t)
	assert.NoError(t, r.Close("never-opened"))
}

func TestRegistry_ConcurrentOpenBuildsOneHandle(t *testing.T) {
	if testing.Short() {
		t.Skip("concurrency stress test")
	}
	r := newTestRegistry(t)
	misses := testutil.ToFloat64(registryOpenTotal.WithLabelValues("miss"))

	const n = 16
	handles := make([]*PlanDB, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := r.Open("beta")
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
	assert.Equal(t, misses+1, testutil.ToFloat64(registryOpenTotal.WithLabelValues("miss")))
}

func TestRegistry_ShutdownKeepsFiles(t *testing.T) {
	r := newTestRegistry(t)

	h, err := r.Open("alpha")
	require.NoError(t, err)
	_, err = h.GetOrCreateStage("S1")
	require.NoError(t, err)

	require.NoError(t, r.Shutdown())
	_, err = h.ListStages()
	assert.ErrorIs(t, err, types.ErrStorageClosed)

	_, statErr := os.Stat(r.Path("alpha"))
	require.NoError(t, statErr)

	reopened, err := r.Open("alpha")
	require.NoError(t, err)
	stages, err := reopened.ListStages()
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, "S1", stages[0].Name)
}
