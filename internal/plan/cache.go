package plan

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mesh-intelligence/tokenplan/pkg/types"
)

// reportCacheTotal counts report lookups by result (hit, miss).
var reportCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tokenplan_report_cache_total",
	Help: "Visualization report cache lookups by result",
}, []string{"result"})

// reportEntryCost approximates the memory of one report element in bytes.
const reportEntryCost = 256

// reportCache is an in-process L1 cache of plan reports. Entries are keyed
// by plan and a per-plan version; bumping the version on mutation makes
// older entries unreachable.
type reportCache struct {
	c        *ristretto.Cache[string, types.Report]
	versions sync.Map // plan -> *atomic.Uint64
}

// newReportCache creates a cache bounded to maxCostBytes.
func newReportCache(maxCostBytes int64) (*reportCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, types.Report]{
		NumCounters: maxCostBytes / reportEntryCost * 10,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating report cache: %w", err)
	}
	return &reportCache{c: c}, nil
}

func (rc *reportCache) version(plan string) *atomic.Uint64 {
	v, _ := rc.versions.LoadOrStore(plan, new(atomic.Uint64))
	return v.(*atomic.Uint64)
}

func (rc *reportCache) key(plan string) string {
	return fmt.Sprintf("%s:%d", plan, rc.version(plan).Load())
}

// get returns the cached report for plan's current version.
func (rc *reportCache) get(plan string) (types.Report, bool) {
	r, ok := rc.c.Get(rc.key(plan))
	if ok {
		reportCacheTotal.WithLabelValues("hit").Inc()
	} else {
		reportCacheTotal.WithLabelValues("miss").Inc()
	}
	return r, ok
}

// set caches r under the version observed before it was built. A mutation
// in between leaves the entry unreachable.
func (rc *reportCache) set(key string, r types.Report) {
	rc.c.Set(key, r, reportCost(r))
}

// invalidate makes every cached report for plan unreachable.
func (rc *reportCache) invalidate(plan string) {
	rc.version(plan).Add(1)
}

// wait blocks until pending sets are applied.
func (rc *reportCache) wait() {
	rc.c.Wait()
}

func (rc *reportCache) close() {
	rc.c.Close()
}

func reportCost(r types.Report) int64 {
	n := 1 + len(r.StageStats) + len(r.CategoryStats) + len(r.SubcategoryStats) +
		len(r.CategoryDistribution) + len(r.TokenTrends)
	return int64(n * reportEntryCost)
}
