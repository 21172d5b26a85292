package sqlite

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/mesh-intelligence/tokenplan/pkg/types"
)

// plansDir is the subdirectory of the data directory holding plan databases.
const plansDir = "plans"

// Registry maps plan names to their database handles. It creates a plan's
// database on first Open and caches the handle until Close or Shutdown.
// Lookups of cached handles take no lock; construction and teardown are
// serialized per plan, and different plans never contend.
type Registry struct {
	dataDir string
	logger  *slog.Logger

	handles sync.Map // canonical name -> *PlanDB
	locks   sync.Map // canonical name -> *sync.Mutex
	group   singleflight.Group
}

// NewRegistry returns a registry storing plan databases under
// <dataDir>/plans.
func NewRegistry(dataDir string, logger *slog.Logger) (*Registry, error) {
	if dataDir == "" {
		return nil, types.ErrDataDirEmpty
	}
	if err := os.MkdirAll(filepath.Join(dataDir, plansDir), 0o755); err != nil {
		return nil, fmt.Errorf("creating plans directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{dataDir: dataDir, logger: logger}, nil
}

// Path returns the database file for tenant.
func (r *Registry) Path(tenant string) string {
	return filepath.Join(r.dataDir, plansDir, types.StorageKey(tenant)+".db")
}

// Open returns the cached handle for tenant, creating the database if
// needed. Concurrent opens of an unseen tenant share one construction.
func (r *Registry) Open(tenant string) (*PlanDB, error) {
	if err := types.ValidateTenantName(tenant); err != nil {
		return nil, err
	}
	key := types.NormalizeTenant(tenant)

	if h, ok := r.handles.Load(key); ok {
		registryOpenTotal.WithLabelValues("hit").Inc()
		return h.(*PlanDB), nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		mu := r.lock(key)
		mu.Lock()
		defer mu.Unlock()

		if h, ok := r.handles.Load(key); ok {
			return h, nil
		}
		h, err := openPlanDB(key, r.Path(key))
		if err != nil {
			return nil, err
		}
		r.handles.Store(key, h)
		registryOpenTotal.WithLabelValues("miss").Inc()
		registryOpenHandles.Inc()
		r.logger.Info("plan database opened", "plan", key, "path", h.Path())
		return h, nil
	})
	if err != nil {
		registryOpenTotal.WithLabelValues("error").Inc()
		r.logger.Error("plan database open failed", "plan", key, "error", err)
		return nil, fmt.Errorf("opening plan database %s: %w", key, err)
	}
	return v.(*PlanDB), nil
}

// Close tears down tenant's storage: the cached handle is removed and
// closed, then the database file and its WAL side files are deleted.
// Missing files are not an error.
func (r *Registry) Close(tenant string) error {
	if err := types.ValidateTenantName(tenant); err != nil {
		return err
	}
	key := types.NormalizeTenant(tenant)

	mu := r.lock(key)
	mu.Lock()
	defer mu.Unlock()

	var errs []error
	if h, ok := r.handles.LoadAndDelete(key); ok {
		registryOpenHandles.Dec()
		if err := h.(*PlanDB).close(); err != nil {
			errs = append(errs, fmt.Errorf("closing plan database %s: %w", key, err))
		}
	}

	path := r.Path(key)
	for _, f := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("removing %s: %w", f, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		r.logger.Error("plan database teardown failed", "plan", key, "error", err)
		return err
	}
	registryCloseTotal.Inc()
	r.logger.Info("plan database deleted", "plan", key, "path", path)
	return nil
}

// Shutdown closes every cached handle without deleting any files.
func (r *Registry) Shutdown() error {
	var errs []error
	r.handles.Range(func(k, v any) bool {
		if _, ok := r.handles.LoadAndDelete(k); !ok {
			return true
		}
		registryOpenHandles.Dec()
		if err := v.(*PlanDB).close(); err != nil {
			errs = append(errs, fmt.Errorf("closing plan database %s: %w", k, err))
		}
		return true
	})
	return errors.Join(errs...)
}

// Cached reports whether tenant has a cached handle.
func (r *Registry) Cached(tenant string) bool {
	_, ok := r.handles.Load(types.NormalizeTenant(tenant))
	return ok
}

// lock returns the construction mutex for key.
func (r *Registry) lock(key string) *sync.Mutex {
	mu, _ := r.locks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
