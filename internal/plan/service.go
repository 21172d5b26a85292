// Package plan is the core boundary of tokenplan. Service ties the plan
// catalog, the per-plan storage registry, and the report cache together and
// enforces caller authorization on every mutation.
package plan

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/mesh-intelligence/tokenplan/internal/logging"
	"github.com/mesh-intelligence/tokenplan/internal/sqlite"
	"github.com/mesh-intelligence/tokenplan/pkg/types"
)

// Service implements the plan operations over SQLite storage.
type Service struct {
	catalog  *sqlite.Catalog
	registry *sqlite.Registry
	reports  *reportCache
	logger   *slog.Logger
	pageSize int
}

// New opens the catalog and registry under cfg.DataDir.
func New(cfg types.Config, logger *slog.Logger) (*Service, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Discard()
	}

	catalog, err := sqlite.OpenCatalog(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	registry, err := sqlite.NewRegistry(cfg.DataDir, logger)
	if err != nil {
		catalog.Close()
		return nil, err
	}
	reports, err := newReportCache(cfg.ReportCacheMB << 20)
	if err != nil {
		catalog.Close()
		return nil, err
	}

	return &Service{
		catalog:  catalog,
		registry: registry,
		reports:  reports,
		logger:   logger,
		pageSize: cfg.PageSize,
	}, nil
}

// Close releases every open database and the report cache.
func (s *Service) Close() error {
	err := errors.Join(s.registry.Shutdown(), s.catalog.Close())
	s.reports.close()
	return err
}

// StoragePath returns the database file of the named plan.
func (s *Service) StoragePath(name string) string {
	return s.registry.Path(name)
}

// ListPlans returns every plan with its stage count.
func (s *Service) ListPlans() ([]types.PlanSummary, error) {
	plans, err := s.catalog.List()
	if err != nil {
		return nil, s.failed("list plans", err)
	}
	out := make([]types.PlanSummary, 0, len(plans))
	for _, p := range plans {
		db, err := s.registry.Open(p.Name)
		if err != nil {
			return nil, s.failed("list plans", err)
		}
		n, err := db.StageCount()
		if err != nil {
			return nil, s.failed("list plans", err)
		}
		out = append(out, p.Summary(n))
	}
	return out, nil
}

// GetPlan returns the catalog record of the named plan.
func (s *Service) GetPlan(name string) (*types.Plan, error) {
	p, err := s.catalog.Get(name)
	if err != nil {
		return nil, s.failed("get plan", err)
	}
	return p, nil
}

// CreatePlan adds a plan and initializes its storage. If storage cannot be
// created the catalog record is removed again.
func (s *Service) CreatePlan(caller types.Caller, name, description string) (*types.Plan, error) {
	if err := authorize(caller); err != nil {
		return nil, s.failed("create plan", err)
	}
	p, err := s.catalog.Create(name, description)
	if err != nil {
		return nil, s.failed("create plan", err)
	}
	if _, err := s.registry.Open(p.Name); err != nil {
		if derr := s.catalog.Delete(p.Name); derr != nil {
			err = errors.Join(err, derr)
		}
		return nil, s.failed("create plan", err)
	}
	s.logger.Debug("plan created", "plan", p.Name, "caller", caller.Name)
	return p, nil
}

// UpdatePlan replaces a plan's description.
func (s *Service) UpdatePlan(caller types.Caller, name, description string) (*types.Plan, error) {
	if err := authorize(caller); err != nil {
		return nil, s.failed("update plan", err)
	}
	p, err := s.catalog.UpdateDescription(name, description)
	if err != nil {
		return nil, s.failed("update plan", err)
	}
	s.logger.Debug("plan updated", "plan", p.Name, "caller", caller.Name)
	return p, nil
}

// DeletePlan removes the catalog record and then the plan's storage.
func (s *Service) DeletePlan(caller types.Caller, name string) error {
	if err := authorize(caller); err != nil {
		return s.failed("delete plan", err)
	}
	if err := s.catalog.Delete(name); err != nil {
		return s.failed("delete plan", err)
	}
	key := types.NormalizeTenant(name)
	s.reports.invalidate(key)
	if err := s.registry.Close(key); err != nil {
		return s.failed("delete plan", err)
	}
	s.logger.Debug("plan deleted", "plan", key, "caller", caller.Name)
	return nil
}

// GetPlanData returns the plan description and every stage's rows and
// merges in stage order. The plan is created if it does not exist.
func (s *Service) GetPlanData(name string) (types.PlanData, error) {
	p, db, err := s.upsert(name)
	if err != nil {
		return types.PlanData{}, s.failed("get plan data", err)
	}
	stages, err := db.StageSet()
	if err != nil {
		return types.PlanData{}, s.failed("get plan data", err)
	}
	return types.PlanData{Description: p.Description, Stages: stages}, nil
}

// SavePlanData writes a whole plan: the description, and exactly the given
// stages with their rows and merges.
func (s *Service) SavePlanData(caller types.Caller, name string, data types.PlanData) error {
	if err := authorize(caller); err != nil {
		return s.failed("save plan data", err)
	}
	if err := validateStruct(data); err != nil {
		return s.failed("save plan data", err)
	}
	p, db, err := s.upsert(name)
	if err != nil {
		return s.failed("save plan data", err)
	}
	if _, err := s.catalog.UpdateDescription(p.Name, data.Description); err != nil {
		return s.failed("save plan data", err)
	}
	defer s.reports.invalidate(p.Name)
	if err := db.ReconcileStages(data.Stages); err != nil {
		return s.failed("save plan data", err)
	}
	s.logger.Debug("plan saved", "plan", p.Name, "stages", len(data.Stages), "caller", caller.Name)
	return nil
}

// ListStages returns the stages of an existing plan.
func (s *Service) ListStages(name string) ([]types.StageSummary, error) {
	p, err := s.catalog.Get(name)
	if err != nil {
		return nil, s.failed("list stages", err)
	}
	db, err := s.registry.Open(p.Name)
	if err != nil {
		return nil, s.failed("list stages", err)
	}
	stages, err := db.StageSummaries()
	if err != nil {
		return nil, s.failed("list stages", err)
	}
	if stages == nil {
		stages = []types.StageSummary{}
	}
	return stages, nil
}

// CreateStage adds a stage to a plan, creating the plan if needed.
func (s *Service) CreateStage(caller types.Caller, plan, stage string) (*types.Stage, error) {
	if err := authorize(caller); err != nil {
		return nil, s.failed("create stage", err)
	}
	p, db, err := s.upsert(plan)
	if err != nil {
		return nil, s.failed("create stage", err)
	}
	st, err := db.CreateStage(stage)
	if err != nil {
		return nil, s.failed("create stage", err)
	}
	s.reports.invalidate(p.Name)
	s.logger.Debug("stage created", "plan", p.Name, "stage", stage, "caller", caller.Name)
	return st, nil
}

// DeleteStage removes a stage with its rows and details.
func (s *Service) DeleteStage(caller types.Caller, plan, stage string) error {
	if err := authorize(caller); err != nil {
		return s.failed("delete stage", err)
	}
	p, err := s.catalog.Get(plan)
	if err != nil {
		return s.failed("delete stage", err)
	}
	db, err := s.registry.Open(p.Name)
	if err != nil {
		return s.failed("delete stage", err)
	}
	if err := db.DeleteStage(stage); err != nil {
		return s.failed("delete stage", err)
	}
	s.reports.invalidate(p.Name)
	s.logger.Debug("stage deleted", "plan", p.Name, "stage", stage, "caller", caller.Name)
	return nil
}

// GetCategories returns a stage's category tree merged with live totals.
func (s *Service) GetCategories(plan, stage string) (types.CategoryView, error) {
	p, db, err := s.upsert(plan)
	if err != nil {
		return types.CategoryView{}, s.failed("get categories", err)
	}
	gen := db.StageGeneration()
	view, err := db.CategoryView(stage)
	if err != nil {
		return types.CategoryView{}, s.failed("get categories", err)
	}
	s.invalidateIfStaged(p.Name, db, gen)
	return view, nil
}

// SaveCategories replaces a stage's description and category tree.
func (s *Service) SaveCategories(caller types.Caller, plan, stage, description string, tree []types.CategoryNode) error {
	if err := authorize(caller); err != nil {
		return s.failed("save categories", err)
	}
	if err := validateStruct(categoryTree{Categories: tree}); err != nil {
		return s.failed("save categories", err)
	}
	p, db, err := s.upsert(plan)
	if err != nil {
		return s.failed("save categories", err)
	}
	if err := db.SaveCategoryTree(stage, description, tree); err != nil {
		return s.failed("save categories", err)
	}
	s.reports.invalidate(p.Name)
	s.logger.Debug("categories saved", "plan", p.Name, "stage", stage, "categories", len(tree), "caller", caller.Name)
	return nil
}

// GetDetail returns one page of a category detail. A non-positive pageSize
// uses the configured default.
func (s *Service) GetDetail(plan string, key types.DetailKey, page, pageSize int) (types.DetailPage, error) {
	if err := validateStruct(key); err != nil {
		return types.DetailPage{}, s.failed("get detail", err)
	}
	if pageSize < 1 {
		pageSize = s.pageSize
	}
	p, db, err := s.upsert(plan)
	if err != nil {
		return types.DetailPage{}, s.failed("get detail", err)
	}
	gen := db.StageGeneration()
	out, err := db.DetailPage(key.Stage, key.Category, key.Subcategory, page, pageSize)
	if err != nil {
		return types.DetailPage{}, s.failed("get detail", err)
	}
	s.invalidateIfStaged(p.Name, db, gen)
	return out, nil
}

// invalidateIfStaged drops cached reports for plan when a read created a
// stage after generation gen.
func (s *Service) invalidateIfStaged(plan string, db *sqlite.PlanDB, gen uint64) {
	if db.StageGeneration() != gen {
		s.reports.invalidate(plan)
	}
}

// SaveDetail replaces a detail's description and rows wholesale.
func (s *Service) SaveDetail(caller types.Caller, plan string, key types.DetailKey, description string, rows []types.DetailRow) (types.Totals, error) {
	if err := authorize(caller); err != nil {
		return types.Totals{}, s.failed("save detail", err)
	}
	if err := validateStruct(detailRows{Rows: rows}); err != nil {
		return types.Totals{}, s.failed("save detail", err)
	}
	return s.mutateDetail(caller, "save detail", plan, key, func(db *sqlite.PlanDB) (types.Totals, error) {
		return db.ReplaceDetail(key.Stage, key.Category, key.Subcategory, description, rows)
	})
}

// UpdateDetailDescription replaces only a detail's description.
func (s *Service) UpdateDetailDescription(caller types.Caller, plan string, key types.DetailKey, description string) (types.Totals, error) {
	return s.mutateDetail(caller, "update detail description", plan, key, func(db *sqlite.PlanDB) (types.Totals, error) {
		return db.SetDetailDescription(key.Stage, key.Category, key.Subcategory, description)
	})
}

// UpsertRow replaces or appends one detail row.
func (s *Service) UpsertRow(caller types.Caller, plan string, key types.DetailKey, row types.DetailRow) (types.Totals, error) {
	return s.mutateDetail(caller, "upsert row", plan, key, func(db *sqlite.PlanDB) (types.Totals, error) {
		return db.UpsertDetailRow(key.Stage, key.Category, key.Subcategory, row)
	})
}

// DeleteRows removes detail rows by key.
func (s *Service) DeleteRows(caller types.Caller, plan string, key types.DetailKey, keys []int64) (types.DeleteResult, error) {
	var result types.DeleteResult
	_, err := s.mutateDetail(caller, "delete rows", plan, key, func(db *sqlite.PlanDB) (types.Totals, error) {
		var err error
		result, err = db.DeleteDetailRows(key.Stage, key.Category, key.Subcategory, keys)
		return result.Totals, err
	})
	return result, err
}

// Visualization returns the plan report, served from cache while the plan
// is unchanged.
func (s *Service) Visualization(plan string) (types.Report, error) {
	p, err := s.catalog.Get(plan)
	if err != nil {
		return types.Report{}, s.failed("visualization", err)
	}
	if r, ok := s.reports.get(p.Name); ok {
		return r, nil
	}
	cacheKey := s.reports.key(p.Name)

	db, err := s.registry.Open(p.Name)
	if err != nil {
		return types.Report{}, s.failed("visualization", err)
	}
	r, err := db.Aggregate()
	if err != nil {
		return types.Report{}, s.failed("visualization", err)
	}
	s.reports.set(cacheKey, r)
	return r, nil
}

// ExportPlan writes a JSONL snapshot of an existing plan to path.
func (s *Service) ExportPlan(plan, path string) error {
	p, err := s.catalog.Get(plan)
	if err != nil {
		return s.failed("export plan", err)
	}
	db, err := s.registry.Open(p.Name)
	if err != nil {
		return s.failed("export plan", err)
	}
	if err := db.ExportSnapshot(filepath.Clean(path), *p); err != nil {
		return s.failed("export plan", err)
	}
	s.logger.Debug("plan exported", "plan", p.Name, "path", path)
	return nil
}

// ImportPlan replaces a plan's contents with the snapshot at path. The
// plan is created if needed and takes the snapshot's description.
func (s *Service) ImportPlan(caller types.Caller, plan, path string) error {
	if err := authorize(caller); err != nil {
		return s.failed("import plan", err)
	}
	snap, err := sqlite.ReadSnapshot(filepath.Clean(path))
	if err != nil {
		return s.failed("import plan", err)
	}
	p, db, err := s.upsert(plan)
	if err != nil {
		return s.failed("import plan", err)
	}
	defer s.reports.invalidate(p.Name)
	if err := db.LoadSnapshot(snap); err != nil {
		return s.failed("import plan", err)
	}
	if _, err := s.catalog.UpdateDescription(p.Name, snap.Description); err != nil {
		return s.failed("import plan", err)
	}
	s.logger.Debug("plan imported", "plan", p.Name, "from", snap.Name, "path", path, "caller", caller.Name)
	return nil
}

func (s *Service) mutateDetail(caller types.Caller, op, plan string, key types.DetailKey, fn func(*sqlite.PlanDB) (types.Totals, error)) (types.Totals, error) {
	if err := authorize(caller); err != nil {
		return types.Totals{}, s.failed(op, err)
	}
	if err := validateStruct(key); err != nil {
		return types.Totals{}, s.failed(op, err)
	}
	p, db, err := s.upsert(plan)
	if err != nil {
		return types.Totals{}, s.failed(op, err)
	}
	defer s.reports.invalidate(p.Name)
	totals, err := fn(db)
	if err != nil {
		return types.Totals{}, s.failed(op, err)
	}
	s.logger.Debug(op, "plan", p.Name, "stage", key.Stage, "category", key.Category,
		"subcategory", key.Subcategory, "caller", caller.Name)
	return totals, nil
}

// upsert returns the named plan and its storage, creating the catalog
// record if needed.
func (s *Service) upsert(name string) (*types.Plan, *sqlite.PlanDB, error) {
	p, err := s.catalog.GetOrCreate(name)
	if err != nil {
		return nil, nil, err
	}
	db, err := s.registry.Open(p.Name)
	if err != nil {
		return nil, nil, err
	}
	return p, db, nil
}

// failed logs err and returns it. Caller mistakes are logged at debug.
func (s *Service) failed(op string, err error) error {
	if IsUserError(err) {
		s.logger.Debug("plan operation rejected", "op", op, "error", err)
	} else {
		s.logger.Error("plan operation failed", "op", op, "error", err)
	}
	return err
}

// IsUserError reports whether err is caused by the caller's input rather
// than by storage.
func IsUserError(err error) bool {
	for _, target := range []error{
		types.ErrNotFound,
		types.ErrDuplicateName,
		types.ErrInvalidName,
		types.ErrInvalidData,
		types.ErrUnauthorized,
		types.ErrEmptyTenant,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func authorize(c types.Caller) error {
	if !c.Authorized {
		if c.Name == "" {
			return types.ErrUnauthorized
		}
		return fmt.Errorf("%s: %w", c.Name, types.ErrUnauthorized)
	}
	return nil
}
