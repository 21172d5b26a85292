// Package sqlite implements tokenplan storage on SQLite: the plan catalog,
// the per-plan database registry, and the stage and category-detail
// operations that run against a plan database.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/tokenplan/pkg/types"
)

// catalogFile is the catalog database name inside the data directory.
const catalogFile = "catalog.db"

// Catalog is the identity catalog: one record per plan, keyed by the
// canonical upper-case name.
type Catalog struct {
	mu      sync.RWMutex
	closed  bool
	db      *sql.DB
	writeMu sync.Mutex
}

// OpenCatalog opens or creates the catalog database in dataDir.
func OpenCatalog(dataDir string) (*Catalog, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	db, err := openSQLite(filepath.Join(dataDir, catalogFile), catalogDDL)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Close releases the catalog database. Close is idempotent.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}

// conn returns the database for the duration of one call. The caller must
// invoke release.
func (c *Catalog) conn() (db *sql.DB, release func(), err error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, nil, types.ErrStorageClosed
	}
	return c.db, c.mu.RUnlock, nil
}

// writeConn is conn for statements that modify the catalog. Writers are
// serialized so concurrent callers never contend for the SQLite write lock.
func (c *Catalog) writeConn() (db *sql.DB, release func(), err error) {
	db, release, err = c.conn()
	if err != nil {
		return nil, nil, err
	}
	c.writeMu.Lock()
	return db, func() {
		c.writeMu.Unlock()
		release()
	}, nil
}

// List returns every plan ordered by name.
func (c *Catalog) List() ([]types.Plan, error) {
	db, release, err := c.conn()
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := db.Query("SELECT plan_id, name, description, created_at FROM plans ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing plans: %w", err)
	}
	defer rows.Close()

	var plans []types.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning plan: %w", err)
		}
		plans = append(plans, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing plans: %w", err)
	}
	return plans, nil
}

// Get returns the plan with the given name, or ErrNotFound.
func (c *Catalog) Get(name string) (*types.Plan, error) {
	db, release, err := c.conn()
	if err != nil {
		return nil, err
	}
	defer release()

	return getPlan(db, types.NormalizeTenant(name))
}

// Create adds a plan. It returns ErrDuplicateName if a plan with the same
// canonical name exists.
func (c *Catalog) Create(name, description string) (*types.Plan, error) {
	if err := types.ValidateTenantName(name); err != nil {
		return nil, err
	}
	db, release, err := c.writeConn()
	if err != nil {
		return nil, err
	}
	defer release()

	canonical := types.NormalizeTenant(name)
	p, created, err := insertPlan(db, canonical, description)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, fmt.Errorf("plan %s: %w", canonical, types.ErrDuplicateName)
	}
	return p, nil
}

// GetOrCreate returns the named plan, creating it with an empty description
// if it does not exist.
func (c *Catalog) GetOrCreate(name string) (*types.Plan, error) {
	if err := types.ValidateTenantName(name); err != nil {
		return nil, err
	}
	db, release, err := c.writeConn()
	if err != nil {
		return nil, err
	}
	defer release()

	canonical := types.NormalizeTenant(name)
	p, created, err := insertPlan(db, canonical, "")
	if err != nil {
		return nil, err
	}
	if created {
		return p, nil
	}
	return getPlan(db, canonical)
}

// UpdateDescription replaces a plan's description. It returns ErrNotFound
// if the plan does not exist.
func (c *Catalog) UpdateDescription(name, description string) (*types.Plan, error) {
	db, release, err := c.writeConn()
	if err != nil {
		return nil, err
	}
	defer release()

	canonical := types.NormalizeTenant(name)
	res, err := db.Exec("UPDATE plans SET description = ? WHERE name = ?", description, canonical)
	if err != nil {
		return nil, fmt.Errorf("updating plan %s: %w", canonical, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("plan %s: %w", canonical, types.ErrNotFound)
	}
	return getPlan(db, canonical)
}

// Delete removes a plan record. It returns ErrNotFound if the plan does not
// exist. The plan's database is not touched; see Registry.Close.
func (c *Catalog) Delete(name string) error {
	db, release, err := c.writeConn()
	if err != nil {
		return err
	}
	defer release()

	canonical := types.NormalizeTenant(name)
	res, err := db.Exec("DELETE FROM plans WHERE name = ?", canonical)
	if err != nil {
		return fmt.Errorf("deleting plan %s: %w", canonical, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("plan %s: %w", canonical, types.ErrNotFound)
	}
	return nil
}

func getPlan(q querier, canonical string) (*types.Plan, error) {
	row := q.QueryRow("SELECT plan_id, name, description, created_at FROM plans WHERE name = ?", canonical)
	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plan %s: %w", canonical, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting plan %s: %w", canonical, err)
	}
	return p, nil
}

// insertPlan adds a catalog record in one statement. created is false when
// a plan with the same canonical name already exists.
func insertPlan(q querier, canonical, description string) (p *types.Plan, created bool, err error) {
	now := time.Now().UTC().Truncate(time.Second)
	p = &types.Plan{
		PlanID:      newPlanID(),
		Name:        canonical,
		Description: description,
		CreatedAt:   now,
	}
	res, err := q.Exec(
		"INSERT INTO plans (plan_id, name, description, created_at) VALUES (?, ?, ?, ?) ON CONFLICT(name) DO NOTHING",
		p.PlanID, p.Name, p.Description, now.Format(time.RFC3339),
	)
	if err != nil {
		return nil, false, fmt.Errorf("inserting plan %s: %w", canonical, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("inserting plan %s: %w", canonical, err)
	}
	if n == 0 {
		return nil, false, nil
	}
	return p, true, nil
}

// newPlanID generates a UUID v7, falling back to v4.
func newPlanID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(s rowScanner) (*types.Plan, error) {
	var p types.Plan
	var createdAt string
	if err := s.Scan(&p.PlanID, &p.Name, &p.Description, &createdAt); err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		p.CreatedAt = t
	}
	return &p, nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}
