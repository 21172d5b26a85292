package sqlite

import (
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mesh-intelligence/tokenplan/pkg/types"
)

// PlanDB is the storage handle for one plan. Handles are created and
// cached by Registry; after Registry.Close every method returns
// ErrStorageClosed.
type PlanDB struct {
	tenant string
	path   string

	mu      sync.RWMutex
	closed  bool
	db      *sql.DB
	writeMu sync.Mutex

	stageGen atomic.Uint64
}

func openPlanDB(tenant, path string) (*PlanDB, error) {
	db, err := openSQLite(path, planDDL)
	if err != nil {
		return nil, err
	}
	return &PlanDB{tenant: tenant, path: path, db: db}, nil
}

// Tenant returns the canonical plan name this handle serves.
func (p *PlanDB) Tenant() string { return p.tenant }

// Path returns the database file backing this handle.
func (p *PlanDB) Path() string { return p.path }

// StageGeneration increases every time a write creates a stage on this
// handle. Callers compare generations around an operation to learn whether
// it added stages.
func (p *PlanDB) StageGeneration() uint64 { return p.stageGen.Load() }

// close releases the database. Later calls return ErrStorageClosed.
func (p *PlanDB) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}

// read runs fn against the database while holding the handle open.
func (p *PlanDB) read(fn func(q querier) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return types.ErrStorageClosed
	}
	return fn(p.db)
}

// write runs fn in a transaction. Writers on one handle are serialized so
// each read-modify-write sees the previous commit.
func (p *PlanDB) write(fn func(tx *sql.Tx) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return types.ErrStorageClosed
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
