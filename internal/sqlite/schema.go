package sqlite

import (
	"database/sql"
	"fmt"
	"net/url"
)

// Catalog DDL. The catalog holds one record per plan.
const (
	createPlans = `CREATE TABLE IF NOT EXISTS plans (
    plan_id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);`
)

// Per-plan DDL. categories, merges, and detail_rows hold JSON documents.
const (
	createStages = `CREATE TABLE IF NOT EXISTS stages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    stage_order INTEGER NOT NULL DEFAULT 0,
    categories TEXT NOT NULL DEFAULT '[]',
    merges TEXT NOT NULL DEFAULT '[]'
);`

	createStageRows = `CREATE TABLE IF NOT EXISTS stage_rows (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    stage_id INTEGER NOT NULL,
    row_order INTEGER NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    subcategory TEXT NOT NULL DEFAULT '',
    total_tokens TEXT NOT NULL DEFAULT '',
    sample_ratio TEXT NOT NULL DEFAULT '',
    cumulative_ratio TEXT NOT NULL DEFAULT '',
    sample_tokens TEXT NOT NULL DEFAULT '',
    category_ratio TEXT NOT NULL DEFAULT '',
    part1 TEXT NOT NULL DEFAULT '',
    part2 TEXT NOT NULL DEFAULT '',
    part3 TEXT NOT NULL DEFAULT '',
    part4 TEXT NOT NULL DEFAULT '',
    part5 TEXT NOT NULL DEFAULT '',
    note TEXT NOT NULL DEFAULT '',
    FOREIGN KEY (stage_id) REFERENCES stages(id) ON DELETE CASCADE
);`

	createCategoryDetails = `CREATE TABLE IF NOT EXISTS category_details (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    stage_id INTEGER NOT NULL,
    category_name TEXT NOT NULL,
    subcategory_name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    detail_rows TEXT NOT NULL DEFAULT '[]',
    token_count_total TEXT NOT NULL DEFAULT '0.00',
    actual_token_total TEXT NOT NULL DEFAULT '0.00',
    UNIQUE (stage_id, category_name, subcategory_name),
    FOREIGN KEY (stage_id) REFERENCES stages(id) ON DELETE CASCADE
);`
)

// Index DDL for common queries.
const (
	idxStageRowsStage       = `CREATE INDEX IF NOT EXISTS idx_stage_rows_stage ON stage_rows(stage_id, row_order);`
	idxCategoryDetailsStage = `CREATE INDEX IF NOT EXISTS idx_category_details_stage ON category_details(stage_id);`
)

// catalogDDL creates the catalog schema.
var catalogDDL = []string{
	createPlans,
}

// planDDL creates a plan database schema in dependency order.
var planDDL = []string{
	createStages,
	createStageRows,
	createCategoryDetails,
	idxStageRowsStage,
	idxCategoryDetailsStage,
}

// connPragmas are applied to every pooled connection through the DSN.
var connPragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"foreign_keys(1)",
}

// openSQLite opens the database at path with connPragmas and applies ddl.
func openSQLite(path string, ddl []string) (*sql.DB, error) {
	q := url.Values{}
	for _, p := range connPragmas {
		q.Add("_pragma", p)
	}
	db, err := sql.Open("sqlite", path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	for _, stmt := range ddl {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying schema to %s: %w", path, err)
		}
	}
	return db, nil
}
