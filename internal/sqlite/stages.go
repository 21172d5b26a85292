package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/tokenplan/internal/rollup"
	"github.com/mesh-intelligence/tokenplan/pkg/types"
)

const stageColumns = "id, name, description, stage_order, categories, merges"

const rowColumns = "category, subcategory, total_tokens, sample_ratio, cumulative_ratio, sample_tokens, " +
	"category_ratio, part1, part2, part3, part4, part5, note"

// ListStages returns the plan's stages ordered by stage order, then by
// creation sequence.
func (p *PlanDB) ListStages() ([]types.Stage, error) {
	var stages []types.Stage
	err := p.read(func(q querier) error {
		var err error
		stages, err = listStages(q)
		return err
	})
	return stages, err
}

// GetOrCreateStage returns the named stage, creating it after every
// existing stage when absent.
func (p *PlanDB) GetOrCreateStage(name string) (*types.Stage, error) {
	var stage *types.Stage
	err := p.write(func(tx *sql.Tx) error {
		var err error
		stage, err = p.getOrCreateStage(tx, name)
		return err
	})
	return stage, err
}

// CreateStage creates a stage, returning ErrDuplicateName if it exists.
func (p *PlanDB) CreateStage(name string) (*types.Stage, error) {
	var stage *types.Stage
	err := p.write(func(tx *sql.Tx) error {
		if err := validateStageName(name); err != nil {
			return err
		}
		if _, err := stageByName(tx, name); err == nil {
			return fmt.Errorf("stage %s: %w", name, types.ErrDuplicateName)
		} else if !errors.Is(err, types.ErrNotFound) {
			return err
		}
		var err error
		stage, err = p.getOrCreateStage(tx, name)
		return err
	})
	return stage, err
}

// StageSummaries lists every stage with its table row count.
func (p *PlanDB) StageSummaries() ([]types.StageSummary, error) {
	var out []types.StageSummary
	err := p.read(func(q querier) error {
		rows, err := q.Query(`SELECT s.id, s.name, s.stage_order, COUNT(r.id)
FROM stages s LEFT JOIN stage_rows r ON r.stage_id = s.id
GROUP BY s.id ORDER BY s.stage_order, s.id`)
		if err != nil {
			return fmt.Errorf("listing stage summaries: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var s types.StageSummary
			if err := rows.Scan(&s.StageID, &s.Name, &s.Order, &s.RowCount); err != nil {
				return fmt.Errorf("scanning stage summary: %w", err)
			}
			out = append(out, s)
		}
		return rows.Err()
	})
	return out, err
}

// StageCount returns the number of stages in the plan.
func (p *PlanDB) StageCount() (int, error) {
	var n int
	err := p.read(func(q querier) error {
		if err := q.QueryRow("SELECT COUNT(*) FROM stages").Scan(&n); err != nil {
			return fmt.Errorf("counting stages: %w", err)
		}
		return nil
	})
	return n, err
}

// StageRows returns a stage's table rows in row order.
func (p *PlanDB) StageRows(stageID int64) ([]types.Row, error) {
	var out []types.Row
	err := p.read(func(q querier) error {
		var err error
		out, err = stageRows(q, stageID)
		return err
	})
	return out, err
}

// ReplaceStageContents replaces a stage's rows and merges wholesale. Row
// positions in rows become their order.
func (p *PlanDB) ReplaceStageContents(stageID int64, rows []types.Row, merges []types.Merge) error {
	return p.write(func(tx *sql.Tx) error {
		return replaceStageContents(tx, stageID, rows, merges)
	})
}

// ReconcileStages makes the plan hold exactly the given stages: stages not
// named are deleted with their rows and details, the rest are created as
// needed and have their rows and merges replaced.
func (p *PlanDB) ReconcileStages(stages []types.StageData) error {
	return p.write(func(tx *sql.Tx) error {
		keep := make(map[string]bool, len(stages))
		for _, s := range stages {
			keep[s.Name] = true
		}
		existing, err := listStages(tx)
		if err != nil {
			return err
		}
		for _, s := range existing {
			if keep[s.Name] {
				continue
			}
			if err := deleteStage(tx, s.StageID); err != nil {
				return err
			}
		}
		for _, s := range stages {
			stage, err := p.getOrCreateStage(tx, s.Name)
			if err != nil {
				return err
			}
			if err := replaceStageContents(tx, stage.StageID, s.Rows, s.Merges); err != nil {
				return err
			}
		}
		return nil
	})
}

// StageSet returns every stage's rows and merges in stage order.
func (p *PlanDB) StageSet() (types.StageSet, error) {
	out := types.StageSet{}
	err := p.read(func(q querier) error {
		stages, err := listStages(q)
		if err != nil {
			return err
		}
		for _, s := range stages {
			rows, err := stageRows(q, s.StageID)
			if err != nil {
				return err
			}
			out = append(out, types.StageData{Name: s.Name, Rows: rows, Merges: s.Merges})
		}
		return nil
	})
	return out, err
}

// CategoryTree returns a stage's description and category tree, creating
// the stage if needed. An empty tree over existing details is rebuilt from
// the detail keys and saved.
func (p *PlanDB) CategoryTree(stageName string) (string, []types.CategoryNode, error) {
	var description string
	var tree []types.CategoryNode
	err := p.write(func(tx *sql.Tx) error {
		stage, err := p.getOrCreateStage(tx, stageName)
		if err != nil {
			return err
		}
		description, tree = stage.Description, stage.Categories
		if len(tree) > 0 {
			return nil
		}
		keys, err := detailKeys(tx, stage.StageID)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		tree = rollup.BuildTree(keys)
		return saveCategoryTree(tx, stage.StageID, description, tree)
	})
	if tree == nil {
		tree = []types.CategoryNode{}
	}
	return description, tree, err
}

// SaveCategoryTree replaces a stage's description and category tree.
func (p *PlanDB) SaveCategoryTree(stageName, description string, tree []types.CategoryNode) error {
	return p.write(func(tx *sql.Tx) error {
		stage, err := p.getOrCreateStage(tx, stageName)
		if err != nil {
			return err
		}
		return saveCategoryTree(tx, stage.StageID, description, tree)
	})
}

// DeleteStage removes a stage with its rows and details. It returns
// ErrNotFound if the stage does not exist.
func (p *PlanDB) DeleteStage(name string) error {
	return p.write(func(tx *sql.Tx) error {
		stage, err := stageByName(tx, name)
		if err != nil {
			return err
		}
		return deleteStage(tx, stage.StageID)
	})
}

func validateStageName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("stage name: %w", types.ErrInvalidName)
	}
	return nil
}

func listStages(q querier) ([]types.Stage, error) {
	rows, err := q.Query("SELECT " + stageColumns + " FROM stages ORDER BY stage_order, id")
	if err != nil {
		return nil, fmt.Errorf("listing stages: %w", err)
	}
	defer rows.Close()

	var stages []types.Stage
	for rows.Next() {
		s, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		stages = append(stages, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing stages: %w", err)
	}
	return stages, nil
}

func stageByName(q querier, name string) (*types.Stage, error) {
	s, err := scanStage(q.QueryRow("SELECT "+stageColumns+" FROM stages WHERE name = ?", name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stage %s: %w", name, types.ErrNotFound)
	}
	return s, err
}

// getOrCreateStage resolves a stage inside a write and advances the
// stage generation when it had to insert one.
func (p *PlanDB) getOrCreateStage(tx *sql.Tx, name string) (*types.Stage, error) {
	stage, created, err := getOrCreateStage(tx, name)
	if created {
		p.stageGen.Add(1)
	}
	return stage, err
}

// getOrCreateStage is the single get-or-create policy for stages. New
// stages are ordered after every existing one.
func getOrCreateStage(tx *sql.Tx, name string) (stage *types.Stage, created bool, err error) {
	if err := validateStageName(name); err != nil {
		return nil, false, err
	}
	s, err := stageByName(tx, name)
	if err == nil {
		return s, false, nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return nil, false, err
	}

	var next int
	if err := tx.QueryRow("SELECT COALESCE(MAX(stage_order) + 1, 0) FROM stages").Scan(&next); err != nil {
		return nil, false, fmt.Errorf("computing stage order: %w", err)
	}
	res, err := tx.Exec(
		"INSERT INTO stages (name, description, stage_order, categories, merges) VALUES (?, '', ?, '[]', '[]')",
		name, next,
	)
	if err != nil {
		return nil, false, fmt.Errorf("creating stage %s: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("creating stage %s: %w", name, err)
	}
	return &types.Stage{
		StageID:    id,
		Name:       name,
		Order:      next,
		Categories: []types.CategoryNode{},
		Merges:     []types.Merge{},
	}, true, nil
}

func scanStage(s rowScanner) (*types.Stage, error) {
	var st types.Stage
	var categories, merges string
	if err := s.Scan(&st.StageID, &st.Name, &st.Description, &st.Order, &categories, &merges); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning stage: %w", err)
	}
	var err error
	if st.Categories, err = decodeCategories(categories); err != nil {
		return nil, fmt.Errorf("stage %s: %w", st.Name, err)
	}
	if st.Merges, err = decodeMerges(merges); err != nil {
		return nil, fmt.Errorf("stage %s: %w", st.Name, err)
	}
	return &st, nil
}

func stageRows(q querier, stageID int64) ([]types.Row, error) {
	rows, err := q.Query("SELECT id, "+rowColumns+" FROM stage_rows WHERE stage_id = ? ORDER BY row_order, id", stageID)
	if err != nil {
		return nil, fmt.Errorf("listing stage rows: %w", err)
	}
	defer rows.Close()

	out := []types.Row{}
	for rows.Next() {
		var r types.Row
		if err := rows.Scan(
			&r.Key, &r.Category, &r.Subcategory, &r.TotalTokens, &r.SampleRatio, &r.CumulativeRatio,
			&r.SampleTokens, &r.CategoryRatio, &r.Part1, &r.Part2, &r.Part3, &r.Part4, &r.Part5, &r.Note,
		); err != nil {
			return nil, fmt.Errorf("scanning stage row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing stage rows: %w", err)
	}
	return out, nil
}

func replaceStageContents(tx *sql.Tx, stageID int64, rows []types.Row, merges []types.Merge) error {
	if _, err := tx.Exec("DELETE FROM stage_rows WHERE stage_id = ?", stageID); err != nil {
		return fmt.Errorf("clearing stage rows: %w", err)
	}

	stmt, err := tx.Prepare("INSERT INTO stage_rows (stage_id, row_order, " + rowColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing stage row insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range rows {
		if _, err := stmt.Exec(
			stageID, i, r.Category, r.Subcategory, r.TotalTokens, r.SampleRatio, r.CumulativeRatio,
			r.SampleTokens, r.CategoryRatio, r.Part1, r.Part2, r.Part3, r.Part4, r.Part5, r.Note,
		); err != nil {
			return fmt.Errorf("inserting stage row %d: %w", i, err)
		}
	}

	encoded, err := encodeMerges(merges)
	if err != nil {
		return err
	}
	if _, err := tx.Exec("UPDATE stages SET merges = ? WHERE id = ?", encoded, stageID); err != nil {
		return fmt.Errorf("saving merges: %w", err)
	}
	return nil
}

func saveCategoryTree(tx *sql.Tx, stageID int64, description string, tree []types.CategoryNode) error {
	encoded, err := encodeCategories(tree)
	if err != nil {
		return err
	}
	if _, err := tx.Exec("UPDATE stages SET description = ?, categories = ? WHERE id = ?", description, encoded, stageID); err != nil {
		return fmt.Errorf("saving category tree: %w", err)
	}
	return nil
}

// deleteStage removes a stage with its rows and details.
func deleteStage(tx *sql.Tx, stageID int64) error {
	for _, stmt := range []string{
		"DELETE FROM stage_rows WHERE stage_id = ?",
		"DELETE FROM category_details WHERE stage_id = ?",
		"DELETE FROM stages WHERE id = ?",
	} {
		if _, err := tx.Exec(stmt, stageID); err != nil {
			return fmt.Errorf("deleting stage %d: %w", stageID, err)
		}
	}
	return nil
}
