package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/tokenplan/internal/rollup"
	"github.com/mesh-intelligence/tokenplan/pkg/types"
)

const detailColumns = "id, stage_id, category_name, subcategory_name, description, detail_rows, token_count_total, actual_token_total"

// GetOrCreateDetail returns the detail for (stage, category, subcategory),
// creating the stage and an empty detail as needed.
func (p *PlanDB) GetOrCreateDetail(stage, category, subcategory string) (*types.CategoryDetail, error) {
	var d *types.CategoryDetail
	err := p.write(func(tx *sql.Tx) error {
		var err error
		d, err = p.openDetail(tx, stage, category, subcategory)
		return err
	})
	return d, err
}

// DetailPage returns one page of a detail's rows.
func (p *PlanDB) DetailPage(stage, category, subcategory string, page, pageSize int) (types.DetailPage, error) {
	d, err := p.GetOrCreateDetail(stage, category, subcategory)
	if err != nil {
		return types.DetailPage{}, err
	}
	return PageDetailRows(*d, page, pageSize), nil
}

// PageDetailRows slices a detail's rows for display.
func PageDetailRows(detail types.CategoryDetail, page, pageSize int) types.DetailPage {
	return rollup.PageRows(detail, page, pageSize)
}

// UpsertDetailRow replaces the row with the same key in place, or appends
// it, and returns the recomputed totals.
func (p *PlanDB) UpsertDetailRow(stage, category, subcategory string, row types.DetailRow) (types.Totals, error) {
	var totals types.Totals
	err := p.write(func(tx *sql.Tx) error {
		d, err := p.openDetail(tx, stage, category, subcategory)
		if err != nil {
			return err
		}
		totals, err = saveDetail(tx, d.DetailID, d.Description, rollup.UpsertRow(d.Rows, row))
		return err
	})
	if err == nil {
		detailMutationTotal.WithLabelValues("upsert").Inc()
	}
	return totals, err
}

// DeleteDetailRows removes rows whose key is in keys and returns the
// remaining count and recomputed totals.
func (p *PlanDB) DeleteDetailRows(stage, category, subcategory string, keys []int64) (types.DeleteResult, error) {
	var result types.DeleteResult
	err := p.write(func(tx *sql.Tx) error {
		d, err := p.openDetail(tx, stage, category, subcategory)
		if err != nil {
			return err
		}
		rows := rollup.RemoveRows(d.Rows, keys)
		totals, err := saveDetail(tx, d.DetailID, d.Description, rows)
		if err != nil {
			return err
		}
		result = types.DeleteResult{Total: len(rows), Totals: totals}
		return nil
	})
	if err == nil {
		detailMutationTotal.WithLabelValues("delete").Inc()
	}
	return result, err
}

// ReplaceDetail replaces a detail's description and rows and returns the
// recomputed totals.
func (p *PlanDB) ReplaceDetail(stage, category, subcategory, description string, rows []types.DetailRow) (types.Totals, error) {
	var totals types.Totals
	err := p.write(func(tx *sql.Tx) error {
		d, err := p.openDetail(tx, stage, category, subcategory)
		if err != nil {
			return err
		}
		totals, err = saveDetail(tx, d.DetailID, description, rows)
		return err
	})
	if err == nil {
		detailMutationTotal.WithLabelValues("replace").Inc()
	}
	return totals, err
}

// SetDetailDescription replaces only a detail's description and returns
// its totals.
func (p *PlanDB) SetDetailDescription(stage, category, subcategory, description string) (types.Totals, error) {
	var totals types.Totals
	err := p.write(func(tx *sql.Tx) error {
		d, err := p.openDetail(tx, stage, category, subcategory)
		if err != nil {
			return err
		}
		if _, err := tx.Exec("UPDATE category_details SET description = ? WHERE id = ?", description, d.DetailID); err != nil {
			return fmt.Errorf("saving detail description: %w", err)
		}
		totals = d.Totals
		return nil
	})
	if err == nil {
		detailMutationTotal.WithLabelValues("describe").Inc()
	}
	return totals, err
}

// ListDetails returns a stage's details in insertion order.
func (p *PlanDB) ListDetails(stageID int64) ([]types.CategoryDetail, error) {
	var out []types.CategoryDetail
	err := p.read(func(q querier) error {
		var err error
		out, err = listDetails(q, stageID)
		return err
	})
	return out, err
}

// DetailTotals returns the totals of a stage's details keyed by
// (category, subcategory).
func (p *PlanDB) DetailTotals(stageID int64) (map[[2]string]types.Totals, error) {
	details, err := p.ListDetails(stageID)
	if err != nil {
		return nil, err
	}
	out := make(map[[2]string]types.Totals, len(details))
	for _, d := range details {
		out[[2]string{d.Category, d.Subcategory}] = d.Totals
	}
	return out, nil
}

// openDetail resolves the stage and detail for a mutation, creating both
// as needed.
func (p *PlanDB) openDetail(tx *sql.Tx, stage, category, subcategory string) (*types.CategoryDetail, error) {
	s, err := p.getOrCreateStage(tx, stage)
	if err != nil {
		return nil, err
	}
	return getOrCreateDetail(tx, s.StageID, category, subcategory)
}

// getOrCreateDetail is the single get-or-create policy for details.
func getOrCreateDetail(tx *sql.Tx, stageID int64, category, subcategory string) (*types.CategoryDetail, error) {
	if strings.TrimSpace(category) == "" || strings.TrimSpace(subcategory) == "" {
		return nil, fmt.Errorf("category and subcategory names: %w", types.ErrInvalidName)
	}
	d, err := scanDetail(tx.QueryRow(
		"SELECT "+detailColumns+" FROM category_details WHERE stage_id = ? AND category_name = ? AND subcategory_name = ?",
		stageID, category, subcategory,
	))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	res, err := tx.Exec(
		"INSERT INTO category_details (stage_id, category_name, subcategory_name, description, detail_rows, token_count_total, actual_token_total) VALUES (?, ?, ?, '', '[]', ?, ?)",
		stageID, category, subcategory, types.ZeroTotal, types.ZeroTotal,
	)
	if err != nil {
		return nil, fmt.Errorf("creating detail %s/%s: %w", category, subcategory, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("creating detail %s/%s: %w", category, subcategory, err)
	}
	return &types.CategoryDetail{
		DetailID:    id,
		StageID:     stageID,
		Category:    category,
		Subcategory: subcategory,
		Rows:        []types.DetailRow{},
		Totals:      types.ZeroTotals(),
	}, nil
}

// saveDetail writes a detail's description and rows with freshly computed
// totals.
func saveDetail(tx *sql.Tx, detailID int64, description string, rows []types.DetailRow) (types.Totals, error) {
	if key, dup := rollup.DuplicateKey(rows); dup {
		return types.Totals{}, fmt.Errorf("%w: detail row key %d repeated", types.ErrInvalidData, key)
	}
	totals := rollup.ComputeTotals(rows)
	encoded, err := encodeDetailRows(rows)
	if err != nil {
		return types.Totals{}, err
	}
	if _, err := tx.Exec(
		"UPDATE category_details SET description = ?, detail_rows = ?, token_count_total = ?, actual_token_total = ? WHERE id = ?",
		description, encoded, totals.TokenCountTotal, totals.ActualTokenTotal, detailID,
	); err != nil {
		return types.Totals{}, fmt.Errorf("saving detail rows: %w", err)
	}
	return totals, nil
}

func listDetails(q querier, stageID int64) ([]types.CategoryDetail, error) {
	rows, err := q.Query("SELECT "+detailColumns+" FROM category_details WHERE stage_id = ? ORDER BY id", stageID)
	if err != nil {
		return nil, fmt.Errorf("listing details: %w", err)
	}
	defer rows.Close()

	var out []types.CategoryDetail
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing details: %w", err)
	}
	return out, nil
}

// detailKeys returns the (category, subcategory) pairs of a stage's
// details in insertion order.
func detailKeys(q querier, stageID int64) ([]types.DetailKey, error) {
	rows, err := q.Query("SELECT category_name, subcategory_name FROM category_details WHERE stage_id = ? ORDER BY id", stageID)
	if err != nil {
		return nil, fmt.Errorf("listing detail keys: %w", err)
	}
	defer rows.Close()

	var keys []types.DetailKey
	for rows.Next() {
		var k types.DetailKey
		if err := rows.Scan(&k.Category, &k.Subcategory); err != nil {
			return nil, fmt.Errorf("scanning detail key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func scanDetail(s rowScanner) (*types.CategoryDetail, error) {
	var d types.CategoryDetail
	var rows string
	if err := s.Scan(
		&d.DetailID, &d.StageID, &d.Category, &d.Subcategory, &d.Description, &rows,
		&d.TokenCountTotal, &d.ActualTokenTotal,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning detail: %w", err)
	}
	var err error
	if d.Rows, err = decodeDetailRows(rows); err != nil {
		return nil, fmt.Errorf("detail %s/%s: %w", d.Category, d.Subcategory, err)
	}
	return &d, nil
}
