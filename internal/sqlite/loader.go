// This file loads plan snapshots written by ExportSnapshot.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mesh-intelligence/tokenplan/pkg/types"
)

// Snapshot is a decoded plan snapshot.
type Snapshot struct {
	Name        string
	Description string
	stages      []stageRecordJSON
	rows        map[string][]rowRecordJSON
	details     []detailRecordJSON
}

// ReadSnapshot decodes the JSONL snapshot at path. Malformed lines and
// unknown record kinds are skipped.
func ReadSnapshot(path string) (*Snapshot, error) {
	records, err := readJSONL(path)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{rows: map[string][]rowRecordJSON{}}
	for _, rec := range records {
		var h recordHeader
		if err := json.Unmarshal(rec, &h); err != nil {
			continue
		}
		switch h.Kind {
		case recordPlan:
			var r planRecordJSON
			if json.Unmarshal(rec, &r) == nil {
				snap.Name, snap.Description = r.Name, r.Description
			}
		case recordStage:
			var r stageRecordJSON
			if json.Unmarshal(rec, &r) == nil && r.Name != "" {
				snap.stages = append(snap.stages, r)
			}
		case recordRow:
			var r rowRecordJSON
			if json.Unmarshal(rec, &r) == nil && r.Stage != "" {
				snap.rows[r.Stage] = append(snap.rows[r.Stage], r)
			}
		case recordDetail:
			var r detailRecordJSON
			if json.Unmarshal(rec, &r) == nil && r.Stage != "" {
				snap.details = append(snap.details, r)
			}
		}
	}
	for stage := range snap.rows {
		rows := snap.rows[stage]
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].Order < rows[j].Order })
	}
	return snap, nil
}

// LoadSnapshot replaces the plan's contents with snap in one transaction.
// Detail totals are recomputed from the imported rows.
func (p *PlanDB) LoadSnapshot(snap *Snapshot) error {
	return p.write(func(tx *sql.Tx) error {
		existing, err := listStages(tx)
		if err != nil {
			return err
		}
		for _, s := range existing {
			if err := deleteStage(tx, s.StageID); err != nil {
				return err
			}
		}

		stageOrder := append([]stageRecordJSON(nil), snap.stages...)
		sort.SliceStable(stageOrder, func(i, j int) bool { return stageOrder[i].Order < stageOrder[j].Order })
		for _, rec := range stageOrder {
			stage, err := p.getOrCreateStage(tx, rec.Name)
			if err != nil {
				return fmt.Errorf("loading stage %s: %w", rec.Name, err)
			}
			if err := saveCategoryTree(tx, stage.StageID, rec.Description, categoriesFromJSON(rec.Categories)); err != nil {
				return err
			}
			rows := make([]types.Row, 0, len(snap.rows[rec.Name]))
			for _, r := range snap.rows[rec.Name] {
				rows = append(rows, r.row())
			}
			if err := replaceStageContents(tx, stage.StageID, rows, mergesFromJSON(rec.Merges)); err != nil {
				return fmt.Errorf("loading stage %s: %w", rec.Name, err)
			}
		}

		for _, rec := range snap.details {
			d, err := p.openDetail(tx, rec.Stage, rec.Category, rec.Subcategory)
			if err != nil {
				return fmt.Errorf("loading detail %s/%s: %w", rec.Category, rec.Subcategory, err)
			}
			if _, err := saveDetail(tx, d.DetailID, rec.Description, detailRowsFromJSON(rec.Rows)); err != nil {
				return err
			}
		}
		return nil
	})
}
