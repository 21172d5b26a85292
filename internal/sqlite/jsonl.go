// This file provides plan snapshots as JSONL: read/write helpers with
// atomic persistence, and the export side of a snapshot.
package sqlite

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mesh-intelligence/tokenplan/pkg/types"
)

// readJSONL reads a JSONL file and returns each non-empty, parseable line as
// a json.RawMessage. Malformed lines are skipped.
func readJSONL(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var records []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		records = append(records, json.RawMessage(cp))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return records, nil
}

// writeJSONL atomically writes records to path using the temp-file, fsync,
// rename pattern.
func writeJSONL(path string, records []json.RawMessage) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	fail := func(step string, err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%s: %w", step, err)
	}

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		if _, err := w.Write(rec); err != nil {
			return fail("writing record", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fail("writing newline", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fail("flushing buffer", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("syncing temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// ExportSnapshot writes the plan to path as JSONL: a plan record, then each
// stage followed by its rows and details.
func (p *PlanDB) ExportSnapshot(path string, plan types.Plan) error {
	var records []json.RawMessage
	add := func(v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding snapshot record: %w", err)
		}
		records = append(records, b)
		return nil
	}

	err := p.read(func(q querier) error {
		if err := add(planRecordJSON{
			Kind:        recordPlan,
			Name:        plan.Name,
			Description: plan.Description,
			ExportedAt:  time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}

		stages, err := listStages(q)
		if err != nil {
			return err
		}
		for _, s := range stages {
			if err := add(stageRecordJSON{
				Kind:        recordStage,
				Name:        s.Name,
				Description: s.Description,
				Order:       s.Order,
				Categories:  categoriesToJSON(s.Categories),
				Merges:      mergesToJSON(s.Merges),
			}); err != nil {
				return err
			}

			rows, err := stageRows(q, s.StageID)
			if err != nil {
				return err
			}
			for i, r := range rows {
				if err := add(rowRecordFromRow(s.Name, i, r)); err != nil {
					return err
				}
			}

			details, err := listDetails(q, s.StageID)
			if err != nil {
				return err
			}
			for _, d := range details {
				if err := add(detailRecordJSON{
					Kind:        recordDetail,
					Stage:       s.Name,
					Category:    d.Category,
					Subcategory: d.Subcategory,
					Description: d.Description,
					Rows:        detailRowsToJSON(d.Rows),
				}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("exporting plan %s: %w", p.tenant, err)
	}
	return writeJSONL(path, records)
}

func rowRecordFromRow(stage string, order int, r types.Row) rowRecordJSON {
	return rowRecordJSON{
		Kind:            recordRow,
		Stage:           stage,
		Order:           order,
		Category:        r.Category,
		Subcategory:     r.Subcategory,
		TotalTokens:     r.TotalTokens,
		SampleRatio:     r.SampleRatio,
		CumulativeRatio: r.CumulativeRatio,
		SampleTokens:    r.SampleTokens,
		CategoryRatio:   r.CategoryRatio,
		Part1:           r.Part1,
		Part2:           r.Part2,
		Part3:           r.Part3,
		Part4:           r.Part4,
		Part5:           r.Part5,
		Note:            r.Note,
	}
}

func (r rowRecordJSON) row() types.Row {
	return types.Row{
		Category:        r.Category,
		Subcategory:     r.Subcategory,
		TotalTokens:     r.TotalTokens,
		SampleRatio:     r.SampleRatio,
		CumulativeRatio: r.CumulativeRatio,
		SampleTokens:    r.SampleTokens,
		CategoryRatio:   r.CategoryRatio,
		Part1:           r.Part1,
		Part2:           r.Part2,
		Part3:           r.Part3,
		Part4:           r.Part4,
		Part5:           r.Part5,
		Note:            r.Note,
	}
}
