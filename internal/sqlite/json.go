// JSON record structures for SQLite columns and plan snapshots. Nothing
// outside this package sees these encodings.
package sqlite

import (
	"encoding/json"
	"fmt"

	"github.com/mesh-intelligence/tokenplan/pkg/types"
)

// detailRowJSON is one element of category_details.rows.
type detailRowJSON struct {
	Key          int64  `json:"key"`
	HDFSPath     string `json:"hdfs_path"`
	OBSFuzzyPath string `json:"obs_fuzzy_path"`
	OBSFullPath  string `json:"obs_full_path"`
	TokenCount   string `json:"token_count"`
	ActualUsage  string `json:"actual_usage"`
	ActualToken  string `json:"actual_token"`
}

// categoryNodeJSON is one element of stages.categories.
type categoryNodeJSON struct {
	ID            int64                 `json:"id"`
	Name          string                `json:"name"`
	Subcategories []subcategoryNodeJSON `json:"subcategories"`
}

type subcategoryNodeJSON struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// mergeJSON is one element of stages.merges.
type mergeJSON struct {
	StartRow int `json:"startRow"`
	EndRow   int `json:"endRow"`
	StartCol int `json:"startCol"`
	EndCol   int `json:"endCol"`
}

// Snapshot record kinds, one per JSONL line.
const (
	recordPlan   = "plan"
	recordStage  = "stage"
	recordRow    = "row"
	recordDetail = "detail"
)

// recordHeader is decoded first to dispatch a snapshot line by kind.
type recordHeader struct {
	Kind string `json:"kind"`
}

// planRecordJSON heads a plan snapshot.
type planRecordJSON struct {
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ExportedAt  string `json:"exported_at"`
}

// stageRecordJSON is one stage in a plan snapshot.
type stageRecordJSON struct {
	Kind        string             `json:"kind"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Order       int                `json:"order"`
	Categories  []categoryNodeJSON `json:"categories"`
	Merges      []mergeJSON        `json:"merges"`
}

// rowRecordJSON is one table row in a plan snapshot.
type rowRecordJSON struct {
	Kind            string `json:"kind"`
	Stage           string `json:"stage"`
	Order           int    `json:"order"`
	Category        string `json:"category"`
	Subcategory     string `json:"subcategory"`
	TotalTokens     string `json:"total_tokens"`
	SampleRatio     string `json:"sample_ratio"`
	CumulativeRatio string `json:"cumulative_ratio"`
	SampleTokens    string `json:"sample_tokens"`
	CategoryRatio   string `json:"category_ratio"`
	Part1           string `json:"part1"`
	Part2           string `json:"part2"`
	Part3           string `json:"part3"`
	Part4           string `json:"part4"`
	Part5           string `json:"part5"`
	Note            string `json:"note"`
}

// detailRecordJSON is one category detail in a plan snapshot. Totals are
// not exported; they are recomputed on import.
type detailRecordJSON struct {
	Kind        string          `json:"kind"`
	Stage       string          `json:"stage"`
	Category    string          `json:"category"`
	Subcategory string          `json:"subcategory"`
	Description string          `json:"description"`
	Rows        []detailRowJSON `json:"rows"`
}

func encodeDetailRows(rows []types.DetailRow) (string, error) {
	b, err := json.Marshal(detailRowsToJSON(rows))
	if err != nil {
		return "", fmt.Errorf("encoding detail rows: %w", err)
	}
	return string(b), nil
}

func decodeDetailRows(s string) ([]types.DetailRow, error) {
	var in []detailRowJSON
	if err := decodeColumn(s, &in); err != nil {
		return nil, fmt.Errorf("decoding detail rows: %w", err)
	}
	return detailRowsFromJSON(in), nil
}

func detailRowsFromJSON(in []detailRowJSON) []types.DetailRow {
	out := make([]types.DetailRow, len(in))
	for i, r := range in {
		out[i] = types.DetailRow(r)
	}
	return out
}

func detailRowsToJSON(rows []types.DetailRow) []detailRowJSON {
	out := make([]detailRowJSON, len(rows))
	for i, r := range rows {
		out[i] = detailRowJSON(r)
	}
	return out
}

func encodeCategories(tree []types.CategoryNode) (string, error) {
	b, err := json.Marshal(categoriesToJSON(tree))
	if err != nil {
		return "", fmt.Errorf("encoding category tree: %w", err)
	}
	return string(b), nil
}

func decodeCategories(s string) ([]types.CategoryNode, error) {
	var in []categoryNodeJSON
	if err := decodeColumn(s, &in); err != nil {
		return nil, fmt.Errorf("decoding category tree: %w", err)
	}
	return categoriesFromJSON(in), nil
}

func categoriesToJSON(tree []types.CategoryNode) []categoryNodeJSON {
	out := make([]categoryNodeJSON, len(tree))
	for i, c := range tree {
		subs := make([]subcategoryNodeJSON, len(c.Subcategories))
		for j, s := range c.Subcategories {
			subs[j] = subcategoryNodeJSON(s)
		}
		out[i] = categoryNodeJSON{ID: c.ID, Name: c.Name, Subcategories: subs}
	}
	return out
}

func categoriesFromJSON(in []categoryNodeJSON) []types.CategoryNode {
	out := make([]types.CategoryNode, len(in))
	for i, c := range in {
		subs := make([]types.SubcategoryNode, len(c.Subcategories))
		for j, s := range c.Subcategories {
			subs[j] = types.SubcategoryNode(s)
		}
		out[i] = types.CategoryNode{ID: c.ID, Name: c.Name, Subcategories: subs}
	}
	return out
}

func encodeMerges(merges []types.Merge) (string, error) {
	b, err := json.Marshal(mergesToJSON(merges))
	if err != nil {
		return "", fmt.Errorf("encoding merges: %w", err)
	}
	return string(b), nil
}

func decodeMerges(s string) ([]types.Merge, error) {
	var in []mergeJSON
	if err := decodeColumn(s, &in); err != nil {
		return nil, fmt.Errorf("decoding merges: %w", err)
	}
	return mergesFromJSON(in), nil
}

func mergesToJSON(merges []types.Merge) []mergeJSON {
	out := make([]mergeJSON, len(merges))
	for i, m := range merges {
		out[i] = mergeJSON(m)
	}
	return out
}

func mergesFromJSON(in []mergeJSON) []types.Merge {
	out := make([]types.Merge, len(in))
	for i, m := range in {
		out[i] = types.Merge(m)
	}
	return out
}

// decodeColumn unmarshals a JSON column. Empty and null columns decode to
// the zero value.
func decodeColumn(s string, v any) error {
	if s == "" || s == "null" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}
