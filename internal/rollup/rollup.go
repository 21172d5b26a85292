// Package rollup holds the arithmetic behind detail totals, pagination, and
// plan reports. It has no storage dependencies; internal/sqlite feeds it
// typed records and persists what it returns.
package rollup

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/tokenplan/pkg/types"
)

// DefaultPageSize is used when a caller asks for a non-positive page size.
const DefaultPageSize = types.DefaultPageSize

// ParseOrZero reads a decimal from free text. Unparseable, empty,
// hexadecimal, and non-finite values count as zero.
func ParseOrZero(s string) float64 {
	s = strings.TrimSpace(s)
	digits := strings.TrimLeft(s, "+-")
	if strings.HasPrefix(digits, "0x") || strings.HasPrefix(digits, "0X") {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// FormatTotal renders a total with exactly two fractional digits.
func FormatTotal(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ComputeTotals sums token_count and actual_token over rows.
func ComputeTotals(rows []types.DetailRow) types.Totals {
	var tokens, actual float64
	for _, r := range rows {
		tokens += ParseOrZero(r.TokenCount)
		actual += ParseOrZero(r.ActualToken)
	}
	return types.Totals{
		TokenCountTotal:  FormatTotal(tokens),
		ActualTokenTotal: FormatTotal(actual),
	}
}

// SumTotals adds formatted totals, reading each leniently.
func SumTotals(totals ...types.Totals) types.Totals {
	var tokens, actual float64
	for _, t := range totals {
		tokens += ParseOrZero(t.TokenCountTotal)
		actual += ParseOrZero(t.ActualTokenTotal)
	}
	return types.Totals{
		TokenCountTotal:  FormatTotal(tokens),
		ActualTokenTotal: FormatTotal(actual),
	}
}

// UpsertRow replaces the row with the same key in place, or appends it.
// The input slice is not modified.
func UpsertRow(rows []types.DetailRow, row types.DetailRow) []types.DetailRow {
	out := make([]types.DetailRow, len(rows), len(rows)+1)
	copy(out, rows)
	for i := range out {
		if out[i].Key == row.Key {
			out[i] = row
			return out
		}
	}
	return append(out, row)
}

// DuplicateKey reports the first key that appears on more than one row.
func DuplicateKey(rows []types.DetailRow) (int64, bool) {
	seen := make(map[int64]struct{}, len(rows))
	for _, r := range rows {
		if _, ok := seen[r.Key]; ok {
			return r.Key, true
		}
		seen[r.Key] = struct{}{}
	}
	return 0, false
}

// RemoveRows drops every row whose key is in keys, keeping order.
func RemoveRows(rows []types.DetailRow, keys []int64) []types.DetailRow {
	drop := make(map[int64]struct{}, len(keys))
	for _, k := range keys {
		drop[k] = struct{}{}
	}
	out := make([]types.DetailRow, 0, len(rows))
	for _, r := range rows {
		if _, ok := drop[r.Key]; ok {
			continue
		}
		out = append(out, r)
	}
	return out
}

// PageRows returns one page of a detail's rows with its description and
// totals. Pages are 1-based; out-of-range pages are empty.
func PageRows(detail types.CategoryDetail, page, pageSize int) types.DetailPage {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	total := len(detail.Rows)
	pages := total / pageSize
	if total%pageSize != 0 {
		pages++
	}
	start, end := total, total
	if page <= pages {
		start = (page - 1) * pageSize
		end = start + min(pageSize, total-start)
	}
	rows := make([]types.DetailRow, end-start)
	copy(rows, detail.Rows[start:end])

	totals := detail.Totals
	if totals.TokenCountTotal == "" && totals.ActualTokenTotal == "" {
		totals = types.ZeroTotals()
	}
	return types.DetailPage{
		Description: detail.Description,
		Rows:        rows,
		Total:       total,
		Page:        page,
		PageSize:    pageSize,
		Totals:      totals,
	}
}
