package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ZeroTotal is the formatted total of an empty detail-row collection.
const ZeroTotal = "0.00"

// DetailRow is one provenance record inside a CategoryDetail. Key is
// supplied by the caller and is unique within its detail. Numeric fields are
// kept as text exactly as entered; totals parse them leniently.
type DetailRow struct {
	Key          int64  `json:"key"`
	HDFSPath     string `json:"hdfs_path"`
	OBSFuzzyPath string `json:"obs_fuzzy_path"`
	OBSFullPath  string `json:"obs_full_path"`
	TokenCount   string `json:"token_count"`
	ActualUsage  string `json:"actual_usage"`
	ActualToken  string `json:"actual_token"`
}

// Totals are the two cached sums of a CategoryDetail, formatted with two
// fractional digits.
type Totals struct {
	TokenCountTotal  string `json:"tokenCountTotal"`
	ActualTokenTotal string `json:"actualTokenTotal"`
}

// ZeroTotals returns the totals of an empty collection.
func ZeroTotals() Totals {
	return Totals{TokenCountTotal: ZeroTotal, ActualTokenTotal: ZeroTotal}
}

// CategoryDetail holds the detail rows and cached totals for one
// (stage, category, subcategory) triple.
type CategoryDetail struct {
	DetailID    int64       `json:"id"`
	StageID     int64       `json:"stage_id"`
	Category    string      `json:"category"`
	Subcategory string      `json:"subcategory"`
	Description string      `json:"description"`
	Rows        []DetailRow `json:"rows"`
	Totals
}

// DetailPage is one page of a CategoryDetail's rows in stored order.
type DetailPage struct {
	Description string      `json:"description"`
	Rows        []DetailRow `json:"rows"`
	Total       int         `json:"total"`
	Page        int         `json:"page"`
	PageSize    int         `json:"page_size"`
	Totals
}

// DeleteResult reports the state of a detail after a bulk row delete.
type DeleteResult struct {
	Total int `json:"total"`
	Totals
}

// DetailKey identifies a CategoryDetail within a plan.
type DetailKey struct {
	Stage       string `validate:"required"`
	Category    string `validate:"required"`
	Subcategory string `validate:"required"`
}

// UnmarshalJSON accepts numbers, booleans, and null for the text fields so
// spreadsheet imports that send raw numbers still decode. The key must be an
// integer or a string holding one.
func (r *DetailRow) UnmarshalJSON(data []byte) error {
	var raw struct {
		Key          json.RawMessage `json:"key"`
		HDFSPath     flexString      `json:"hdfs_path"`
		OBSFuzzyPath flexString      `json:"obs_fuzzy_path"`
		OBSFullPath  flexString      `json:"obs_full_path"`
		TokenCount   flexString      `json:"token_count"`
		ActualUsage  flexString      `json:"actual_usage"`
		ActualToken  flexString      `json:"actual_token"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	key, err := parseRowKey(raw.Key)
	if err != nil {
		return err
	}
	*r = DetailRow{
		Key:          key,
		HDFSPath:     string(raw.HDFSPath),
		OBSFuzzyPath: string(raw.OBSFuzzyPath),
		OBSFullPath:  string(raw.OBSFullPath),
		TokenCount:   string(raw.TokenCount),
		ActualUsage:  string(raw.ActualUsage),
		ActualToken:  string(raw.ActualToken),
	}
	return nil
}

func parseRowKey(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var s flexString
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	key, err := strconv.ParseInt(strings.TrimSpace(string(s)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: detail row key %s is not an integer", ErrInvalidData, raw)
	}
	return key, nil
}

// flexString decodes any JSON scalar into its textual form.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var v any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return err
	}
	s, err := scalarText(v)
	if err != nil {
		return err
	}
	*f = flexString(s)
	return nil
}

// scalarText converts a decoded JSON scalar to text. Objects and arrays are
// rejected.
func scalarText(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("%w: expected a scalar value, got %T", ErrInvalidData, v)
	}
}
