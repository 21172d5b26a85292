package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// PlanData is the whole-plan read/write shape: a description plus every
// stage's table rows and merges, in stage order.
type PlanData struct {
	Description string   `json:"description"`
	Stages      StageSet `json:"stages" validate:"dive"`
}

// StageData is one stage's table contents inside PlanData.
type StageData struct {
	Name   string  `json:"-" validate:"required"`
	Rows   []Row   `json:"rows"`
	Merges []Merge `json:"merges" validate:"dive"`
}

// StageSet is an ordered list of stages encoded as a JSON object keyed by
// stage name. Key order in the object is the stage order.
type StageSet []StageData

// Names returns the stage names in order.
func (s StageSet) Names() []string {
	names := make([]string, len(s))
	for i, st := range s {
		names[i] = st.Name
	}
	return names
}

// MarshalJSON writes the stages as an object, preserving order.
func (s StageSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, st := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(st.Name)
		if err != nil {
			return nil, err
		}
		rows, merges := st.Rows, st.Merges
		if rows == nil {
			rows = []Row{}
		}
		if merges == nil {
			merges = []Merge{}
		}
		body, err := json.Marshal(struct {
			Rows   []Row   `json:"rows"`
			Merges []Merge `json:"merges"`
		}{rows, merges})
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(body)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object of stages, preserving key order. A repeated
// stage name replaces the earlier body but keeps its position. Row fields
// are read leniently: missing fields are empty and scalar values of any JSON
// type are kept as text.
func (s *StageSet) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*s = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("%w: stages must be an object keyed by stage name", ErrInvalidData)
	}

	out := StageSet{}
	index := map[string]int{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)

		var body struct {
			Rows   []map[string]any `json:"rows"`
			Merges []Merge          `json:"merges"`
		}
		if err := dec.Decode(&body); err != nil {
			return fmt.Errorf("decoding stage %q: %w", name, err)
		}

		st := StageData{Name: name, Rows: make([]Row, 0, len(body.Rows)), Merges: body.Merges}
		for _, fields := range body.Rows {
			row, err := RowFromFields(fields)
			if err != nil {
				return fmt.Errorf("decoding stage %q row: %w", name, err)
			}
			st.Rows = append(st.Rows, row)
		}

		if i, ok := index[name]; ok {
			out[i] = st
			continue
		}
		index[name] = len(out)
		out = append(out, st)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*s = out
	return nil
}

// RowFromFields builds a Row from a loosely typed field map. Missing fields
// are empty; the key is ignored.
func RowFromFields(fields map[string]any) (Row, error) {
	get := func(name string) (string, error) {
		return scalarText(fields[name])
	}
	var r Row
	targets := []struct {
		name string
		dst  *string
	}{
		{"category", &r.Category},
		{"subcategory", &r.Subcategory},
		{"total_tokens", &r.TotalTokens},
		{"sample_ratio", &r.SampleRatio},
		{"cumulative_ratio", &r.CumulativeRatio},
		{"sample_tokens", &r.SampleTokens},
		{"category_ratio", &r.CategoryRatio},
		{"part1", &r.Part1},
		{"part2", &r.Part2},
		{"part3", &r.Part3},
		{"part4", &r.Part4},
		{"part5", &r.Part5},
		{"note", &r.Note},
	}
	for _, t := range targets {
		v, err := get(t.name)
		if err != nil {
			return Row{}, fmt.Errorf("field %s: %w", t.name, err)
		}
		*t.dst = v
	}
	return r, nil
}
