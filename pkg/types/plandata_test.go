package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageSetPreservesOrder(t *testing.T) {
	input := `{"description":"d","stages":{
		"sft":{"rows":[{"category":"code","total_tokens":100}],"merges":[]},
		"pretrain":{"rows":[],"merges":[{"startRow":0,"endRow":1,"startCol":0,"endCol":0}]},
		"rl":{}
	}}`

	var data PlanData
	require.NoError(t, json.Unmarshal([]byte(input), &data))
	assert.Equal(t, "d", data.Description)
	assert.Equal(t, []string{"sft", "pretrain", "rl"}, data.Stages.Names())
	require.Len(t, data.Stages[0].Rows, 1)
	assert.Equal(t, "code", data.Stages[0].Rows[0].Category)
	assert.Equal(t, "100", data.Stages[0].Rows[0].TotalTokens)
	assert.Equal(t, []Merge{{StartRow: 0, EndRow: 1}}, data.Stages[1].Merges)

	out, err := json.Marshal(data)
	require.NoError(t, err)

	var again PlanData
	require.NoError(t, json.Unmarshal(out, &again))
	assert.Equal(t, data.Stages.Names(), again.Stages.Names())
}

func TestStageSetDuplicateNameReplacesInPlace(t *testing.T) {
	input := `{"a":{"rows":[{"note":"first"}]},"b":{},"a":{"rows":[{"note":"second"}]}}`

	var stages StageSet
	require.NoError(t, json.Unmarshal([]byte(input), &stages))
	assert.Equal(t, []string{"a", "b"}, stages.Names())
	assert.Equal(t, "second", stages[0].Rows[0].Note)
}

func TestStageSetRejectsArray(t *testing.T) {
	var stages StageSet
	err := json.Unmarshal([]byte(`[1,2]`), &stages)
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestStageSetMarshalEmpty(t *testing.T) {
	out, err := json.Marshal(StageSet{{Name: "x"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":{"rows":[],"merges":[]}}`, string(out))
}
