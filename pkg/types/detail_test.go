package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetailRowUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    DetailRow
		wantErr bool
	}{
		{
			name:  "string fields",
			input: `{"key":1,"hdfs_path":"/a","token_count":"1000.5","actual_token":"800"}`,
			want:  DetailRow{Key: 1, HDFSPath: "/a", TokenCount: "1000.5", ActualToken: "800"},
		},
		{
			name:  "numeric fields kept as text",
			input: `{"key":"7","token_count":2500.75,"actual_token":12,"actual_usage":true}`,
			want:  DetailRow{Key: 7, TokenCount: "2500.75", ActualToken: "12", ActualUsage: "true"},
		},
		{
			name:  "null fields are empty",
			input: `{"key":2,"token_count":null}`,
			want:  DetailRow{Key: 2},
		},
		{
			name:    "non integer key",
			input:   `{"key":"abc"}`,
			wantErr: true,
		},
		{
			name:    "object field rejected",
			input:   `{"key":1,"note":{}, "token_count":{}}`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got DetailRow
			err := json.Unmarshal([]byte(tt.input), &got)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetailPageJSONFlattensTotals(t *testing.T) {
	page := DetailPage{Rows: []DetailRow{}, Total: 0, Page: 1, PageSize: 20, Totals: ZeroTotals()}
	data, err := json.Marshal(page)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "0.00", fields["tokenCountTotal"])
	assert.Equal(t, "0.00", fields["actualTokenTotal"])
	assert.EqualValues(t, 20, fields["page_size"])
}
