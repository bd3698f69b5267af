package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExportFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    ExportFormat
		wantErr bool
	}{
		{"", ExportFormatJSON, false},
		{"json", ExportFormatJSON, false},
		{"CSV", ExportFormatCSV, false},
		{" ndjson ", ExportFormatNDJSON, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseExportFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExportJSON(t *testing.T) {
	data, err := Export([]*Entry{testEntry("a")}, ExportFormatJSON)
	require.NoError(t, err)

	var entries []*Entry
	require.NoError(t, json.Unmarshal(data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "shipped", entries[0].Properties["Status"].NewValue)

	empty, err := Export(nil, ExportFormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(empty))
}

func TestExportNDJSON(t *testing.T) {
	data, err := Export([]*Entry{testEntry("a"), testEntry("b")}, ExportFormatNDJSON)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	e, err := FromJSON([]byte(lines[1]))
	require.NoError(t, err)
	assert.Equal(t, "b", e.ID)
}

func TestExportCSV(t *testing.T) {
	withTwo := testEntry("a")
	withTwo.Properties["Total"] = &Property{Name: "Total", FriendlyName: "Total", NewValue: 12.5}
	bare := testEntry("b")
	bare.Properties = map[string]*Property{}

	data, err := Export([]*Entry{withTwo, bare}, ExportFormatCSV)
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, csvHeader, records[0])

	// properties are written in name order
	assert.Equal(t, "Status", records[1][10])
	assert.Equal(t, "pending", records[1][12])
	assert.Equal(t, "shipped", records[1][13])
	assert.Equal(t, "pending", records[1][14])
	assert.Equal(t, "", records[1][15])
	assert.Equal(t, "Total", records[2][10])
	assert.Equal(t, "", records[2][12])
	assert.Equal(t, "12.5", records[2][13])

	assert.Equal(t, "b", records[3][0])
	assert.Equal(t, "", records[3][10])
	assert.Len(t, records[3], len(csvHeader))
}

func TestExport_UnknownFormat(t *testing.T) {
	_, err := Export(nil, ExportFormat("xml"))
	assert.Error(t, err)
}
