package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTraceFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.csv")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestReadTraceCSVParsesRows(t *testing.T) {
	path := writeTraceFile(t, "id,parent_id,kind,what,where,start,end\n"+
		"dispatch-1,,dispatch,handler,stage1,1s,1.5s\n"+
		"dispatch-2,,dispatch,handler,stage2,2s,2.1s\n")

	rows, err := readTraceCSV(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "stage1", rows[0].Where)
	assert.Equal(t, "dispatch-2", rows[1].ID)
}

func TestReadTraceCSVEmptyFile(t *testing.T) {
	path := writeTraceFile(t, "")

	rows, err := readTraceCSV(path)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSummarizeByModelCountsAndSorts(t *testing.T) {
	rows := []traceRow{
		{Where: "stage2"},
		{Where: "stage1"},
		{Where: "stage1"},
	}

	summaries := summarizeByModel(rows)

	require.Len(t, summaries, 2)
	assert.Equal(t, "stage1", summaries[0].Where)
	assert.Equal(t, 2, summaries[0].Count)
	assert.Equal(t, "stage2", summaries[1].Where)
	assert.Equal(t, 1, summaries[1].Count)
}
