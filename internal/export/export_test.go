package export_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canonical_cutover/internal/export"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadJSONStringifiesValues(t *testing.T) {
	path := writeFile(t, "projects.json", `{
		"data": [
			{"projectID": "WT-1", "projectName": "Orbis", "priority": 3, "archived": false},
			{"projectID": "WT-2", "tags": ["a", "b"], "owner": null}
		]
	}`)

	records, err := export.Load(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "WT-1", records[0]["projectID"])
	assert.Equal(t, "3", records[0]["priority"])
	assert.Equal(t, "false", records[0]["archived"])
	// Nested values keep their JSON encoding; null becomes empty.
	assert.JSONEq(t, `["a","b"]`, records[1]["tags"])
	assert.Equal(t, "", records[1]["owner"])
}

func TestLoadCSVToleratesRaggedRows(t *testing.T) {
	path := writeFile(t, "phases.csv", "phaseid,phasename,notes\nWT-1.1,Discovery,Step 1.1 - Kickoff\nWT-1.2,Delivery\n")

	records, err := export.Load(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Step 1.1 - Kickoff", records[0]["notes"])
	_, hasNotes := records[1]["notes"]
	assert.False(t, hasNotes)
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := writeFile(t, "projects.xlsx", "binary")
	_, err := export.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported export format")
}

func TestRecordGetAliasesAndTrims(t *testing.T) {
	rec := export.Record{"projectId": "  WT-1  ", "name": ""}
	assert.Equal(t, "WT-1", rec.Get("projectID", "projectId"))
	assert.Equal(t, "", rec.Get("name", "title"))
}

func TestReadable(t *testing.T) {
	path := writeFile(t, "ok.csv", "a,b\n")
	require.NoError(t, export.Readable(path))
	require.Error(t, export.Readable(filepath.Join(t.TempDir(), "missing.csv")))
}
