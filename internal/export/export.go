// Package export reads the upstream document exports: JSON files shaped
// {"data": [...]} and CSV files with a header row. The engine only ever
// reads these files.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Record is one flat export row. Values are stringified; nested structures
// are kept as their JSON encoding.
type Record map[string]string

// Get returns the first non-empty value among the given key aliases.
// Upstream exports are inconsistent about casing and column names.
func (r Record) Get(keys ...string) string {
	for _, k := range keys {
		if v, ok := r[k]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Load reads an export file, dispatching on extension.
func Load(path string) ([]Record, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return loadJSON(path)
	case ".csv":
		return loadCSV(path)
	default:
		return nil, fmt.Errorf("unsupported export format %q", filepath.Ext(path))
	}
}

// Readable reports whether the export file exists and can be opened. Used
// by the orchestrator's preflight so nothing destructive happens against a
// missing input.
func Readable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("export %s not readable: %w", path, err)
	}
	return f.Close()
}

func loadJSON(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}
	var doc struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse export %s: %w", path, err)
	}
	out := make([]Record, 0, len(doc.Data))
	for _, row := range doc.Data {
		rec := Record{}
		for k, v := range row {
			rec[k] = stringify(v)
		}
		out = append(out, rec)
	}
	return out, nil
}

func loadCSV(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse export %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	header := rows[0]
	out := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := Record{}
		for i, col := range header {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(raw)
	}
}
