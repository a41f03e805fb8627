package rest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/markb/firelite/internal/docstore"
)

// writeCSV writes one row per document: the id column, then every top-level
// data field seen in any document, sorted by name. Missing fields are empty
// and nested objects are JSON-encoded.
func (h *Handler) writeCSV(w http.ResponseWriter, docs []*docstore.Document) {
	w.Header().Set("Content-Type", "text/csv")

	if len(docs) == 0 {
		return
	}

	seen := make(map[string]bool)
	var fields []string
	for _, doc := range docs {
		for key := range doc.Data {
			if !seen[key] {
				seen[key] = true
				fields = append(fields, key)
			}
		}
	}
	sort.Strings(fields)

	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(append([]string{"id"}, fields...)); err != nil {
		return
	}

	for _, doc := range docs {
		values := make([]string, 0, len(fields)+1)
		values = append(values, doc.ID)
		for _, field := range fields {
			values = append(values, formatCSVValue(doc.Data[field]))
		}
		if err := writer.Write(values); err != nil {
			return
		}
	}
}

// formatCSVValue converts a value to its CSV string representation.
// - nil values become empty strings
// - strings are returned as-is
// - maps and slices are JSON-encoded
// - all other types use fmt.Sprintf
func formatCSVValue(v any) string {
	if v == nil {
		return ""
	}

	switch val := v.(type) {
	case string:
		return val
	case map[string]any, []any:
		jsonBytes, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(jsonBytes)
	default:
		return fmt.Sprintf("%v", val)
	}
}
