package httpapi

import (
	"encoding/csv"
	"fmt"
	"net/http"

	"github.com/hcproxy/hypercube-proxy/internal/cubestore"
)

// utf8BOM is written before CSV bodies so spreadsheet tools that assume
// Windows-1252 by default render UTF-8 text correctly.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func writeCSV(w http.ResponseWriter, rowset cubestore.Rowset) error {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(utf8BOM); err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(rowset.Columns); err != nil {
		return err
	}
	record := make([]string, len(rowset.Columns))
	for _, row := range rowset.Rows {
		for i, value := range row {
			record[i] = formatCSVValue(value)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatCSVValue(value any) string {
	if value == nil {
		return ""
	}
	return fmt.Sprintf("%v", value)
}
