// Package roster is the parsing boundary between the uploaded spreadsheet
// and the import pipeline. The spreadsheet parser is an external
// collaborator producing ordered, untyped records; this package converts
// each record into a closed RawRow shape before any validator sees it, so
// no component past the boundary handles untyped data.
package roster

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"provisiond/internal/importer"
)

// Required logical columns, matched case-insensitively against the header.
var requiredColumns = []string{"name", "email", "role"}

// ErrNoHeader is returned when the document has no header row at all.
var ErrNoHeader = errors.New("document has no header row")

// Parse reads an uploaded roster and returns one RawRow per data row, in
// file order. The first non-empty record is the header; fully empty rows
// after it are skipped. Errors here are job-fatal: an unparseable
// document, a missing header or missing required columns abort the import
// before validation begins.
func Parse(r io.Reader) ([]importer.RawRow, error) {
	cr := csv.NewReader(wrapUpload(r))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	header, dataStart := findHeader(records)
	if header == nil {
		return nil, ErrNoHeader
	}

	idx, err := indexColumns(header)
	if err != nil {
		return nil, err
	}

	rows := make([]importer.RawRow, 0, len(records)-dataStart)
	for _, rec := range records[dataStart:] {
		if isEmptyRecord(rec) {
			continue
		}
		rows = append(rows, importer.RawRow{
			Index: len(rows) + 1,
			Name:  cell(rec, idx["name"]),
			Email: cell(rec, idx["email"]),
			Role:  cell(rec, idx["role"]),
		})
	}

	return rows, nil
}

// findHeader returns the first non-empty record and the index of the row
// after it.
func findHeader(records [][]string) ([]string, int) {
	for i, rec := range records {
		if !isEmptyRecord(rec) {
			return rec, i + 1
		}
	}
	return nil, 0
}

// indexColumns maps each required logical column to its position in the
// header, or fails listing every column that is absent.
func indexColumns(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(requiredColumns))
	for pos, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, dup := idx[key]; !dup {
			idx[key] = pos
		}
	}

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	return idx, nil
}

func cell(rec []string, pos int) string {
	if pos < 0 || pos >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[pos])
}

func isEmptyRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
