// Package csvtable reads the header-row CSV files the gateway's static
// configuration (hosts, routes) is kept in.
package csvtable

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
)

// Row is one record keyed by header name. Line is the 1-based line number
// in the source file.
type Row struct {
	Line   int
	Values map[string]string

	// header is shared by every row of one Read.
	header []string
}

// Get returns the trimmed value of column, or "" when absent.
func (r Row) Get(column string) string {
	return r.Values[column]
}

// ReadFile opens path and reads it with Read.
func ReadFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read parses a CSV stream whose first record is the header. Leading
// whitespace is ignored in every field, blank lines are skipped and the
// order of records is preserved.
func Read(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		line, _ := reader.FieldPos(0)
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		if len(record) > len(header) {
			return nil, fmt.Errorf("line %d: %d fields, header has %d", line, len(record), len(header))
		}

		values := make(map[string]string, len(header))
		for i, column := range header {
			if i < len(record) {
				values[column] = strings.TrimSpace(record[i])
			}
		}
		rows = append(rows, Row{Line: line, Values: values, header: header})
	}
	return rows, nil
}

// HasColumns reports the first of columns missing from the header of rows.
// Short records do not affect the result.
func HasColumns(rows []Row, columns ...string) (string, bool) {
	if len(rows) == 0 {
		return "", true
	}
	for _, c := range columns {
		if !slices.Contains(rows[0].header, c) {
			return c, false
		}
	}
	return "", true
}
