package core

// parser.go turns raw feed bytes into an ordered field list and records.
//
// The first non-blank row is the header. Header names are trimmed and made
// unique; every accepted record has exactly one value per header field, so
// all records share the returned schema. Rows with a different column count
// (or that fail to parse after the header) are dropped one at a time and
// counted, never failing the whole feed.

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ParseResult is the output of a successful Parse.
type ParseResult struct {
	Fields      []string
	Records     []Record
	SkippedRows int
}

// Parse parses an RFC 4180 CSV feed with a header row.
// Empty input (zero bytes, whitespace only, or a header with no data rows)
// yields an empty result rather than an error.
func Parse(raw []byte) (ParseResult, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return emptyResult(), nil
	}

	reader := csv.NewReader(NewFeedReader(bytes.NewReader(raw)))
	reader.FieldsPerRecord = -1 // column counts are checked per row below
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return emptyResult(), nil
		}
		return ParseResult{}, &ParseError{Line: errLine(err), Cause: err}
	}

	fields := uniqueFieldNames(header)

	var (
		records  []Record
		skipped  int
		dataRows int
	)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		dataRows++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				skipped++
				continue
			}
			return ParseResult{}, fmt.Errorf("read csv: %w", err)
		}

		if len(row) != len(fields) {
			skipped++
			continue
		}

		rec := make(Record, len(fields))
		for i, name := range fields {
			rec[name] = row[i]
		}
		records = append(records, rec)
	}

	if dataRows == 0 {
		// Header only: treated like an empty body
		return emptyResult(), nil
	}
	if records == nil {
		records = []Record{}
	}

	return ParseResult{Fields: fields, Records: records, SkippedRows: skipped}, nil
}

func emptyResult() ParseResult {
	return ParseResult{Fields: []string{}, Records: []Record{}}
}

// uniqueFieldNames trims header cells, names blank cells "column_<n>", and
// suffixes repeated names with their occurrence index: name, name_2, name_3.
func uniqueFieldNames(header []string) []string {
	names := make([]string, len(header))
	taken := make(map[string]bool, len(header))
	for i, h := range header {
		names[i] = strings.TrimSpace(h)
		if names[i] == "" {
			names[i] = fmt.Sprintf("column_%d", i+1)
		}
	}
	// Reserve every distinct original name first so generated suffixes never
	// collide with a real header further right.
	for _, n := range names {
		taken[n] = true
	}

	seen := make(map[string]int, len(names))
	out := make([]string, len(names))
	for i, n := range names {
		seen[n]++
		if seen[n] == 1 {
			out[i] = n
			continue
		}
		idx := seen[n]
		candidate := fmt.Sprintf("%s_%d", n, idx)
		for taken[candidate] {
			idx++
			candidate = fmt.Sprintf("%s_%d", n, idx)
		}
		seen[n] = idx
		taken[candidate] = true
		out[i] = candidate
	}
	return out
}

func errLine(err error) int {
	var perr *csv.ParseError
	if errors.As(err, &perr) {
		return perr.StartLine
	}
	return 0
}
