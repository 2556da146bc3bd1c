// Package codec parses uploaded tabular files into a format-agnostic Batch.
//
// Two wire formats are supported, selected by file extension:
//
//	.csv  - comma-delimited text (encoding/csv)
//	.xlsx - spreadsheet workbook, first sheet (excelize)
//
// Both formats yield the same in-memory shape so downstream stages never
// need to know which format a batch came from. Parsing is pure: no file
// system or network access, only the bytes handed in.
package codec

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

// Format identifies a supported wire format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ErrUnsupportedFormat is returned when a filename's extension does not map
// to a recognized format.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// ParseError indicates the file content is malformed for its declared format.
type ParseError struct {
	Format Format
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Batch is an ordered set of records parsed from one uploaded file.
// Columns holds the header row; every row in Rows has exactly len(Columns)
// values, in header order.
type Batch struct {
	Columns []string
	Rows    [][]string
}

// ColumnIndex maps each column name to its position in a row.
func (b *Batch) ColumnIndex() map[string]int {
	idx := make(map[string]int, len(b.Columns))
	for i, c := range b.Columns {
		idx[c] = i
	}
	return idx
}

// FormatFor resolves a filename to its wire format.
// Returns ErrUnsupportedFormat for anything other than .csv or .xlsx.
func FormatFor(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}

// Parse decodes raw file bytes into a Batch. The format is selected from
// the filename extension; unknown extensions fail with ErrUnsupportedFormat
// before any content is inspected.
func Parse(filename string, data []byte) (*Batch, error) {
	format, err := FormatFor(filename)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatCSV:
		return parseCSV(data)
	case FormatXLSX:
		return parseXLSX(data)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// parseCSV decodes comma-delimited text. Every record must have the same
// field count as the header; ragged rows are a parse error, not a row
// rejection, because they make column alignment ambiguous.
func parseCSV(data []byte) (*Batch, error) {
	r := csv.NewReader(bytes.NewReader(sanitizeUTF8(data)))
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, &ParseError{Format: FormatCSV, Err: err}
	}
	if len(records) == 0 {
		return nil, &ParseError{Format: FormatCSV, Err: errors.New("empty file")}
	}

	return &Batch{Columns: records[0], Rows: records[1:]}, nil
}

// parseXLSX decodes the first sheet of a workbook. Spreadsheet rows may be
// shorter than the header when trailing cells are empty; they are padded so
// the Batch shape matches the CSV path exactly.
func parseXLSX(data []byte) (*Batch, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{Format: FormatXLSX, Err: err}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &ParseError{Format: FormatXLSX, Err: errors.New("workbook has no sheets")}
	}

	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &ParseError{Format: FormatXLSX, Err: err}
	}
	if len(records) == 0 {
		return nil, &ParseError{Format: FormatXLSX, Err: errors.New("empty sheet")}
	}

	header := records[0]
	rows := make([][]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) < len(header) {
			padded := make([]string, len(header))
			copy(padded, rec)
			rec = padded
		} else if len(rec) > len(header) {
			return nil, &ParseError{
				Format: FormatXLSX,
				Err:    fmt.Errorf("row has %d cells, header has %d", len(rec), len(header)),
			}
		}
		rows = append(rows, rec)
	}

	return &Batch{Columns: header, Rows: rows}, nil
}

// sanitizeUTF8 replaces invalid byte sequences with the Unicode replacement
// character so the CSV reader never chokes on mixed encodings.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('�')
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}
