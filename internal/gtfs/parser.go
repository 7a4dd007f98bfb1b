package gtfs

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"io"
	"reflect"
	"strings"
)

// Stream decodes one CSV file from a GTFS zip a row at a time, so large
// files like stop_times.txt never sit in memory.
type Stream[T any] struct {
	rc       io.ReadCloser
	reader   *csv.Reader
	fieldMap []fieldMapping
}

type fieldMapping struct {
	csvIndex   int
	fieldIndex int
}

// OpenStream opens f and reads its header row.
func OpenStream[T any](f *zip.File) (*Stream[T], error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	reader := csv.NewReader(rc)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}

	// Strip BOM from first field if present
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\xef\xbb\xbf")
	}

	return &Stream[T]{
		rc:       rc,
		reader:   reader,
		fieldMap: buildFieldMap[T](header),
	}, nil
}

// Next decodes the next row. It returns io.EOF after the last one.
func (s *Stream[T]) Next() (T, error) {
	var t T
	record, err := s.reader.Read()
	if err != nil {
		return t, err
	}
	v := reflect.ValueOf(&t).Elem()
	for _, fm := range s.fieldMap {
		if fm.csvIndex < len(record) {
			v.Field(fm.fieldIndex).SetString(strings.TrimSpace(record[fm.csvIndex]))
		}
	}
	return t, nil
}

// Close releases the underlying reader.
func (s *Stream[T]) Close() error {
	return s.rc.Close()
}

// buildFieldMap maps CSV column positions to the struct fields tagged with
// the column name. Unknown columns are ignored.
func buildFieldMap[T any](header []string) []fieldMapping {
	var t T
	typ := reflect.TypeOf(t)

	tagToField := make(map[string]int)
	for i := 0; i < typ.NumField(); i++ {
		if tag := typ.Field(i).Tag.Get("csv"); tag != "" {
			tagToField[tag] = i
		}
	}

	var mappings []fieldMapping
	for csvIdx, colName := range header {
		if fieldIdx, ok := tagToField[strings.TrimSpace(colName)]; ok {
			mappings = append(mappings, fieldMapping{csvIndex: csvIdx, fieldIndex: fieldIdx})
		}
	}
	return mappings
}

// findFile returns the named file in the archive, or nil.
func findFile(r *zip.Reader, name string) *zip.File {
	for _, f := range r.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// NormalizeTime zero-pads a GTFS time ("8:05:00" becomes "08:05:00") so
// stored times sort lexically. Hours past 24 are kept. Blank and malformed
// values are returned unchanged.
func NormalizeTime(t string) string {
	t = strings.TrimSpace(t)
	parts := strings.Split(t, ":")
	if len(parts) != 3 {
		return t
	}
	for i, p := range parts {
		if p == "" || (i > 0 && len(p) > 2) {
			return t
		}
		if len(p) == 1 {
			parts[i] = "0" + p
		}
	}
	return strings.Join(parts, ":")
}
