package csv

import (
	"fmt"
	"strconv"
	"unsafe"

	"github.com/dataflowlabs/csvstream/internal/typeclass"
)

// ColumnSchema holds the ordered column names for one parse, plus a
// name→index lookup. It is set exactly once per Reader - either from
// Dialect.ColumnNames or from the header row - and is shared read-only by
// every Row the Reader emits afterward: rows hold a reference to it, it
// never points back. When a projection is configured, each emitted Row
// instead carries its own ColumnSchema holding only the projected names.
type ColumnSchema struct {
	names []string
	index map[string]int
}

// newColumnSchema builds a ColumnSchema from raw header fields, resolving
// duplicate names by suffixing _2, _3, ... on the second and later
// occurrence, matching the original csv_row.cpp header parser.
func newColumnSchema(names []string) *ColumnSchema {
	out := make([]string, len(names))
	seen := make(map[string]int, len(names))
	for i, n := range names {
		count := seen[n]
		seen[n] = count + 1
		if count == 0 {
			out[i] = n
		} else {
			out[i] = fmt.Sprintf("%s_%d", n, count+1)
		}
	}
	idx := make(map[string]int, len(out))
	for i, n := range out {
		idx[n] = i
	}
	return &ColumnSchema{names: out, index: idx}
}

// Names returns the column names in order.
func (s *ColumnSchema) Names() []string {
	return s.names
}

// Len returns the number of columns.
func (s *ColumnSchema) Len() int {
	return len(s.names)
}

// IndexOf resolves a column name to its index.
func (s *ColumnSchema) IndexOf(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// project builds the ColumnSchema that results from selecting subset,
// an ordered list of source indices.
func (s *ColumnSchema) project(subset []int) *ColumnSchema {
	if len(subset) == 0 {
		return s
	}
	names := make([]string, len(subset))
	for i, src := range subset {
		names[i] = s.names[src]
	}
	return newColumnSchema(names)
}

// Field borrows a byte range from its owning Row's buffer. A Field is
// valid only as long as the Row that produced it is retained.
type Field struct {
	data []byte
}

// Bytes returns the field's raw bytes. The slice must not be modified or
// retained past the owning Row's lifetime.
func (f Field) Bytes() []byte {
	return f.data
}

// String renders the field as a string. This always succeeds, including
// for numeric fields, which are simply the bytes as scanned - no
// reformatting is needed since the Type Classifier never mutates field
// bytes.
func (f Field) String() string {
	return unsafe.String(unsafe.SliceData(f.data), len(f.data))
}

// Tag returns the field's lexical classification.
func (f Field) Tag() typeclass.Tag {
	return typeclass.Classify(f.data)
}

// IsNull reports whether the field classifies as null (empty after
// trimming ASCII spaces).
func (f Field) IsNull() bool {
	return f.Tag() == typeclass.Null
}

// Int converts the field to an int64. It fails with ErrTypeMismatch if the
// field did not classify as Integer, or with ErrOverflow if the value does
// not fit an int64.
func (f Field) Int() (int64, error) {
	if f.Tag() != typeclass.Integer {
		return 0, ErrTypeMismatch
	}
	v, err := typeclass.ParseInt(f.data)
	if err != nil {
		return 0, mapConversionErr(err)
	}
	return v, nil
}

// Float converts the field to a float64. It accepts fields classified as
// either Integer or Float; it fails with ErrTypeMismatch for string or
// null fields, or ErrOverflow if the value does not fit.
func (f Field) Float() (float64, error) {
	tag := f.Tag()
	if tag != typeclass.Integer && tag != typeclass.Float {
		return 0, ErrTypeMismatch
	}
	v, err := typeclass.ParseFloat(f.data)
	if err != nil {
		return 0, mapConversionErr(err)
	}
	return v, nil
}

// Bool converts the field to a bool, accepting the same spellings as
// strconv.ParseBool. It fails with ErrTypeMismatch for anything else.
func (f Field) Bool() (bool, error) {
	v, err := strconv.ParseBool(f.String())
	if err != nil {
		return false, ErrTypeMismatch
	}
	return v, nil
}

func mapConversionErr(err error) error {
	if err == typeclass.ErrOverflow {
		return ErrOverflow
	}
	return err
}

// Row is one emitted record: an owned byte buffer, monotonic split
// offsets, and a shared back-reference to the ColumnSchema that named its
// fields. A Row is produced once by the Row Materializer and then belongs
// to the caller; nothing in this package writes to its buffer again.
type Row struct {
	data   []byte
	splits []int
	schema *ColumnSchema
	rowNum int
}

// Len returns the number of fields in the row.
func (r Row) Len() int {
	if len(r.splits) == 0 {
		return 0
	}
	return len(r.splits) - 1
}

// RowNum returns the 0-based position of this row in the source file,
// counting every closed record including the header and any dropped rows.
func (r Row) RowNum() int {
	return r.rowNum
}

// Field returns the field at index i, borrowing bytes from the row
// buffer. It panics if i is out of range, matching slice semantics.
func (r Row) Field(i int) Field {
	return Field{data: r.data[r.splits[i]:r.splits[i+1]]}
}

// FieldByName resolves name through the ColumnSchema and returns the
// corresponding field. ok is false if the row has no schema or the name
// is unknown.
func (r Row) FieldByName(name string) (Field, bool) {
	if r.schema == nil {
		return Field{}, false
	}
	i, ok := r.schema.IndexOf(name)
	if !ok || i >= r.Len() {
		return Field{}, false
	}
	return r.Field(i), true
}

// Schema returns the ColumnSchema shared by every row in this parse.
func (r Row) Schema() *ColumnSchema {
	return r.schema
}

// Strings copies every field out as a string, in order. This allocates;
// prefer Field/FieldByName for hot paths.
func (r Row) Strings() []string {
	out := make([]string, r.Len())
	for i := range out {
		out[i] = r.Field(i).String()
	}
	return out
}
