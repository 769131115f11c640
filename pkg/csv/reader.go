package csv

import (
	"bytes"
	"io"

	"github.com/dataflowlabs/csvstream/internal/byteclass"
	"github.com/dataflowlabs/csvstream/internal/fastparser"
	"github.com/dataflowlabs/csvstream/internal/pipeline"
	"github.com/dataflowlabs/csvstream/internal/statemachine"
)

// rowQueueDepth bounds the row queue the caller's iterator drains. A full
// queue blocks the Worker, matching the suspension point the concurrency
// model calls for.
const rowQueueDepth = 256

// FileInfo summarizes one parse for out-of-scope collaborators (column
// statistics, serialization) that need the chosen dialect and counts
// without touching the Reader's iteration state.
type FileInfo struct {
	Filename    string
	ColumnNames []string
	Delimiter   byte
	CorrectRows int
	NColumns    int
}

// Reader is the lazy row-by-row iterator over one parse: an I/O Producer
// and Parser Worker run on background goroutines, feeding a row queue
// this type drains on the calling goroutine. Iteration is single-consumer
// by the same rule bufio.Scanner imposes: calling Scan concurrently from
// more than one goroutine is undefined.
type Reader struct {
	dialect  Dialect
	filename string
	mat      *rowMaterializer
	rows     <-chan Row
	workerErr chan error

	current Row
	err     error
	eof     bool
	closer  io.Closer
}

// NewReader starts a streaming parse of r under dialect. If
// dialect.Delimiter is zero, the entire reader is buffered once to run
// Guess, then replayed from memory - guessing needs to see the data
// before any byte is consumed, which an arbitrary io.Reader cannot
// rewind. Prefer Open for files, which memory-maps the file instead of
// buffering it.
func NewReader(r io.Reader, dialect Dialect) (*Reader, error) {
	if err := dialect.Validate(); err != nil {
		return nil, err
	}

	if dialect.Delimiter == 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		guessed, err := resolveGuess(data, dialect)
		if err != nil {
			return nil, err
		}
		dialect = guessed
		r = bytes.NewReader(data)
	}

	rows := make(chan Row, rowQueueDepth)
	mat := newRowMaterializer(dialect, rows)
	table := byteclass.New(dialect.Delimiter, dialect.quoteByte())
	machine := statemachine.New(table, dialect.quoteByte(), dialect.Strict, mat)
	worker := pipeline.NewWorker(machine)
	chunks := pipeline.Produce(r, pipeline.DefaultChunkSize)

	errc := make(chan error, 1)
	go func() {
		err := worker.Run(chunks)
		close(rows)
		errc <- err
	}()

	return &Reader{dialect: dialect, mat: mat, rows: rows, workerErr: errc}, nil
}

// Open opens filename and starts a streaming parse, guessing the dialect
// first if dialect.Delimiter is zero. The file is memory-mapped via
// fastparser.MmapFile rather than read in two passes: Guess runs over a
// leading slice of the same mapping, and the real parse walks the mapping
// from the start, so nothing is re-read or seeked.
func Open(filename string, dialect Dialect) (*Reader, error) {
	if err := dialect.Validate(); err != nil {
		return nil, err
	}

	data, cleanup, err := fastparser.MmapFile(filename)
	if err != nil {
		return nil, &PathError{Path: filename, Err: err}
	}

	if dialect.Delimiter == 0 {
		sample := data
		if len(sample) > 64*1024 {
			sample = sample[:64*1024]
		}
		guessed, err := resolveGuess(sample, dialect)
		if err != nil {
			cleanup()
			return nil, err
		}
		dialect = guessed
	}

	r, err := NewReader(bytes.NewReader(data), dialect)
	if err != nil {
		cleanup()
		return nil, err
	}
	r.filename = filename
	r.closer = closerFunc(cleanup)
	return r, nil
}

// closerFunc adapts fastparser.MmapFile's cleanup callback to io.Closer.
type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}

// resolveGuess runs Guess over sample and carries forward every
// caller-supplied Dialect field that Guess itself does not set.
func resolveGuess(sample []byte, requested Dialect) (Dialect, error) {
	guessed, err := Guess(sample)
	if err != nil {
		return Dialect{}, err
	}
	guessed.Quote = requested.quoteByte()
	if len(requested.ColumnNames) > 0 {
		guessed.ColumnNames = requested.ColumnNames
		guessed.HeaderRow = requested.HeaderRow
	}
	guessed.Strict = requested.Strict
	guessed.Projection = requested.Projection
	guessed.Trim = requested.Trim
	guessed.BadRowHandler = requested.BadRowHandler
	return guessed, nil
}

// Scan advances to the next row, returning false at EOF or on a fatal
// error. Check Err after Scan returns false to distinguish the two.
func (r *Reader) Scan() bool {
	if r.err != nil || r.eof {
		return false
	}
	row, ok := <-r.rows
	if !ok {
		r.eof = true
		if err := <-r.workerErr; err != nil {
			r.err = err
		}
		return false
	}
	r.current = row
	return true
}

// Row returns the row produced by the most recent successful Scan.
func (r *Reader) Row() Row {
	return r.current
}

// Err returns the fatal error, if any, that stopped iteration.
func (r *Reader) Err() error {
	return r.err
}

// EOF reports whether the underlying file has been fully consumed.
func (r *Reader) EOF() bool {
	return r.eof
}

// Headers returns the Column Schema's names, or nil if no schema has been
// set yet (no header row has been seen and no explicit names configured).
func (r *Reader) Headers() []string {
	if r.mat.schema == nil {
		return nil
	}
	return r.mat.schema.Names()
}

// Dialect returns the dialect this Reader is parsing with - the
// caller-supplied one, or the result of Guess if guessing was requested.
func (r *Reader) Dialect() Dialect {
	return r.dialect
}

// CorrectRows returns the number of rows emitted so far.
func (r *Reader) CorrectRows() int {
	return r.mat.correctRows
}

// Info returns a FileInfo snapshot for out-of-scope collaborators.
func (r *Reader) Info() FileInfo {
	names := r.Headers()
	return FileInfo{
		Filename:    r.filename,
		ColumnNames: names,
		Delimiter:   r.dialect.Delimiter,
		CorrectRows: r.mat.correctRows,
		NColumns:    len(names),
	}
}

// Close releases the Reader's resources. It is safe to call before
// iteration finishes; any rows still buffered in the row queue are
// discarded and the Producer/Worker goroutines are allowed to drain and
// exit rather than leak. For a Reader from Open, Close waits for the
// Worker to finish before releasing the file mapping.
func (r *Reader) Close() error {
	drained := make(chan struct{})
	go func() {
		for range r.rows {
		}
		close(drained)
	}()
	if r.closer != nil {
		// The Producer may still be reading the mapping until the Worker
		// has closed the row queue.
		<-drained
		return r.closer.Close()
	}
	return nil
}

// Parse parses data with the default dialect and returns every field of
// every row as strings.
func Parse(data []byte) ([][]string, error) {
	return ParseDialect(data, DefaultDialect())
}

// ParseDialect parses data with an explicit dialect.
func ParseDialect(data []byte, dialect Dialect) ([][]string, error) {
	r, err := NewReader(bytes.NewReader(data), dialect)
	if err != nil {
		return nil, err
	}
	var out [][]string
	for r.Scan() {
		out = append(out, r.Row().Strings())
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseReader reads r fully and parses it with the default dialect.
func ParseReader(r io.Reader) ([][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Validate reports whether data parses successfully under the default
// dialect, without returning the parsed rows.
func Validate(data []byte) error {
	_, err := Parse(data)
	return err
}

// ValidateDialect reports whether data parses successfully under dialect,
// without returning the parsed rows.
func ValidateDialect(data []byte, dialect Dialect) error {
	_, err := ParseDialect(data, dialect)
	return err
}

// ValidateReader reports whether r parses successfully under the default
// dialect.
func ValidateReader(r io.Reader) error {
	_, err := ParseReader(r)
	return err
}
