package csv

import (
	"errors"
	"fmt"

	"github.com/dataflowlabs/csvstream/internal/byteclass"
	"github.com/dataflowlabs/csvstream/internal/statemachine"
)

// Dialect is the parser configuration: delimiter, quote, header position,
// explicit column names, strictness, projection, and trim bytes. It is
// built by the caller or by Guess, and immutable once a parse starts.
type Dialect struct {
	// Delimiter separates fields. 0 requests Guess.
	Delimiter byte
	// Quote encloses fields that may contain the delimiter, CR, or LF.
	// Defaults to '"' if zero.
	Quote byte
	// HeaderRow is the 0-based index of the row whose fields become
	// column names. -1 means no header; names then come from ColumnNames,
	// or are generated as column0, column1, ... when ColumnNames is empty.
	HeaderRow int
	// ColumnNames supplies explicit names, overriding the header row.
	ColumnNames []string
	// Strict causes a field-count mismatch to surface as a
	// *MalformedRowError instead of being routed to BadRowHandler.
	Strict bool
	// Projection is an ordered list of source column indices to keep.
	// Empty means keep all columns.
	Projection []int
	// Trim lists byte values stripped from both edges of every field
	// after it closes, before type inspection. Empty means no trimming.
	Trim []byte
	// BadRowHandler receives rows whose field count disagrees with the
	// Column Schema. Nil means drop silently.
	BadRowHandler BadRowHandler
}

// DefaultDialect returns the conventional comma/double-quote dialect with
// a header row at index 0.
func DefaultDialect() Dialect {
	return Dialect{
		Delimiter: ',',
		Quote:     '"',
		HeaderRow: 0,
	}
}

// validDelim reports whether b can serve as a delimiter or quote byte: it
// must be set and not one of the two bytes the state machine always
// treats as a record terminator.
func validDelim(b byte) bool {
	return b != 0 && b != '\r' && b != '\n'
}

// Validate checks the Dialect's invariants: delimiter and quote must each
// be valid single bytes and must differ.
func (d Dialect) Validate() error {
	if d.Delimiter != 0 && !validDelim(d.Delimiter) {
		return fmt.Errorf("csv: invalid delimiter %q", d.Delimiter)
	}
	quote := d.Quote
	if quote == 0 {
		quote = '"'
	}
	if !validDelim(quote) {
		return fmt.Errorf("csv: invalid quote %q", quote)
	}
	if d.Delimiter != 0 && d.Delimiter == quote {
		return errors.New("csv: delimiter and quote must differ")
	}
	return nil
}

func (d Dialect) quoteByte() byte {
	if d.Quote == 0 {
		return '"'
	}
	return d.Quote
}

// guessCandidates is the fixed delimiter set the Dialect Guesser probes,
// in the priority order ties break by.
var guessCandidates = []byte{',', '|', '\t', ';', '^'}

const guessSampleRows = 100

var errProbeLimitReached = errors.New("csv: probe row limit reached")

// limitedSink wraps a statemachine.Sink and stops materializing after
// limit rows have been closed, so Guess never parses more of the sample
// than its two passes call for.
type limitedSink struct {
	inner statemachine.Sink
	count int
	limit int
}

func (s *limitedSink) CloseRecord(rec statemachine.Record) error {
	if s.count >= s.limit {
		return errProbeLimitReached
	}
	s.count++
	return s.inner.CloseRecord(rec)
}

// probe runs one candidate delimiter over sample with header row 0 and an
// optional bad-row handler, stopping after guessSampleRows rows. It
// returns the resulting row materializer so callers can inspect
// correctRows, schema column count, and anything the bad-row handler
// collected.
func probe(sample []byte, delim byte, badRow BadRowHandler) *rowMaterializer {
	out := make(chan Row, guessSampleRows)
	d := Dialect{Delimiter: delim, Quote: '"', HeaderRow: 0, BadRowHandler: badRow}
	m := newRowMaterializer(d, out)
	sink := &limitedSink{inner: m, limit: guessSampleRows}
	table := byteclass.New(delim, '"')
	machine := statemachine.New(table, '"', false, sink)
	_ = machine.Feed(sample) // errProbeLimitReached is expected and ignored
	_ = machine.EndOfInput()
	close(out)
	for range out {
		// drain; probe only inspects counters, not the emitted rows
	}
	return m
}

// Guess implements the two-pass Dialect Guesser: choose a delimiter from
// the fixed candidate set and a header row index by probing the sample
// under each candidate.
func Guess(sample []byte) (Dialect, error) {
	type result struct {
		delim   byte
		correct int
		columns int
	}

	var best result
	found := false
	for _, delim := range guessCandidates {
		m := probe(sample, delim, nil)
		columns := 0
		if m.schema != nil {
			columns = m.schema.Len()
		}
		if m.correctRows >= 10 && columns >= 3 {
			if !found || m.correctRows > best.correct ||
				(m.correctRows == best.correct && columns > best.columns) {
				best = result{delim, m.correctRows, columns}
				found = true
			}
		}
	}
	if found {
		return Dialect{Delimiter: best.delim, Quote: '"', HeaderRow: 0}, nil
	}

	bestModeLen := 0
	secondFound := false
	var chosen result
	var chosenHeaderRow int

	for _, delim := range guessCandidates {
		tally := make(map[int]int)
		firstSeen := make(map[int]int)
		badRow := func(rowNum, want, got int) {
			tally[got]++
			if _, ok := firstSeen[got]; !ok {
				firstSeen[got] = rowNum
			}
		}
		m := probe(sample, delim, badRow)

		modeLen, modeCount := 0, 0
		for length, count := range tally {
			if count > modeCount || (count == modeCount && length > modeLen) {
				modeLen, modeCount = length, count
			}
		}

		if modeCount > m.correctRows && modeLen > bestModeLen {
			bestModeLen = modeLen
			secondFound = true
			chosen = result{delim, m.correctRows, modeLen}
			chosenHeaderRow = firstSeen[modeLen]
		}
	}

	if secondFound {
		return Dialect{Delimiter: chosen.delim, Quote: '"', HeaderRow: chosenHeaderRow}, nil
	}

	return Dialect{}, ErrBadDialect
}
