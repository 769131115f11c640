// Package statemachine implements the byte-by-byte RFC 4180 parser core:
// a two-state (UNQUOTED/QUOTED) machine that consumes a byte view at a
// time and emits completed records to a Sink.
//
// The machine is resumable: all state that a decision might depend on
// (whether a field has started, whether a quote is open, whether a quote
// seen at the very end of a chunk is a close-quote or an escape) lives in
// the Machine struct and survives across Feed calls, so a caller can split
// its input into arbitrary chunks and get the same record sequence as
// feeding it all at once. This generalizes the chunk-boundary handling in
// fastparser.chunkedParser (which tracks inQuotes across chunks) to the
// full quote-disambiguation lookahead the RFC 4180 grammar needs.
package statemachine

import (
	"errors"

	"github.com/dataflowlabs/csvstream/internal/byteclass"
)

// ErrBareQuote indicates a quote byte appeared in the middle of an
// unquoted field. In non-strict mode the byte is dropped as noise; in
// strict mode Feed returns this error.
var ErrBareQuote = errors.New("bare quote in non-quoted field")

// Record is a completed row-in-progress handed to a Sink. Data is the
// row's own byte buffer; Splits holds N+1 offsets for N fields, where
// Splits[i] is the start of field i and Splits[N] is the end of the last
// field (== len(Data)). The machine never reuses Data or Splits after
// handing them to a Sink.
type Record struct {
	Data         []byte
	Splits       []int
	Unterminated bool // a quoted field was still open when the record was flushed at EOF
}

// Sink receives completed records in file order.
type Sink interface {
	CloseRecord(rec Record) error
}

// Machine is a resumable RFC 4180 state machine for one parse.
type Machine struct {
	table byteclass.Table
	quote byte
	strict bool

	quoteOpen         bool // true while inside a quoted field (the QUOTED state)
	pendingCloseQuote bool // saw a quote in QUOTED state; next byte disambiguates close vs escape vs repair
	atFieldStart      bool // true if no byte has been consumed for the current field yet

	rowBuf []byte
	splits []int

	sink Sink
}

// New creates a Machine that classifies bytes with table and dispatches
// completed records to sink. If strict is true, a bare quote inside an
// unquoted field is reported as ErrBareQuote instead of silently dropped.
func New(table byteclass.Table, quote byte, strict bool, sink Sink) *Machine {
	m := &Machine{
		table:  table,
		quote:  quote,
		strict: strict,
		sink:   sink,
	}
	m.resetRow(64)
	return m
}

func (m *Machine) resetRow(capHint int) {
	if capHint < 64 {
		capHint = 64
	}
	m.rowBuf = make([]byte, 0, capHint)
	m.splits = make([]int, 1, 8)
	m.splits[0] = 0
	m.atFieldStart = true
}

// closeField appends the current end-of-field offset to the split list.
// It does not copy bytes; the row buffer is already the backing store.
func (m *Machine) closeField() {
	m.splits = append(m.splits, len(m.rowBuf))
}

// pristine reports whether nothing has been parsed yet for the current
// row-in-progress: no field has been closed and no bytes have been
// buffered. Hitting a terminator while pristine is a blank line, skipped
// silently rather than emitted as a one-empty-field record - the same
// behavior fastparser's byte parsers get from checking isNewline() before
// starting a record.
func (m *Machine) pristine() bool {
	return len(m.splits) == 1 && len(m.rowBuf) == 0 && m.atFieldStart
}

func (m *Machine) emit() error {
	rec := Record{Data: m.rowBuf, Splits: m.splits}
	prevCap := cap(m.rowBuf)
	m.resetRow(prevCap)
	return m.sink.CloseRecord(rec)
}

// Feed parses one chunk of input, calling Sink.CloseRecord for every
// record boundary found. State persists across calls.
func (m *Machine) Feed(chunk []byte) error {
	i := 0
	n := len(chunk)

	for i < n {
		b := chunk[i]

		if m.pendingCloseQuote {
			cls := m.table.Classify(b)
			switch cls {
			case byteclass.Quote:
				// Doubled quote: an escaped quote inside the field.
				m.rowBuf = append(m.rowBuf, m.quote)
				m.pendingCloseQuote = false
				i++
			case byteclass.Delimiter:
				m.pendingCloseQuote = false
				m.quoteOpen = false
				m.closeField()
				m.atFieldStart = true
				i++
			case byteclass.CR:
				m.pendingCloseQuote = false
				m.quoteOpen = false
				m.closeField()
				if i+1 < n && chunk[i+1] == '\n' {
					i += 2
				} else {
					i++
				}
				if err := m.emit(); err != nil {
					return err
				}
			case byteclass.LF:
				m.pendingCloseQuote = false
				m.quoteOpen = false
				m.closeField()
				i++
				if err := m.emit(); err != nil {
					return err
				}
			default:
				// Lenient repair: the stray quote stands for itself; the
				// byte that follows it is reprocessed normally below.
				m.rowBuf = append(m.rowBuf, m.quote)
				m.pendingCloseQuote = false
			}
			continue
		}

		if m.quoteOpen {
			cls := m.table.Classify(b)
			if cls == byteclass.Quote {
				m.pendingCloseQuote = true
				i++
				continue
			}
			// Any other byte, including CR/LF/delimiter, is verbatim content.
			m.rowBuf = append(m.rowBuf, b)
			i++
			continue
		}

		// UNQUOTED state.
		cls := m.table.Classify(b)
		switch cls {
		case byteclass.Delimiter:
			m.closeField()
			m.atFieldStart = true
			i++
		case byteclass.Quote:
			if m.atFieldStart {
				m.quoteOpen = true
				m.atFieldStart = false
			} else if m.strict {
				return ErrBareQuote
			}
			i++
		case byteclass.CR:
			if m.pristine() {
				if i+1 < n && chunk[i+1] == '\n' {
					i += 2
				} else {
					i++
				}
				continue
			}
			m.closeField()
			if i+1 < n && chunk[i+1] == '\n' {
				i += 2
			} else {
				i++
			}
			if err := m.emit(); err != nil {
				return err
			}
		case byteclass.LF:
			if m.pristine() {
				i++
				continue
			}
			m.closeField()
			i++
			if err := m.emit(); err != nil {
				return err
			}
		default:
			m.rowBuf = append(m.rowBuf, b)
			m.atFieldStart = false
			i++
		}
	}

	return nil
}

// EndOfInput flushes a trailing row-in-progress, treating EOF as an
// implicit record terminator only if the row is non-empty. A still-open
// quoted field is closed at EOF; Record.Unterminated is set so the caller
// can reject the row in strict mode.
func (m *Machine) EndOfInput() error {
	rowHasContent := len(m.splits) > 1 || len(m.rowBuf) > 0 || m.quoteOpen

	if !rowHasContent {
		return nil
	}

	unterminated := false
	if m.pendingCloseQuote {
		// A quote at the very end of input is a valid close per the
		// state table ("quote followed by ... end-of-chunk").
		m.pendingCloseQuote = false
		m.quoteOpen = false
	} else if m.quoteOpen {
		unterminated = true
		m.quoteOpen = false
	}

	m.closeField()
	rec := Record{Data: m.rowBuf, Splits: m.splits, Unterminated: unterminated}
	m.resetRow(cap(m.rowBuf))
	return m.sink.CloseRecord(rec)
}
