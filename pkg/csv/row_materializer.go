package csv

import (
	"fmt"

	"github.com/dataflowlabs/csvstream/internal/statemachine"
)

// BadRowHandler is invoked for every row whose field count disagrees with
// the Column Schema, instead of emitting it. The default handler drops
// the row; the Dialect Guesser supplies a tallying variant for its second
// pass.
type BadRowHandler func(rowNum, want, got int)

func dropBadRow(rowNum, want, got int) {}

// rowMaterializer implements statemachine.Sink: it is the Worker's only
// collaborator, closing a row-in-progress into either a header (which
// sets the ColumnSchema and emits nothing), a bad row (routed to
// badRow), or an emitted Row pushed onto out.
//
// It owns row_num and correct_rows, matching the Row Materializer's
// counter responsibility; the state machine itself never sees these.
type rowMaterializer struct {
	headerRow     int // -1 means no header row
	explicitNames []string
	subset        []int
	trim          []byte
	strict        bool
	badRow        BadRowHandler

	schema      *ColumnSchema
	rowNum      int
	correctRows int

	out chan<- Row
}

func newRowMaterializer(d Dialect, out chan<- Row) *rowMaterializer {
	badRow := d.BadRowHandler
	if badRow == nil {
		badRow = dropBadRow
	}
	m := &rowMaterializer{
		headerRow:     d.HeaderRow,
		explicitNames: d.ColumnNames,
		subset:        d.Projection,
		trim:          d.Trim,
		strict:        d.Strict,
		badRow:        badRow,
		out:           out,
	}
	if len(m.explicitNames) > 0 {
		m.schema = newColumnSchema(m.explicitNames)
	}
	return m
}

func genericNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("column%d", i)
	}
	return names
}

// CloseRecord implements statemachine.Sink.
func (m *rowMaterializer) CloseRecord(rec statemachine.Record) error {
	if len(m.trim) > 0 {
		rec = trimRecord(rec, m.trim)
	}

	currentRow := m.rowNum
	m.rowNum++

	nFields := len(rec.Splits) - 1

	if m.headerRow >= 0 {
		if currentRow < m.headerRow {
			return nil // pre-header preamble or comments: discard silently
		}
		if currentRow == m.headerRow {
			if len(m.explicitNames) == 0 {
				m.schema = newColumnSchema(materializeFields(rec))
			}
			return nil
		}
	}

	if rec.Unterminated && m.strict {
		return &UnterminatedQuoteError{Row: currentRow}
	}

	if m.schema == nil {
		m.schema = newColumnSchema(genericNames(nFields))
	}

	want := m.schema.Len()
	if nFields != want {
		if m.strict {
			return &MalformedRowError{Row: currentRow, Want: want, Got: nFields}
		}
		m.badRow(currentRow, want, nFields)
		return nil
	}

	row := Row{data: rec.Data, splits: rec.Splits, schema: m.schema, rowNum: currentRow}
	if len(m.subset) > 0 {
		row = projectRow(row, m.subset)
	}
	m.correctRows++
	m.out <- row
	return nil
}

// trimRecord strips trimSet bytes from both edges of every field, copying
// into a fresh compacted buffer. A copy is necessary (rather than
// adjusting the shared N+1 split offsets in place) because independent
// leading/trailing trim on adjacent fields can move a field's reported
// start forward while its neighbor's end moves backward - two different
// target values for what is one shared offset slot in the untrimmed
// encoding.
func trimRecord(rec statemachine.Record, trimSet []byte) statemachine.Record {
	isTrim := func(b byte) bool {
		for _, t := range trimSet {
			if t == b {
				return true
			}
		}
		return false
	}

	n := len(rec.Splits) - 1
	data := make([]byte, 0, len(rec.Data))
	splits := make([]int, 1, n+1)
	for i := 0; i < n; i++ {
		start, end := rec.Splits[i], rec.Splits[i+1]
		for start < end && isTrim(rec.Data[start]) {
			start++
		}
		for end > start && isTrim(rec.Data[end-1]) {
			end--
		}
		data = append(data, rec.Data[start:end]...)
		splits = append(splits, len(data))
	}
	return statemachine.Record{Data: data, Splits: splits, Unterminated: rec.Unterminated}
}

func materializeFields(rec statemachine.Record) []string {
	n := len(rec.Splits) - 1
	names := make([]string, n)
	for i := 0; i < n; i++ {
		names[i] = string(rec.Data[rec.Splits[i]:rec.Splits[i+1]])
	}
	return names
}

// projectRow copies the selected source columns, in the given order, into
// a fresh Row with a schema carrying only the projected names. Copying is
// required here (unlike an ordinary field close) because a projection may
// reorder or drop fields, which a pure offset reslice cannot express.
func projectRow(row Row, subset []int) Row {
	total := 0
	for _, idx := range subset {
		total += len(row.Field(idx).Bytes())
	}
	data := make([]byte, 0, total)
	splits := make([]int, 1, len(subset)+1)
	for _, idx := range subset {
		data = append(data, row.Field(idx).Bytes()...)
		splits = append(splits, len(data))
	}
	return Row{
		data:   data,
		splits: splits,
		schema: row.schema.project(subset),
		rowNum: row.rowNum,
	}
}
