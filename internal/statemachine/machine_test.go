package statemachine

import (
	"errors"
	"testing"

	"github.com/dataflowlabs/csvstream/internal/byteclass"
)

type recordingSink struct {
	records []Record
}

func (s *recordingSink) CloseRecord(rec Record) error {
	s.records = append(s.records, rec)
	return nil
}

func fields(rec Record) []string {
	out := make([]string, len(rec.Splits)-1)
	for i := 0; i+1 < len(rec.Splits); i++ {
		out[i] = string(rec.Data[rec.Splits[i]:rec.Splits[i+1]])
	}
	return out
}

func run(t *testing.T, input string, strict bool) []Record {
	t.Helper()
	sink := &recordingSink{}
	table := byteclass.New(',', '"')
	m := New(table, '"', strict, sink)
	if err := m.Feed([]byte(input)); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if err := m.EndOfInput(); err != nil {
		t.Fatalf("EndOfInput: %v", err)
	}
	return sink.records
}

func TestBasicRows(t *testing.T) {
	recs := run(t, "a,b,c\r\n1,2,3\n", false)
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if got := fields(recs[0]); got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("row 0 = %v", got)
	}
	if got := fields(recs[1]); got[0] != "1" || got[1] != "2" || got[2] != "3" {
		t.Errorf("row 1 = %v", got)
	}
}

func TestQuotedFieldWithEmbeddedDelimiterAndNewline(t *testing.T) {
	recs := run(t, "\"a,b\",\"c\nd\"\n", false)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	got := fields(recs[0])
	if got[0] != "a,b" || got[1] != "c\nd" {
		t.Errorf("row = %v", got)
	}
}

func TestEscapedQuote(t *testing.T) {
	recs := run(t, "\"she said \"\"hi\"\"\"\n", false)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	got := fields(recs[0])
	if got[0] != `she said "hi"` {
		t.Errorf("field = %q", got[0])
	}
}

func TestTrailingEmptyField(t *testing.T) {
	recs := run(t, "1,,\r\n", false)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	got := fields(recs[0])
	if len(got) != 3 || got[0] != "1" || got[1] != "" || got[2] != "" {
		t.Errorf("row = %v", got)
	}
}

func TestBlankLinesSkipped(t *testing.T) {
	recs := run(t, "a,b\n\n\nc,d\n", false)
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2 (blank lines skipped), got %v", len(recs), recs)
	}
}

func TestNoTrailingTerminator(t *testing.T) {
	recs := run(t, "a,b,c", false)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	got := fields(recs[0])
	if len(got) != 3 || got[2] != "c" {
		t.Errorf("row = %v", got)
	}
}

func TestTrailingDelimiterAtEOF(t *testing.T) {
	recs := run(t, "1,2,", false)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	got := fields(recs[0])
	if len(got) != 3 || got[2] != "" {
		t.Errorf("row = %v", got)
	}
}

func TestUnterminatedQuoteAtEOF(t *testing.T) {
	sink := &recordingSink{}
	table := byteclass.New(',', '"')
	m := New(table, '"', false, sink)
	if err := m.Feed([]byte("abc,\"xyz")); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if err := m.EndOfInput(); err != nil {
		t.Fatalf("EndOfInput: %v", err)
	}
	if len(sink.records) != 1 {
		t.Fatalf("got %d records, want 1", len(sink.records))
	}
	rec := sink.records[0]
	if !rec.Unterminated {
		t.Error("expected Unterminated to be set")
	}
	got := fields(rec)
	if got[1] != "xyz" {
		t.Errorf("field 1 = %q", got[1])
	}
}

func TestBareQuoteLenientByDefault(t *testing.T) {
	recs := run(t, `ab"cd,ef`+"\n", false)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	got := fields(recs[0])
	if got[0] != "abcd" {
		t.Errorf("field 0 = %q, want stray quote dropped", got[0])
	}
}

func TestBareQuoteStrictErrors(t *testing.T) {
	sink := &recordingSink{}
	table := byteclass.New(',', '"')
	m := New(table, '"', true, sink)
	err := m.Feed([]byte(`ab"cd,ef` + "\n"))
	if !errors.Is(err, ErrBareQuote) {
		t.Fatalf("Feed error = %v, want ErrBareQuote", err)
	}
}

func TestQuoteFollowedByOrdinaryByteIsLenientRepair(t *testing.T) {
	// A closing quote followed by a non-terminator, non-delimiter byte is
	// not valid RFC 4180, but the state table repairs it by keeping the
	// quote character and continuing the quoted field.
	recs := run(t, "\"ab\"cd,ef\n", false)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	got := fields(recs[0])
	if got[0] != `ab"cd` {
		t.Errorf("field 0 = %q", got[0])
	}
}

func TestResumableAcrossChunkBoundaryAtClosingQuote(t *testing.T) {
	sink := &recordingSink{}
	table := byteclass.New(',', '"')
	m := New(table, '"', false, sink)
	// Split right after the closing quote, before the delimiter that
	// disambiguates it.
	if err := m.Feed([]byte(`"hello"`)); err != nil {
		t.Fatalf("Feed 1: %v", err)
	}
	if err := m.Feed([]byte(",world\n")); err != nil {
		t.Fatalf("Feed 2: %v", err)
	}
	if len(sink.records) != 1 {
		t.Fatalf("got %d records, want 1", len(sink.records))
	}
	got := fields(sink.records[0])
	if got[0] != "hello" || got[1] != "world" {
		t.Errorf("row = %v", got)
	}
}

func TestResumableAcrossChunkBoundaryAtCRLF(t *testing.T) {
	sink := &recordingSink{}
	table := byteclass.New(',', '"')
	m := New(table, '"', false, sink)
	if err := m.Feed([]byte("a,b\r")); err != nil {
		t.Fatalf("Feed 1: %v", err)
	}
	if err := m.Feed([]byte("\nc,d\n")); err != nil {
		t.Fatalf("Feed 2: %v", err)
	}
	if len(sink.records) != 2 {
		t.Fatalf("got %d records, want 2, got %v", len(sink.records), sink.records)
	}
}

func FuzzMachine(f *testing.F) {
	seeds := []string{
		"a,b,c\n",
		"\"a,b\",c\r\n",
		"\"\"\"\"\n",
		",,\n",
		"a,\"b\n",
		"\r\n\r\n",
	}
	for _, s := range seeds {
		f.Add([]byte(s))
	}
	f.Fuzz(func(t *testing.T, data []byte) {
		sink := &recordingSink{}
		table := byteclass.New(',', '"')
		m := New(table, '"', false, sink)
		if err := m.Feed(data); err != nil {
			return
		}
		_ = m.EndOfInput()
		for _, rec := range sink.records {
			if len(rec.Splits) < 1 {
				t.Fatalf("record with no splits")
			}
			if rec.Splits[0] != 0 || rec.Splits[len(rec.Splits)-1] != len(rec.Data) {
				t.Fatalf("malformed splits %v for data len %d", rec.Splits, len(rec.Data))
			}
		}
	})
}
