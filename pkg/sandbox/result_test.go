package sandbox

import (
	"strings"
	"testing"
)

func TestMarshalCSVEmptyRowIsOmittedByCaller(t *testing.T) {
	// WriteResultToContainer is responsible for the no-op-on-empty rule;
	// marshalCSV itself just needs to render a header for zero rows.
	out := marshalCSV(TabularResult{Columns: []Column{{Name: "a"}}})
	if string(out) != "a\n" {
		t.Errorf("expected bare header, got %q", out)
	}
}

func TestMarshalCSVQuotesCommaAndQuoteValues(t *testing.T) {
	result := TabularResult{
		Columns: []Column{{Name: "name"}, {Name: "note"}},
		Rows: []map[string]any{
			{"name": "plain", "note": "no special chars"},
			{"name": "has,comma", "note": `has"quote`},
		},
	}
	out := string(marshalCSV(result))
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if lines[0] != "name,note" {
		t.Fatalf("unexpected header: %q", lines[0])
	}
	if lines[1] != "plain,no special chars" {
		t.Errorf("unexpected row 1: %q", lines[1])
	}
	if lines[2] != `"has,comma","has""quote"` {
		t.Errorf("unexpected row 2: %q", lines[2])
	}
}

func TestMarshalCSVNullBecomesEmpty(t *testing.T) {
	result := TabularResult{
		Columns: []Column{{Name: "x"}},
		Rows:    []map[string]any{{"x": nil}, {}},
	}
	out := string(marshalCSV(result))
	lines := strings.Split(out, "\n")
	if lines[1] != "" || lines[2] != "" {
		t.Errorf("expected empty fields for null/missing, got %q and %q", lines[1], lines[2])
	}
}

func TestMarshalCSVObjectBecomesQuotedJSON(t *testing.T) {
	result := TabularResult{
		Columns: []Column{{Name: "payload"}},
		Rows:    []map[string]any{{"payload": map[string]any{"k": "v"}}},
	}
	out := string(marshalCSV(result))
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if lines[1] != `"{""k"":""v""}"` {
		t.Errorf("unexpected object serialization: %q", lines[1])
	}
}

func TestCSVFieldStringifiesNumbers(t *testing.T) {
	if got := csvField(42); got != "42" {
		t.Errorf("expected \"42\", got %q", got)
	}
	if got := csvField(3.5); got != "3.5" {
		t.Errorf("expected \"3.5\", got %q", got)
	}
}
