package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Column names one field of a TabularResult; only Name is consulted by
// the CSV header.
type Column struct {
	Name string `json:"name"`
}

// TabularResult is the shape an external query-tool wrapper hands to
// WriteResultToContainer: a column list plus one map per row, keyed by
// column name.
type TabularResult struct {
	Rows    []map[string]any `json:"rows"`
	Columns []Column         `json:"columns"`
}

const (
	resultJSONPath = "/tmp/mongodb_result.json"
	resultCSVPath  = "/tmp/mongodb_result.csv"
)

// WriteResultToContainer serializes result to the sandbox at the two
// well-known result paths: a pretty-printed JSON array of rows, and a
// CSV with a header row drawn from result.Columns. An empty row set is
// a no-op. Write failures are logged, not returned: a stuck write
// should never fail the caller's broader operation.
func WriteResultToContainer(ctx context.Context, ref string, result TabularResult) {
	if len(result.Rows) == 0 {
		return
	}

	mgr, err := Get()
	if err != nil {
		log.Error().Err(err).Msg("sandbox: cannot write result, singleton unavailable")
		return
	}
	driver := mgr.Driver()

	jsonBytes, err := json.MarshalIndent(result.Rows, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("sandbox: failed to marshal result rows to JSON")
		return
	}
	if err := driver.WriteToContainer(ctx, ref, resultJSONPath, jsonBytes); err != nil {
		log.Error().Err(err).Str("path", resultJSONPath).Msg("sandbox: failed to write result JSON")
	}

	csvBytes := marshalCSV(result)
	if err := driver.WriteToContainer(ctx, ref, resultCSVPath, csvBytes); err != nil {
		log.Error().Err(err).Str("path", resultCSVPath).Msg("sandbox: failed to write result CSV")
	}
}

// marshalCSV renders result as CSV text: a header row of column names,
// then one row per record. Values are formatted as: null or missing ->
// empty; object/array -> double-quoted JSON with inner quotes doubled;
// everything else stringified and double-quoted only if it contains a
// comma, double-quote, or newline (inner quotes doubled).
func marshalCSV(result TabularResult) []byte {
	var buf bytes.Buffer

	header := make([]string, len(result.Columns))
	for i, c := range result.Columns {
		header[i] = c.Name
	}
	buf.WriteString(strings.Join(header, ","))
	buf.WriteByte('\n')

	for _, row := range result.Rows {
		fields := make([]string, len(result.Columns))
		for i, c := range result.Columns {
			fields[i] = csvField(row[c.Name])
		}
		buf.WriteString(strings.Join(fields, ","))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func csvField(v any) string {
	if v == nil {
		return ""
	}

	switch v.(type) {
	case map[string]any, []any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return `"` + strings.ReplaceAll(string(encoded), `"`, `""`) + `"`
	}

	s := fmt.Sprint(v)
	if strings.ContainsAny(s, ",\"\n") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}
