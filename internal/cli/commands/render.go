package commands

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Output formats accepted by --format.
const (
	FormatTable    = "table"
	FormatJSON     = "json"
	FormatCSV      = "csv"
	FormatMarkdown = "md"
)

var formatCompletions = []string{FormatTable, FormatJSON, FormatCSV, FormatMarkdown}

// renderResults drains rows and renders them in format.
func renderResults(w io.Writer, rows *sql.Rows, format string) error {
	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	var records [][]any
	for rows.Next() {
		values := make([]any, len(cols))
		valuePtrs := make([]any, len(cols))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return err
		}

		for i, val := range values {
			// Convert []byte to string for readability
			if b, ok := val.([]byte); ok {
				values[i] = string(b)
			}
		}
		records = append(records, values)
	}

	if err := rows.Err(); err != nil {
		return err
	}

	return renderRecords(w, format, cols, records)
}

// renderRecords renders records under cols as a table, JSON array of
// objects, CSV or Markdown.
func renderRecords(w io.Writer, format string, cols []string, records [][]any) error {
	switch format {
	case FormatJSON:
		return renderJSON(w, cols, records)
	case FormatCSV:
		newTable(w, cols, records).RenderCSV()
		return nil
	case FormatMarkdown, "markdown":
		if len(records) == 0 {
			_, _ = fmt.Fprintln(w, "(0 rows)")
			return nil
		}
		newTable(w, cols, records).RenderMarkdown()
		return nil
	case FormatTable, "":
		if len(records) == 0 {
			_, _ = fmt.Fprintln(w, "(0 rows)")
			return nil
		}
		newTable(w, cols, records).Render()
		_, _ = fmt.Fprintf(w, "(%d rows)\n", len(records))
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want table, json, csv or md)", format)
	}
}

func newTable(w io.Writer, cols []string, records [][]any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	headerRow := make(table.Row, len(cols))
	for i, col := range cols {
		headerRow[i] = col
	}
	t.AppendHeader(headerRow)

	for _, record := range records {
		row := make(table.Row, len(record))
		for i, v := range record {
			row[i] = formatValue(v)
		}
		t.AppendRow(row)
	}
	return t
}

func renderJSON(w io.Writer, cols []string, records [][]any) error {
	results := make([]map[string]any, 0, len(records))
	for _, record := range records {
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = record[i]
		}
		results = append(results, row)
	}
	return writeJSON(w, results)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case time.Time:
		return val.Format(time.RFC3339)
	case *time.Time:
		if val == nil {
			return "NULL"
		}
		return val.Format(time.RFC3339)
	case time.Duration:
		return val.Round(time.Millisecond).String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
