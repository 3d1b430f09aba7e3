// Package formatting renders command results as a table, JSON or YAML.
package formatting

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"
)

// OutputFormat represents the desired output format
type OutputFormat string

const (
	FormatTable OutputFormat = "table" // Rich table output
	FormatJSON  OutputFormat = "json"  // JSON output
	FormatYAML  OutputFormat = "yaml"  // YAML output
)

// maxValueWidth truncates long table values.
const maxValueWidth = 100

// ParseFormat parses an --output value. The empty string yields FormatTable.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatYAML:
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown output format %q (expected table, json or yaml)", s)
	}
}

// Field is one KEY/VALUE row of a table.
type Field struct {
	Key   string
	Value string
}

// Write renders v to w. Table output shows fields; JSON and YAML encode v.
func Write(w io.Writer, format OutputFormat, v any, fields []Field) error {
	switch format {
	case FormatJSON:
		_, err := fmt.Fprintln(w, PrettyJSON(v))
		return err
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode YAML: %w", err)
		}
		return enc.Close()
	default:
		writeTable(w, fields)
		return nil
	}
}

func writeTable(w io.Writer, fields []Field) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("KEY"),
		text.FgHiCyan.Sprint("VALUE"),
	})
	for _, f := range fields {
		value := f.Value
		if len(value) > maxValueWidth {
			value = value[:maxValueWidth-3] + "..."
		}
		t.AppendRow(table.Row{text.FgHiCyan.Sprint(f.Key), value})
	}
	t.Render()
}

// PrettyJSON formats any value as indented JSON, falling back to %v when
// the value cannot be marshaled.
func PrettyJSON(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
