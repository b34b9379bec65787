// Package render writes board records as tables or machine-readable JSON.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
)

// OutputFormat specifies how records are written.
type OutputFormat string

const (
	// OutputFormatDefault uses a table with truncated bodies
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSON writes one indented JSON document
	OutputFormatJSON OutputFormat = "json"

	// OutputFormatJSONL writes one compact JSON object per line
	OutputFormatJSONL OutputFormat = "jsonl"
)

// ParseFormat maps a flag value to an OutputFormat.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", OutputFormatDefault:
		return OutputFormatDefault, nil
	case OutputFormatJSON:
		return OutputFormatJSON, nil
	case OutputFormatJSONL:
		return OutputFormatJSONL, nil
	}
	return "", fmt.Errorf("unknown output format %q (want default, json or jsonl)", s)
}

// IsMachine reports whether f is a JSON flavour.
func (f OutputFormat) IsMachine() bool {
	return f == OutputFormatJSON || f == OutputFormatJSONL
}

// JSON writes v as pretty-printed JSON followed by a newline.
func JSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

// writeRecords writes items in a machine format.
func writeRecords[T any](w io.Writer, format OutputFormat, items []T) error {
	if format == OutputFormatJSON {
		if items == nil {
			items = []T{}
		}
		return JSON(w, items)
	}
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal record to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

func newTable(w io.Writer, header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(header)
	return tw
}

func footer(w io.Writer, n int, noun string) {
	if n != 1 {
		noun += "s"
	}
	fmt.Fprintf(w, "%d %s\n", n, noun)
}

// formatID truncates an id to its first 8 characters for compact display.
func formatID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatBody shows the first non-empty line of s, at most 50 characters.
// Empty bodies return "-".
func formatBody(s string) string {
	var first string
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			first = trimmed
			break
		}
	}
	if first == "" {
		return "-"
	}
	if r := []rune(first); len(r) > 50 {
		return string(r[:47]) + "..."
	}
	return first
}

// orDash returns "-" for empty values.
func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// formatAge renders then relative to now ("3 minutes ago"). Zero times return "-".
func formatAge(then, now time.Time) string {
	if then.IsZero() {
		return "-"
	}
	return humanize.RelTime(then, now, "ago", "from now")
}

// formatDuration renders d in words without a direction ("30 minutes").
func formatDuration(d time.Duration) string {
	base := time.Unix(0, 0)
	return strings.TrimSpace(humanize.RelTime(base, base.Add(d), "", ""))
}
