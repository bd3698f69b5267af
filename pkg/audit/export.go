package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ParseExportFormat parses a format name, defaulting to JSON when empty
func ParseExportFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return ExportFormatJSON, nil
	case ExportFormatJSON, ExportFormatCSV, ExportFormatNDJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

// ContentType returns the MIME type of the format
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportFormatCSV:
		return "text/csv"
	case ExportFormatNDJSON:
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}

// Export renders entries in format
func Export(entries []*Entry, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatJSON, "":
		return exportJSON(entries)
	case ExportFormatCSV:
		return exportCSV(entries)
	case ExportFormatNDJSON:
		return exportNDJSON(entries)
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

// exportJSON exports entries as a JSON array
func exportJSON(entries []*Entry) ([]byte, error) {
	if entries == nil {
		entries = []*Entry{}
	}
	return json.MarshalIndent(entries, "", "  ")
}

// exportNDJSON exports entries as newline-delimited JSON
func exportNDJSON(entries []*Entry) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for _, e := range entries {
		if err := encoder.Encode(e); err != nil {
			return nil, fmt.Errorf("failed to encode entry: %w", err)
		}
	}

	return buf.Bytes(), nil
}

var csvHeader = []string{
	"ID",
	"CommitID",
	"Timestamp",
	"Entity",
	"EntityFriendlyName",
	"State",
	"Strategy",
	"PrimaryKey",
	"Actor",
	"Reason",
	"Property",
	"PropertyFriendlyName",
	"OldValue",
	"NewValue",
	"FriendlyOldValue",
	"FriendlyNewValue",
}

// exportCSV exports entries as CSV with one row per recorded property.
// Entries without properties get a single row with empty property columns.
func exportCSV(entries []*Entry) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, e := range entries {
		head := []string{
			e.ID,
			e.CommitID,
			e.Timestamp.Format(time.RFC3339Nano),
			e.ShortName,
			e.FriendlyName,
			string(e.State),
			string(e.Strategy),
			e.PrimaryKey(),
			e.Actor,
			e.Reason,
		}

		names := e.PropertyNames()
		if len(names) == 0 {
			row := append(head, "", "", "", "", "", "")
			if err := writer.Write(row); err != nil {
				return nil, fmt.Errorf("failed to write CSV row: %w", err)
			}
			continue
		}

		for _, name := range names {
			p := e.Properties[name]
			row := make([]string, 0, len(csvHeader))
			row = append(row, head...)
			row = append(row,
				p.Name,
				p.FriendlyName,
				formatValue(p.OldValue),
				formatValue(p.NewValue),
				formatStringPtr(p.FriendlyOldValue),
				formatStringPtr(p.FriendlyNewValue),
			)
			if err := writer.Write(row); err != nil {
				return nil, fmt.Errorf("failed to write CSV row: %w", err)
			}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// formatValue renders a raw value for CSV, nil as the empty string
func formatValue(v any) string {
	if v == nil {
		return ""
	}
	if t, ok := v.(time.Time); ok {
		return t.Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v)
}

func formatStringPtr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
