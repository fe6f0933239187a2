package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

// Output formats command results as a table or as JSON.
type Output struct {
	jsonMode bool
	w        io.Writer
	errW     io.Writer
}

// NewOutput creates an Output. Data goes to w, messages to errW.
func NewOutput(w, errW io.Writer, jsonMode bool) *Output {
	return &Output{jsonMode: jsonMode, w: w, errW: errW}
}

// Print writes rows as a table, or jsonData in JSON mode.
func (o *Output) Print(headers []string, rows [][]string, jsonData any) error {
	if o.jsonMode {
		return o.JSON(jsonData)
	}
	return o.Table(headers, rows)
}

// Table writes an aligned table with a dashed header separator.
func (o *Output) Table(headers []string, rows [][]string) error {
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	dashes := make([]string, len(headers))
	for i, h := range headers {
		dashes[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(dashes, "\t"))

	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	return tw.Flush()
}

// JSON writes v indented.
func (o *Output) JSON(v any) error {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Success writes msg to the message stream.
func (o *Output) Success(msg string) {
	fmt.Fprintln(o.errW, msg)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
