package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Output handles formatted output for the CLI.
type Output struct {
	writer       io.Writer
	jsonMode     bool
	colorEnabled bool
}

// NewOutput creates a new Output instance.
func NewOutput(cmd *cobra.Command) *Output {
	jsonMode, _ := cmd.Flags().GetBool("json")
	w := cmd.OutOrStdout()
	return &Output{
		writer:       w,
		jsonMode:     jsonMode,
		colorEnabled: !jsonMode && w == os.Stdout && isTerminal() && !color.NoColor,
	}
}

// isTerminal checks if stdout is a terminal.
func isTerminal() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// IsJSON returns true if JSON output mode is enabled.
func (o *Output) IsJSON() bool {
	return o.jsonMode
}

// JSON outputs data as JSON.
func (o *Output) JSON(data interface{}) error {
	encoder := json.NewEncoder(o.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// Println prints a message with newline.
func (o *Output) Println(args ...interface{}) {
	fmt.Fprintln(o.writer, args...)
}

// Printf prints a formatted message.
func (o *Output) Printf(format string, args ...interface{}) {
	fmt.Fprintf(o.writer, format, args...)
}

func (o *Output) paint(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if o.colorEnabled {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c
}

func (o *Output) line(c *color.Color, format string, args ...interface{}) {
	c.Fprintln(o.writer, fmt.Sprintf(format, args...))
}

// Success prints a success message in green.
func (o *Output) Success(format string, args ...interface{}) {
	o.line(o.paint(color.FgGreen), format, args...)
}

// Error prints an error message in red.
func (o *Output) Error(format string, args ...interface{}) {
	o.line(o.paint(color.FgRed), format, args...)
}

// Warning prints a warning message in yellow.
func (o *Output) Warning(format string, args ...interface{}) {
	o.line(o.paint(color.FgYellow), format, args...)
}

// Info prints an info message in cyan.
func (o *Output) Info(format string, args ...interface{}) {
	o.line(o.paint(color.FgCyan), format, args...)
}

// Bold prints a bold message.
func (o *Output) Bold(format string, args ...interface{}) {
	o.line(o.paint(color.Bold), format, args...)
}

// Dim prints a dimmed message.
func (o *Output) Dim(format string, args ...interface{}) {
	o.line(o.paint(color.Faint), format, args...)
}

// Green returns green colored text.
func (o *Output) Green(text string) string {
	return o.paint(color.FgGreen).Sprint(text)
}

// Red returns red colored text.
func (o *Output) Red(text string) string {
	return o.paint(color.FgRed).Sprint(text)
}

// Yellow returns yellow colored text.
func (o *Output) Yellow(text string) string {
	return o.paint(color.FgYellow).Sprint(text)
}

// Table represents a simple table for output. Cells are plain text; the
// header row is bolded.
type Table struct {
	headers []string
	rows    [][]string
	output  *Output
}

// NewTable creates a new table.
func NewTable(output *Output, headers ...string) *Table {
	return &Table{
		headers: headers,
		rows:    make([][]string, 0),
		output:  output,
	}
}

// AddRow adds a row to the table.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Render renders the table.
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				if n := utf8.RuneCountInString(cell); n > widths[i] {
					widths[i] = n
				}
			}
		}
	}

	header := t.output.paint(color.Bold)
	t.output.Println(header.Sprint(joinPadded(t.headers, widths)))

	sep := make([]string, len(widths))
	for i, w := range widths {
		sep[i] = strings.Repeat("-", w)
	}
	t.output.Println(t.output.paint(color.Faint).Sprint(strings.Join(sep, "  ")))

	for _, row := range t.rows {
		t.output.Println(joinPadded(row, widths))
	}
}

func joinPadded(cells []string, widths []int) string {
	parts := make([]string, 0, len(widths))
	for i, cell := range cells {
		if i >= len(widths) {
			break
		}
		padding := widths[i] - utf8.RuneCountInString(cell)
		if padding < 0 {
			padding = 0
		}
		parts = append(parts, cell+strings.Repeat(" ", padding))
	}
	return strings.TrimRight(strings.Join(parts, "  "), " ")
}
