// Package cli provides the command-line interface for the compliance engine.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"propguard/internal/compliance"
	"propguard/internal/models"
	"propguard/internal/risk"
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
		colorEnabled: !jsonMode && !color.NoColor && isTerminal(w),
	}
}

// isTerminal checks if w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fileInfo, err := f.Stat()
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

// Success prints a success message in green.
func (o *Output) Success(format string, args ...interface{}) {
	o.colored(color.New(color.FgGreen), format, args...)
}

// Error prints an error message in red.
func (o *Output) Error(format string, args ...interface{}) {
	o.colored(color.New(color.FgRed), format, args...)
}

// Warning prints a warning message in yellow.
func (o *Output) Warning(format string, args ...interface{}) {
	o.colored(color.New(color.FgYellow), format, args...)
}

// Info prints an info message in cyan.
func (o *Output) Info(format string, args ...interface{}) {
	o.colored(color.New(color.FgCyan), format, args...)
}

// Bold prints a bold message.
func (o *Output) Bold(format string, args ...interface{}) {
	o.colored(color.New(color.Bold), format, args...)
}

// Dim prints a dimmed message.
func (o *Output) Dim(format string, args ...interface{}) {
	o.colored(color.New(color.Faint), format, args...)
}

func (o *Output) colored(c *color.Color, format string, args ...interface{}) {
	fmt.Fprintln(o.writer, o.paint(c, fmt.Sprintf(format, args...)))
}

func (o *Output) paint(c *color.Color, s string) string {
	if !o.colorEnabled {
		return s
	}
	c.EnableColor()
	return c.Sprint(s)
}

// Green returns green colored text.
func (o *Output) Green(s string) string { return o.paint(color.New(color.FgGreen), s) }

// Red returns red colored text.
func (o *Output) Red(s string) string { return o.paint(color.New(color.FgRed), s) }

// Yellow returns yellow colored text.
func (o *Output) Yellow(s string) string { return o.paint(color.New(color.FgYellow), s) }

// DimText returns dimmed text.
func (o *Output) DimText(s string) string { return o.paint(color.New(color.Faint), s) }

// Level colours a risk level.
func (o *Output) Level(l risk.Level) string {
	switch l {
	case risk.LevelSafe:
		return o.Green(string(l))
	case risk.LevelCaution:
		return o.Yellow(string(l))
	case risk.LevelDanger:
		return o.Red(string(l))
	case risk.LevelCritical:
		return o.paint(color.New(color.FgRed, color.Bold, color.ReverseVideo), string(l))
	default:
		return string(l)
	}
}

// Status colours a rule check status.
func (o *Output) Status(s compliance.CheckStatus) string {
	switch s {
	case compliance.StatusPassed:
		return o.Green("✓ " + string(s))
	case compliance.StatusFailed:
		return o.Red("✗ " + string(s))
	default:
		return o.DimText("- " + string(s))
	}
}

// Severity colours a violation or alert severity.
func (o *Output) Severity(s models.Severity) string {
	switch s {
	case models.SeverityCritical:
		return o.Red(string(s))
	case models.SeverityWarning:
		return o.Yellow(string(s))
	default:
		return o.DimText(string(s))
	}
}

// Bool renders a yes/no verdict.
func (o *Output) Bool(ok bool) string {
	if ok {
		return o.Green("yes")
	}
	return o.Red("no")
}

// PnL formats profit or loss with colour.
func (o *Output) PnL(pnl float64) string {
	formatted := FormatPnL(pnl)
	switch {
	case pnl > 0:
		return o.Green(formatted)
	case pnl < 0:
		return o.Red(formatted)
	default:
		return formatted
	}
}

// Table wraps a go-pretty table writer bound to the output.
type Table struct {
	tw table.Writer
}

// NewTable creates a new table. An empty title is omitted.
func (o *Output) NewTable(title string, headers ...interface{}) *Table {
	tw := table.NewWriter()
	tw.SetOutputMirror(o.writer)
	if o.colorEnabled {
		tw.SetStyle(table.StyleRounded)
	} else {
		tw.SetStyle(table.StyleLight)
	}
	if title != "" {
		tw.SetTitle(title)
	}
	if len(headers) > 0 {
		tw.AppendHeader(table.Row(headers))
	}
	return &Table{tw: tw}
}

// AddRow adds a row to the table.
func (t *Table) AddRow(cells ...interface{}) {
	t.tw.AppendRow(table.Row(cells))
}

// AddSeparator starts a new section of rows.
func (t *Table) AddSeparator() {
	t.tw.AppendSeparator()
}

// AlignRight right-aligns the given 1-based columns.
func (t *Table) AlignRight(columns ...int) {
	configs := make([]table.ColumnConfig, 0, len(columns))
	for _, n := range columns {
		configs = append(configs, table.ColumnConfig{Number: n, Align: text.AlignRight})
	}
	t.tw.SetColumnConfigs(configs)
}

// Render renders the table.
func (t *Table) Render() {
	t.tw.Render()
}
