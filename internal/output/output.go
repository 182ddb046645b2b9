// Package output provides consistent CLI output formatting.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// ANSI color codes used when the destination is a terminal.
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorCyan   = "\033[36m"
)

// Writer provides formatted output for the CLI.
type Writer struct {
	out      io.Writer
	useColor bool
}

// New creates an output Writer. Color is enabled only when the
// destination is a terminal and NO_COLOR is unset.
func New(out io.Writer) *Writer {
	return &Writer{
		out:      out,
		useColor: IsTTY(out) && !noColor(),
	}
}

// IsTTY checks if the writer is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func noColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

func (w *Writer) colorize(color, s string) string {
	if !w.useColor {
		return s
	}
	return color + s + colorReset
}

// Printf writes formatted output. Write errors are intentionally ignored
// for console output.
func (w *Writer) Printf(format string, args ...any) {
	fmt.Fprintf(w.out, format, args...)
}

// Println writes a line.
func (w *Writer) Println(args ...any) {
	fmt.Fprintln(w.out, args...)
}

// Success prints a success message.
func (w *Writer) Success(msg string) {
	fmt.Fprintln(w.out, w.colorize(colorGreen, "ok"), msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	fmt.Fprintln(w.out, w.colorize(colorYellow, "warning:"), msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	fmt.Fprintln(w.out, w.colorize(colorRed, "error:"), msg)
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Header prints a bold section header.
func (w *Writer) Header(msg string) {
	fmt.Fprintln(w.out, w.colorize(colorBold, msg))
}

// Detail prints dimmed supplementary text.
func (w *Writer) Detail(msg string) {
	fmt.Fprintln(w.out, w.colorize(colorDim, "  "+msg))
}

// Label prints a highlighted label followed by a value.
func (w *Writer) Label(label, value string) {
	fmt.Fprintf(w.out, "%s %s\n", w.colorize(colorCyan, label+":"), value)
}

// Rule prints a horizontal separator.
func (w *Writer) Rule() {
	fmt.Fprintln(w.out, w.colorize(colorDim, strings.Repeat("-", 60)))
}
