// Package terminal renders CLI output: lipgloss-styled status lines and
// glamour markdown for assistant messages on TTYs, plain text everywhere
// else. Output only; reading user input belongs to the command loop.
package terminal

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Options tunes a Writer.
type Options struct {
	// Color enables styles and markdown rendering. The CLI passes false
	// for --no-color or when stdout is not a terminal.
	Color bool
	// Quiet drops Info and Dim chatter; results and errors still print.
	Quiet bool
	// Width wraps rendered markdown. Zero detects the terminal width,
	// capped at 100 columns.
	Width int
}

// Writer is a concurrency-safe styled writer. In plain mode the styles are
// zero values, which lipgloss renders as unmodified text.
type Writer struct {
	mu    sync.Mutex
	out   io.Writer
	color bool
	quiet bool

	renderer *glamour.TermRenderer

	errorStyle   lipgloss.Style
	warnStyle    lipgloss.Style
	successStyle lipgloss.Style
	infoStyle    lipgloss.Style
	dimStyle     lipgloss.Style
	boldStyle    lipgloss.Style
	headerStyle  lipgloss.Style
}

// New builds a Writer for out.
func New(out io.Writer, opts Options) *Writer {
	w := &Writer{out: out, color: opts.Color, quiet: opts.Quiet}
	if !opts.Color {
		return w
	}

	width := opts.Width
	if width <= 0 {
		width = DetectWidth()
	}
	if width > 100 {
		width = 100
	}
	w.renderer, _ = glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	// lipgloss consults the detected profile for AdaptiveColor.
	_ = termenv.ColorProfile()

	w.errorStyle = lipgloss.NewStyle().
		Foreground(lipgloss.AdaptiveColor{Light: "#D00000", Dark: "#FF5555"}).
		Bold(true)
	w.warnStyle = lipgloss.NewStyle().
		Foreground(lipgloss.AdaptiveColor{Light: "#B8860B", Dark: "#FFAA00"})
	w.successStyle = lipgloss.NewStyle().
		Foreground(lipgloss.AdaptiveColor{Light: "#008000", Dark: "#55FF55"})
	w.infoStyle = lipgloss.NewStyle().
		Foreground(lipgloss.AdaptiveColor{Light: "#0066CC", Dark: "#5599FF"})
	w.dimStyle = lipgloss.NewStyle().
		Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"})
	w.boldStyle = lipgloss.NewStyle().Bold(true)
	w.headerStyle = lipgloss.NewStyle().
		Bold(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(lipgloss.AdaptiveColor{Light: "#CCCCCC", Dark: "#444444"})
	return w
}

// Print writes formatted text.
func (w *Writer) Print(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, format, args...)
}

// Println writes formatted text with a trailing newline.
func (w *Writer) Println(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, format+"\n", args...)
}

// Markdown renders md through glamour when styling is on, otherwise prints
// it verbatim. Render failures fall back to verbatim output.
func (w *Writer) Markdown(md string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.renderer == nil {
		fmt.Fprintln(w.out, md)
		return nil
	}
	rendered, err := w.renderer.Render(md)
	if err != nil {
		fmt.Fprintln(w.out, md)
		return err
	}
	fmt.Fprint(w.out, rendered)
	return nil
}

// Stream writes one delta of a streaming reply, unstyled.
func (w *Writer) Stream(chunk string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprint(w.out, chunk)
}

// StreamEnd terminates streaming output with a newline.
func (w *Writer) StreamEnd() {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.out)
}

// Error prints an error line.
func (w *Writer) Error(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.out, w.errorStyle.Render("error: "+fmt.Sprintf(format, args...)))
}

// Warn prints a warning line. Soft notifications land here.
func (w *Writer) Warn(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.out, w.warnStyle.Render(fmt.Sprintf(format, args...)))
}

// Success prints a checkmarked line.
func (w *Writer) Success(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.out, w.successStyle.Render("✓ "+fmt.Sprintf(format, args...)))
}

// Info prints an informational line. Suppressed by Quiet.
func (w *Writer) Info(format string, args ...any) {
	if w.quiet {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.out, w.infoStyle.Render(fmt.Sprintf(format, args...)))
}

// Dim prints secondary text like status lines. Suppressed by Quiet.
func (w *Writer) Dim(format string, args ...any) {
	if w.quiet {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.out, w.dimStyle.Render(fmt.Sprintf(format, args...)))
}

// Bold prints emphasized text.
func (w *Writer) Bold(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.out, w.boldStyle.Render(fmt.Sprintf(format, args...)))
}

// Header prints a section header with an underline border.
func (w *Writer) Header(title string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.out, w.headerStyle.Render(title))
}

// Divider prints a horizontal rule.
func (w *Writer) Divider() {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.out, w.dimStyle.Render(strings.Repeat("─", 60)))
}

// Newline prints a blank line.
func (w *Writer) Newline() {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.out)
}

// Color reports whether styled output is enabled.
func (w *Writer) Color() bool { return w.color }

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// DetectWidth reports the stdout terminal width, defaulting to 80.
func DetectWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80
	}
	return width
}

// Truncate shortens s to max display columns, appending an ellipsis when
// anything was cut. Width-aware so wide runes do not overflow list rows.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	return runewidth.Truncate(s, max, "…")
}

// Indent prefixes every line of s with n spaces.
func Indent(s string, n int) string {
	if n <= 0 || s == "" {
		return s
	}
	pad := strings.Repeat(" ", n)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = pad + line
		}
	}
	return strings.Join(lines, "\n")
}
