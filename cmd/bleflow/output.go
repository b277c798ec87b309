package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// printer writes command results as tables or JSON. It is safe for
// concurrent use so effects can print as actions arrive.
type printer struct {
	mu     sync.Mutex
	w      io.Writer
	format string

	title  *color.Color
	accent *color.Color
	faint  *color.Color
}

// newPrinter colors output only when w is a terminal.
func newPrinter(w io.Writer, format string) *printer {
	p := &printer{
		w:      w,
		format: format,
		title:  color.New(color.Bold),
		accent: color.New(color.FgCyan),
		faint:  color.New(color.Faint),
	}
	colored := isTerminal(w)
	for _, c := range []*color.Color{p.title, p.accent, p.faint} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (p *printer) json() bool {
	return p.format == "json"
}

// JSON writes v indented.
func (p *printer) JSON(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	encoder := json.NewEncoder(p.w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// Line writes v as one compact JSON line, used for streamed records.
func (p *printer) Line(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return json.NewEncoder(p.w).Encode(v)
}

// Table writes rows under a bold header.
func (p *printer) Table(header []string, rows [][]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, p.title.Sprint(strings.Join(header, "\t")))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// Printf writes a free-form line.
func (p *printer) Printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

// Event writes "<label> <message>" with a highlighted label.
func (p *printer) Event(label, format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "%s %s\n", p.accent.Sprint(label), fmt.Sprintf(format, args...))
}

// formatValue renders bytes as hex, appending the text when it is printable.
func formatValue(v []byte) string {
	if len(v) == 0 {
		return "-"
	}
	h := strings.ToUpper(hex.EncodeToString(v))
	if isPrintable(v) {
		return fmt.Sprintf("%s (%q)", h, string(v))
	}
	return h
}

func isPrintable(v []byte) bool {
	for _, b := range v {
		if b < 0x20 || b > 0x7e {
			return false
		}
	}
	return true
}

// truncate shortens s to n runes with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
