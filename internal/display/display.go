// Package display renders session state for line-oriented terminals.
package display

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/term"
	"github.com/dustin/go-humanize"

	"github.com/manash/promptbridge/internal/history"
	"github.com/manash/promptbridge/internal/session"
	"github.com/manash/promptbridge/pkg/models"
)

const barWidth = 20

var (
	colorPrimary = lipgloss.Color("#7C3AED")
	colorSuccess = lipgloss.Color("#10B981")
	colorWarn    = lipgloss.Color("#F59E0B")
	colorError   = lipgloss.Color("#EF4444")
	colorMuted   = lipgloss.Color("#6B7280")
)

type styles struct {
	title   lipgloss.Style
	label   lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	warn    lipgloss.Style
	err     lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		title:   r.NewStyle().Foreground(colorPrimary).Bold(true),
		label:   r.NewStyle().Bold(true),
		muted:   r.NewStyle().Foreground(colorMuted),
		success: r.NewStyle().Foreground(colorSuccess),
		warn:    r.NewStyle().Foreground(colorWarn),
		err:     r.NewStyle().Foreground(colorError).Bold(true),
	}
}

type Displayer struct {
	out    io.Writer
	styles styles
	now    func() time.Time
}

type Option func(*Displayer)

// WithNow fixes the reference time used for relative timestamps.
func WithNow(now func() time.Time) Option {
	return func(d *Displayer) { d.now = now }
}

// New creates a Displayer writing to out. Colors are only emitted when out is
// a color-capable terminal.
func New(out io.Writer, opts ...Option) *Displayer {
	d := &Displayer{
		out:    out,
		styles: newStyles(lipgloss.NewRenderer(out)),
		now:    time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Analysis prints the score bars and suggestions. A nil analysis prints a
// hint instead.
func (d *Displayer) Analysis(a *models.Analysis) {
	if a == nil {
		fmt.Fprintln(d.out, d.styles.muted.Render("No analysis yet. Type more than 10 characters."))
		return
	}

	fmt.Fprintln(d.out, d.styles.title.Render("Analysis"))
	for _, row := range []struct {
		name  string
		value float64
	}{
		{"Clarity", a.Clarity},
		{"Specificity", a.Specificity},
		{"Structure", a.Structure},
		{"Completeness", a.Completeness},
	} {
		fmt.Fprintf(d.out, "  %-13s %s %3.0f%%\n", row.name, d.scoreStyle(row.value).Render(Bar(row.value, barWidth)), row.value)
	}

	if len(a.Suggestions) == 0 {
		fmt.Fprintln(d.out, d.styles.success.Render("  Looks good."))
		return
	}
	fmt.Fprintln(d.out, d.styles.label.Render("Suggestions"))
	for _, s := range a.Suggestions {
		fmt.Fprintf(d.out, "  - %s\n", s)
	}
}

// Status prints a one-line summary of the session.
func (d *Displayer) Status(s session.State) {
	auto := "off"
	if s.AutoIterate {
		auto = fmt.Sprintf("on (%d/%d)", s.Iteration, session.MaxIterations)
	}
	fmt.Fprintf(d.out, "%s %s  %s %s  %s %s  %s %s\n",
		d.styles.label.Render("Status:"), d.statusStyle(s.Status).Render(s.Status.String()),
		d.styles.label.Render("Mode:"), s.Config.Mode,
		d.styles.label.Render("Target:"), s.Config.Target,
		d.styles.label.Render("Auto:"), auto)
	if s.Status == models.StatusError && s.ErrorMessage != "" {
		fmt.Fprintln(d.out, d.styles.err.Render("Error: "+s.ErrorMessage))
	}
}

// State prints the status line, the input and the output.
func (d *Displayer) State(s session.State) {
	d.Status(s)
	fmt.Fprintln(d.out, d.styles.title.Render("Input"))
	if s.Input == "" {
		fmt.Fprintln(d.out, d.styles.muted.Render("  (empty)"))
	} else {
		fmt.Fprintln(d.out, indent(s.Input))
	}
	d.Output(s.Output)
}

func (d *Displayer) Output(out string) {
	fmt.Fprintln(d.out, d.styles.title.Render("Optimized"))
	if out == "" {
		fmt.Fprintln(d.out, d.styles.muted.Render("  (nothing yet)"))
		return
	}
	fmt.Fprintln(d.out, out)
}

// History prints records newest first with relative timestamps.
func (d *Displayer) History(records []models.PromptRecord) {
	if len(records) == 0 {
		fmt.Fprintln(d.out, d.styles.muted.Render("No history yet."))
		return
	}
	for i, r := range records {
		score := "  -"
		if r.Score != nil {
			score = fmt.Sprintf("%3d", *r.Score)
		}
		fmt.Fprintf(d.out, "%2d. %s  %s  %s  %s\n",
			i+1,
			d.styles.muted.Render(ShortID(r.ID)),
			score,
			d.styles.muted.Render(fmt.Sprintf("%-14s", humanize.RelTime(r.Timestamp.Time(), d.now(), "ago", "from now"))),
			Truncate(oneLine(r.Input), 60))
	}
}

// Record prints one history record in full.
func (d *Displayer) Record(r models.PromptRecord) {
	fmt.Fprintf(d.out, "%s %s\n", d.styles.label.Render("ID:"), r.ID)
	fmt.Fprintf(d.out, "%s %s (%s)\n", d.styles.label.Render("When:"),
		r.Timestamp.Time().Format(time.RFC3339), humanize.RelTime(r.Timestamp.Time(), d.now(), "ago", "from now"))
	if r.Score != nil {
		fmt.Fprintf(d.out, "%s %d\n", d.styles.label.Render("Score:"), *r.Score)
	}
	fmt.Fprintln(d.out, d.styles.title.Render("Input"))
	fmt.Fprintln(d.out, indent(r.Input))
	d.Output(r.Output)
}

func (d *Displayer) Stats(st history.Stats, limit int) {
	fmt.Fprintf(d.out, "%s %s / %s\n", d.styles.label.Render("Prompts optimized:"), humanize.Comma(int64(st.Count)), humanize.Comma(int64(limit)))
	if st.Count == 0 {
		fmt.Fprintf(d.out, "%s -\n", d.styles.label.Render("Average score:"))
		return
	}
	fmt.Fprintf(d.out, "%s %s\n", d.styles.label.Render("Average score:"), humanize.FtoaWithDigits(st.AverageScore, 1))
}

func (d *Displayer) Templates(templates []session.Template) {
	for _, t := range templates {
		fmt.Fprintf(d.out, "  %-11s %-16s %s\n", t.ID, t.Name, d.styles.muted.Render(t.Category))
	}
}

func (d *Displayer) Success(msg string) {
	fmt.Fprintln(d.out, d.styles.success.Render(msg))
}

func (d *Displayer) Error(msg string) {
	fmt.Fprintln(d.out, d.styles.err.Render(msg))
}

func (d *Displayer) scoreStyle(v float64) lipgloss.Style {
	switch {
	case v >= 70:
		return d.styles.success
	case v >= 40:
		return d.styles.warn
	default:
		return d.styles.err
	}
}

func (d *Displayer) statusStyle(s models.Status) lipgloss.Style {
	switch s {
	case models.StatusSuccess:
		return d.styles.success
	case models.StatusError:
		return d.styles.err
	case models.StatusLoading:
		return d.styles.warn
	default:
		return d.styles.muted
	}
}

// Bar renders value (0-100) as a fixed-width bar.
func Bar(value float64, width int) string {
	if width <= 0 {
		return ""
	}
	filled := int(math.Round(math.Max(0, math.Min(100, value)) / 100 * float64(width)))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// Truncate shortens s to at most max runes, marking the cut with "...".
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

// ShortID returns the trailing characters of a record id, which are the
// random part of a v7 UUID.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[len(id)-8:]
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n")
}

// IsColorTerminal reports whether f is an interactive terminal that should
// receive styled output.
func IsColorTerminal(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" || strings.EqualFold(os.Getenv("TERM"), "dumb") {
		return false
	}
	return term.IsTerminal(f.Fd())
}
