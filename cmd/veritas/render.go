package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"example/veritas-api/app/models"
	"example/veritas-api/client"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

const excerptRadius = 60

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	goodStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	badStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	markHigh     = lipgloss.NewStyle().Background(lipgloss.Color("52")).Foreground(lipgloss.Color("231"))
	markMedium   = lipgloss.NewStyle().Background(lipgloss.Color("94")).Foreground(lipgloss.Color("231"))
	markLow      = lipgloss.NewStyle().Underline(true)
	sectionStyle = lipgloss.NewStyle().MarginTop(1).Bold(true)
)

// terminalHighlighter renders flagged snippets inside the extracted page
// text. A page must be loaded and injected before marks can be applied.
type terminalHighlighter struct {
	mu       sync.Mutex
	pages    map[string]string
	injected map[string]bool
	applied  map[string][]models.FlaggedSnippet
}

func newTerminalHighlighter() *terminalHighlighter {
	return &terminalHighlighter{
		pages:    map[string]string{},
		injected: map[string]bool{},
		applied:  map[string][]models.FlaggedSnippet{},
	}
}

func (h *terminalHighlighter) load(url, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pages[url] = text
}

func (h *terminalHighlighter) Inject(_ context.Context, url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.pages[url]; !ok {
		return fmt.Errorf("no page loaded for %s", url)
	}
	h.injected[url] = true
	return nil
}

func (h *terminalHighlighter) Apply(_ context.Context, url string, snippets []models.FlaggedSnippet) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.injected[url] {
		return client.ErrNoReceiver
	}
	h.applied[url] = snippets
	return nil
}

func (h *terminalHighlighter) Clear(_ context.Context, url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.applied, url)
	return nil
}

// marks pairs each applied snippet with its excerpt from the page.
func (h *terminalHighlighter) marks(url string) []mark {
	h.mu.Lock()
	defer h.mu.Unlock()
	text := h.pages[url]
	out := make([]mark, 0, len(h.applied[url]))
	for _, s := range h.applied[url] {
		out = append(out, newMark(text, s))
	}
	return out
}

type mark struct {
	Snippet models.FlaggedSnippet
	Before  string
	After   string
	Found   bool
}

func newMark(text string, s models.FlaggedSnippet) mark {
	i := strings.Index(text, s.Text)
	if i < 0 || s.Text == "" {
		return mark{Snippet: s}
	}
	return mark{
		Snippet: s,
		Before:  tailRunes(text[:i], excerptRadius),
		After:   headRunes(text[i+len(s.Text):], excerptRadius),
		Found:   true,
	}
}

func headRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}

func tailRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return "…" + string(r[len(r)-n:])
}

type progressPrinter struct {
	w     io.Writer
	quiet bool
}

func newProgressPrinter(w io.Writer, quiet bool) *progressPrinter {
	return &progressPrinter{w: w, quiet: quiet}
}

func (p *progressPrinter) onEvent(ev models.StreamEvent) {
	if p.quiet {
		return
	}
	switch ev.Type {
	case models.EventStatus, models.EventPartial:
		msg := ev.Message
		if ev.Progress != nil {
			msg = fmt.Sprintf("%3.0f%% %s", *ev.Progress*100, msg)
		}
		if msg != "" {
			fmt.Fprintln(p.w, dimStyle.Render(msg))
		}
	case models.EventSnippet:
		if ev.Snippet != nil {
			fmt.Fprintln(p.w, dimStyle.Render("flagged: "+ev.Snippet.Category))
		}
	}
}

type resultView struct {
	Page       client.Page
	Outcome    client.Outcome
	Marks      []mark
	AnalyzedAt time.Time
	Now        time.Time
}

func renderResult(w io.Writer, v resultView) {
	res := v.Outcome.Result
	title := v.Page.Title
	if title == "" {
		title = v.Page.URL
	}
	fmt.Fprintln(w, titleStyle.Render(title))
	fmt.Fprintln(w, dimStyle.Render(v.Page.URL))

	verdict := "no misinformation detected"
	if res.HasMisinformation() {
		verdict = "possible misinformation"
	}
	fmt.Fprintf(w, "Trust score %s  bias %s  %s\n", scoreStyle(res.Score).Render(fmt.Sprintf("%d/100", res.Score)), res.Bias, verdict)

	var notes []string
	if v.Outcome.Cached {
		note := "cached"
		if !v.AnalyzedAt.IsZero() {
			note += ", analyzed " + humanize.RelTime(v.AnalyzedAt, v.Now, "ago", "from now")
		}
		notes = append(notes, note)
	}
	if v.Outcome.FellBack {
		notes = append(notes, "streaming unavailable, used fallback")
	}
	if len(notes) > 0 {
		fmt.Fprintln(w, dimStyle.Render("("+strings.Join(notes, "; ")+")"))
	}
	if res.Summary != "" {
		fmt.Fprintln(w, sectionStyle.Render("Summary"))
		fmt.Fprintln(w, res.Summary)
	}

	if len(res.FlaggedSnippets) == 0 {
		return
	}
	fmt.Fprintln(w, sectionStyle.Render(fmt.Sprintf("Flagged (%d)", len(res.FlaggedSnippets))))
	marks := v.Marks
	if len(marks) == 0 {
		for _, s := range res.FlaggedSnippets {
			marks = append(marks, mark{Snippet: s})
		}
	}
	for i, m := range marks {
		s := m.Snippet
		fmt.Fprintf(w, "%d. [%s/%s]", i+1, s.Category, s.Severity)
		if s.IsQuote {
			fmt.Fprint(w, " quote")
		}
		fmt.Fprintln(w)
		if m.Found {
			fmt.Fprintf(w, "   %s%s%s\n", dimStyle.Render(m.Before), severityStyle(s.Severity).Render(s.Text), dimStyle.Render(m.After))
		} else {
			fmt.Fprintf(w, "   %q\n", s.Text)
		}
		if s.Explanation != "" {
			fmt.Fprintf(w, "   %s\n", s.Explanation)
		}
	}
}

func scoreStyle(score int) lipgloss.Style {
	switch {
	case score >= models.MisinformationScoreThreshold:
		return goodStyle
	case score >= 40:
		return warnStyle
	}
	return badStyle
}

func severityStyle(severity string) lipgloss.Style {
	switch strings.ToLower(severity) {
	case "high", "critical":
		return markHigh
	case "medium":
		return markMedium
	}
	return markLow
}

func relativeTime(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}
