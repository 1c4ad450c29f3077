package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"

	"spendly/internal/app"
	"spendly/internal/core"
)

const (
	maxNameWidth = 28
	columnGap    = "  "
)

// palette renders command output for one stream. Colors follow the stream:
// none when it is not a terminal unless forced.
type palette struct {
	r      *lipgloss.Renderer
	header lipgloss.Style
	muted  lipgloss.Style
	total  lipgloss.Style
}

func newPalette(w io.Writer, mode string) (*palette, error) {
	r := lipgloss.NewRenderer(w)
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "auto":
	case "always":
		r.SetColorProfile(termenv.TrueColor)
	case "never":
		r.SetColorProfile(termenv.Ascii)
	default:
		return nil, fmt.Errorf("unknown color mode %q (want auto, always or never)", mode)
	}
	return &palette{
		r:      r,
		header: r.NewStyle().Bold(true),
		muted:  r.NewStyle().Foreground(lipgloss.Color("#7f849c")),
		total:  r.NewStyle().Bold(true),
	}, nil
}

// category renders the glyph and name in the category color.
func (p *palette) category(name string, st core.CategoryStyle) string {
	return p.r.NewStyle().Foreground(lipgloss.Color(st.Color)).Render(st.Glyph + " " + name)
}

func (p *palette) categories() string {
	cats := core.Categories()
	labels := make([]string, len(cats))
	width := 0
	for i, c := range cats {
		labels[i] = p.category(c.String(), c.Style())
		width = max(width, lipgloss.Width(labels[i]))
	}

	var b strings.Builder
	pad := p.r.NewStyle().Width(width)
	for i, c := range cats {
		b.WriteString(pad.Render(labels[i]))
		b.WriteString(columnGap)
		b.WriteString(p.muted.Render(c.Style().Color))
		b.WriteString("\n")
	}
	return b.String()
}

// expenses renders the list with a trailing total row. Amounts are right
// aligned.
func (p *palette) expenses(v app.View) string {
	header := []string{"ID", "DATE", "NAME", "CATEGORY", "AMOUNT"}
	rows := make([][]string, 0, len(v.Rows)+1)
	for _, r := range v.Rows {
		rows = append(rows, []string{
			r.ID.String(),
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			ansi.Truncate(r.Name, maxNameWidth, "…"),
			p.category(r.Category.String(), r.Style),
			r.Amount.Format(),
		})
	}
	rows = append(rows, []string{"", "", "", p.total.Render("Total"), p.total.Render(v.Total)})

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	cell := func(i int, s string) string {
		st := p.r.NewStyle().Width(widths[i])
		if i == len(widths)-1 {
			st = st.Align(lipgloss.Right)
		}
		return st.Render(s)
	}

	var b strings.Builder
	line := make([]string, len(header))
	for i, h := range header {
		line[i] = cell(i, p.header.Render(h))
	}
	b.WriteString(strings.Join(line, columnGap) + "\n")
	for _, row := range rows {
		for i, c := range row {
			line[i] = cell(i, c)
		}
		b.WriteString(strings.TrimRight(strings.Join(line, columnGap), " ") + "\n")
	}
	return b.String()
}
