package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/faktwerk/internal/storage"
)

// DetailModel shows the report for the selected history item.
type DetailModel struct {
	Width      int
	Height     int
	Scroll     int
	ContentLen int
}

// ScrollUp adjusts the scroll offset upward.
func (m *DetailModel) ScrollUp() {
	if m.Scroll > 0 {
		m.Scroll--
	}
}

// ScrollDown adjusts the scroll offset downward.
func (m *DetailModel) ScrollDown() {
	if m.Scroll < m.ContentLen-m.Height {
		m.Scroll++
	}
	if m.Scroll < 0 {
		m.Scroll = 0
	}
}

// ResetScroll resets the scroll offset to 0.
func (m *DetailModel) ResetScroll() {
	m.Scroll = 0
}

// ViewScrolled applies scroll offset and height truncation to the content.
func (m *DetailModel) ViewScrolled(content string) string {
	if content == "" {
		return content
	}

	lines := strings.Split(content, "\n")
	m.ContentLen = len(lines)

	maxScroll := m.ContentLen - m.Height
	if maxScroll < 0 {
		maxScroll = 0
	}
	if m.Scroll > maxScroll {
		m.Scroll = maxScroll
	}
	if m.Scroll < 0 {
		m.Scroll = 0
	}

	end := m.Scroll + m.Height
	if end > len(lines) {
		end = len(lines)
	}
	if m.Scroll >= len(lines) {
		return ""
	}
	return strings.Join(lines[m.Scroll:end], "\n")
}

// RenderItem renders one history item's report as wrapped, styled text.
func RenderItem(item storage.HistoryItem, width int) string {
	labelStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	if width < 10 {
		width = 10
	}

	var b strings.Builder

	title := item.Title
	if title == "" {
		title = item.URL
	}
	b.WriteString(labelStyle.Render("Title") + "\n")
	if len(title) > width-2 {
		title = title[:width-3] + "…"
	}
	b.WriteString(title + "\n\n")

	if item.URL != "" {
		b.WriteString(labelStyle.Render("URL") + "\n")
		url := item.URL
		for len(url) > width-2 {
			b.WriteString(url[:width-2] + "\n")
			url = url[width-2:]
		}
		b.WriteString(url + "\n\n")
	}

	b.WriteString(labelStyle.Render("Score") + "\n")
	b.WriteString(fmt.Sprintf("%s  %s\n\n", scoreBadge(item.Score), item.Report.Verdict))

	if item.Report.Summary != "" {
		b.WriteString(labelStyle.Render("Summary") + "\n")
		b.WriteString(wrap(item.Report.Summary, width-2) + "\n\n")
	}

	if len(item.Report.Claims) > 0 {
		b.WriteString(labelStyle.Render("Claims") + "\n")
		for _, c := range item.Report.Claims {
			b.WriteString(verdictStyle(c.Verdict).Render(c.Verdict))
			b.WriteString(" " + wrap(c.Claim, width-2) + "\n")
			if c.Explanation != "" {
				b.WriteString(dimStyle.Render("  "+wrap(c.Explanation, width-4)) + "\n")
			}
		}
		b.WriteString("\n")
	}

	if item.Report.Context != "" {
		b.WriteString(labelStyle.Render("Context") + "\n")
		b.WriteString(wrap(item.Report.Context, width-2) + "\n\n")
	}
	if item.Report.Sources != "" {
		b.WriteString(labelStyle.Render("Sources") + "\n")
		b.WriteString(wrap(item.Report.Sources, width-2) + "\n\n")
	}
	if item.Report.Bias != "" {
		b.WriteString(labelStyle.Render("Bias") + "\n")
		b.WriteString(wrap(item.Report.Bias, width-2) + "\n")
	}

	return b.String()
}

func verdictStyle(verdict string) lipgloss.Style {
	switch strings.ToUpper(verdict) {
	case "TRUE", "MOSTLY_TRUE":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	case "FALSE", "MOSTLY_FALSE":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	}
}

// wrap breaks text into lines no wider than width, on word boundaries.
func wrap(text string, width int) string {
	if width < 1 {
		return text
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}

	var b strings.Builder
	lineLen := 0
	for i, w := range words {
		if i > 0 {
			if lineLen+1+len(w) > width {
				b.WriteString("\n")
				lineLen = 0
			} else {
				b.WriteString(" ")
				lineLen++
			}
		}
		b.WriteString(w)
		lineLen += len(w)
	}
	return b.String()
}
