// Package tui is the terminal history browser launched by `faktwerk
// history`.
package tui

import (
	"database/sql"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/faktwerk/internal/storage"
)

type historyLoadedMsg struct {
	items []storage.HistoryItem
	err   error
}

type deletedMsg struct {
	err error
}

// App is the top-level bubbletea model: a history list on the left and a
// scrollable report detail on the right.
type App struct {
	db     *sql.DB
	items  []storage.HistoryItem
	cursor int
	offset int
	detail DetailModel
	width  int
	height int

	loading     bool
	focusDetail bool
	err         error
}

// NewApp creates the history browser.
func NewApp(db *sql.DB) App {
	return App{db: db, loading: true}
}

func (a App) Init() tea.Cmd {
	return a.loadHistory()
}

func (a App) loadHistory() tea.Cmd {
	db := a.db
	return func() tea.Msg {
		items, err := storage.ListHistory(db)
		return historyLoadedMsg{items: items, err: err}
	}
}

func (a App) deleteSelected() tea.Cmd {
	if a.cursor >= len(a.items) {
		return nil
	}
	db := a.db
	id := a.items[a.cursor].ID
	return func() tea.Msg {
		_, err := storage.DeleteHistory(db, id)
		return deletedMsg{err: err}
	}
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height - 2 // navbar + footer
		a.detail.Width = a.width - a.listWidth() - 3
		a.detail.Height = a.height
		return a, nil

	case historyLoadedMsg:
		a.loading = false
		if msg.err != nil {
			a.err = msg.err
			return a, nil
		}
		a.items = msg.items
		a.err = nil
		if a.cursor >= len(a.items) && a.cursor > 0 {
			a.cursor = len(a.items) - 1
		}
		return a, nil

	case deletedMsg:
		if msg.err != nil {
			a.err = msg.err
			return a, nil
		}
		return a, a.loadHistory()

	case tea.KeyMsg:
		if a.focusDetail {
			switch msg.String() {
			case "esc":
				a.focusDetail = false
				a.detail.ResetScroll()
			case "j", "down":
				a.detail.ScrollDown()
			case "k", "up":
				a.detail.ScrollUp()
			case "q", "ctrl+c":
				return a, tea.Quit
			}
			return a, nil
		}

		switch msg.String() {
		case "q", "ctrl+c":
			return a, tea.Quit
		case "j", "down":
			if a.cursor < len(a.items)-1 {
				a.cursor++
				a.adjustOffset()
				a.detail.ResetScroll()
			}
		case "k", "up":
			if a.cursor > 0 {
				a.cursor--
				a.adjustOffset()
				a.detail.ResetScroll()
			}
		case "enter":
			if len(a.items) > 0 {
				a.focusDetail = true
			}
		case "d":
			return a, a.deleteSelected()
		case "r":
			a.loading = true
			return a, a.loadHistory()
		}
	}
	return a, nil
}

func (a *App) adjustOffset() {
	if a.cursor < a.offset {
		a.offset = a.cursor
	}
	visible := a.height - 2
	if visible < 1 {
		visible = 1
	}
	if a.cursor >= a.offset+visible {
		a.offset = a.cursor - visible + 1
	}
}

func (a App) listWidth() int {
	return a.width * 45 / 100
}

func (a App) View() string {
	if a.loading {
		return "Loading history..."
	}
	if a.err != nil {
		return fmt.Sprintf("Error: %v", a.err)
	}
	if len(a.items) == 0 {
		return "No checks yet.\n\nRun `faktwerk check <url>` or use the extension."
	}

	title := lipgloss.NewStyle().Bold(true).Render("faktwerk history")
	left := a.viewList()
	right := ""
	if a.cursor < len(a.items) {
		right = a.detail.ViewScrolled(RenderItem(a.items[a.cursor], a.detail.Width))
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		lipgloss.NewStyle().Width(a.listWidth()).Render(left),
		" │ ",
		right,
	)

	footer := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).
		Render("j/k move · enter focus report · d delete · r reload · q quit")

	return title + "\n" + body + "\n" + footer
}

func (a App) viewList() string {
	cursorStyle := lipgloss.NewStyle().Bold(true).Reverse(true)

	var b strings.Builder
	end := a.offset + a.height
	if end > len(a.items) {
		end = len(a.items)
	}

	for i := a.offset; i < end; i++ {
		item := a.items[i]
		title := item.Title
		if title == "" {
			title = item.URL
		}
		maxLen := a.listWidth() - 12
		if maxLen > 0 && len(title) > maxLen {
			title = title[:maxLen-1] + "…"
		}

		line := fmt.Sprintf("  %s %s", scoreBadge(item.Score), title)
		if i == a.cursor {
			for len(line) < a.listWidth() {
				line += " "
			}
			line = cursorStyle.Render(line)
		}
		b.WriteString(line)
		if i < end-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// scoreBadge colors the credibility score: green for high, yellow for
// middling, red for low.
func scoreBadge(score int) string {
	var color lipgloss.Color
	switch {
	case score >= 70:
		color = lipgloss.Color("42")
	case score >= 40:
		color = lipgloss.Color("214")
	default:
		color = lipgloss.Color("196")
	}
	return lipgloss.NewStyle().Foreground(color).Bold(true).
		Render(fmt.Sprintf("%3d", score))
}

// Run starts the TUI and blocks until the user quits.
func Run(db *sql.DB) error {
	_, err := tea.NewProgram(NewApp(db), tea.WithAltScreen()).Run()
	return err
}
