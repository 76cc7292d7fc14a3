package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/lotas/faktwerk/internal/storage"
)

// Markdown formats check history as a markdown document.
func Markdown(items []storage.HistoryItem) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Fact-Check History\n")
	fmt.Fprintf(&b, "> Exported %s\n", time.Now().Format("2006-01-02 15:04"))

	for _, item := range items {
		title := item.Title
		if title == "" {
			title = item.URL
		}
		fmt.Fprintf(&b, "\n## %s\n\n", title)
		fmt.Fprintf(&b, "- Score: %d/100 (%s)\n", item.Score, item.Report.Verdict)
		if item.URL != "" {
			fmt.Fprintf(&b, "- URL: %s\n", item.URL)
		}
		fmt.Fprintf(&b, "- Checked: %s\n", relativeTime(item.CreatedAt))

		if item.Report.Summary != "" {
			fmt.Fprintf(&b, "\n%s\n", item.Report.Summary)
		}
		if len(item.Report.Claims) > 0 {
			b.WriteString("\n### Claims\n\n")
			for _, c := range item.Report.Claims {
				fmt.Fprintf(&b, "- **%s** — %s", c.Verdict, c.Claim)
				if c.Explanation != "" {
					fmt.Fprintf(&b, " (%s)", c.Explanation)
				}
				b.WriteString("\n")
			}
		}
		if item.Report.Sources != "" {
			fmt.Fprintf(&b, "\nSources: %s\n", item.Report.Sources)
		}
	}

	return b.String()
}

func relativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
