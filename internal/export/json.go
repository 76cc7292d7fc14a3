package export

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lotas/faktwerk/internal/report"
	"github.com/lotas/faktwerk/internal/storage"
)

type jsonItem struct {
	ID        string        `json:"id"`
	Source    string        `json:"source,omitempty"`
	Title     string        `json:"title,omitempty"`
	URL       string        `json:"url,omitempty"`
	Score     int           `json:"score"`
	IsVideo   bool          `json:"isVideo,omitempty"`
	CheckedAt time.Time     `json:"checkedAt"`
	Report    report.Report `json:"report"`
}

// JSON formats check history as an indented JSON array. Raw model text is
// dropped from the reports to keep exports readable.
func JSON(items []storage.HistoryItem) (string, error) {
	out := make([]jsonItem, 0, len(items))
	for _, item := range items {
		rep := item.Report
		rep.Raw = ""
		out = append(out, jsonItem{
			ID:        item.ID,
			Source:    item.Source,
			Title:     item.Title,
			URL:       item.URL,
			Score:     item.Score,
			IsVideo:   item.IsVideo,
			CheckedAt: item.CreatedAt,
			Report:    rep,
		})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode history: %w", err)
	}
	return string(data), nil
}
