package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lotas/faktwerk/internal/report"
)

// MaxHistoryItems bounds the history log. Inserting past the bound evicts
// the oldest entries.
const MaxHistoryItems = 50

// HistoryItem is one completed check, newest-first in listings.
type HistoryItem struct {
	ID        string
	Source    string
	Title     string
	URL       string
	Score     int
	Content   string
	Report    report.Report
	Prompt    string
	IsVideo   bool
	CreatedAt time.Time
}

// AppendHistory inserts a new item and evicts the oldest entries beyond
// MaxHistoryItems. The item's ID is assigned if empty.
func AppendHistory(db *sql.DB, item *HistoryItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	reportJSON, err := json.Marshal(item.Report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO history (id, source, title, url, score, content, report, prompt, is_video)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Source, item.Title, item.URL, item.Score,
		item.Content, string(reportJSON), item.Prompt, item.IsVideo,
	)
	if err != nil {
		return fmt.Errorf("insert history item: %w", err)
	}

	_, err = tx.Exec(
		`DELETE FROM history WHERE id NOT IN (
			SELECT id FROM history ORDER BY created_at DESC, rowid DESC LIMIT ?
		)`, MaxHistoryItems,
	)
	if err != nil {
		return fmt.Errorf("evict old history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListHistory returns all items, newest first.
func ListHistory(db *sql.DB) ([]HistoryItem, error) {
	rows, err := db.Query(
		`SELECT id, source, title, url, score, content, report, prompt, is_video, created_at
		 FROM history ORDER BY created_at DESC, rowid DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var items []HistoryItem
	for rows.Next() {
		item, err := scanHistoryItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return items, nil
}

// GetHistoryByURL returns the most recent item for a URL, or nil.
func GetHistoryByURL(db *sql.DB, url string) (*HistoryItem, error) {
	rows, err := db.Query(
		`SELECT id, source, title, url, score, content, report, prompt, is_video, created_at
		 FROM history WHERE url = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, url,
	)
	if err != nil {
		return nil, fmt.Errorf("query history by url: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	item, err := scanHistoryItem(rows)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// DeleteHistory removes one item by ID. Returns the deleted item's URL so
// callers can clear dependent tab state.
func DeleteHistory(db *sql.DB, id string) (string, error) {
	var url string
	err := db.QueryRow("SELECT url FROM history WHERE id = ?", id).Scan(&url)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("history item %s not found", id)
	}
	if err != nil {
		return "", fmt.Errorf("query history item: %w", err)
	}
	if _, err := db.Exec("DELETE FROM history WHERE id = ?", id); err != nil {
		return "", fmt.Errorf("delete history item: %w", err)
	}
	return url, nil
}

// RemoveMatching deletes every item the predicate accepts and returns the
// URLs of the removed items.
func RemoveMatching(db *sql.DB, match func(HistoryItem) bool) ([]string, error) {
	items, err := ListHistory(db)
	if err != nil {
		return nil, err
	}

	var urls []string
	for _, item := range items {
		if !match(item) {
			continue
		}
		if _, err := db.Exec("DELETE FROM history WHERE id = ?", item.ID); err != nil {
			return urls, fmt.Errorf("delete history item %s: %w", item.ID, err)
		}
		urls = append(urls, item.URL)
	}
	return urls, nil
}

func scanHistoryItem(rows *sql.Rows) (HistoryItem, error) {
	var (
		item       HistoryItem
		reportJSON string
	)
	err := rows.Scan(
		&item.ID, &item.Source, &item.Title, &item.URL, &item.Score,
		&item.Content, &reportJSON, &item.Prompt, &item.IsVideo, &item.CreatedAt,
	)
	if err != nil {
		return item, fmt.Errorf("scan history item: %w", err)
	}
	if err := json.Unmarshal([]byte(reportJSON), &item.Report); err != nil {
		return item, fmt.Errorf("decode history report: %w", err)
	}
	return item, nil
}
