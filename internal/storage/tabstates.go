package storage

import (
	"database/sql"
	"fmt"
)

// SaveTabState upserts the serialized state blob for a tab.
func SaveTabState(db *sql.DB, tabID int, state []byte) error {
	_, err := db.Exec(
		"INSERT OR REPLACE INTO tab_states (tab_id, state, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)",
		tabID, string(state),
	)
	if err != nil {
		return fmt.Errorf("save tab state: %w", err)
	}
	return nil
}

// GetTabState returns the serialized state for a tab, or nil when absent.
func GetTabState(db *sql.DB, tabID int) ([]byte, error) {
	var state string
	err := db.QueryRow("SELECT state FROM tab_states WHERE tab_id = ?", tabID).Scan(&state)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query tab state: %w", err)
	}
	return []byte(state), nil
}

// DeleteTabState removes the state for one tab.
func DeleteTabState(db *sql.DB, tabID int) error {
	if _, err := db.Exec("DELETE FROM tab_states WHERE tab_id = ?", tabID); err != nil {
		return fmt.Errorf("delete tab state: %w", err)
	}
	return nil
}

// ClearTabStates drops all persisted tab states. Called on server start,
// since tab IDs do not survive a browser restart.
func ClearTabStates(db *sql.DB) error {
	if _, err := db.Exec("DELETE FROM tab_states"); err != nil {
		return fmt.Errorf("clear tab states: %w", err)
	}
	return nil
}
