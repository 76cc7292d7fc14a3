package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/lotas/faktwerk/internal/report"
)

// CacheTTL is how long a cached report stays valid. Expired rows are
// treated as misses and lazily deleted.
const CacheTTL = 24 * time.Hour

const cacheKeyPrefix = 1000

// CacheEntry is a cached fact-check result for one input text.
type CacheEntry struct {
	Key       string
	Report    report.Report
	Source    string
	CreatedAt time.Time
}

// CacheKey derives the cache key from the input text: a djb2 rolling hash
// over the first 1000 characters. Not cryptographic; collisions are an
// accepted tradeoff for speed, the URL-keyed history entry is authoritative.
func CacheKey(text string) string {
	if len(text) > cacheKeyPrefix {
		text = text[:cacheKeyPrefix]
	}
	var h uint32 = 5381
	for i := 0; i < len(text); i++ {
		h = h*33 + uint32(text[i])
	}
	return strconv.FormatUint(uint64(h), 16)
}

// GetCache returns the cached entry for a key, or nil when the key is
// missing or expired. Expired rows are deleted on the way out.
func GetCache(db *sql.DB, key string) (*CacheEntry, error) {
	var (
		e          CacheEntry
		reportJSON string
	)
	err := db.QueryRow(
		"SELECT key, report, source, created_at FROM cache WHERE key = ?", key,
	).Scan(&e.Key, &reportJSON, &e.Source, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query cache: %w", err)
	}

	if time.Since(e.CreatedAt) > CacheTTL {
		if _, err := db.Exec("DELETE FROM cache WHERE key = ?", key); err != nil {
			return nil, fmt.Errorf("delete expired cache entry: %w", err)
		}
		return nil, nil
	}

	if err := json.Unmarshal([]byte(reportJSON), &e.Report); err != nil {
		return nil, fmt.Errorf("decode cached report: %w", err)
	}
	return &e, nil
}

// SetCache stores a report under the key, replacing any previous entry.
func SetCache(db *sql.DB, key string, rep report.Report, source string) error {
	data, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = db.Exec(
		"INSERT OR REPLACE INTO cache (key, report, source, created_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)",
		key, string(data), source,
	)
	if err != nil {
		return fmt.Errorf("insert cache entry: %w", err)
	}
	return nil
}

// InvalidateCache removes the entry for a key, if present.
func InvalidateCache(db *sql.DB, key string) error {
	if _, err := db.Exec("DELETE FROM cache WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// PruneCache deletes all expired entries. Called at server startup.
func PruneCache(db *sql.DB) (int64, error) {
	cutoff := time.Now().Add(-CacheTTL)
	res, err := db.Exec("DELETE FROM cache WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
