// Package firefox reads the Firefox session store so `faktwerk check --tab`
// can find the active tab without the extension running.
package firefox

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pierrec/lz4/v4"
)

// mozlz4 header: 8-byte magic "mozLz40\x00"
var mozLz4Magic = []byte("mozLz40\x00")

// DecompressMozLz4 decompresses data in Mozilla's mozlz4 format:
// 8-byte magic + 4-byte LE uint32 uncompressed size + lz4 block data.
func DecompressMozLz4(data []byte) ([]byte, error) {
	const headerSize = 12 // 8 magic + 4 size

	if len(data) < headerSize {
		return nil, fmt.Errorf("mozlz4: data too short (%d bytes)", len(data))
	}
	for i := 0; i < len(mozLz4Magic); i++ {
		if data[i] != mozLz4Magic[i] {
			return nil, fmt.Errorf("mozlz4: invalid header magic")
		}
	}

	uncompressedSize := binary.LittleEndian.Uint32(data[8:12])
	dst := make([]byte, uncompressedSize)
	n, err := lz4.UncompressBlock(data[headerSize:], dst)
	if err != nil {
		return nil, fmt.Errorf("mozlz4: decompress failed: %w", err)
	}
	return dst[:n], nil
}

// Tab is one open tab from the session store.
type Tab struct {
	URL          string
	Title        string
	LastAccessed int64 // unix millis
}

type rawEntry struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type rawTab struct {
	Entries      []rawEntry `json:"entries"`
	Index        int        `json:"index"`
	LastAccessed int64      `json:"lastAccessed"`
}

type rawSession struct {
	Windows []struct {
		Tabs []rawTab `json:"tabs"`
	} `json:"windows"`
}

// ParseTabs extracts all open tabs from decompressed session JSON. Each
// tab's current page is entries[index-1] (index is 1-based).
func ParseTabs(data []byte) ([]Tab, error) {
	var raw rawSession
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse session JSON: %w", err)
	}

	var tabs []Tab
	for _, window := range raw.Windows {
		for _, rt := range window.Tabs {
			if len(rt.Entries) == 0 {
				continue
			}
			entryIdx := rt.Index - 1
			if entryIdx < 0 || entryIdx >= len(rt.Entries) {
				entryIdx = len(rt.Entries) - 1
			}
			entry := rt.Entries[entryIdx]
			tabs = append(tabs, Tab{
				URL:          entry.URL,
				Title:        entry.Title,
				LastAccessed: rt.LastAccessed,
			})
		}
	}
	return tabs, nil
}

// ActiveTab returns the most recently accessed tab in the session.
func ActiveTab(tabs []Tab) (Tab, error) {
	var best Tab
	found := false
	for _, t := range tabs {
		if !strings.HasPrefix(t.URL, "http") {
			continue
		}
		if !found || t.LastAccessed > best.LastAccessed {
			best = t
			found = true
		}
	}
	if !found {
		return Tab{}, fmt.Errorf("no http tabs in session")
	}
	return best, nil
}

// ReadSessionTabs reads and parses the session recovery file from a profile
// directory. It tries recovery.jsonlz4 first, then previous.jsonlz4.
func ReadSessionTabs(profileDir string) ([]Tab, error) {
	backupDir := filepath.Join(profileDir, "sessionstore-backups")
	var data []byte
	var err error
	for _, name := range []string{"recovery.jsonlz4", "previous.jsonlz4"} {
		data, err = os.ReadFile(filepath.Join(backupDir, name))
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("no session file found in %s", backupDir)
	}

	decompressed, err := DecompressMozLz4(data)
	if err != nil {
		return nil, fmt.Errorf("decompress session file: %w", err)
	}
	return ParseTabs(decompressed)
}

// DefaultProfileDir locates the default Firefox profile under
// ~/.mozilla/firefox by its .default suffix convention.
func DefaultProfileDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	base := filepath.Join(home, ".mozilla", "firefox")
	entries, err := os.ReadDir(base)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", base, err)
	}

	// Prefer *.default-release, fall back to any *.default*.
	var fallback string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".default-release") {
			return filepath.Join(base, name), nil
		}
		if strings.Contains(name, ".default") && fallback == "" {
			fallback = filepath.Join(base, name)
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", fmt.Errorf("no default profile in %s", base)
}
