// Package extract fetches readable text for CLI checks. The browser
// extension does its own extraction; this path covers `faktwerk check`.
package extract

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

var skipPrefixes = []string{"about:", "moz-extension:", "file:", "chrome:", "resource:", "data:"}

var videoHosts = []string{
	"youtube.com", "youtu.be", "vimeo.com", "dailymotion.com", "twitch.tv",
}

// Page is the extracted content for one URL.
type Page struct {
	Title   string
	Text    string
	IsVideo bool
}

// FetchReadable fetches a URL and extracts readable text. For video hosts
// the page rarely has article content, so the title and description stand
// in for a transcript.
func FetchReadable(ctx context.Context, pageURL string) (*Page, error) {
	for _, prefix := range skipPrefixes {
		if strings.HasPrefix(pageURL, prefix) {
			return nil, fmt.Errorf("skipping non-HTTP URL: %s", pageURL)
		}
	}

	client := &http.Client{Timeout: 15 * time.Second}
	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch %s: HTTP %d", pageURL, resp.StatusCode)
	}

	parsed, _ := url.Parse(pageURL)
	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return nil, fmt.Errorf("extract readable content from %s: %w", pageURL, err)
	}

	page := &Page{
		Title:   article.Title,
		Text:    strings.TrimSpace(article.TextContent),
		IsVideo: IsVideoURL(pageURL),
	}
	if page.IsVideo && page.Text == "" {
		page.Text = strings.TrimSpace(article.Title + "\n" + article.Excerpt)
	}
	if page.Text == "" {
		return nil, fmt.Errorf("no readable content at %s", pageURL)
	}
	return page, nil
}

// IsVideoURL reports whether the URL points at a known video host.
func IsVideoURL(pageURL string) bool {
	u, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, v := range videoHosts {
		if host == v || strings.HasSuffix(host, "."+v) {
			return true
		}
	}
	return false
}
