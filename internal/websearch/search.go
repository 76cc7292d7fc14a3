// Package websearch implements the web_search tool backing the fact-check
// exchange: a DuckDuckGo HTML query plus a readable-text fetch of the top
// result.
package websearch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/lotas/faktwerk/internal/applog"
)

const (
	maxResults     = 5
	browseTimeout  = 4 * time.Second
	contentCap     = 1500
	searchEndpoint = "https://html.duckduckgo.com/html/"
	userAgent      = "Mozilla/5.0 (Android 14; Mobile; rv:132.0) Gecko/132.0 Firefox/132.0"
)

// Result is a single search hit. Content is populated only for the browsed
// top result and is capped to 1500 characters.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
	Content string `json:"content,omitempty"`
}

// Response is what the tool returns to the model. Search never returns a Go
// error: failures are reported in-band so the model can react to them.
type Response struct {
	Success bool     `json:"success"`
	Query   string   `json:"query"`
	Results []Result `json:"results"`
	Error   string   `json:"error,omitempty"`
}

// Client performs searches against the DuckDuckGo HTML endpoint.
type Client struct {
	http     *http.Client
	endpoint string
}

// New creates a search client with default timeouts.
func New() *Client {
	return &Client{
		http:     &http.Client{Timeout: 10 * time.Second},
		endpoint: searchEndpoint,
	}
}

// Search runs the query and browses the top result. The returned Response is
// always usable: bad queries, zero results, and backend failures all come
// back as Success=false with an Error string.
func (c *Client) Search(ctx context.Context, query string) Response {
	query = strings.TrimSpace(query)
	if query == "" {
		return Response{Query: query, Error: "empty query"}
	}

	applog.Info("search.query", "q", query)

	results, err := c.fetchResults(ctx, query)
	if err != nil {
		applog.Error("search.fetch", err, "q", query)
		return Response{Query: query, Error: err.Error()}
	}
	if len(results) == 0 {
		return Response{Query: query, Error: "no results"}
	}

	// Browse the top result only. Failures leave Content empty.
	if content, err := c.browse(ctx, results[0].URL); err == nil {
		results[0].Content = content
	} else {
		applog.Error("search.browse", err, "url", results[0].URL)
	}

	return Response{Success: true, Query: query, Results: results}
}

func (c *Client) fetchResults(ctx context.Context, query string) ([]Result, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.endpoint+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search backend: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}

	return parseResultsHTML(string(body), maxResults), nil
}

// parseResultsHTML extracts results by structural pattern matching on the
// DuckDuckGo HTML markup. Anchors are wrapped in result__body blocks with a
// result__a link and a result__snippet span.
func parseResultsHTML(html string, limit int) []Result {
	var results []Result

	parts := strings.Split(html, `class="result__body"`)
	for _, part := range parts[1:] {
		if len(results) >= limit {
			break
		}

		var r Result

		if idx := strings.Index(part, `class="result__a"`); idx != -1 {
			if hrefStart := strings.Index(part[idx:], `href="`); hrefStart != -1 {
				hrefStart += idx + 6
				if hrefEnd := strings.Index(part[hrefStart:], `"`); hrefEnd != -1 {
					r.URL = unwrapRedirect(part[hrefStart : hrefStart+hrefEnd])
				}
			}
			if titleStart := strings.Index(part[idx:], ">"); titleStart != -1 {
				titleStart += idx + 1
				if titleEnd := strings.Index(part[titleStart:], "</a>"); titleEnd != -1 {
					r.Title = strings.TrimSpace(stripTags(part[titleStart : titleStart+titleEnd]))
				}
			}
		}

		if idx := strings.Index(part, `class="result__snippet"`); idx != -1 {
			if snipStart := strings.Index(part[idx:], ">"); snipStart != -1 {
				snipStart += idx + 1
				snipEnd := strings.Index(part[snipStart:], "</a>")
				if snipEnd == -1 {
					snipEnd = strings.Index(part[snipStart:], "</span>")
				}
				if snipEnd != -1 {
					r.Snippet = strings.TrimSpace(stripTags(part[snipStart : snipStart+snipEnd]))
				}
			}
		}

		if r.Title == "" || r.URL == "" || isSelfLink(r.URL) {
			continue
		}
		results = append(results, r)
	}

	return results
}

// unwrapRedirect recovers the destination from DuckDuckGo's uddg redirect
// wrapper. Non-wrapped URLs pass through unchanged.
func unwrapRedirect(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if uddg := u.Query().Get("uddg"); uddg != "" {
		return uddg
	}
	if u.Scheme == "" {
		// Protocol-relative redirect links.
		return "https:" + raw
	}
	return raw
}

func isSelfLink(u string) bool {
	return strings.Contains(u, "duckduckgo.com")
}

// browse fetches the URL and extracts readable text, capped to contentCap.
func (c *Client) browse(ctx context.Context, pageURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, browseTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build browse request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch %s: HTTP %d", pageURL, resp.StatusCode)
	}

	parsed, err := url.Parse(pageURL)
	if err != nil {
		parsed = nil
	}
	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", pageURL, err)
	}

	text := collapseWhitespace(article.TextContent)
	if len(text) > contentCap {
		text = text[:contentCap]
	}
	return text, nil
}

// FormatForModel renders the response as the tool-message text sent back to
// the model: the browsed result in full, then the remaining titles and URLs.
func FormatForModel(resp Response) string {
	if !resp.Success {
		return fmt.Sprintf(`{"error": %q, "query": %q}`, resp.Error, resp.Query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q:\n\n", resp.Query)

	top := resp.Results[0]
	fmt.Fprintf(&b, "Top result: %s\nURL: %s\n", top.Title, top.URL)
	if top.Snippet != "" {
		fmt.Fprintf(&b, "Snippet: %s\n", top.Snippet)
	}
	if top.Content != "" {
		fmt.Fprintf(&b, "Page content:\n%s\n", top.Content)
	}

	if len(resp.Results) > 1 {
		b.WriteString("\nOther results:\n")
		for _, r := range resp.Results[1:] {
			fmt.Fprintf(&b, "- %s (%s)\n", r.Title, r.URL)
		}
	}

	return b.String()
}

func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	out := b.String()
	for old, new := range map[string]string{
		"&amp;": "&", "&lt;": "<", "&gt;": ">",
		"&quot;": "\"", "&#x27;": "'", "&#39;": "'", "&nbsp;": " ",
	} {
		out = strings.ReplaceAll(out, old, new)
	}
	return out
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
