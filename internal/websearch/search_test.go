package websearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const ddgFixture = `
<div class="results">
  <div class="result__body">
    <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.org%2Feiffel&amp;rut=abc">Eiffel <b>Tower</b> facts</a>
    <a class="result__snippet" href="#">The tower is located on the <b>Champ de Mars</b> in Paris.</a>
  </div>
  <div class="result__body">
    <a class="result__a" href="https://en.example.com/wiki/Eiffel_Tower">Eiffel Tower - Encyclopedia</a>
    <span class="result__snippet">Wrought-iron lattice tower in Paris, France.</span>
  </div>
  <div class="result__body">
    <a class="result__a" href="https://duckduckgo.com/settings">Settings</a>
  </div>
</div>`

func TestParseResultsHTML(t *testing.T) {
	results := parseResultsHTML(ddgFixture, 5)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (self-link filtered)", len(results))
	}

	if results[0].URL != "https://example.org/eiffel" {
		t.Errorf("uddg unwrap: url = %q", results[0].URL)
	}
	if results[0].Title != "Eiffel Tower facts" {
		t.Errorf("title = %q", results[0].Title)
	}
	if results[0].Snippet != "The tower is located on the Champ de Mars in Paris." {
		t.Errorf("snippet = %q", results[0].Snippet)
	}

	if results[1].URL != "https://en.example.com/wiki/Eiffel_Tower" {
		t.Errorf("plain url = %q", results[1].URL)
	}
	if results[1].Snippet != "Wrought-iron lattice tower in Paris, France." {
		t.Errorf("span snippet = %q", results[1].Snippet)
	}
}

func TestParseResultsHTMLLimit(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 10; i++ {
		b.WriteString(`<div class="result__body"><a class="result__a" href="https://example.com/p">Page</a></div>`)
	}
	results := parseResultsHTML(b.String(), 5)
	if len(results) != 5 {
		t.Errorf("got %d results, want 5", len(results))
	}
}

func TestUnwrapRedirect(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.org%2Fa%20b", "https://example.org/a b"},
		{"https://example.org/direct", "https://example.org/direct"},
		{"//example.org/protocol-relative", "https://example.org/protocol-relative"},
	}
	for _, tt := range tests {
		if got := unwrapRedirect(tt.in); got != tt.want {
			t.Errorf("unwrapRedirect(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSearchNeverErrors(t *testing.T) {
	c := New()
	c.endpoint = "http://127.0.0.1:1/html/" // nothing listening

	tests := []struct {
		name  string
		query string
	}{
		{"empty query", ""},
		{"whitespace query", "   "},
		{"backend unreachable", "anything"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := c.Search(context.Background(), tt.query)
			if resp.Success {
				t.Errorf("expected failure response")
			}
			if resp.Error == "" {
				t.Errorf("expected error message")
			}
		})
	}
}

func TestSearchAgainstFixtureServer(t *testing.T) {
	article := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Eiffel</title></head><body><article><p>` +
			strings.Repeat("The Eiffel Tower stands in Paris on the Champ de Mars. ", 50) +
			`</p></article></body></html>`))
	}))
	defer article.Close()

	fixture := strings.ReplaceAll(ddgFixture,
		"https://en.example.com/wiki/Eiffel_Tower", article.URL)
	fixture = strings.ReplaceAll(fixture,
		"https%3A%2F%2Fexample.org%2Feiffel", article.URL)

	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "" {
			t.Errorf("missing q parameter")
		}
		w.Write([]byte(fixture))
	}))
	defer search.Close()

	c := New()
	c.endpoint = search.URL + "/html/"

	resp := c.Search(context.Background(), "eiffel tower location")
	if !resp.Success {
		t.Fatalf("search failed: %s", resp.Error)
	}
	if len(resp.Results) == 0 {
		t.Fatal("no results")
	}
	if resp.Results[0].Content == "" {
		t.Error("top result should have browsed content")
	}
	if len(resp.Results[0].Content) > contentCap {
		t.Errorf("content len %d exceeds cap %d", len(resp.Results[0].Content), contentCap)
	}
	for _, r := range resp.Results[1:] {
		if r.Content != "" {
			t.Errorf("only the top result should be browsed")
		}
	}
}

func TestFormatForModel(t *testing.T) {
	resp := Response{
		Success: true,
		Query:   "test",
		Results: []Result{
			{Title: "First", URL: "https://a.example", Snippet: "snippet", Content: "body text"},
			{Title: "Second", URL: "https://b.example"},
		},
	}
	out := FormatForModel(resp)
	for _, want := range []string{"First", "https://a.example", "body text", "Second", "https://b.example"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	errOut := FormatForModel(Response{Query: "x", Error: "no results"})
	if !strings.Contains(errOut, "no results") {
		t.Errorf("error output missing message: %s", errOut)
	}
}
