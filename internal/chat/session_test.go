package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lotas/faktwerk/internal/websearch"
)

type fakeSearcher struct {
	calls []string
	resp  websearch.Response
}

func (f *fakeSearcher) Search(_ context.Context, query string) websearch.Response {
	f.calls = append(f.calls, query)
	r := f.resp
	r.Query = query
	return r
}

func testConfig(url string) Config {
	return Config{
		ProviderURL: url,
		Model:       "test-model",
		APIKey:      "sk-test",
	}
}

// sse writes chunks in the provider's data: framing followed by [DONE].
func sse(w http.ResponseWriter, payloads ...string) {
	for _, p := range payloads {
		fmt.Fprintf(w, "data: %s\n\n", p)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func contentChunk(text string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"delta": map[string]any{"content": text}}},
	})
	return string(b)
}

func toolChunk(index int, id, name, args string) string {
	fn := map[string]any{}
	if name != "" {
		fn["name"] = name
	}
	if args != "" {
		fn["arguments"] = args
	}
	call := map[string]any{"index": index, "function": fn}
	if id != "" {
		call["id"] = id
	}
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"delta": map[string]any{"tool_calls": []any{call}}}},
	})
	return string(b)
}

func TestEndpointNormalization(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://api.example.com/v1", "https://api.example.com/v1/chat/completions"},
		{"https://api.example.com/v1/", "https://api.example.com/v1/chat/completions"},
		{"https://api.example.com/v1/chat/completions", "https://api.example.com/v1/chat/completions"},
	}
	for _, tt := range tests {
		cfg := Config{ProviderURL: tt.in}
		if got := cfg.endpoint(); got != tt.want {
			t.Errorf("endpoint(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewSessionConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing api key", Config{ProviderURL: "http://x", Model: "m"}},
		{"missing provider url", Config{APIKey: "k", Model: "m"}},
		{"missing model", Config{APIKey: "k", ProviderURL: "http://x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSession(tt.cfg, &fakeSearcher{})
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Errorf("got %v, want ConfigError", err)
			}
		})
	}
}

func TestMergeToolDelta(t *testing.T) {
	t.Run("split name and arguments", func(t *testing.T) {
		var calls []ToolCall
		calls = mergeToolDelta(calls, delta(0, "call_1", "web_", ""))
		calls = mergeToolDelta(calls, delta(0, "", "search", ""))
		calls = mergeToolDelta(calls, delta(0, "", "", `{"qu`))
		calls = mergeToolDelta(calls, delta(0, "", "", `ery":"x"}`))

		if len(calls) != 1 {
			t.Fatalf("got %d calls, want 1", len(calls))
		}
		if calls[0].Function.Name != "web_search" {
			t.Errorf("name = %q, want web_search", calls[0].Function.Name)
		}
		if calls[0].Function.Arguments != `{"query":"x"}` {
			t.Errorf("arguments = %q", calls[0].Function.Arguments)
		}
		if calls[0].ID != "call_1" {
			t.Errorf("id = %q", calls[0].ID)
		}
	})

	t.Run("repeated full name is not doubled", func(t *testing.T) {
		var calls []ToolCall
		calls = mergeToolDelta(calls, delta(0, "c", "web_search", `{"que`))
		calls = mergeToolDelta(calls, delta(0, "", "web_search", `ry":"y"}`))

		if calls[0].Function.Name != "web_search" {
			t.Errorf("name = %q, want web_search", calls[0].Function.Name)
		}
		if calls[0].Function.Arguments != `{"query":"y"}` {
			t.Errorf("arguments = %q", calls[0].Function.Arguments)
		}
	})

	t.Run("interleaved indexes", func(t *testing.T) {
		var calls []ToolCall
		calls = mergeToolDelta(calls, delta(1, "b", "web_search", `{"query":"two"}`))
		calls = mergeToolDelta(calls, delta(0, "a", "web_search", `{"query":"one"}`))

		if len(calls) != 2 {
			t.Fatalf("got %d calls, want 2", len(calls))
		}
		if calls[0].Function.Arguments != `{"query":"one"}` || calls[1].Function.Arguments != `{"query":"two"}` {
			t.Errorf("calls out of order: %+v", calls)
		}
	})

	t.Run("missing id gets generated", func(t *testing.T) {
		calls := mergeToolDelta(nil, delta(0, "", "web_search", "{}"))
		if calls[0].ID == "" {
			t.Error("expected generated id")
		}
	})
}

func delta(index int, id, name, args string) toolCallDelta {
	d := toolCallDelta{Index: index, ID: id}
	d.Function.Name = name
	d.Function.Arguments = args
	return d
}

func TestCheckPlainAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("auth header = %q", got)
		}
		sse(w,
			contentChunk(`{"score":5,"verdict":"FALSE",`),
			contentChunk(`"summary":"wrong city","claims":[{"claim":"The Eiffel Tower is in Berlin.","verdict":"FALSE","explanation":"It is in Paris.","confidence":"HIGH"}]}`),
		)
	}))
	defer srv.Close()

	s, err := NewSession(testConfig(srv.URL), &fakeSearcher{})
	if err != nil {
		t.Fatal(err)
	}

	var thinking strings.Builder
	res, err := s.Check(context.Background(), "The Eiffel Tower is in Berlin.", func(ev Event) {
		if th, ok := ev.(Thinking); ok {
			thinking.WriteString(th.Text)
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	if res.Report.Score != 5 {
		t.Errorf("score = %d, want 5", res.Report.Score)
	}
	if len(res.Report.Claims) != 1 || res.Report.Claims[0].Verdict != "FALSE" {
		t.Errorf("claims = %+v", res.Report.Claims)
	}
	if !strings.Contains(thinking.String(), "wrong city") {
		t.Errorf("thinking events missing streamed text")
	}
	if len(res.Queries) != 0 {
		t.Errorf("no searches expected, got %v", res.Queries)
	}
}

func TestCheckToolRound(t *testing.T) {
	var requests []requestBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body requestBody
		json.NewDecoder(r.Body).Decode(&body)
		requests = append(requests, body)

		if len(requests) == 1 {
			sse(w,
				toolChunk(0, "call_abc", "web_", ""),
				toolChunk(0, "", "search", ""),
				toolChunk(0, "", "", `{"query":"eiffel`),
				toolChunk(0, "", "", ` tower city"}`),
			)
			return
		}
		sse(w, contentChunk(`{"score":95,"verdict":"TRUE","summary":"verified"}`))
	}))
	defer srv.Close()

	searcher := &fakeSearcher{resp: websearch.Response{
		Success: true,
		Results: []websearch.Result{
			{Title: "Eiffel Tower", URL: "https://a", Snippet: "in Paris", Content: "long text"},
			{Title: "B", URL: "https://b"},
			{Title: "C", URL: "https://c"},
			{Title: "D", URL: "https://d"},
		},
	}}

	s, err := NewSession(testConfig(srv.URL), searcher)
	if err != nil {
		t.Fatal(err)
	}

	var events []Event
	res, err := s.Check(context.Background(), "some claim", func(ev Event) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatal(err)
	}

	if res.Report.Score != 95 {
		t.Errorf("score = %d, want 95", res.Report.Score)
	}
	if len(searcher.calls) != 1 || searcher.calls[0] != "eiffel tower city" {
		t.Errorf("search calls = %v", searcher.calls)
	}
	if len(res.Queries) != 1 {
		t.Errorf("queries = %v", res.Queries)
	}

	// Event sequence for one tool round.
	var kinds []string
	for _, ev := range events {
		switch ev.(type) {
		case SearchStart:
			kinds = append(kinds, "search_start")
		case SearchComplete:
			kinds = append(kinds, "search_complete")
		case ResponseStart:
			kinds = append(kinds, "response_start")
		case Thinking:
			if len(kinds) == 0 || kinds[len(kinds)-1] != "thinking" {
				kinds = append(kinds, "thinking")
			}
		}
	}
	want := []string{"search_start", "search_complete", "response_start", "thinking"}
	if strings.Join(kinds, ",") != strings.Join(want, ",") {
		t.Errorf("event order = %v, want %v", kinds, want)
	}

	// SearchComplete carries at most three summarized results without content.
	for _, ev := range events {
		if sc, ok := ev.(SearchComplete); ok {
			if len(sc.Results) != 3 {
				t.Errorf("summarized results = %d, want 3", len(sc.Results))
			}
			for _, r := range sc.Results {
				if r.Content != "" {
					t.Errorf("summaries should not carry content")
				}
			}
		}
	}

	// The continuation request must resend the assistant tool_calls message
	// immediately followed by its tool result.
	if len(requests) != 2 {
		t.Fatalf("got %d requests, want 2", len(requests))
	}
	msgs := requests[1].Messages
	var asstIdx = -1
	for i, m := range msgs {
		if m.Role == "assistant" && len(m.ToolCalls) > 0 {
			asstIdx = i
		}
	}
	if asstIdx == -1 {
		t.Fatal("continuation missing assistant tool_calls message")
	}
	if msgs[asstIdx].Content != nil {
		t.Error("assistant tool_calls message should have null content")
	}
	next := msgs[asstIdx+1]
	if next.Role != "tool" || next.ToolCallID != "call_abc" {
		t.Errorf("tool result should follow assistant message, got %+v", next)
	}
}

func TestCheckRecursionBound(t *testing.T) {
	var n int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n++
		sse(w, toolChunk(0, fmt.Sprintf("call_%d", n), "web_search", `{"query":"again"}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxToolRounds = 4
	s, err := NewSession(cfg, &fakeSearcher{resp: websearch.Response{Success: true, Results: []websearch.Result{{Title: "t", URL: "u"}}}})
	if err != nil {
		t.Fatal(err)
	}

	res, err := s.Check(context.Background(), "unverifiable claim", nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("made %d requests, want exactly 4", n)
	}
	if res.Report.Score != 50 || res.Report.Verdict != "UNVERIFIABLE" {
		t.Errorf("degraded result = %+v", res.Report)
	}
}

func TestCheckToolFailureDegrades(t *testing.T) {
	var requests []requestBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body requestBody
		json.NewDecoder(r.Body).Decode(&body)
		requests = append(requests, body)

		if len(requests) == 1 {
			sse(w,
				toolChunk(0, "bad", "web_search", `not json at all`),
				toolChunk(1, "failing", "web_search", `{"query":"q"}`),
			)
			return
		}
		sse(w, contentChunk(`{"score":50,"verdict":"UNVERIFIABLE","summary":"could not verify"}`))
	}))
	defer srv.Close()

	s, err := NewSession(testConfig(srv.URL), &fakeSearcher{resp: websearch.Response{Error: "backend down"}})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Check(context.Background(), "claim", nil); err != nil {
		t.Fatalf("tool failures must not abort the exchange: %v", err)
	}

	// Both calls still produced tool messages, in order, carrying errors.
	msgs := requests[1].Messages
	var toolMsgs []Message
	for _, m := range msgs {
		if m.Role == "tool" {
			toolMsgs = append(toolMsgs, m)
		}
	}
	if len(toolMsgs) != 2 {
		t.Fatalf("got %d tool messages, want 2", len(toolMsgs))
	}
	if toolMsgs[0].ToolCallID != "bad" || toolMsgs[1].ToolCallID != "failing" {
		t.Errorf("tool message order: %+v", toolMsgs)
	}
	for _, m := range toolMsgs {
		if !strings.Contains(*m.Content, "error") {
			t.Errorf("tool message should carry an in-band error: %q", *m.Content)
		}
	}
}

func TestCheckMalformedChunksSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sse(w,
			`{this is not json`,
			contentChunk(`{"score":70,`),
			`another bad line`,
			contentChunk(`"verdict":"MOSTLY_TRUE","summary":"ok"}`),
		)
	}))
	defer srv.Close()

	s, err := NewSession(testConfig(srv.URL), &fakeSearcher{})
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.Check(context.Background(), "claim", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Report.Score != 70 {
		t.Errorf("score = %d, want 70", res.Report.Score)
	}
}

func TestCheckAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	s, err := NewSession(testConfig(srv.URL), &fakeSearcher{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Check(context.Background(), "claim", nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("got %v, want APIError", err)
	}
	if apiErr.Status != 401 || apiErr.Message != "invalid api key" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body requestBody
		json.NewDecoder(r.Body).Decode(&body)
		if body.Stream {
			t.Error("Complete must not stream")
		}
		if body.Tools != nil {
			t.Error("Complete must not advertise tools")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": `{"score":88,"verdict":"TRUE","summary":"fine"}`}},
			},
		})
	}))
	defer srv.Close()

	s, err := NewSession(testConfig(srv.URL), &fakeSearcher{})
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.Complete(context.Background(), "claim")
	if err != nil {
		t.Fatal(err)
	}
	if res.Report.Score != 88 {
		t.Errorf("score = %d, want 88", res.Report.Score)
	}
}

func TestCompleteResponseFormatError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	s, err := NewSession(testConfig(srv.URL), &fakeSearcher{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Complete(context.Background(), "claim")

	var rfe *ResponseFormatError
	if !errors.As(err, &rfe) {
		t.Errorf("got %v, want ResponseFormatError", err)
	}
}
