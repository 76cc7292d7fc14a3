// Package chat drives the streaming fact-check exchange with an
// OpenAI-compatible chat-completions endpoint, including nested web-search
// tool rounds.
package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lotas/faktwerk/internal/applog"
	"github.com/lotas/faktwerk/internal/report"
	"github.com/lotas/faktwerk/internal/websearch"
)

const defaultSystemPrompt = `You are a rigorous fact-checker. Analyze the provided text and verify its factual claims. Use the web_search tool to check claims against current sources when needed.

Respond with a single JSON object and nothing else:
{
  "score": <0-100, overall credibility>,
  "verdict": "<TRUE|MOSTLY_TRUE|MIXED|MISLEADING|MOSTLY_FALSE|FALSE|UNVERIFIABLE>",
  "summary": "<short overall assessment>",
  "claims": [{"claim": "...", "verdict": "...", "explanation": "...", "confidence": "<LOW|MEDIUM|HIGH>"}],
  "context": "<missing context, if any>",
  "sources": "<sources consulted>",
  "bias": "<detected framing or bias, if any>"
}`

const defaultMaxToolRounds = 100

// Config holds the settings one Session needs. APIKey is required; the rest
// have defaults.
type Config struct {
	ProviderURL    string
	Model          string
	APIKey         string
	SystemPrompt   string
	ReportLanguage string
	Temperature    float64
	MaxToolRounds  int
}

// endpoint normalizes the provider URL: trailing slashes are stripped and
// the /chat/completions suffix is not doubled.
func (c Config) endpoint() string {
	u := strings.TrimRight(c.ProviderURL, "/")
	if strings.HasSuffix(u, "/chat/completions") {
		return u
	}
	return u + "/chat/completions"
}

// Searcher executes web_search tool calls. Satisfied by *websearch.Client.
type Searcher interface {
	Search(ctx context.Context, query string) websearch.Response
}

// Result is the outcome of one check: the parsed report plus the search
// activity accumulated across all tool rounds.
type Result struct {
	Report  report.Report
	Queries []string
	Sources []websearch.Result
}

// Session drives one fact-check exchange. A Session is single-use; create a
// new one per check.
type Session struct {
	cfg      Config
	http     *http.Client
	searcher Searcher

	messages []Message
	queries  []string
	sources  []websearch.Result
}

// NewSession creates a session for one exchange. Returns a ConfigError when
// required configuration is missing, before any network activity.
func NewSession(cfg Config, searcher Searcher) (*Session, error) {
	if cfg.APIKey == "" {
		return nil, &ConfigError{Field: "api_key"}
	}
	if cfg.ProviderURL == "" {
		return nil, &ConfigError{Field: "provider_url"}
	}
	if cfg.Model == "" {
		return nil, &ConfigError{Field: "model"}
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = defaultMaxToolRounds
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	return &Session{
		cfg:      cfg,
		http:     &http.Client{Timeout: 5 * time.Minute},
		searcher: searcher,
	}, nil
}

// BuildPrompt renders the user prompt for the given source text.
func (s *Session) BuildPrompt(text string) string {
	lang := s.cfg.ReportLanguage
	if lang == "" {
		lang = "English"
	}
	return fmt.Sprintf("Fact-check the following text. Write the report in %s.\n\n---\n%s\n---", lang, text)
}

// Check runs the full streaming exchange: initial request, tool rounds,
// final parse. Progress is reported through onEvent (nil is allowed).
func (s *Session) Check(ctx context.Context, text string, onEvent EventFunc) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, &ConfigError{Field: "input text"}
	}

	s.messages = []Message{
		textMessage("system", s.cfg.SystemPrompt),
		textMessage("user", s.BuildPrompt(text)),
	}

	applog.Info("check.start", "model", s.cfg.Model, "chars", len(text))

	for round := 0; round < s.cfg.MaxToolRounds; round++ {
		content, calls, err := s.streamOnce(ctx, onEvent, round > 0)
		if err != nil {
			return Result{}, err
		}

		calls = named(calls)
		if len(calls) == 0 {
			applog.Info("check.done", "rounds", round, "searches", len(s.queries))
			return s.finish(content), nil
		}

		s.messages = append(s.messages, assistantToolCalls(calls))
		s.executeTools(ctx, calls, onEvent)
	}

	// The model kept requesting searches past the cap. Terminate with a
	// degraded result instead of looping.
	applog.Info("check.capped", "rounds", s.cfg.MaxToolRounds)
	return s.finish(fmt.Sprintf(
		`{"score": 50, "verdict": "UNVERIFIABLE", "summary": "too many search iterations (%d)"}`,
		s.cfg.MaxToolRounds)), nil
}

func (s *Session) finish(content string) Result {
	return Result{
		Report:  report.Parse(content),
		Queries: s.queries,
		Sources: s.sources,
	}
}

// named filters out tool calls whose name never arrived.
func named(calls []ToolCall) []ToolCall {
	out := calls[:0]
	for _, c := range calls {
		if c.Function.Name != "" {
			out = append(out, c)
		}
	}
	return out
}

// executeTools runs each requested tool call sequentially and appends one
// tool message per call, in request order. A failed call degrades to an
// in-band JSON error so the model can react; it never aborts the exchange.
func (s *Session) executeTools(ctx context.Context, calls []ToolCall, onEvent EventFunc) {
	for _, call := range calls {
		if call.Function.Name != "web_search" {
			s.appendToolError(call, fmt.Sprintf("unknown tool %q", call.Function.Name))
			continue
		}

		var args struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			applog.Error("tool.args", err, "id", call.ID)
			s.appendToolError(call, "invalid arguments: "+err.Error())
			continue
		}

		onEvent.emit(SearchStart{Query: args.Query})
		s.queries = append(s.queries, args.Query)

		resp := s.searcher.Search(ctx, args.Query)
		if resp.Success {
			s.sources = append(s.sources, resp.Results...)
			onEvent.emit(SearchComplete{Query: args.Query, Results: summarize(resp.Results)})
		} else {
			onEvent.emit(SearchComplete{Query: args.Query, Err: resp.Error})
		}

		s.messages = append(s.messages, toolMessage(call.ID, websearch.FormatForModel(resp)))
	}
}

func (s *Session) appendToolError(call ToolCall, msg string) {
	payload, _ := json.Marshal(map[string]string{"error": msg})
	s.messages = append(s.messages, toolMessage(call.ID, string(payload)))
}

// summarize keeps at most three results and drops their browsed content,
// which is for the model, not the progress UI.
func summarize(results []websearch.Result) []websearch.Result {
	n := len(results)
	if n > 3 {
		n = 3
	}
	out := make([]websearch.Result, n)
	for i := 0; i < n; i++ {
		out[i] = websearch.Result{Title: results[i].Title, URL: results[i].URL, Snippet: results[i].Snippet}
	}
	return out
}

type requestBody struct {
	Model       string          `json:"model"`
	Messages    []Message       `json:"messages"`
	Temperature float64         `json:"temperature"`
	Stream      bool            `json:"stream,omitempty"`
	Tools       json.RawMessage `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
}

func (s *Session) post(ctx context.Context, stream bool) (*http.Response, error) {
	body := requestBody{
		Model:       s.cfg.Model,
		Messages:    s.messages,
		Temperature: s.cfg.Temperature,
		Stream:      stream,
	}
	if stream {
		body.Tools = webSearchTool
		body.ToolChoice = "auto"
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.cfg.endpoint(), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", s.cfg.endpoint(), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		applog.Error("api.status", nil, "status", resp.StatusCode)
		return nil, &APIError{Status: resp.StatusCode, Message: providerMessage(msg)}
	}
	return resp, nil
}

// providerMessage pulls the human-readable message out of an error body.
func providerMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return strings.TrimSpace(string(body))
}

type toolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string          `json:"content"`
			ToolCalls []toolCallDelta `json:"tool_calls"`
		} `json:"delta"`
	} `json:"choices"`
}

// streamOnce POSTs the current message history with stream=true and decodes
// the SSE response until the [DONE] sentinel. Content fragments are emitted
// as Thinking events; tool-call fragments are merged by index. Malformed
// chunk lines are skipped without aborting the stream.
func (s *Session) streamOnce(ctx context.Context, onEvent EventFunc, continuation bool) (string, []ToolCall, error) {
	resp, err := s.post(ctx, true)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	var content strings.Builder
	var calls []ToolCall
	firstToken := true

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			applog.Debug("stream.skip", "err", err.Error())
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		if delta.Content != "" {
			if continuation && firstToken {
				onEvent.emit(ResponseStart{})
			}
			firstToken = false
			content.WriteString(delta.Content)
			onEvent.emit(Thinking{Text: delta.Content})
		}

		for _, d := range delta.ToolCalls {
			calls = mergeToolDelta(calls, d)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", nil, fmt.Errorf("read stream: %w", err)
	}

	return content.String(), calls, nil
}

// mergeToolDelta folds one streamed tool-call fragment into the working
// list, keyed by positional index. Arguments always concatenate. Name is
// set once, appended when a provider splits it across chunks, and left
// alone when a provider repeats it verbatim.
func mergeToolDelta(calls []ToolCall, d toolCallDelta) []ToolCall {
	for len(calls) <= d.Index {
		calls = append(calls, ToolCall{Type: "function"})
	}
	tc := &calls[d.Index]

	if d.ID != "" {
		tc.ID = d.ID
	}
	if tc.ID == "" {
		tc.ID = "call_" + uuid.NewString()
	}
	if name := d.Function.Name; name != "" {
		switch {
		case tc.Function.Name == "", tc.Function.Name == name:
			tc.Function.Name = name
		default:
			tc.Function.Name += name
		}
	}
	tc.Function.Arguments += d.Function.Arguments

	return calls
}

// Complete runs a single non-streaming request without tool calling and
// parses the reply. Used where live progress is not needed.
func (s *Session) Complete(ctx context.Context, text string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, &ConfigError{Field: "input text"}
	}

	s.messages = []Message{
		textMessage("system", s.cfg.SystemPrompt),
		textMessage("user", s.BuildPrompt(text)),
	}

	resp, err := s.post(ctx, false)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Choices) == 0 {
		return Result{}, &ResponseFormatError{Body: string(body)}
	}

	return s.finish(parsed.Choices[0].Message.Content), nil
}
