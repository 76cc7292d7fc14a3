// Package server is the WebSocket bridge between the browser extension and
// the fact-check pipeline. The extension sends page content and lifecycle
// notifications; the server streams back progress events, results, and
// state restores.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/lotas/faktwerk/internal/applog"
	"github.com/lotas/faktwerk/internal/chat"
	"github.com/lotas/faktwerk/internal/config"
	"github.com/lotas/faktwerk/internal/report"
	"github.com/lotas/faktwerk/internal/storage"
	"github.com/lotas/faktwerk/internal/tabstate"
	"github.com/lotas/faktwerk/internal/websearch"
)

// IncomingMsg is a message from the extension.
type IncomingMsg struct {
	Type    string `json:"type"`
	TabID   int    `json:"tabId,omitempty"`
	URL     string `json:"url,omitempty"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content,omitempty"`
	IsVideo bool   `json:"isVideo,omitempty"`
	ID      string `json:"id,omitempty"`
}

// EventPayload is one progress event forwarded to the extension.
type EventPayload struct {
	Kind    string             `json:"kind"`
	Text    string             `json:"text,omitempty"`
	Query   string             `json:"query,omitempty"`
	Results []websearch.Result `json:"results,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// ResultPayload is the final report for one tab.
type ResultPayload struct {
	Score  int           `json:"score"`
	Report report.Report `json:"report"`
	Cached bool          `json:"cached,omitempty"`
}

// HistoryPayload is one history entry for the extension's list view.
type HistoryPayload struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	URL     string    `json:"url"`
	Score   int       `json:"score"`
	IsVideo bool      `json:"isVideo,omitempty"`
	Date    time.Time `json:"date"`
}

// OutgoingMsg is a message to the extension.
type OutgoingMsg struct {
	Type    string           `json:"type"`
	TabID   int              `json:"tabId,omitempty"`
	Event   *EventPayload    `json:"event,omitempty"`
	State   *tabstate.State  `json:"state,omitempty"`
	Result  *ResultPayload   `json:"result,omitempty"`
	Error   string           `json:"error,omitempty"`
	History []HistoryPayload `json:"history,omitempty"`
}

// Server manages the WebSocket connection to the extension and drives
// checks. One extension connection at a time; a new connection replaces
// the old one.
type Server struct {
	port int
	cfg  config.Config
	db   *sql.DB
	tabs *tabstate.Registry

	// newSearcher is swappable for tests.
	newSearcher func() chat.Searcher

	msgs    chan IncomingMsg
	mu      sync.Mutex
	conn    *websocket.Conn
	connCtx context.Context

	// One in-flight check per tab. A new check cancels the previous one.
	checksMu sync.Mutex
	checks   map[int]*checkHandle
}

type checkHandle struct {
	cancel context.CancelFunc
}

// New creates a Server.
func New(cfg config.Config, db *sql.DB, tabs *tabstate.Registry) *Server {
	return &Server{
		port:        cfg.Port,
		cfg:         cfg,
		db:          db,
		tabs:        tabs,
		newSearcher: func() chat.Searcher { return websearch.New() },
		msgs:        make(chan IncomingMsg, 64),
		checks:      make(map[int]*checkHandle),
	}
}

// Connected reports whether an extension is connected.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Send sends a message to the connected extension. A missing connection is
// not an error; the state store covers reconnects.
func (s *Server) Send(msg OutgoingMsg) error {
	s.mu.Lock()
	conn := s.conn
	ctx := s.connCtx
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Handler returns an http.Handler that accepts WebSocket upgrades.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			log.Printf("websocket accept: %v", err)
			applog.Error("ws.accept", err)
			return
		}

		conn.SetReadLimit(16 << 20) // extracted article text can be large

		ctx := r.Context()
		s.mu.Lock()
		if s.conn != nil {
			applog.Info("ws.replaced")
			s.conn.CloseNow()
		}
		s.conn = conn
		s.connCtx = ctx
		s.mu.Unlock()

		applog.Info("ws.connected", "remote", r.RemoteAddr)

		defer func() {
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
				s.connCtx = nil
			}
			s.mu.Unlock()
			conn.CloseNow()
			applog.Info("ws.disconnected")
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg IncomingMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				applog.Error("ws.parse", err)
				continue
			}
			applog.Info("ws.recv", "type", msg.Type, "tab", msg.TabID)
			select {
			case s.msgs <- msg:
			default:
			}
		}
	})
}

// Run starts the WebSocket listener and processes extension messages until
// the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/", s.Handler())

	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	applog.Info("server.start", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: mux}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	for {
		select {
		case <-ctx.Done():
			srv.Close()
			return ctx.Err()
		case err := <-errc:
			return err
		case msg := <-s.msgs:
			s.dispatch(ctx, msg)
		}
	}
}

func (s *Server) dispatch(ctx context.Context, msg IncomingMsg) {
	switch msg.Type {
	case "check":
		s.startCheck(ctx, msg)
	case "focus":
		state := s.tabs.Lookup(msg.TabID, msg.URL)
		s.Send(OutgoingMsg{Type: "state", TabID: msg.TabID, State: &state})
	case "navigated":
		s.cancelCheck(msg.TabID)
		s.tabs.ClearOnNavigate(msg.TabID, msg.URL)
	case "delete_history":
		s.deleteHistory(msg)
	case "get_history":
		s.sendHistory()
	default:
		applog.Info("ws.unknown", "type", msg.Type)
	}
}

// startCheck launches a check goroutine for the tab, superseding any check
// already running there.
func (s *Server) startCheck(ctx context.Context, msg IncomingMsg) {
	checkCtx, cancel := context.WithCancel(ctx)
	handle := &checkHandle{cancel: cancel}

	s.checksMu.Lock()
	if prev, ok := s.checks[msg.TabID]; ok {
		prev.cancel()
	}
	s.checks[msg.TabID] = handle
	s.checksMu.Unlock()

	go func() {
		defer func() {
			cancel()
			s.checksMu.Lock()
			if s.checks[msg.TabID] == handle {
				delete(s.checks, msg.TabID)
			}
			s.checksMu.Unlock()
		}()
		s.runCheck(checkCtx, msg)
	}()
}

func (s *Server) cancelCheck(tabID int) {
	s.checksMu.Lock()
	defer s.checksMu.Unlock()
	if handle, ok := s.checks[tabID]; ok {
		handle.cancel()
		delete(s.checks, tabID)
	}
}

// runCheck drives one full check for a tab: cache lookup, streaming
// session, persistence, and result delivery.
func (s *Server) runCheck(ctx context.Context, msg IncomingMsg) {
	tabID := msg.TabID
	s.tabs.StartCheck(tabID, msg.URL, msg.IsVideo)
	s.tabs.SetContent(tabID, msg.Content)

	// Cache hit short-circuits the whole exchange.
	key := storage.CacheKey(msg.Content)
	if entry, err := storage.GetCache(s.db, key); err == nil && entry != nil {
		applog.Info("check.cached", "tab", tabID, "key", key)
		s.tabs.SetResult(tabID, entry.Report, msg.Content, "", msg.IsVideo)
		s.Send(OutgoingMsg{Type: "result", TabID: tabID, Result: &ResultPayload{
			Score: entry.Report.Score, Report: entry.Report, Cached: true,
		}})
		return
	}

	session, err := chat.NewSession(chat.Config{
		ProviderURL:    s.cfg.ProviderURL,
		Model:          s.cfg.Model,
		APIKey:         s.cfg.APIKey,
		SystemPrompt:   s.cfg.SystemPrompt,
		ReportLanguage: s.cfg.ReportLanguage,
		Temperature:    s.cfg.Temperature,
		MaxToolRounds:  s.cfg.MaxToolRounds,
	}, s.newSearcher())
	if err != nil {
		s.failCheck(tabID, err)
		return
	}

	s.tabs.SetPhase(tabID, tabstate.PhasePrompt)
	s.tabs.SetPrompt(tabID, session.BuildPrompt(msg.Content))
	s.tabs.SetPhase(tabID, tabstate.PhaseProcessing)

	result, err := session.Check(ctx, msg.Content, func(ev chat.Event) {
		s.handleEvent(tabID, ev)
	})
	if err != nil {
		s.failCheck(tabID, err)
		return
	}

	s.tabs.SetPhase(tabID, tabstate.PhaseSummary)
	s.tabs.SetResult(tabID, result.Report, msg.Content, session.BuildPrompt(msg.Content), msg.IsVideo)

	if err := storage.SetCache(s.db, key, result.Report, msg.URL); err != nil {
		applog.Error("check.cache", err, "tab", tabID)
	}
	item := &storage.HistoryItem{
		Source:  "extension",
		Title:   msg.Title,
		URL:     msg.URL,
		Score:   result.Report.Score,
		Content: msg.Content,
		Report:  result.Report,
		Prompt:  session.BuildPrompt(msg.Content),
		IsVideo: msg.IsVideo,
	}
	if err := storage.AppendHistory(s.db, item); err != nil {
		applog.Error("check.history", err, "tab", tabID)
	}

	applog.Info("check.result", "tab", tabID, "score", result.Report.Score, "searches", len(result.Queries))
	s.Send(OutgoingMsg{Type: "result", TabID: tabID, Result: &ResultPayload{
		Score: result.Report.Score, Report: result.Report,
	}})
}

func (s *Server) failCheck(tabID int, err error) {
	applog.Error("check.fail", err, "tab", tabID)
	s.tabs.Clear(tabID)
	s.Send(OutgoingMsg{Type: "error", TabID: tabID, Error: err.Error()})
}

// handleEvent maps session events onto tab state and extension messages.
func (s *Server) handleEvent(tabID int, ev chat.Event) {
	var payload EventPayload
	switch e := ev.(type) {
	case chat.Thinking:
		s.tabs.AppendText(tabID, e.Text)
		payload = EventPayload{Kind: "thinking", Text: e.Text}
	case chat.SearchStart:
		s.tabs.SetPhase(tabID, tabstate.PhaseSearch)
		s.tabs.AddQuery(tabID, e.Query)
		payload = EventPayload{Kind: "search_start", Query: e.Query}
	case chat.SearchComplete:
		s.tabs.CompleteQuery(tabID, e.Query, e.Results)
		payload = EventPayload{Kind: "search_complete", Query: e.Query, Results: e.Results, Error: e.Err}
	case chat.ResponseStart:
		s.tabs.SetPhase(tabID, tabstate.PhaseReport)
		payload = EventPayload{Kind: "response_start"}
	default:
		return
	}
	s.Send(OutgoingMsg{Type: "event", TabID: tabID, Event: &payload})
}

func (s *Server) deleteHistory(msg IncomingMsg) {
	switch {
	case msg.ID != "":
		url, err := storage.DeleteHistory(s.db, msg.ID)
		if err != nil {
			applog.Error("history.delete", err, "id", msg.ID)
			s.Send(OutgoingMsg{Type: "error", Error: err.Error()})
			return
		}
		s.tabs.ClearByURL(url)
	case msg.URL != "":
		urls, err := storage.RemoveMatching(s.db, func(item storage.HistoryItem) bool {
			return item.URL == msg.URL
		})
		if err != nil {
			applog.Error("history.delete", err, "url", msg.URL)
			s.Send(OutgoingMsg{Type: "error", Error: err.Error()})
			return
		}
		for _, u := range urls {
			s.tabs.ClearByURL(u)
		}
	}
	s.sendHistory()
}

func (s *Server) sendHistory() {
	items, err := storage.ListHistory(s.db)
	if err != nil {
		applog.Error("history.list", err)
		s.Send(OutgoingMsg{Type: "error", Error: err.Error()})
		return
	}
	payload := make([]HistoryPayload, 0, len(items))
	for _, item := range items {
		payload = append(payload, HistoryPayload{
			ID:      item.ID,
			Title:   item.Title,
			URL:     item.URL,
			Score:   item.Score,
			IsVideo: item.IsVideo,
			Date:    item.CreatedAt,
		})
	}
	s.Send(OutgoingMsg{Type: "history", History: payload})
}
