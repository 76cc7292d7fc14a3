// Package tabstate tracks per-browser-tab check progress so the extension
// panel can be closed and reopened mid-check without losing its place.
package tabstate

import (
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/lotas/faktwerk/internal/applog"
	"github.com/lotas/faktwerk/internal/report"
	"github.com/lotas/faktwerk/internal/storage"
	"github.com/lotas/faktwerk/internal/websearch"
)

// Status is the tab lifecycle: idle until a check starts, progress while
// streaming, result once a report exists.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusProgress Status = "progress"
	StatusResult   Status = "result"
)

// Phase identifies which part of a check is active.
type Phase string

const (
	PhaseExtract    Phase = "extract"
	PhasePrompt     Phase = "prompt"
	PhaseSearch     Phase = "search"
	PhaseProcessing Phase = "processing"
	PhaseReport     Phase = "report"
	PhaseSummary    Phase = "summary"
)

// StepStatus is the progress of one substep or query.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepActive   StepStatus = "active"
	StepComplete StepStatus = "complete"
)

// Query is one web search issued during a check.
type Query struct {
	Query  string     `json:"query"`
	Status StepStatus `json:"status"`
}

// Substep holds per-phase progress and whatever partial payload the phase
// produced so far.
type Substep struct {
	Status  StepStatus         `json:"status"`
	Text    string             `json:"text,omitempty"`
	Queries []Query            `json:"queries,omitempty"`
	Results []websearch.Result `json:"results,omitempty"`
}

// State is the full record for one tab. Result fields are only meaningful
// when Status is StatusResult.
type State struct {
	Status   Status             `json:"status"`
	URL      string             `json:"url,omitempty"`
	Phase    Phase              `json:"phase,omitempty"`
	Substeps map[Phase]*Substep `json:"substeps,omitempty"`
	Content  string             `json:"content,omitempty"`
	Prompt   string             `json:"prompt,omitempty"`
	IsVideo  bool               `json:"isVideo,omitempty"`
	Score    int                `json:"score,omitempty"`
	Report   *report.Report     `json:"report,omitempty"`
}

// flushInterval throttles persistence during streaming. Lifecycle
// transitions always flush regardless.
const flushInterval = 2 * time.Second

// Registry owns all tab states. Lifecycle rules (create on first check,
// clear on navigate, clear on history deletion) are enforced here rather
// than by callers. Safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	db        *sql.DB // nil disables persistence (CLI mode)
	states    map[int]*State
	lastFlush map[int]time.Time
	now       func() time.Time
}

// NewRegistry creates a registry. db may be nil, in which case states live
// in memory only.
func NewRegistry(db *sql.DB) *Registry {
	return &Registry{
		db:        db,
		states:    make(map[int]*State),
		lastFlush: make(map[int]time.Time),
		now:       time.Now,
	}
}

// StartCheck creates a fresh progress state for a tab. A new check
// supersedes whatever the tab was doing before.
func (r *Registry) StartCheck(tabID int, url string, isVideo bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.states[tabID] = &State{
		Status:   StatusProgress,
		URL:      url,
		Phase:    PhaseExtract,
		IsVideo:  isVideo,
		Substeps: map[Phase]*Substep{PhaseExtract: {Status: StepActive}},
	}
	r.flushLocked(tabID, true)
}

// SetPhase advances the active phase, completing the previous one.
func (r *Registry) SetPhase(tabID int, phase Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.progressLocked(tabID)
	if s == nil {
		return
	}
	if prev, ok := s.Substeps[s.Phase]; ok && prev.Status == StepActive {
		prev.Status = StepComplete
	}
	s.Phase = phase
	if _, ok := s.Substeps[phase]; !ok {
		s.Substeps[phase] = &Substep{}
	}
	s.Substeps[phase].Status = StepActive
	r.flushLocked(tabID, true)
}

// SetContent buffers the extracted page text.
func (r *Registry) SetContent(tabID int, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s := r.progressLocked(tabID); s != nil {
		s.Content = content
		r.flushLocked(tabID, false)
	}
}

// SetPrompt buffers the built prompt.
func (r *Registry) SetPrompt(tabID int, prompt string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s := r.progressLocked(tabID); s != nil {
		s.Prompt = prompt
		r.flushLocked(tabID, false)
	}
}

// AppendText accumulates streamed model text under the current phase.
// Flushes are throttled since this fires per token.
func (r *Registry) AppendText(tabID int, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.progressLocked(tabID)
	if s == nil {
		return
	}
	step := s.Substeps[s.Phase]
	if step == nil {
		step = &Substep{Status: StepActive}
		s.Substeps[s.Phase] = step
	}
	step.Text += text
	r.flushLocked(tabID, false)
}

// AddQuery records a newly issued search under the search phase.
func (r *Registry) AddQuery(tabID int, query string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.progressLocked(tabID)
	if s == nil {
		return
	}
	step := r.searchStepLocked(s)
	step.Queries = append(step.Queries, Query{Query: query, Status: StepActive})
	r.flushLocked(tabID, true)
}

// CompleteQuery marks the matching query done and stores its result
// summaries.
func (r *Registry) CompleteQuery(tabID int, query string, results []websearch.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.progressLocked(tabID)
	if s == nil {
		return
	}
	step := r.searchStepLocked(s)
	for i := range step.Queries {
		if step.Queries[i].Query == query && step.Queries[i].Status == StepActive {
			step.Queries[i].Status = StepComplete
			break
		}
	}
	step.Results = append(step.Results, results...)
	r.flushLocked(tabID, true)
}

func (r *Registry) searchStepLocked(s *State) *Substep {
	step := s.Substeps[PhaseSearch]
	if step == nil {
		step = &Substep{Status: StepActive}
		s.Substeps[PhaseSearch] = step
	}
	return step
}

// SetResult transitions the tab to its final state. Always flushed.
func (r *Registry) SetResult(tabID int, rep report.Report, content, prompt string, isVideo bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	url := ""
	if prev, ok := r.states[tabID]; ok {
		url = prev.URL
	}
	r.states[tabID] = &State{
		Status:  StatusResult,
		URL:     url,
		Score:   rep.Score,
		Report:  &rep,
		Content: content,
		Prompt:  prompt,
		IsVideo: isVideo,
	}
	r.flushLocked(tabID, true)
}

// Lookup returns the state for a tab, consulting persisted state and then
// history (keyed by the tab's current URL) when nothing is in memory. The
// history warm is best-effort reconstruction, not a strict contract.
func (r *Registry) Lookup(tabID int, url string) State {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.states[tabID]; ok {
		return *s
	}

	if r.db != nil {
		if data, err := storage.GetTabState(r.db, tabID); err == nil && data != nil {
			var s State
			if json.Unmarshal(data, &s) == nil {
				r.states[tabID] = &s
				return s
			}
		}

		if url != "" {
			if item, err := storage.GetHistoryByURL(r.db, url); err == nil && item != nil {
				s := State{
					Status:  StatusResult,
					URL:     item.URL,
					Score:   item.Score,
					Report:  &item.Report,
					Content: item.Content,
					Prompt:  item.Prompt,
					IsVideo: item.IsVideo,
				}
				r.states[tabID] = &s
				return s
			}
		}
	}

	return State{Status: StatusIdle}
}

// Clear resets one tab to idle unconditionally. Used when a check fails
// before producing any result.
func (r *Registry) Clear(tabID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearLocked(tabID)
}

// ClearOnNavigate resets a tab to idle when it navigates to a different
// URL. Navigation within the same URL (hash changes, reloads) keeps state.
func (r *Registry) ClearOnNavigate(tabID int, newURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.states[tabID]
	if !ok || s.URL == newURL {
		return
	}
	r.clearLocked(tabID)
}

// ClearByURL resets every tab showing the URL. Used when a history entry is
// deleted so a stale result does not reappear on focus.
func (r *Registry) ClearByURL(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for tabID, s := range r.states {
		if s.URL == url {
			r.clearLocked(tabID)
		}
	}
}

func (r *Registry) clearLocked(tabID int) {
	delete(r.states, tabID)
	delete(r.lastFlush, tabID)
	if r.db != nil {
		if err := storage.DeleteTabState(r.db, tabID); err != nil {
			applog.Error("tabstate.clear", err, "tab", tabID)
		}
	}
}

func (r *Registry) progressLocked(tabID int) *State {
	s, ok := r.states[tabID]
	if !ok || s.Status != StatusProgress {
		return nil
	}
	return s
}

// flushLocked persists a tab's state. Throttled writes are skipped when the
// last flush for that tab was under flushInterval ago.
func (r *Registry) flushLocked(tabID int, force bool) {
	if r.db == nil {
		return
	}
	if !force {
		if last, ok := r.lastFlush[tabID]; ok && r.now().Sub(last) < flushInterval {
			return
		}
	}

	s, ok := r.states[tabID]
	if !ok {
		return
	}
	data, err := json.Marshal(s)
	if err != nil {
		applog.Error("tabstate.encode", err, "tab", tabID)
		return
	}
	if err := storage.SaveTabState(r.db, tabID, data); err != nil {
		applog.Error("tabstate.flush", err, "tab", tabID)
		return
	}
	r.lastFlush[tabID] = r.now()
}
