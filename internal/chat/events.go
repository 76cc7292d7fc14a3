package chat

import "github.com/lotas/faktwerk/internal/websearch"

// Event is a progress notification emitted during a streaming check. The
// set of variants is closed so consumers can switch exhaustively.
type Event interface {
	isEvent()
}

// Thinking carries a fragment of streamed model text.
type Thinking struct {
	Text string
}

// SearchStart is emitted when the model requests a web search.
type SearchStart struct {
	Query string
}

// SearchComplete is emitted after a search finishes. Results holds at most
// three summarized hits; Err is set when the search failed.
type SearchComplete struct {
	Query   string
	Results []websearch.Result
	Err     string
}

// ResponseStart is emitted before the first content token of a continuation
// after tool execution, so a UI can switch from "searching" to
// "synthesizing".
type ResponseStart struct{}

func (Thinking) isEvent()       {}
func (SearchStart) isEvent()    {}
func (SearchComplete) isEvent() {}
func (ResponseStart) isEvent()  {}

// EventFunc receives progress events. A nil EventFunc is valid and drops
// everything.
type EventFunc func(Event)

func (f EventFunc) emit(ev Event) {
	if f != nil {
		f(ev)
	}
}
