// Package report extracts a structured fact-check report from raw model
// output. Models wrap JSON in code fences, prepend prose, or emit stray
// tags despite instructions, so parsing is best-effort and never fails.
package report

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Claim is a single checked statement within a report.
type Claim struct {
	Claim       string `json:"claim"`
	Verdict     string `json:"verdict"`
	Explanation string `json:"explanation"`
	Confidence  string `json:"confidence"`
}

// Report is the structured fact-check result. Score is always in [0,100]
// and Raw always holds the original model text, whether or not the JSON
// parse succeeded.
type Report struct {
	Score   int     `json:"score"`
	Verdict string  `json:"verdict"`
	Summary string  `json:"summary"`
	Claims  []Claim `json:"claims"`
	Context string  `json:"context"`
	Sources string  `json:"sources"`
	Bias    string  `json:"bias"`
	Raw     string  `json:"raw,omitempty"`
}

var (
	fenceRe      = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	strayTagRe   = regexp.MustCompile(`</?(?:tool_call|tool_response|function_call|think|thinking)[^>]*>`)
	scoreRe      = regexp.MustCompile(`"?score"?\s*[:=]\s*(\d{1,3})`)
	fallbackSnip = 300
)

// Parse converts free-form model text into a Report. It never fails: if no
// JSON object can be recovered, it falls back to a regex score scan with
// verdict UNKNOWN and a truncated summary.
func Parse(raw string) Report {
	candidate := raw

	// Prefer the inside of a fenced code block if present.
	if m := fenceRe.FindStringSubmatch(candidate); m != nil {
		candidate = m[1]
	}

	candidate = strayTagRe.ReplaceAllString(candidate, "")

	// Slice the outermost brace span to tolerate surrounding prose.
	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start >= 0 && end > start {
		var r Report
		if err := json.Unmarshal([]byte(candidate[start:end+1]), &r); err == nil {
			r.Score = clampScore(r.Score)
			if r.Verdict == "" {
				r.Verdict = "UNKNOWN"
			}
			if r.Claims == nil {
				r.Claims = []Claim{}
			}
			r.Raw = raw
			return r
		}
	}

	return fallback(raw)
}

// fallback recovers at least a score when no JSON object parses.
func fallback(raw string) Report {
	score := 50
	if m := scoreRe.FindStringSubmatch(raw); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			score = clampScore(n)
		}
	}

	summary := strings.TrimSpace(raw)
	if len(summary) > fallbackSnip {
		summary = summary[:fallbackSnip]
	}

	return Report{
		Score:   score,
		Verdict: "UNKNOWN",
		Summary: summary,
		Claims:  []Claim{},
		Raw:     raw,
	}
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
