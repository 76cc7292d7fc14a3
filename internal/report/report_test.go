package report

import (
	"strings"
	"testing"
)

const eiffelJSON = `{"score":5,"verdict":"FALSE","summary":"The claim is false.","claims":[{"claim":"The Eiffel Tower is in Berlin.","verdict":"FALSE","explanation":"It is in Paris.","confidence":"HIGH"}]}`

func TestParseBareJSON(t *testing.T) {
	r := Parse(eiffelJSON)
	if r.Score != 5 {
		t.Errorf("score = %d, want 5", r.Score)
	}
	if r.Verdict != "FALSE" {
		t.Errorf("verdict = %q, want FALSE", r.Verdict)
	}
	if len(r.Claims) != 1 {
		t.Fatalf("claims = %d, want 1", len(r.Claims))
	}
	if r.Claims[0].Verdict != "FALSE" {
		t.Errorf("claim verdict = %q, want FALSE", r.Claims[0].Verdict)
	}
	if r.Claims[0].Explanation != "It is in Paris." {
		t.Errorf("claim explanation = %q", r.Claims[0].Explanation)
	}
	if r.Raw != eiffelJSON {
		t.Errorf("raw not preserved")
	}
}

func TestParseRoundTripThroughFence(t *testing.T) {
	// Fenced block with surrounding prose must parse identically to bare JSON.
	wrapped := "Here is my analysis:\n```json\n" + eiffelJSON + "\n```\nLet me know if you need more."
	bare := Parse(eiffelJSON)
	fenced := Parse(wrapped)

	if fenced.Score != bare.Score || fenced.Verdict != bare.Verdict || fenced.Summary != bare.Summary {
		t.Errorf("fenced parse differs: %+v vs %+v", fenced, bare)
	}
	if len(fenced.Claims) != len(bare.Claims) || fenced.Claims[0] != bare.Claims[0] {
		t.Errorf("claims differ: %+v vs %+v", fenced.Claims, bare.Claims)
	}
	if fenced.Raw != wrapped {
		t.Errorf("raw should hold the wrapped original")
	}
}

func TestParseVariants(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		score   int
		verdict string
	}{
		{"prose around braces", `Sure! {"score": 80, "verdict": "TRUE", "summary": "ok"} Hope this helps.`, 80, "TRUE"},
		{"stray tool tags", `<tool_call>{"score": 30, "verdict": "MISLEADING", "summary": "x"}</tool_call>`, 30, "MISLEADING"},
		{"score above range clamped", `{"score": 250, "verdict": "TRUE", "summary": "x"}`, 100, "TRUE"},
		{"negative score clamped", `{"score": -4, "verdict": "FALSE", "summary": "x"}`, 0, "FALSE"},
		{"missing verdict defaults", `{"score": 60, "summary": "x"}`, 60, "UNKNOWN"},
		{"unfenced code fence label", "```\n{\"score\": 42, \"verdict\": \"MIXED\"}\n```", 42, "MIXED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Parse(tt.input)
			if r.Score != tt.score {
				t.Errorf("score = %d, want %d", r.Score, tt.score)
			}
			if r.Verdict != tt.verdict {
				t.Errorf("verdict = %q, want %q", r.Verdict, tt.verdict)
			}
			if r.Claims == nil {
				t.Errorf("claims should never be nil")
			}
		})
	}
}

func TestParseFallback(t *testing.T) {
	tests := []struct {
		name  string
		input string
		score int
	}{
		{"no json at all", "I could not verify this claim.", 50},
		{"score in plain text", "My assessment: score: 35 out of 100, unverifiable otherwise", 35},
		{"quoted score in broken json", `{"score": 72, "verdict": "TRUE", "claims": [`, 72},
		{"empty input", "", 50},
		{"huge score in text capped", "score: 999", 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Parse(tt.input)
			if r.Score != tt.score {
				t.Errorf("score = %d, want %d", r.Score, tt.score)
			}
			if r.Verdict != "UNKNOWN" {
				t.Errorf("verdict = %q, want UNKNOWN", r.Verdict)
			}
			if r.Raw != tt.input {
				t.Errorf("raw not preserved")
			}
		})
	}
}

func TestParseNeverPanicsAndScoreInRange(t *testing.T) {
	inputs := []string{
		"", "{", "}", "{}", "```", "```json```",
		`{"score": "not a number"}`,
		`{"claims": "not a list"}`,
		strings.Repeat("{", 1000),
		"data: [DONE]",
		"\x00\x01\x02",
	}
	for _, in := range inputs {
		r := Parse(in)
		if r.Score < 0 || r.Score > 100 {
			t.Errorf("Parse(%q) score %d out of range", in, r.Score)
		}
	}
}

func TestParseFallbackTruncatesSummary(t *testing.T) {
	long := strings.Repeat("a", 1000)
	r := Parse(long)
	if len(r.Summary) != fallbackSnip {
		t.Errorf("summary len = %d, want %d", len(r.Summary), fallbackSnip)
	}
}
