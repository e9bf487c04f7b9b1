package extract

import (
	"strconv"
	"strings"
	"testing"
)

const samplePayload = `{
  "rows": [
    {"chart_title": "Disco Action Top 5", "chart_section": "National", "this_week": 1, "last_week": "2", "two_weeks_ago": null, "weeks_on_chart": 8, "title": "Boogie Nights", "artist": "Heatwave", "label": "Epic"},
    {"chart_title": "Disco Action Top 5", "chart_section": "National", "this_week": "2*", "last_week": "NEW", "two_weeks_ago": null, "weeks_on_chart": null, "title": "Dance Fever", "artist": "The Groove", "label": null}
  ]
}`

func TestParseRowsNormalization(t *testing.T) {
	rows, dropped, raw, err := parseRows(samplePayload)
	if err != nil {
		t.Fatalf("parseRows: %v", err)
	}
	if dropped != 0 {
		t.Errorf("dropped = %d, want 0", dropped)
	}
	if len(raw) == 0 {
		t.Error("raw payload not preserved")
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}

	first := rows[0]
	if first.ThisWeek == nil || *first.ThisWeek != 1 {
		t.Errorf("ThisWeek = %v, want 1 (integer cell)", first.ThisWeek)
	}
	if first.LastWeek == nil || *first.LastWeek != 2 {
		t.Errorf("LastWeek = %v, want 2 (string digit cell)", first.LastWeek)
	}
	if first.TwoWeeksAgo != nil {
		t.Errorf("TwoWeeksAgo = %v, want nil for null cell", first.TwoWeeksAgo)
	}

	second := rows[1]
	if second.ThisWeek == nil || *second.ThisWeek != 2 {
		t.Errorf(`ThisWeek = %v, want 2 coerced from "2*"`, second.ThisWeek)
	}
	if second.LastWeek != nil {
		t.Errorf(`LastWeek = %v, want nil for "NEW"`, second.LastWeek)
	}
	if second.Label != "" {
		t.Errorf("Label = %q, want empty for null", second.Label)
	}
}

func TestParseRowsDropsIncompleteRows(t *testing.T) {
	payload := `{
	  "rows": [
	    {"chart_title": "Top 5", "chart_section": null, "this_week": 1, "last_week": null, "two_weeks_ago": null, "weeks_on_chart": null, "title": "Keeper", "artist": "Band", "label": null},
	    {"chart_title": "Top 5", "chart_section": null, "this_week": 2, "last_week": null, "two_weeks_ago": null, "weeks_on_chart": null, "title": "", "artist": "Band", "label": null},
	    {"chart_title": "", "chart_section": null, "this_week": 3, "last_week": null, "two_weeks_ago": null, "weeks_on_chart": null, "title": "Song", "artist": "Band", "label": null},
	    {"chart_title": "Top 5", "chart_section": null, "this_week": 4, "last_week": null, "two_weeks_ago": null, "weeks_on_chart": null, "title": "Song", "artist": "   ", "label": null}
	  ]
	}`
	rows, dropped, _, err := parseRows(payload)
	if err != nil {
		t.Fatalf("parseRows: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("got %d rows, want 1 survivor", len(rows))
	}
	if dropped != 3 {
		t.Errorf("dropped = %d, want 3", dropped)
	}
	if len(rows) > 0 && rows[0].Title != "Keeper" {
		t.Errorf("surviving row = %q, want Keeper", rows[0].Title)
	}
}

func TestParseRowsRecoversFencedJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"markdown fence", "```json\n" + samplePayload + "\n```"},
		{"bare fence", "```\n" + samplePayload + "\n```"},
		{"surrounding prose", "Here are the rows you asked for:\n\n" + samplePayload + "\n\nLet me know if you need anything else."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, _, _, err := parseRows(tt.content)
			if err != nil {
				t.Fatalf("parseRows: %v", err)
			}
			if len(rows) != 2 {
				t.Errorf("got %d rows, want 2", len(rows))
			}
		})
	}
}

func TestParseRowsRejectsBadPayloads(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", "   "},
		{"not json", "I could not read the page, sorry."},
		{"schema mismatch", `{"rows": [{"chart_title": 42}]}`},
		{"wrong shape", `{"entries": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, _, err := parseRows(tt.content); err == nil {
				t.Error("parseRows accepted a bad payload")
			}
		})
	}
}

func TestCoerceRankValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want *int
	}{
		{"nil", nil, nil},
		{"integer", float64(12), intp(12)},
		{"fractional", float64(12.5), nil},
		{"negative", float64(-3), nil},
		{"digit string", "7", intp(7)},
		{"starred", "14*", intp(14)},
		{"placeholder", "NEW", nil},
		{"bool", true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := coerceRankValue(tt.in)
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("coerceRankValue(%v) = %v, want %v", tt.in, fmtRank(got), fmtRank(tt.want))
			}
			if got != nil && *got != *tt.want {
				t.Errorf("coerceRankValue(%v) = %d, want %d", tt.in, *got, *tt.want)
			}
		})
	}
}

func TestExtractJSONCandidate(t *testing.T) {
	got := extractJSONCandidate("noise {\"a\": 1} trailing")
	if got != `{"a": 1}` {
		t.Errorf("extractJSONCandidate = %q", got)
	}
	if got := extractJSONCandidate("no braces here"); got != "" {
		t.Errorf("extractJSONCandidate on braceless text = %q, want empty", got)
	}
}

func TestStripCodeFences(t *testing.T) {
	in := "```json\n{\"a\": 1}\n```"
	if got := stripCodeFences(in); !strings.Contains(got, `"a"`) {
		t.Errorf("stripCodeFences = %q", got)
	}
	if got := stripCodeFences("plain text"); got != "" {
		t.Errorf("stripCodeFences on unfenced text = %q, want empty", got)
	}
}

func intp(n int) *int { return &n }

func fmtRank(p *int) string {
	if p == nil {
		return "nil"
	}
	return strconv.Itoa(*p)
}
