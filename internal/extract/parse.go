package extract

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/chartdesk/chartdesk/internal/chart"
)

// wireRow is the untyped row shape the model returns. Rank cells decode
// into any because models emit integers, placeholder strings, and nulls
// interchangeably.
type wireRow struct {
	ChartTitle   string `json:"chart_title"`
	ChartSection string `json:"chart_section"`
	ThisWeek     any    `json:"this_week"`
	LastWeek     any    `json:"last_week"`
	TwoWeeksAgo  any    `json:"two_weeks_ago"`
	WeeksOnChart any    `json:"weeks_on_chart"`
	Title        string `json:"title"`
	Artist       string `json:"artist"`
	Label        string `json:"label"`
}

type wireEnvelope struct {
	Rows []wireRow `json:"rows"`
}

// parseRows recovers a JSON payload from model output, validates it, and
// normalizes it into typed rows. Models wrap JSON in markdown fences or
// prose often enough that recovery is part of the contract.
func parseRows(content string) ([]chart.Row, int, json.RawMessage, error) {
	raw, err := decodePayload(content)
	if err != nil {
		return nil, 0, nil, err
	}
	if err := validateRows(raw); err != nil {
		return nil, 0, nil, err
	}

	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, 0, nil, fmt.Errorf("decode rows: %w", err)
	}

	rows := make([]chart.Row, 0, len(env.Rows))
	dropped := 0
	for _, wr := range env.Rows {
		row, ok := normalizeRow(wr)
		if !ok {
			dropped++
			continue
		}
		rows = append(rows, row)
	}
	return rows, dropped, raw, nil
}

// normalizeRow converts a wire row to a typed row. Rows missing any
// required text field are rejected rather than guessed at.
func normalizeRow(wr wireRow) (chart.Row, bool) {
	row := chart.Row{
		ChartTitle:   strings.TrimSpace(wr.ChartTitle),
		ChartSection: strings.TrimSpace(wr.ChartSection),
		Title:        strings.TrimSpace(wr.Title),
		Artist:       strings.TrimSpace(wr.Artist),
		Label:        strings.TrimSpace(wr.Label),
	}
	if row.ChartTitle == "" || row.Title == "" || row.Artist == "" {
		return chart.Row{}, false
	}
	row.ThisWeek = coerceRankValue(wr.ThisWeek)
	row.LastWeek = coerceRankValue(wr.LastWeek)
	row.TwoWeeksAgo = coerceRankValue(wr.TwoWeeksAgo)
	row.WeeksOnChart = coerceRankValue(wr.WeeksOnChart)
	return row, true
}

// coerceRankValue maps an untyped rank cell to an integer rank, or nil
// for placeholders, blanks, and anything non-numeric.
func coerceRankValue(v any) *int {
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		if t != math.Trunc(t) || t < 0 {
			return nil
		}
		return chart.CoerceRank(strconv.Itoa(int(t)))
	case json.Number:
		return chart.CoerceRank(t.String())
	case string:
		return chart.CoerceRank(t)
	default:
		return nil
	}
}

// decodePayload parses JSON from model output with lightweight recovery
// for markdown code fences and surrounding prose.
func decodePayload(content string) (json.RawMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty model output")
	}

	candidates := []string{content}
	if stripped := stripCodeFences(content); stripped != "" && stripped != content {
		candidates = append(candidates, stripped)
	}
	if extracted := extractJSONCandidate(content); extracted != "" && extracted != content {
		candidates = append(candidates, extracted)
	}

	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}

		var parsed any
		if err := json.Unmarshal([]byte(candidate), &parsed); err == nil {
			normalized, mErr := json.Marshal(parsed)
			if mErr != nil {
				return nil, fmt.Errorf("normalize payload: %w", mErr)
			}
			return normalized, nil
		}
	}
	return nil, fmt.Errorf("no parseable JSON in model output")
}

func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return ""
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return ""
	}

	lines = lines[1:]
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func extractJSONCandidate(content string) string {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(trimmed, "}")
	if end < start {
		return ""
	}
	return strings.TrimSpace(trimmed[start : end+1])
}
