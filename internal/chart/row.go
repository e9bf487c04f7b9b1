// Package chart holds the extracted-row domain model: rank handling,
// chart-group bookkeeping, completeness checking, and gap-fill merging.
package chart

import (
	"fmt"
	"strings"
)

// Row is one extracted chart-table entry. Rank fields are nil when the
// source cell was empty, a placeholder dash, or a non-numeric marker
// like "NEW".
type Row struct {
	ChartTitle   string `json:"chart_title"`
	ChartSection string `json:"chart_section"`
	ThisWeek     *int   `json:"this_week"`
	LastWeek     *int   `json:"last_week"`
	TwoWeeksAgo  *int   `json:"two_weeks_ago"`
	WeeksOnChart *int   `json:"weeks_on_chart"`
	Title        string `json:"title"`
	Artist       string `json:"artist"`
	Label        string `json:"label"`
}

// GroupKey identifies the chart group a row belongs to. Keys are
// case-insensitive so that extraction attempts that disagree on header
// casing still land in the same group.
type GroupKey struct {
	Section string
	Title   string
}

// Key returns the row's normalized chart-group key.
func (r Row) Key() GroupKey {
	return GroupKey{
		Section: normalizeKeyPart(r.ChartSection),
		Title:   normalizeKeyPart(r.ChartTitle),
	}
}

func (g GroupKey) String() string {
	if g.Section == "" {
		return g.Title
	}
	return g.Section + " / " + g.Title
}

func normalizeKeyPart(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

// CoerceRank converts a raw rank cell to an integer. Any string containing
// at least one digit yields the digits-only value ("12*" -> 12); inputs
// with no digits ("NEW", "-", "") yield nil.
func CoerceRank(raw string) *int {
	n := 0
	seen := false
	for _, r := range raw {
		if r < '0' || r > '9' {
			continue
		}
		seen = true
		n = n*10 + int(r-'0')
		if n > 1_000_000 {
			// Runaway digit strings are garbage, not ranks.
			return nil
		}
	}
	if !seen {
		return nil
	}
	return &n
}

// RankRange is an inclusive span of missing this-week ranks.
type RankRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

func (r RankRange) String() string {
	if r.From == r.To {
		return fmt.Sprintf("%d", r.From)
	}
	return fmt.Sprintf("%d-%d", r.From, r.To)
}

// ContiguousRanges collapses a sorted ascending list of ranks into
// inclusive ranges. The input must already be sorted and de-duplicated.
func ContiguousRanges(ranks []int) []RankRange {
	if len(ranks) == 0 {
		return nil
	}
	ranges := []RankRange{{From: ranks[0], To: ranks[0]}}
	for _, n := range ranks[1:] {
		last := &ranges[len(ranges)-1]
		if n == last.To+1 {
			last.To = n
			continue
		}
		ranges = append(ranges, RankRange{From: n, To: n})
	}
	return ranges
}

// FormatRanges renders ranges as "3-5, 9, 12-14" for error messages and
// targeted-extraction prompts.
func FormatRanges(ranges []RankRange) string {
	parts := make([]string, len(ranges))
	for i, r := range ranges {
		parts[i] = r.String()
	}
	return strings.Join(parts, ", ")
}
