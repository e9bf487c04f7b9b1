package chart

import (
	"regexp"
	"sort"
	"strconv"
)

// CompletenessConfig tunes how the expected size of a chart group is
// inferred. The patterns and clamp are calibrated to trade-magazine chart
// conventions ("TOP 80", "HOT 100") and are kept overridable rather than
// inlined because other document families name their charts differently.
type CompletenessConfig struct {
	// SizePatterns are tried against the chart title first, then the
	// source filename. The first submatch must capture the chart size.
	SizePatterns []*regexp.Regexp

	// MinSize/MaxSize bound plausible chart sizes. A pattern match
	// outside the bounds is rejected as spurious rather than clamped.
	MinSize int
	MaxSize int
}

// DefaultCompletenessConfig returns the stock patterns and bounds.
func DefaultCompletenessConfig() CompletenessConfig {
	return CompletenessConfig{
		SizePatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bTOP\s*(\d{1,3})\b`),
			regexp.MustCompile(`(?i)\bHOT\s*(\d{1,3})\b`),
		},
		MinSize: 2,
		MaxSize: 200,
	}
}

// MissingGroup describes one chart group whose observed rows fall short of
// the inferred expected rank sequence.
type MissingGroup struct {
	ChartSection  string      `json:"chart_section"`
	ChartTitle    string      `json:"chart_title"`
	ObservedMin   int         `json:"observed_min"`
	ExpectedMax   int         `json:"expected_max"`
	HaveCount     int         `json:"have_count"`
	ExpectedCount int         `json:"expected_count"`
	MissingRanks  []RankRange `json:"missing_ranks"`
}

// Key returns the group's normalized chart-group key.
func (g MissingGroup) Key() GroupKey {
	return Row{ChartSection: g.ChartSection, ChartTitle: g.ChartTitle}.Key()
}

// MissingCount returns the number of individual missing ranks.
func (g MissingGroup) MissingCount() int {
	n := 0
	for _, r := range g.MissingRanks {
		n += r.To - r.From + 1
	}
	return n
}

// MissingSet expands the range list back into a membership set.
func (g MissingGroup) MissingSet() map[int]bool {
	set := make(map[int]bool, g.MissingCount())
	for _, r := range g.MissingRanks {
		for n := r.From; n <= r.To; n++ {
			set[n] = true
		}
	}
	return set
}

// FindMissingGroups groups rows by (chart section, chart title) in
// first-seen order and reports every group whose this-week ranks do not
// cover the expected contiguous sequence. Charts are contiguous rank runs,
// so gaps are detectable from rank arithmetic alone.
func (c CompletenessConfig) FindMissingGroups(rows []Row, sourceName string) []MissingGroup {
	type groupAcc struct {
		section string
		title   string
		ranks   map[int]bool
		count   int
	}

	var order []GroupKey
	groups := make(map[GroupKey]*groupAcc)

	for _, row := range rows {
		key := row.Key()
		acc, ok := groups[key]
		if !ok {
			acc = &groupAcc{
				section: row.ChartSection,
				title:   row.ChartTitle,
				ranks:   make(map[int]bool),
			}
			groups[key] = acc
			order = append(order, key)
		}
		acc.count++
		if row.ThisWeek != nil {
			acc.ranks[*row.ThisWeek] = true
		}
	}

	var missing []MissingGroup
	for _, key := range order {
		acc := groups[key]
		if len(acc.ranks) == 0 {
			// No numeric ranks at all: nothing to anchor an expectation on.
			continue
		}

		observedMin, observedMax := rankBounds(acc.ranks)

		expectedMax := observedMax
		if n, ok := c.inferSize(acc.title); ok && n > expectedMax {
			expectedMax = n
		} else if !ok {
			if n, ok := c.inferSize(sourceName); ok && n > expectedMax {
				expectedMax = n
			}
		}

		expectedCount := expectedMax - observedMin + 1
		if acc.count >= expectedCount {
			continue
		}

		var gaps []int
		for n := observedMin; n <= expectedMax; n++ {
			if !acc.ranks[n] {
				gaps = append(gaps, n)
			}
		}
		if len(gaps) == 0 {
			continue
		}
		sort.Ints(gaps)

		missing = append(missing, MissingGroup{
			ChartSection:  acc.section,
			ChartTitle:    acc.title,
			ObservedMin:   observedMin,
			ExpectedMax:   expectedMax,
			HaveCount:     acc.count,
			ExpectedCount: expectedCount,
			MissingRanks:  ContiguousRanges(gaps),
		})
	}

	return missing
}

// inferSize extracts a chart size from free text using the configured
// patterns. Matches outside [MinSize, MaxSize] are rejected.
func (c CompletenessConfig) inferSize(text string) (int, bool) {
	if text == "" {
		return 0, false
	}
	for _, pat := range c.SizePatterns {
		m := pat.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n < c.MinSize || n > c.MaxSize {
			continue
		}
		return n, true
	}
	return 0, false
}

func rankBounds(ranks map[int]bool) (min, max int) {
	first := true
	for n := range ranks {
		if first {
			min, max = n, n
			first = false
			continue
		}
		if n < min {
			min = n
		}
		if n > max {
			max = n
		}
	}
	return min, max
}
