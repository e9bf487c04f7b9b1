// Package pageselect picks the chart-table page out of a multi-page
// document. Text-bearing pages are ranked by a keyword scorer; image-only
// pages fall back to a raster heuristic.
package pageselect

import (
	"regexp"
	"strings"
)

// PageScore is the scorer's verdict on one page of text.
type PageScore struct {
	// Base measures generic chart-table likelihood.
	Base float64
	// DiscoBoost is the genre-preference signal. It is only awarded when
	// the page already looks chart-like, so a stray keyword in prose
	// cannot outrank a real table.
	DiscoBoost float64
	// Effective is Base + DiscoBoost and is what pages are ranked by.
	Effective float64
	// RankCount is the number of small-integer tokens seen, capped.
	RankCount int
	// TextLength is the length of the normalized page text.
	TextLength int
}

// HeaderPattern is one weighted keyword rule. Matches beyond MaxHits are
// ignored so a keyword repeated down a column cannot dominate the score.
type HeaderPattern struct {
	Pattern *regexp.Regexp
	Weight  float64
	MaxHits int
}

// ScorerConfig holds the scoring tables and thresholds. The constants are
// tuned against trade-magazine chart pages and deliberately overridable,
// since other document families use different headers.
type ScorerConfig struct {
	// Headers score generic table-ness: column headings, publication
	// names, the words a chart page repeats.
	Headers []HeaderPattern

	// BoostPatterns score the genre preference, tiered from the most
	// specific phrasing down to looser variants.
	BoostPatterns []HeaderPattern

	// RankMin/RankMax bound what counts as a rank token. RankCap limits
	// how many are counted; RankWeight is the per-token contribution.
	RankMin    int
	RankMax    int
	RankCap    int
	RankWeight float64

	// LengthDivisor converts text length into a small bonus, capped at
	// LengthBonusCap. Dense OCR output correlates with table pages.
	LengthDivisor  int
	LengthBonusCap float64

	// The boost gate: the preference boost applies only when the base
	// score or the rank count already clears one of these.
	BoostGateBase  float64
	BoostGateRanks int

	// Chart-page classification is a disjunction: a high base score
	// alone, a very high rank count alone, or a moderate combination.
	ChartBaseAlone  float64
	ChartRanksAlone int
	ChartBaseCombo  float64
	ChartRanksCombo int
}

// DefaultScorerConfig returns the stock scoring tables.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		Headers: []HeaderPattern{
			{regexp.MustCompile(`this\s+week`), 3.0, 2},
			{regexp.MustCompile(`last\s+week`), 3.0, 2},
			{regexp.MustCompile(`weeks?\s+on\s+chart`), 3.0, 2},
			{regexp.MustCompile(`two\s+weeks?\s+ago`), 2.5, 2},
			{regexp.MustCompile(`billboard`), 2.0, 2},
			{regexp.MustCompile(`\btitle\b`), 1.5, 2},
			{regexp.MustCompile(`\bartist\b`), 1.5, 2},
			{regexp.MustCompile(`\blabel\b`), 1.5, 2},
			{regexp.MustCompile(`\btop\s*\d+\b`), 1.5, 2},
			{regexp.MustCompile(`\bchart\b`), 1.0, 2},
			{regexp.MustCompile(`\bsingles?\b|\balbums?\b`), 1.0, 2},
		},
		BoostPatterns: []HeaderPattern{
			{regexp.MustCompile(`disco\s+action\s+top\s*\d+`), 8.0, 1},
			{regexp.MustCompile(`disco\s+action`), 4.0, 1},
			{regexp.MustCompile(`dance\s*/\s*disco`), 5.0, 1},
			{regexp.MustCompile(`disco\s+top\s*\d+|top\s*\d+\s+disco`), 3.0, 1},
		},
		RankMin:    1,
		RankMax:    200,
		RankCap:    120,
		RankWeight: 0.15,

		LengthDivisor:  1500,
		LengthBonusCap: 2.0,

		BoostGateBase:  6.0,
		BoostGateRanks: 15,

		ChartBaseAlone:  8.0,
		ChartRanksAlone: 40,
		ChartBaseCombo:  4.0,
		ChartRanksCombo: 10,
	}
}

// Score rates one page of extracted text. Pure and deterministic.
func (c ScorerConfig) Score(pageText string) PageScore {
	text := normalizeText(pageText)

	score := PageScore{TextLength: len(text)}
	for _, h := range c.Headers {
		hits := len(h.Pattern.FindAllStringIndex(text, h.MaxHits))
		score.Base += float64(hits) * h.Weight
	}

	score.RankCount = c.countRankTokens(text)
	score.Base += float64(score.RankCount) * c.RankWeight

	if c.LengthDivisor > 0 {
		bonus := float64(len(text)) / float64(c.LengthDivisor)
		if bonus > c.LengthBonusCap {
			bonus = c.LengthBonusCap
		}
		score.Base += bonus
	}

	if score.Base >= c.BoostGateBase || score.RankCount >= c.BoostGateRanks {
		for _, b := range c.BoostPatterns {
			hits := len(b.Pattern.FindAllStringIndex(text, b.MaxHits))
			score.DiscoBoost += float64(hits) * b.Weight
		}
	}

	score.Effective = score.Base + score.DiscoBoost
	return score
}

// IsChartLike classifies a scored page. The disjunction tolerates OCR
// noise: garbled headers can still qualify on rank density, and a sparse
// rank column can still qualify on headers.
func (c ScorerConfig) IsChartLike(s PageScore) bool {
	if s.Base >= c.ChartBaseAlone {
		return true
	}
	if s.RankCount >= c.ChartRanksAlone {
		return true
	}
	return s.Base >= c.ChartBaseCombo && s.RankCount >= c.ChartRanksCombo
}

func (c ScorerConfig) countRankTokens(text string) int {
	count := 0
	for _, tok := range strings.Fields(text) {
		n, ok := digitToken(tok)
		if !ok || n < c.RankMin || n > c.RankMax {
			continue
		}
		count++
		if count >= c.RankCap {
			break
		}
	}
	return count
}

// digitToken trims punctuation from both ends of a token and reports the
// numeric value if what remains is all digits. OCR glues markers onto
// ranks ("12*", "(3)"), so bare Atoi would undercount.
func digitToken(tok string) (int, bool) {
	start, end := 0, len(tok)
	for start < end && !isDigit(tok[start]) {
		start++
	}
	for end > start && !isDigit(tok[end-1]) {
		end--
	}
	if start == end || end-start > 3 {
		return 0, false
	}
	n := 0
	for i := start; i < end; i++ {
		if !isDigit(tok[i]) {
			return 0, false
		}
		n = n*10 + int(tok[i]-'0')
	}
	return n, true
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
