package chart

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// EntryDateFormat is the wire format for chart week dates.
const EntryDateFormat = "2006-01-02"

var (
	entryDatePattern   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	copyCounterSuffix  = regexp.MustCompile(`\s*\(\d+\)$`)
	versionSuffix      = regexp.MustCompile(`(?i)[\s_-]v\d+$`)
	canonicalSeparator = regexp.MustCompile(`[\s_]+`)
)

// ParseEntryDate finds the chart week date embedded in a filename.
// Returns the first YYYY-MM-DD token that is a real calendar date.
func ParseEntryDate(filename string) (string, error) {
	for _, m := range entryDatePattern.FindAllString(filename, -1) {
		if _, err := time.Parse(EntryDateFormat, m); err == nil {
			return m, nil
		}
	}
	return "", fmt.Errorf("no YYYY-MM-DD date in filename %q", filename)
}

// CanonicalName derives the version-stable identity of a scanned file.
// Re-downloads and re-uploads of the same logical document ("chart (2).pdf",
// "chart v3.pdf", "Chart_1979-11-17.PDF") collapse to one canonical name so
// they merge into one Job instead of forking its history.
func CanonicalName(filename string) string {
	base := filepath.Base(filename)
	name := strings.TrimSuffix(base, filepath.Ext(base))

	for {
		trimmed := copyCounterSuffix.ReplaceAllString(name, "")
		trimmed = versionSuffix.ReplaceAllString(trimmed, "")
		trimmed = strings.TrimSpace(trimmed)
		if trimmed == name {
			break
		}
		name = trimmed
	}
	if name == "" {
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	name = canonicalSeparator.ReplaceAllString(name, " ")
	return strings.ToLower(strings.TrimSpace(name))
}
