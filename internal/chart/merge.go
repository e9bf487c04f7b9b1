package chart

import "sort"

// MergeResult reports the outcome of folding a supplementary extraction
// into an existing row set.
type MergeResult struct {
	Merged []Row
	Added  int
}

// MergeRows accepts incoming rows only when they fill a known gap: the
// row's chart group must have outstanding missing ranks, the row's
// this-week rank must be one of them, and that rank must not already be
// present (the model routinely over-returns rows it was not asked for).
// The merged set is re-sorted into original chart-group discovery order,
// then ascending numeric rank; rows without a numeric rank keep their
// relative position at the end of their group.
func MergeRows(existing, incoming []Row, missing []MissingGroup) MergeResult {
	present := make(map[GroupKey]map[int]bool)
	for _, row := range existing {
		key := row.Key()
		if present[key] == nil {
			present[key] = make(map[int]bool)
		}
		if row.ThisWeek != nil {
			present[key][*row.ThisWeek] = true
		}
	}

	wanted := make(map[GroupKey]map[int]bool, len(missing))
	for _, g := range missing {
		wanted[g.Key()] = g.MissingSet()
	}

	merged := make([]Row, len(existing), len(existing)+len(incoming))
	copy(merged, existing)

	added := 0
	for _, row := range incoming {
		if row.ThisWeek == nil {
			continue
		}
		key := row.Key()
		want, ok := wanted[key]
		if !ok || !want[*row.ThisWeek] {
			continue
		}
		if present[key][*row.ThisWeek] {
			continue
		}
		if present[key] == nil {
			present[key] = make(map[int]bool)
		}
		present[key][*row.ThisWeek] = true
		merged = append(merged, row)
		added++
	}

	return MergeResult{Merged: sortByGroupOrder(merged, existing), Added: added}
}

// sortByGroupOrder orders rows by the chart-group discovery order of the
// original set, then by numeric this-week rank. The sort is stable so rows
// with unparseable ranks retain their insertion order after ranked rows.
func sortByGroupOrder(rows, original []Row) []Row {
	groupOrder := make(map[GroupKey]int)
	for _, row := range original {
		key := row.Key()
		if _, ok := groupOrder[key]; !ok {
			groupOrder[key] = len(groupOrder)
		}
	}
	for _, row := range rows {
		key := row.Key()
		if _, ok := groupOrder[key]; !ok {
			groupOrder[key] = len(groupOrder)
		}
	}

	sorted := make([]Row, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		gi, gj := groupOrder[sorted[i].Key()], groupOrder[sorted[j].Key()]
		if gi != gj {
			return gi < gj
		}
		ri, rj := sorted[i].ThisWeek, sorted[j].ThisWeek
		switch {
		case ri == nil && rj == nil:
			return false
		case ri == nil:
			return false
		case rj == nil:
			return true
		default:
			return *ri < *rj
		}
	})
	return sorted
}
