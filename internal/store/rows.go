package store

import (
	"context"
	"database/sql"
	"fmt"
)

const chartRowColumns = `id, run_id, job_id, entry_date, chart_title, chart_section,
	this_week, last_week, two_weeks_ago, weeks_on_chart, title, artist, label,
	source_file, extracted_at`

func scanChartRow(row rowScanner) (*ChartRow, error) {
	var cr ChartRow
	var thisWeek, lastWeek, twoWeeks, weeksOn sql.NullInt64
	var extracted string

	err := row.Scan(&cr.ID, &cr.RunID, &cr.JobID, &cr.EntryDate,
		&cr.ChartTitle, &cr.ChartSection,
		&thisWeek, &lastWeek, &twoWeeks, &weeksOn,
		&cr.Title, &cr.Artist, &cr.Label, &cr.SourceFile, &extracted)
	if err != nil {
		return nil, err
	}

	cr.ThisWeek = nullInt(thisWeek)
	cr.LastWeek = nullInt(lastWeek)
	cr.TwoWeeksAgo = nullInt(twoWeeks)
	cr.WeeksOnChart = nullInt(weeksOn)
	cr.ExtractedAt = parseTime(extracted)
	return &cr, nil
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

// RowsForRun returns one run's rows in insertion order.
func (s *Store) RowsForRun(ctx context.Context, runID string) ([]ChartRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chartRowColumns+` FROM chart_rows WHERE run_id = ? ORDER BY id ASC`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	defer rows.Close()
	return collectChartRows(rows)
}

// ActiveChartRows returns the rows backing the export: for every live job,
// only the rows of its active run, ordered by entry date, canonical name,
// then original row order. Reruns and superseded versions therefore never
// contribute duplicate or stale lines.
func (s *Store) ActiveChartRows(ctx context.Context) ([]ChartRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cr.id, cr.run_id, cr.job_id, cr.entry_date, cr.chart_title, cr.chart_section,
			cr.this_week, cr.last_week, cr.two_weeks_ago, cr.weeks_on_chart,
			cr.title, cr.artist, cr.label, cr.source_file, cr.extracted_at
		 FROM chart_rows cr
		 JOIN jobs j ON j.last_run_id = cr.run_id
		 WHERE j.status != ?
		 ORDER BY cr.entry_date ASC, j.canonical_name ASC, cr.id ASC`,
		string(StatusDeleted))
	if err != nil {
		return nil, fmt.Errorf("list active rows: %w", err)
	}
	defer rows.Close()
	return collectChartRows(rows)
}

func collectChartRows(rows *sql.Rows) ([]ChartRow, error) {
	var out []ChartRow
	for rows.Next() {
		cr, err := scanChartRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chart row: %w", err)
		}
		out = append(out, *cr)
	}
	return out, rows.Err()
}
