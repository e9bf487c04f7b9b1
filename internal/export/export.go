// Package export renders the active extraction results to the CSV and
// XLSX files under the exports directory. Only rows belonging to each
// job's currently-active run are included, so reruns and superseded file
// versions never produce duplicate or stale lines.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/chartdesk/chartdesk/internal/home"
	"github.com/chartdesk/chartdesk/internal/store"
)

// Summary describes one completed export pass.
type Summary struct {
	UpdatedAt time.Time `json:"updated_at"`
	TotalRows int       `json:"total_rows"`
	Path      string    `json:"path"`
}

// Exporter writes export files from the job store.
type Exporter struct {
	store  *store.Store
	home   *home.Dir
	logger *slog.Logger
}

// NewExporter creates an Exporter rooted at the given home directory.
func NewExporter(st *store.Store, h *home.Dir, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{store: st, home: h, logger: logger}
}

// csvHeader is the stable machine-facing column set.
var csvHeader = []string{
	"entry_date",
	"chart_section",
	"chart_title",
	"this_week",
	"last_week",
	"two_weeks_ago",
	"weeks_on_chart",
	"title",
	"artist",
	"label",
	"source_file",
}

// WriteCSV regenerates the CSV export from the active rows.
func (e *Exporter) WriteCSV(ctx context.Context) (*Summary, error) {
	start := time.Now()
	rows, err := e.store.ActiveChartRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active rows: %w", err)
	}

	tmp, err := os.CreateTemp(e.home.ExportsPath(), ".charts-*.csv")
	if err != nil {
		return nil, fmt.Errorf("create export temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(csvHeader); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(csvRecord(row)); err != nil {
			tmp.Close()
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close export temp file: %w", err)
	}

	// Rename keeps a concurrent download from seeing a half-written file.
	dest := e.home.CSVExportPath()
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return nil, fmt.Errorf("replace csv export: %w", err)
	}

	summary := &Summary{UpdatedAt: time.Now().UTC(), TotalRows: len(rows), Path: dest}
	e.logger.Info("csv export updated",
		"rows", summary.TotalRows,
		"path", dest,
		"elapsed", time.Since(start))
	return summary, nil
}

func csvRecord(row store.ChartRow) []string {
	return []string{
		row.EntryDate,
		row.ChartSection,
		row.ChartTitle,
		rankCell(row.ThisWeek),
		rankCell(row.LastWeek),
		rankCell(row.TwoWeeksAgo),
		rankCell(row.WeeksOnChart),
		row.Title,
		row.Artist,
		row.Label,
		row.SourceFile,
	}
}

func rankCell(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

// CSVPath returns the location of the CSV export file.
func (e *Exporter) CSVPath() string { return e.home.CSVExportPath() }

// XLSXPath returns the location of the XLSX export file.
func (e *Exporter) XLSXPath() string { return e.home.XLSXExportPath() }

// CSVInfo reports the current CSV export file state without rewriting it.
func (e *Exporter) CSVInfo() (*Summary, error) {
	return fileInfoSummary(e.home.CSVExportPath())
}

func fileInfoSummary(path string) (*Summary, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &Summary{UpdatedAt: fi.ModTime().UTC(), Path: filepath.Clean(path)}, nil
}
