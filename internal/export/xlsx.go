package export

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/xuri/excelize/v2"
)

const xlsxSheet = "Charts"

var xlsxHeaders = []string{
	"Entry Date",
	"Section",
	"Chart",
	"This Week",
	"Last Week",
	"Two Weeks Ago",
	"Weeks On Chart",
	"Title",
	"Artist",
	"Label",
	"Source File",
}

// BuildXLSX renders the active rows as an XLSX workbook and returns its
// bytes along with the pass summary.
func (e *Exporter) BuildXLSX(ctx context.Context) ([]byte, *Summary, error) {
	start := time.Now()
	rows, err := e.store.ActiveChartRows(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load active rows: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if index, _ := f.GetSheetIndex(xlsxSheet); index == -1 {
		if _, err := f.NewSheet(xlsxSheet); err != nil {
			return nil, nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(xlsxSheet)
	f.SetActiveSheet(activeIndex)
	// Drop the default sheet so the workbook opens on Charts.
	_ = f.DeleteSheet("Sheet1")

	for i, h := range xlsxHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(xlsxSheet, cell, h)
	}

	rowNum := 2
	for _, row := range rows {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, rowNum)
			_ = f.SetCellValue(xlsxSheet, cell, v)
		}
		write(1, row.EntryDate)
		write(2, row.ChartSection)
		write(3, row.ChartTitle)
		writeRank(write, 4, row.ThisWeek)
		writeRank(write, 5, row.LastWeek)
		writeRank(write, 6, row.TwoWeeksAgo)
		writeRank(write, 7, row.WeeksOnChart)
		write(8, row.Title)
		write(9, row.Artist)
		write(10, row.Label)
		write(11, row.SourceFile)
		rowNum++
	}

	_ = f.SetColWidth(xlsxSheet, "A", "A", 12)
	_ = f.SetColWidth(xlsxSheet, "B", "C", 26)
	_ = f.SetColWidth(xlsxSheet, "D", "G", 8)
	_ = f.SetColWidth(xlsxSheet, "H", "I", 32)
	_ = f.SetColWidth(xlsxSheet, "J", "J", 20)
	_ = f.SetColWidth(xlsxSheet, "K", "K", 40)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, nil, fmt.Errorf("xlsx write: %w", err)
	}

	summary := &Summary{UpdatedAt: time.Now().UTC(), TotalRows: len(rows)}
	e.logger.Info("xlsx export built",
		"rows", summary.TotalRows,
		"elapsed", time.Since(start))
	return buf.Bytes(), summary, nil
}

func writeRank(write func(int, any), col int, p *int) {
	if p == nil {
		write(col, "")
		return
	}
	write(col, *p)
}

// WriteXLSX regenerates the XLSX export file from the active rows.
func (e *Exporter) WriteXLSX(ctx context.Context) (*Summary, error) {
	data, summary, err := e.BuildXLSX(ctx)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(e.home.ExportsPath(), ".charts-*.xlsx")
	if err != nil {
		return nil, fmt.Errorf("create export temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write xlsx export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close export temp file: %w", err)
	}

	dest := e.home.XLSXExportPath()
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return nil, fmt.Errorf("replace xlsx export: %w", err)
	}
	summary.Path = dest
	return summary, nil
}
