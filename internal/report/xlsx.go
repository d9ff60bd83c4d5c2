package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/roman-kulish/spectrum-survey/internal/spectrum"
)

const (
	sheetReport  = "Report"
	sheetBins    = "Bins"
	sheetBands   = "Bands"
	sheetSectors = "Sectors"
	sheetSkipped = "Skipped"
)

// WriteXLSX encodes r as a workbook with one sheet per report section.
// Numeric cells keep the precision of the CSV report.
func WriteXLSX(w io.Writer, r *spectrum.Report) (err error) {
	if len(r.Bins)+1 > excelize.TotalRows {
		return fmt.Errorf("%d bins exceed the worksheet row limit", len(r.Bins))
	}

	f := excelize.NewFile()
	defer closeWithError(f, &err)

	if err = f.SetSheetName("Sheet1", sheetReport); err != nil {
		return fmt.Errorf("renaming sheet: %w", err)
	}
	for _, name := range []string{sheetBins, sheetBands, sheetSectors, sheetSkipped} {
		if _, err = f.NewSheet(name); err != nil {
			return fmt.Errorf("creating sheet %s: %w", name, err)
		}
	}

	fields := reportFields(r)
	reportRows := make([][]any, 0, len(fields))
	for _, kv := range fields {
		reportRows = append(reportRows, []any{kv[0], cellValue(kv[1])})
	}
	if err = streamSheet(f, sheetReport, reportHeader, reportRows); err != nil {
		return err
	}

	if err = streamSheet(f, sheetBins, binsHeader, cellRows(r.Bins, binRecord)); err != nil {
		return err
	}
	if err = streamSheet(f, sheetBands, bandsHeader, cellRows(r.Bands, bandRecord)); err != nil {
		return err
	}
	if err = streamSheet(f, sheetSectors, sectorsHeader, cellRows(r.Sectors, sectorRecord)); err != nil {
		return err
	}
	if err = streamSheet(f, sheetSkipped, skippedHeader, cellRows(r.Skipped, skippedRecord)); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if _, err = f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func streamSheet(f *excelize.File, sheet string, header []string, rows [][]any) error {
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("opening sheet %s: %w", sheet, err)
	}

	headerRow := make([]any, len(header))
	for i, h := range header {
		headerRow[i] = h
	}
	if err = sw.SetRow("A1", headerRow); err != nil {
		return fmt.Errorf("writing %s header: %w", sheet, err)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err = sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+2, err)
		}
	}

	if err = sw.Flush(); err != nil {
		return fmt.Errorf("flushing sheet %s: %w", sheet, err)
	}
	return nil
}

func cellRows[T any](items []T, record func(T) []string) [][]any {
	rows := make([][]any, len(items))
	for i, item := range items {
		fields := record(item)
		row := make([]any, len(fields))
		for j, field := range fields {
			row[j] = cellValue(field)
		}
		rows[i] = row
	}
	return rows
}

// cellValue stores formatted numbers as numeric cells and everything else,
// including empty cells, as text.
func cellValue(s string) any {
	if s == "" {
		return nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v
	}
	return s
}
