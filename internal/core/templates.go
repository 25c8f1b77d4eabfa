package core

// templates.go writes the downloadable files: the blank template operators
// fill in, and the export of rejected rows they fix and re-ingest.

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/JonMunkholm/facturas/internal/schema"
	"github.com/xuri/excelize/v2"
)

// Download names.
const (
	TemplateCSVName    = "base.csv"
	TemplateXLSXName   = "base.xlsx"
	FailedExportName   = "registros_fallidos.csv"
	FailedErrorsColumn = "errors"

	templateSheet = "facturas"
)

// WriteTemplateCSV writes the schema header and the sample rows. The output
// ingests cleanly: every sample row passes validation.
func WriteTemplateCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(schema.Columns()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, inv := range schema.SampleInvoices {
		if err := cw.Write(inv.Values()); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTemplateXLSX writes the same content as WriteTemplateCSV as a
// single-sheet workbook.
func WriteTemplateXLSX(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", templateSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	rows := [][]string{schema.Columns()}
	for _, inv := range schema.SampleInvoices {
		rows = append(rows, inv.Values())
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(templateSheet, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	if err := f.SetPanes(templateSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// WriteFailedCSV exports retained failures with the file's own columns, in
// file order, followed by an errors column with every message joined by
// "; ". Cells missing from short rows are written empty.
func WriteFailedCSV(w io.Writer, res *IngestionResult) error {
	columns := res.Columns
	if len(columns) == 0 {
		columns = schema.Columns()
	}

	cw := csv.NewWriter(w)
	header := append(append([]string(nil), columns...), FailedErrorsColumn)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(header))
	for _, f := range res.Failures {
		for i, col := range columns {
			record[i] = f.Row[col]
		}
		record[len(columns)] = strings.Join(f.Errors, "; ")
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write line %d: %w", f.Line, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
