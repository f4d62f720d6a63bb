// Package spreadsheet reads job import workbooks and writes the import template.
package spreadsheet

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/fairyhunter13/print-mes/pkg/textx"
)

const (
	// TemplateSheet is the sheet name of the generated template.
	TemplateSheet = "jobs"
	// TemplateFilename is the download name of the template.
	TemplateFilename = "job-offset-printer-taiyo-template.xlsx"
	// ContentType is the xlsx media type.
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ErrUnreadable marks a payload that is not a readable workbook.
var ErrUnreadable = errors.New("unreadable workbook")

// ReadRows returns the data rows of the first sheet keyed by the header row.
// Blank cells become nil and blank rows are skipped. Numeric cells under a
// header in dateColumns are converted from Excel date serials to UTC times;
// every other cell is returned as its raw string.
func ReadRows(r io.Reader, dateColumns []string) ([]map[string]any, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("%w: no worksheet found", ErrUnreadable)
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if len(rows) == 0 {
		return []map[string]any{}, nil
	}

	// Headers that normalise to the same name share the first spelling as
	// their key, so a later non-blank column overrides an earlier one.
	header := make([]string, len(rows[0]))
	first := make(map[string]string, len(rows[0]))
	for i, h := range rows[0] {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		nk := textx.NormalizeKey(h)
		if k, ok := first[nk]; ok {
			h = k
		} else {
			first[nk] = h
		}
		header[i] = h
	}

	out := make([]map[string]any, 0, len(rows)-1)
	for _, cells := range rows[1:] {
		row := make(map[string]any, len(first))
		blank := true
		for i, h := range header {
			if h == "" {
				continue
			}
			var cell string
			if i < len(cells) {
				cell = cells[i]
			}
			if strings.TrimSpace(cell) == "" {
				if _, seen := row[h]; !seen {
					row[h] = nil
				}
				continue
			}
			blank = false
			row[h] = cellValue(cell, slices.Contains(dateColumns, textx.NormalizeKey(h)))
		}
		if !blank {
			out = append(out, row)
		}
	}
	return out, nil
}

func cellValue(cell string, isDate bool) any {
	if !isDate {
		return cell
	}
	serial, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
	if err != nil {
		return cell
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return cell
	}
	return t.UTC()
}

// WriteTemplate writes a workbook with one sheet holding headers in bold and
// a sample row beneath them.
func WriteTemplate(w io.Writer, headers []string, sample []any) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", TemplateSheet); err != nil {
		return fmt.Errorf("op=template.sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
	})
	if err != nil {
		return fmt.Errorf("op=template.style: %w", err)
	}
	for i, h := range headers {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		if err := f.SetCellValue(TemplateSheet, cell, h); err != nil {
			return fmt.Errorf("op=template.header: %w", err)
		}
		_ = f.SetCellStyle(TemplateSheet, cell, cell, bold)
		_ = f.SetColWidth(TemplateSheet, col, col, 22)
	}
	for i, v := range sample {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetCellValue(TemplateSheet, col+"2", v); err != nil {
			return fmt.Errorf("op=template.sample: %w", err)
		}
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("op=template.write: %w", err)
	}
	return nil
}
