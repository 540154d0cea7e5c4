package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractXLSX reads every sheet of a workbook into one table unit per sheet.
// Native parsing: single pass, high fixed confidence, merged cells preserved.
func (p Policy) extractXLSX(data []byte) ([]PageResult, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening spreadsheet: %w", err)
	}
	defer f.Close()

	var pages []PageResult
	page := 0

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		page++

		width := 0
		for _, row := range rows {
			if len(row) > width {
				width = len(row)
			}
		}

		table := TableData{
			Headers:     padRow(rows[0], width),
			MergedCells: sheetMergedCells(f, sheet),
			Confidence:  clampScore(p.SheetConfidence),
			Page:        page,
		}
		for _, row := range rows[1:] {
			table.Rows = append(table.Rows, padRow(row, width))
		}

		var text strings.Builder
		fmt.Fprintf(&text, "--- Sheet: %s ---\n", sheet)
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t") + "\n")
		}
		raw := strings.TrimRight(text.String(), "\n")

		unit := tableUnit(table, MethodNative)
		unit.Content = raw

		pages = append(pages, PageResult{
			Page:       page,
			Method:     MethodNative,
			CharCount:  len(raw),
			Text:       raw,
			Units:      []Unit{unit},
			Tables:     []TableData{table},
			Confidence: table.Confidence,
		})
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("no data found in spreadsheet")
	}
	return pages, nil
}

// sheetMergedCells collects merged ranges as zero-indexed span descriptors.
func sheetMergedCells(f *excelize.File, sheet string) []MergedCell {
	ranges, err := f.GetMergeCells(sheet)
	if err != nil {
		return nil
	}

	var merged []MergedCell
	for _, mc := range ranges {
		startCol, startRow, err1 := excelize.CellNameToCoordinates(mc.GetStartAxis())
		endCol, endRow, err2 := excelize.CellNameToCoordinates(mc.GetEndAxis())
		if err1 != nil || err2 != nil {
			continue
		}
		merged = append(merged, MergedCell{
			Row:     startRow - 1,
			Col:     startCol - 1,
			RowSpan: endRow - startRow + 1,
			ColSpan: endCol - startCol + 1,
		})
	}
	return merged
}
