package extract

import (
	"regexp"
	"strings"
)

// Line-scan table detection over recognized page text. Deliberately
// permissive: it looks for column-separator signals (pipes, tabs, runs of
// three or more spaces, repeated separator rows) and groups consecutive
// matching lines. Confidence is always below structured-format tables.

var multiSpace = regexp.MustCompile(`\s{3,}`)

// separatorRow matches markdown-style divider lines like |---|---| or -----.
var separatorRow = regexp.MustCompile(`^[\s|+]*[-=]{3,}[-=\s|+]*$`)

// splitColumns breaks a line into cells, or returns nil if the line carries
// no column signal.
func splitColumns(line string) []string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}

	switch {
	case strings.Count(trimmed, "|") >= 2:
		cells := strings.Split(strings.Trim(trimmed, "|"), "|")
		return trimCells(cells)
	case strings.Contains(trimmed, "\t"):
		return trimCells(strings.Split(trimmed, "\t"))
	case multiSpace.MatchString(trimmed):
		return trimCells(multiSpace.Split(trimmed, -1))
	}
	return nil
}

func trimCells(cells []string) []string {
	out := make([]string, 0, len(cells))
	for _, c := range cells {
		out = append(out, strings.TrimSpace(c))
	}
	if len(out) < 2 {
		return nil
	}
	return out
}

// DetectTables scans page text for table-shaped line groups. A group becomes
// a table when at least two data rows agree on column count within a ±1
// tolerance. The first row is taken as the header.
func (p Policy) DetectTables(text string, page int) []TableData {
	lines := strings.Split(text, "\n")

	var tables []TableData
	var group [][]string

	flush := func() {
		if t := p.buildTable(group, page); t != nil {
			tables = append(tables, *t)
		}
		group = nil
	}

	for _, line := range lines {
		if separatorRow.MatchString(line) {
			// Divider rows keep a group alive but carry no data.
			continue
		}
		cells := splitColumns(line)
		if cells == nil {
			flush()
			continue
		}
		group = append(group, cells)
	}
	flush()

	return tables
}

// buildTable validates a candidate line group and shapes it into TableData.
func (p Policy) buildTable(group [][]string, page int) *TableData {
	if len(group) < 3 { // header + at least two data rows
		return nil
	}

	header := group[0]
	width := len(header)

	consistent := 0
	for _, row := range group[1:] {
		if diff := len(row) - width; diff >= -1 && diff <= 1 {
			consistent++
		}
	}
	if consistent < 2 {
		return nil
	}

	rows := make([][]string, 0, len(group)-1)
	for _, row := range group[1:] {
		rows = append(rows, padRow(row, width))
	}

	// Confidence scales with how uniformly the rows agree on the width.
	ratio := float64(consistent) / float64(len(group)-1)
	conf := p.TableConfidenceMin + ratio*(p.TableConfidenceMax-p.TableConfidenceMin)

	return &TableData{
		Headers:    header,
		Rows:       rows,
		Confidence: clampScore(conf),
		Page:       page,
	}
}

// padRow pads or truncates a row to the header width.
func padRow(row []string, width int) []string {
	if len(row) == width {
		return row
	}
	out := make([]string, width)
	copy(out, row)
	return out
}
