package extract

import (
	"encoding/csv"
	"strings"
)

// extractText handles plain text and CSV in one deterministic pass. CSV is
// detected by extension-independent sniffing: if the content parses as CSV
// with a consistent column count and more than one column, it becomes a
// table; otherwise the content is split into text units.
func (p Policy) extractPlainText(data []byte, filename string) *PageResult {
	content := strings.TrimSpace(string(data))
	conf := p.NativeConfidence

	if table := parseCSV(content, conf); table != nil {
		unit := tableUnit(*table, MethodNative)
		unit.Content = content
		return &PageResult{
			Page:       1,
			Method:     MethodNative,
			CharCount:  len(content),
			Text:       content,
			Units:      []Unit{unit},
			Tables:     []TableData{*table},
			Confidence: conf,
		}
	}

	units := pageUnits(content, 1, MethodNative, conf)
	return &PageResult{
		Page:       1,
		Method:     MethodNative,
		CharCount:  len(content),
		Text:       content,
		Units:      units,
		Confidence: conf,
	}
}

// parseCSV returns a table when the content is really comma-separated data.
func parseCSV(content string, confidence float64) *TableData {
	if !strings.Contains(content, ",") || !strings.Contains(content, "\n") {
		return nil
	}

	r := csv.NewReader(strings.NewReader(content))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil || len(records) < 2 || len(records[0]) < 2 {
		return nil
	}

	width := len(records[0])
	for _, rec := range records[1:] {
		if diff := len(rec) - width; diff < -1 || diff > 1 {
			return nil
		}
	}

	table := &TableData{
		Headers:    records[0],
		Confidence: clampScore(confidence),
		Page:       1,
	}
	for _, rec := range records[1:] {
		table.Rows = append(table.Rows, padRow(rec, width))
	}
	return table
}
