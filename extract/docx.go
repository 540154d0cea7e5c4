package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// DOCX is read directly from the package XML: paragraphs become text and
// heading units, w:tbl elements become tables. Single pass, no escalation —
// the document structure is authoritative.

type docxDocument struct {
	XMLName xml.Name `xml:"document"`
	Body    docxBody `xml:"body"`
}

type docxBody struct {
	XMLName xml.Name    `xml:"body"`
	Paras   []docxPara  `xml:"p"`
	Tables  []docxTable `xml:"tbl"`
}

type docxPara struct {
	XMLName xml.Name    `xml:"p"`
	PPr     *docxParaPr `xml:"pPr"`
	Runs    []docxRun   `xml:"r"`
}

type docxParaPr struct {
	PStyle *docxPStyle `xml:"pStyle"`
	NumPr  *docxNumPr  `xml:"numPr"`
}

type docxPStyle struct {
	Val string `xml:"val,attr"`
}

type docxNumPr struct {
	XMLName xml.Name `xml:"numPr"`
}

type docxRun struct {
	Text []docxText `xml:"t"`
}

type docxText struct {
	Content string `xml:",chardata"`
}

type docxTable struct {
	Rows []docxRow `xml:"tr"`
}

type docxRow struct {
	Cells []docxCell `xml:"tc"`
}

type docxCell struct {
	Paras []docxPara `xml:"p"`
}

// extractDOCX parses a DOCX byte buffer into page 1 units and tables.
func (p Policy) extractDOCX(data []byte) (*PageResult, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening DOCX: %w", err)
	}

	var docFile *zip.File
	for _, f := range r.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return nil, fmt.Errorf("word/document.xml not found in DOCX")
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, fmt.Errorf("opening document.xml: %w", err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}

	var doc docxDocument
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing DOCX XML: %w", err)
	}

	conf := p.NativeConfidence
	var units []Unit
	var texts []string
	var listBuf []string

	flushList := func() {
		if len(listBuf) == 0 {
			return
		}
		content := strings.Join(listBuf, "\n")
		units = append(units, newUnit(KindList, content, 1, MethodNative, conf))
		texts = append(texts, content)
		listBuf = nil
	}

	for _, para := range doc.Body.Paras {
		text := paraText(para)
		if text == "" {
			continue
		}

		style := ""
		isList := false
		if para.PPr != nil {
			if para.PPr.PStyle != nil {
				style = strings.ToLower(para.PPr.PStyle.Val)
			}
			isList = para.PPr.NumPr != nil
		}

		switch {
		case strings.HasPrefix(style, "heading") || strings.HasPrefix(style, "title"):
			flushList()
			units = append(units, newUnit(KindHeading, text, 1, MethodNative, conf))
			texts = append(texts, text)
		case isList || isListItem(text):
			listBuf = append(listBuf, text)
		default:
			flushList()
			units = append(units, newUnit(KindText, text, 1, MethodNative, conf))
			texts = append(texts, text)
		}
	}
	flushList()

	var tables []TableData
	for _, tbl := range doc.Body.Tables {
		if t := docxTableData(tbl, conf); t != nil {
			tables = append(tables, *t)
			units = append(units, tableUnit(*t, MethodNative))
			texts = append(texts, renderTableText(*t))
		}
	}

	text := strings.Join(texts, "\n")
	return &PageResult{
		Page:       1,
		Method:     MethodNative,
		CharCount:  len(text),
		Text:       text,
		Units:      units,
		Tables:     tables,
		Confidence: conf,
	}, nil
}

func paraText(para docxPara) string {
	var b strings.Builder
	for _, run := range para.Runs {
		for _, t := range run.Text {
			b.WriteString(t.Content)
		}
	}
	return strings.TrimSpace(b.String())
}

// docxTableData converts a w:tbl into rectangular TableData, first row as
// the header.
func docxTableData(tbl docxTable, confidence float64) *TableData {
	if len(tbl.Rows) == 0 {
		return nil
	}

	all := make([][]string, 0, len(tbl.Rows))
	for _, row := range tbl.Rows {
		cells := make([]string, 0, len(row.Cells))
		for _, cell := range row.Cells {
			var b strings.Builder
			for _, para := range cell.Paras {
				if t := paraText(para); t != "" {
					if b.Len() > 0 {
						b.WriteString(" ")
					}
					b.WriteString(t)
				}
			}
			cells = append(cells, b.String())
		}
		all = append(all, cells)
	}

	headers := all[0]
	rows := make([][]string, 0, len(all)-1)
	for _, row := range all[1:] {
		rows = append(rows, padRow(row, len(headers)))
	}

	return &TableData{
		Headers:    headers,
		Rows:       rows,
		Confidence: clampScore(confidence),
		Page:       1,
	}
}

// renderTableText builds a pipe-delimited text form of a table for RawText.
func renderTableText(t TableData) string {
	var b strings.Builder
	b.WriteString("| " + strings.Join(t.Headers, " | ") + " |\n")
	for _, row := range t.Rows {
		b.WriteString("| " + strings.Join(row, " | ") + " |\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
