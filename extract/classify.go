package extract

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Category is the closed set of document categories the engine understands.
type Category string

const (
	CategoryPDF         Category = "pdf"
	CategoryDOCX        Category = "docx"
	CategoryLegacyDoc   Category = "legacy-doc"
	CategorySpreadsheet Category = "spreadsheet"
	CategoryImage       Category = "image"
	CategoryText        Category = "plain-text"
	CategoryUnsupported Category = "unsupported"
)

// mediaTypeCategories maps declared media types to categories. Checked before
// the filename extension.
var mediaTypeCategories = map[string]Category{
	"application/pdf": CategoryPDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": CategoryDOCX,
	"application/msword": CategoryLegacyDoc,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": CategorySpreadsheet,
	"application/vnd.ms-excel": CategorySpreadsheet,
	"image/png":                CategoryImage,
	"image/jpeg":               CategoryImage,
	"image/tiff":               CategoryImage,
	"text/plain":               CategoryText,
	"text/csv":                 CategoryText,
}

// extensionCategories maps filename extensions to categories. Used when the
// declared media type is absent or unrecognized.
var extensionCategories = map[string]Category{
	".pdf":  CategoryPDF,
	".docx": CategoryDOCX,
	".doc":  CategoryLegacyDoc,
	".xlsx": CategorySpreadsheet,
	".xls":  CategorySpreadsheet,
	".png":  CategoryImage,
	".jpg":  CategoryImage,
	".jpeg": CategoryImage,
	".tif":  CategoryImage,
	".tiff": CategoryImage,
	".txt":  CategoryText,
	".csv":  CategoryText,
}

// Classify maps a declared media type and filename to a document category.
// Unrecognized inputs map to CategoryUnsupported; Classify never fails.
func Classify(mediaType, filename string) Category {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i]) // drop parameters like "; charset=utf-8"
	}
	if cat, ok := mediaTypeCategories[mt]; ok {
		return cat
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if cat, ok := extensionCategories[ext]; ok {
		return cat
	}
	return CategoryUnsupported
}

// pdfTextMarkers are operators that indicate a PDF carries a real text layer.
var pdfTextMarkers = [][]byte{
	[]byte("/Type /Page"),
	[]byte("BT"),
	[]byte("ET"),
	[]byte("/Font"),
}

// ProbePDFText reports whether a PDF likely contains selectable text, by
// scanning the leading bytes for text-related operators. Advisory only: the
// escalation engine still verifies yield per page.
func ProbePDFText(content []byte) bool {
	window := content
	if len(window) > 50000 {
		window = window[:50000]
	}
	hits := 0
	for _, marker := range pdfTextMarkers {
		if bytes.Contains(window, marker) {
			hits++
		}
	}
	return hits >= 2
}

// ProbePDFPageCount estimates the page count of a PDF without rendering it,
// by counting page object markers. Never returns less than 1.
func ProbePDFPageCount(content []byte) int {
	pages := bytes.Count(content, []byte("/Type /Page"))
	parents := bytes.Count(content, []byte("/Type /Pages"))
	if n := pages - parents; n > 1 {
		return n
	}
	return 1
}
