package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// pdfPageTexts reads the native text layer of every page. A page that fails
// to decode contributes an empty string at its index so the caller still sees
// the correct page count and order.
func pdfPageTexts(data []byte) ([]string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}

	total := reader.NumPage()
	texts := make([]string, total)

	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue // no text layer on this page; escalation takes over
		}
		texts[i-1] = strings.TrimSpace(text)
	}

	return texts, nil
}

// pageUnits splits native page text into heading/list/text units, preserving
// line order within the page.
func pageUnits(text string, page int, method Method, confidence float64) []Unit {
	var units []Unit
	var buf strings.Builder
	var flushKind Kind = KindText

	flush := func() {
		content := strings.TrimSpace(buf.String())
		buf.Reset()
		if content == "" {
			return
		}
		units = append(units, newUnit(flushKind, content, page, method, confidence))
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			flush()
			flushKind = KindText
		case isLikelyHeading(trimmed):
			flush()
			flushKind = KindHeading
			buf.WriteString(trimmed)
			flush()
			flushKind = KindText
		case isListItem(trimmed):
			if flushKind != KindList {
				flush()
				flushKind = KindList
			}
			if buf.Len() > 0 {
				buf.WriteString("\n")
			}
			buf.WriteString(trimmed)
		default:
			if flushKind == KindList {
				flush()
				flushKind = KindText
			}
			if buf.Len() > 0 {
				buf.WriteString("\n")
			}
			buf.WriteString(trimmed)
		}
	}
	flush()

	return units
}

// isLikelyHeading detects all-caps lines, numbered sections and common
// heading prefixes in English and Romanian.
func isLikelyHeading(line string) bool {
	if len(line) > 120 {
		return false
	}
	if len(line) > 2 && len(line) < 100 && line == strings.ToUpper(line) && strings.IndexFunc(line, isLetter) >= 0 {
		return true
	}
	if line[0] >= '0' && line[0] <= '9' {
		head := line
		if len(head) > 10 {
			head = head[:10]
		}
		if strings.Contains(head, ".") {
			return true
		}
	}
	lower := strings.ToLower(line)
	for _, prefix := range []string{
		"section ", "article ", "chapter ", "part ", "annex ",
		"secțiunea ", "sectiunea ", "capitolul ", "articolul ", "anexa ",
	} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func isLetter(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')
}

// isListItem detects bullet and enumeration markers.
func isListItem(line string) bool {
	for _, prefix := range []string{"- ", "* ", "• ", "· "} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	// "1) text" / "a) text" enumerations
	if len(line) > 2 && line[1] == ')' {
		c := line[0]
		return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')
	}
	return false
}
