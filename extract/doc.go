package extract

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf16"

	"github.com/richardlehane/mscfb"
)

// Legacy .doc files are OLE compound documents. Method A pulls readable runs
// out of the WordDocument stream directly; there is no reliable pagination in
// the binary format, so the whole document is treated as a single unit and
// the usual escalation applies when the yield is too small.

// legacyDocText extracts text from the WordDocument stream of a .doc file.
func legacyDocText(data []byte) (string, error) {
	doc, err := mscfb.New(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("opening compound document: %w", err)
	}

	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		if entry.Name != "WordDocument" {
			continue
		}
		raw, err := io.ReadAll(entry)
		if err != nil {
			return "", fmt.Errorf("reading WordDocument stream: %w", err)
		}
		return scanDocStream(raw), nil
	}

	return "", fmt.Errorf("WordDocument stream not found")
}

// scanDocStream recovers printable text runs from the raw stream, trying
// UTF-16LE first (modern Word) and falling back to single-byte runs.
func scanDocStream(raw []byte) string {
	wide := scanUTF16Runs(raw)
	narrow := scanByteRuns(raw)
	if len(wide) >= len(narrow) {
		return wide
	}
	return narrow
}

// scanUTF16Runs collects consecutive UTF-16LE printable characters.
func scanUTF16Runs(raw []byte) string {
	var b strings.Builder
	var run []uint16

	flush := func() {
		if len(run) >= 16 { // short runs are format noise
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(strings.TrimSpace(string(utf16.Decode(run))))
		}
		run = run[:0]
	}

	for i := 0; i+1 < len(raw); i += 2 {
		u := uint16(raw[i]) | uint16(raw[i+1])<<8
		if isPrintableUTF16(u) {
			run = append(run, u)
		} else {
			flush()
		}
	}
	flush()
	return b.String()
}

// scanByteRuns collects consecutive printable single-byte characters.
func scanByteRuns(raw []byte) string {
	var b strings.Builder
	var run []byte

	flush := func() {
		if len(run) >= 16 {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.Write(bytes.TrimSpace(run))
		}
		run = run[:0]
	}

	for _, c := range raw {
		if c == '\r' {
			c = '\n'
		}
		if c == '\n' || c == '\t' || (c >= 0x20 && c < 0x7f) {
			run = append(run, c)
		} else {
			flush()
		}
	}
	flush()
	return b.String()
}

func isPrintableUTF16(u uint16) bool {
	if u == '\r' || u == '\n' || u == '\t' {
		return true
	}
	if u < 0x20 || (u >= 0x7f && u < 0xa0) {
		return false
	}
	// Skip the surrogate range; .doc body text rarely needs it and unpaired
	// surrogates corrupt the decoded string.
	if u >= 0xd800 && u <= 0xdfff {
		return false
	}
	return u < 0xfff0
}
