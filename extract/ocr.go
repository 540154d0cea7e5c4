package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Recognized is the outcome of one recognition pass over one page image.
type Recognized struct {
	Text       string
	Confidence float64 // recognizer self-confidence, 0-100
	Warnings   []string
}

// Recognizer runs optical text recognition on a single preprocessed page
// image (PNG bytes). The languages argument is a recognizer hint such as
// "ron+eng"; empty means use the implementation's configured default.
// Implementations must honor ctx cancellation.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte, languages string) (*Recognized, error)
}

// TesseractRecognizer shells out to the tesseract binary. The TSV output
// format carries per-word confidence, which is averaged into the page score.
type TesseractRecognizer struct {
	// Languages is the tesseract language hint, e.g. "ron+eng".
	Languages string
	// Binary overrides the executable path; defaults to "tesseract" on PATH.
	Binary string
}

// NewTesseractRecognizer returns a recognizer for the given language hint.
func NewTesseractRecognizer(languages string) *TesseractRecognizer {
	return &TesseractRecognizer{Languages: languages}
}

// Available reports whether the tesseract binary can be executed.
func (t *TesseractRecognizer) Available() bool {
	return exec.Command(t.binary(), "--version").Run() == nil
}

func (t *TesseractRecognizer) binary() string {
	if t.Binary != "" {
		return t.Binary
	}
	return "tesseract"
}

// Recognize runs tesseract over a page image and parses the TSV output.
func (t *TesseractRecognizer) Recognize(ctx context.Context, image []byte, languages string) (*Recognized, error) {
	if languages == "" {
		languages = t.Languages
	}
	tmp, err := os.CreateTemp("", "docfides-ocr-*.png")
	if err != nil {
		return nil, fmt.Errorf("creating temp image: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(image); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("writing temp image: %w", err)
	}
	tmp.Close()

	args := []string{tmp.Name(), "stdout", "tsv"}
	if languages != "" {
		args = append(args, "-l", languages)
	}

	cmd := exec.CommandContext(ctx, t.binary(), args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("tesseract: %v: %s", err, strings.TrimSpace(stderr.String()))
	}

	return parseTesseractTSV(out.String()), nil
}

// parseTesseractTSV reconstructs text from tesseract's TSV rows and averages
// the per-word confidences. TSV columns: level, page_num, block_num, par_num,
// line_num, word_num, left, top, width, height, conf, text.
func parseTesseractTSV(tsv string) *Recognized {
	var (
		text     strings.Builder
		confSum  float64
		confN    int
		lastLine = -1
	)

	lines := strings.Split(tsv, "\n")
	for i, line := range lines {
		if i == 0 { // header row
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 12 {
			continue
		}

		conf, err := strconv.ParseFloat(fields[10], 64)
		if err != nil || conf < 0 { // conf -1 marks structural rows
			continue
		}
		word := strings.TrimSpace(fields[11])
		if word == "" {
			continue
		}

		lineNum, _ := strconv.Atoi(fields[4])
		if lastLine >= 0 && lineNum != lastLine {
			text.WriteString("\n")
		} else if text.Len() > 0 {
			text.WriteString(" ")
		}
		lastLine = lineNum

		text.WriteString(word)
		confSum += conf
		confN++
	}

	rec := &Recognized{Text: strings.TrimSpace(text.String())}
	if confN > 0 {
		rec.Confidence = confSum / float64(confN)
	}
	if rec.Confidence < MediumConfidence && rec.Text != "" {
		rec.Warnings = append(rec.Warnings,
			"low recognition confidence; consider re-scanning at higher resolution")
	}
	return rec
}
