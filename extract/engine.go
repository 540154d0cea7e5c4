package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/docfides/docfides/llm"
)

var (
	// ErrUnsupported is returned for document categories the engine cannot read.
	ErrUnsupported = errors.New("extract: unsupported document category")

	// ErrNoText is returned when a primary document yields no usable text
	// from any method on any page.
	ErrNoText = errors.New("extract: no usable text in document")
)

// Engine runs per-document extraction. Structured formats go through their
// deterministic extractors; paginated visual formats go through the method
// escalation. All collaborators are injected; any of them may be nil, in
// which case the corresponding escalation step reports a warning instead of
// being attempted.
type Engine struct {
	policy     Policy
	recognizer Recognizer
	rasterizer Rasterizer
	vision     llm.VisionProvider
	visionSem  *semaphore.Weighted

	// pdfText reads the native text layer; swapped out in tests.
	pdfText func([]byte) ([]string, error)
}

// NewEngine builds an extraction engine with the given escalation policy.
func NewEngine(policy Policy, recognizer Recognizer, rasterizer Rasterizer, vision llm.VisionProvider) *Engine {
	if policy.PageWorkers <= 0 {
		policy.PageWorkers = 1
	}
	if policy.VisionWorkers <= 0 {
		policy.VisionWorkers = 1
	}
	return &Engine{
		policy:     policy,
		recognizer: recognizer,
		rasterizer: rasterizer,
		vision:     vision,
		visionSem:  semaphore.NewWeighted(int64(policy.VisionWorkers)),
		pdfText:    pdfPageTexts,
	}
}

// Extract processes one document into a merged, confidence-scored Result.
func (e *Engine) Extract(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()
	category := Classify(in.MediaType, in.Filename)

	var (
		pages []PageResult
		err   error
	)

	switch category {
	case CategorySpreadsheet:
		pages, err = e.policy.extractXLSX(in.Data)
	case CategoryText:
		pages = []PageResult{*e.policy.extractPlainText(in.Data, in.Filename)}
	case CategoryDOCX:
		var page *PageResult
		page, err = e.policy.extractDOCX(in.Data)
		if err == nil {
			pages = []PageResult{*page}
		}
	case CategoryLegacyDoc:
		pages = []PageResult{e.extractLegacyDoc(ctx, in.Data)}
	case CategoryPDF:
		pages, err = e.extractPDF(ctx, in.Data)
	case CategoryImage:
		pages = []PageResult{e.escalatePage(ctx, 1, "", in.Data, "")}
	default:
		return nil, fmt.Errorf("%w: %s (%s)", ErrUnsupported, in.Filename, category)
	}
	if err != nil {
		return nil, fmt.Errorf("extracting %s: %w", in.Filename, err)
	}

	result := e.merge(pages, start)

	if in.Role == RolePrimary && !hasUsableText(result) {
		return nil, fmt.Errorf("%w: %s", ErrNoText, in.Filename)
	}

	slog.Info("extract: document complete",
		"file", in.Filename,
		"category", string(category),
		"pages", result.PageCount,
		"units", len(result.Units),
		"confidence", result.Confidence,
		"elapsed_ms", result.ElapsedMS)

	return result, nil
}

// extractPDF reads the native text layer first and escalates only the pages
// whose yield falls short. Pages are processed concurrently under the worker
// bound; results are re-sorted by page number before merging.
func (e *Engine) extractPDF(ctx context.Context, data []byte) ([]PageResult, error) {
	texts, err := e.pdfText(data)
	if err != nil {
		// Structurally unreadable text layer. The document may still be a
		// valid scan, so fall back to rendering alone.
		texts = make([]string, ProbePDFPageCount(data))
	}
	if len(texts) == 0 {
		texts = []string{""}
	}

	// Render page images once, only if at least one page needs escalation.
	var images [][]byte
	needsRender := false
	for _, t := range texts {
		if len(t) < e.policy.MinYieldChars {
			needsRender = true
			break
		}
	}
	if needsRender && e.rasterizer != nil {
		images, err = e.rasterizer.RenderPages(ctx, data, e.policy.TargetDPI)
		if err != nil {
			slog.Warn("extract: page rendering failed, recognition unavailable", "error", err)
			images = nil
		}
	}

	// Language detected from whatever native text exists steers the
	// recognizer on the pages that need it.
	languages := ""
	if lang := DetectLanguage(strings.Join(texts, "\n")); lang != "" {
		languages = OCRLanguageHint(lang)
	}

	results := make([]PageResult, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.policy.PageWorkers)

	for i := range texts {
		g.Go(func() error {
			var img []byte
			if i < len(images) {
				img = images[i]
			}
			results[i] = e.escalatePage(gctx, i+1, texts[i], img, languages)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(a, b int) bool { return results[a].Page < results[b].Page })
	return results, nil
}

// escalatePage runs the method ladder for one page: native text layer, then
// recognition over the rendered image, then the vision fallback. The page is
// always included in the document — total failure degrades confidence and
// keeps the best partial text, it never deletes the page.
func (e *Engine) escalatePage(ctx context.Context, page int, nativeText string, img []byte, languages string) PageResult {
	// Method A: native/structural.
	if len(nativeText) >= e.policy.MinYieldChars {
		return e.pageFromText(page, nativeText, MethodNative, e.policy.NativeConfidence, nil)
	}

	bestText := nativeText
	var warnings []string

	// Method B: optical recognition over the preprocessed image.
	if img != nil && e.recognizer != nil {
		rec, err := e.recognizer.Recognize(ctx, e.policy.preprocessImage(img), languages)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("page %d: recognition failed: %v", page, err))
		} else {
			warnings = append(warnings, rec.Warnings...)
			if len(rec.Text) >= e.policy.MinYieldChars {
				return e.pageFromText(page, rec.Text, MethodOCR, rec.Confidence, warnings)
			}
			if len(rec.Text) > len(bestText) {
				bestText = rec.Text
			}
		}
	} else if img != nil && e.recognizer == nil {
		warnings = append(warnings, fmt.Sprintf("page %d: no recognizer configured", page))
	}

	// Method C: vision fallback, only for pages where both A and B fell
	// short, rate-limited independently of page concurrency.
	if img != nil && e.vision != nil {
		text, err := e.transcribePage(ctx, img)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("page %d: vision transcription failed: %v", page, err))
		} else if len(text) >= e.policy.MinYieldChars {
			return e.pageFromText(page, text, MethodVision, e.policy.VisionConfidence, warnings)
		} else if len(text) > len(bestText) {
			bestText = text
		}
	}

	// All methods below threshold: keep the longest partial, mark failed.
	warnings = append(warnings, fmt.Sprintf(
		"page %d: all extraction methods yielded under %d characters", page, e.policy.MinYieldChars))
	slog.Warn("extract: page failed all methods", "page", page, "best_chars", len(bestText))

	return e.pageFromText(page, bestText, MethodFailed, e.policy.FailedConfidence, warnings)
}

// extractLegacyDoc pulls the WordDocument stream text and applies the same
// yield rule. Legacy binaries cannot be rendered for recognition, so a thin
// stream collapses straight to the failed method with the partial retained.
func (e *Engine) extractLegacyDoc(ctx context.Context, data []byte) PageResult {
	text, err := legacyDocText(data)
	if err != nil {
		return e.pageFromText(1, "", MethodFailed, e.policy.FailedConfidence,
			[]string{fmt.Sprintf("legacy document stream unreadable: %v", err)})
	}
	if len(text) >= e.policy.MinYieldChars {
		// The binary stream is less reliable than a real text layer.
		conf := e.policy.NativeConfidence - 5
		return e.pageFromText(1, text, MethodNative, conf, nil)
	}
	return e.pageFromText(1, text, MethodFailed, e.policy.FailedConfidence,
		[]string{"legacy document yielded too little text and cannot be rendered for recognition"})
}

// pageFromText builds a PageResult from page text: unit splitting plus the
// heuristic table scan for non-native methods.
func (e *Engine) pageFromText(page int, text string, method Method, confidence float64, warnings []string) PageResult {
	units := pageUnits(text, page, method, confidence)

	var tables []TableData
	if method == MethodOCR || method == MethodVision {
		tables = e.policy.DetectTables(text, page)
		for _, t := range tables {
			units = append(units, tableUnit(t, method))
		}
	}

	return PageResult{
		Page:       page,
		Method:     method,
		CharCount:  len(text),
		Text:       text,
		Units:      units,
		Tables:     tables,
		Confidence: clampScore(confidence),
		Warnings:   warnings,
	}
}

// transcribePage sends one page image to the vision model under the vision
// concurrency bound.
func (e *Engine) transcribePage(ctx context.Context, img []byte) (string, error) {
	if err := e.visionSem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer e.visionSem.Release(1)

	resp, err := e.vision.ChatWithImages(ctx, llm.NewPageTranscriptionRequest(img))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// merge concatenates page results in page order into the document Result,
// applying the confidence adjustment rules to every unit.
func (e *Engine) merge(pages []PageResult, start time.Time) *Result {
	var (
		units    []Unit
		tables   []TableData
		texts    []string
		warnings []string
	)

	for _, page := range pages {
		for _, u := range page.Units {
			u.Confidence = e.policy.adjustConfidence(u)
			units = append(units, u)
		}
		tables = append(tables, page.Tables...)
		texts = append(texts, page.Text)
		warnings = append(warnings, page.Warnings...)
		for _, u := range page.Units {
			warnings = append(warnings, u.Warnings...)
		}
	}

	raw := joinPageTexts(texts)
	confidence := aggregateConfidence(units)
	if len(units) == 0 {
		warnings = append(warnings, "document produced no extraction units")
	}

	return &Result{
		Units:      units,
		Tables:     tables,
		RawText:    raw,
		Confidence: confidence,
		Language:   DetectLanguage(raw),
		PageCount:  len(pages),
		ElapsedMS:  time.Since(start).Milliseconds(),
		Warnings:   dedupeWarnings(warnings),
	}
}

// joinPageTexts joins page texts with a visible separator so page boundaries
// survive into the raw text.
func joinPageTexts(texts []string) string {
	if len(texts) == 1 {
		return texts[0]
	}
	var b strings.Builder
	for i, t := range texts {
		if i > 0 {
			fmt.Fprintf(&b, "\n\n--- page %d ---\n\n", i+1)
		}
		b.WriteString(t)
	}
	return b.String()
}

// hasUsableText reports whether any page cleared the failed state with
// actual content.
func hasUsableText(r *Result) bool {
	for _, u := range r.Units {
		if u.Method != MethodFailed && strings.TrimSpace(u.Content) != "" {
			return true
		}
	}
	return false
}

// newUnit creates an immutable extraction unit.
func newUnit(kind Kind, content string, page int, method Method, confidence float64) Unit {
	return Unit{
		ID:         uuid.NewString(),
		Kind:       kind,
		Content:    content,
		Method:     method,
		Confidence: confidence,
		Page:       page,
	}
}

// tableUnit wraps a detected table as a unit so it participates in ordering
// and confidence aggregation.
func tableUnit(t TableData, method Method) Unit {
	u := newUnit(KindTable, renderTableText(t), t.Page, method, t.Confidence)
	u.Table = &t
	return u
}
