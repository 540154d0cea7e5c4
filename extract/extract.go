// Package extract turns raw document bytes into ordered, confidence-scored
// text and table units. Paginated visual formats (PDF, images, legacy Word)
// go through a per-page escalation of extraction methods; structured formats
// (spreadsheets, plain text) are read in a single deterministic pass.
package extract

// Method identifies which extraction method produced a unit or page.
type Method string

const (
	MethodNative Method = "native" // text read from the document's own structure
	MethodOCR    Method = "ocr"    // optical recognition over a rendered page
	MethodVision Method = "vision" // vision-model transcription fallback
	MethodFailed Method = "failed" // all methods below the yield threshold
)

// Kind classifies the content of an extraction unit.
type Kind string

const (
	KindText    Kind = "text"
	KindHeading Kind = "heading"
	KindList    Kind = "list"
	KindTable   Kind = "table"
)

// Region is a normalized bounding box within a page. Zero value means the
// position is unknown (full-page attribution).
type Region struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// MergedCell describes a merged cell range in a table, zero-indexed.
type MergedCell struct {
	Row     int `json:"row"`
	Col     int `json:"col"`
	RowSpan int `json:"row_span"`
	ColSpan int `json:"col_span"`
}

// TableData is a rectangular table: every row is padded or truncated to the
// header width before it leaves this package.
type TableData struct {
	Headers     []string     `json:"headers"`
	Rows        [][]string   `json:"rows"`
	MergedCells []MergedCell `json:"merged_cells,omitempty"`
	Confidence  float64      `json:"confidence"`
	Page        int          `json:"page"`
}

// Unit is one atomic piece of extracted content. Units are immutable once
// produced and owned by the Result that contains them.
type Unit struct {
	ID         string     `json:"id"`
	Kind       Kind       `json:"kind"`
	Content    string     `json:"content"`
	Table      *TableData `json:"table,omitempty"`
	Method     Method     `json:"method"`
	Confidence float64    `json:"confidence"`
	Page       int        `json:"page"`
	Region     Region     `json:"region"`
	Warnings   []string   `json:"warnings,omitempty"`
}

// PageResult is one page's outcome of the escalation engine. Created once per
// page per document pass and never mutated afterwards.
type PageResult struct {
	Page       int         `json:"page"`
	Method     Method      `json:"method"`
	CharCount  int         `json:"char_count"`
	Text       string      `json:"text"`
	Units      []Unit      `json:"units"`
	Tables     []TableData `json:"tables,omitempty"`
	Confidence float64     `json:"confidence"`
	Warnings   []string    `json:"warnings,omitempty"`
}

// Result is the document-level extraction artifact: all units and tables in
// page order, the raw text with page separators, and aggregate confidence.
// This is what gets cached by content hash.
type Result struct {
	Units      []Unit      `json:"units"`
	Tables     []TableData `json:"tables,omitempty"`
	RawText    string      `json:"raw_text"`
	Confidence float64     `json:"confidence"`
	Language   string      `json:"language,omitempty"`
	PageCount  int         `json:"page_count"`
	ElapsedMS  int64       `json:"elapsed_ms"`
	Warnings   []string    `json:"warnings,omitempty"`
}

// Role states what the document is for downstream. Primary documents must
// yield text; supporting documents may degrade to warnings.
type Role string

const (
	RolePrimary    Role = "primary"
	RoleSupporting Role = "supporting"
	RoleStyle      Role = "style"
)

// Input is one document handed to the engine.
type Input struct {
	Data      []byte
	Filename  string
	MediaType string
	Role      Role
}

// Confidence bands. High units are eligible for silent auto-acceptance,
// medium units are flagged for optional review, low units require review.
const (
	HighConfidence   = 90.0
	MediumConfidence = 70.0
)

// Band returns "high", "medium" or "low" for a confidence score.
func Band(confidence float64) string {
	switch {
	case confidence >= HighConfidence:
		return "high"
	case confidence >= MediumConfidence:
		return "medium"
	default:
		return "low"
	}
}

// Policy holds the escalation thresholds and worker limits. The defaults are
// empirical; treat them as tunable policy rather than constants.
type Policy struct {
	// MinYieldChars is the minimum extracted character count for a method to
	// be accepted on a page.
	MinYieldChars int `json:"min_yield_chars" yaml:"min_yield_chars"`

	// TargetDPI is the resolution pages are rendered at for recognition.
	TargetDPI int `json:"target_dpi" yaml:"target_dpi"`

	// MinDPI is the lowest usable source resolution; images below it are
	// upscaled before recognition.
	MinDPI int `json:"min_dpi" yaml:"min_dpi"`

	// NativeConfidence is assigned to pages read from the document structure.
	NativeConfidence float64 `json:"native_confidence" yaml:"native_confidence"`

	// OCRCeiling caps recognizer self-confidence.
	OCRCeiling float64 `json:"ocr_ceiling" yaml:"ocr_ceiling"`

	// VisionConfidence is assigned to vision-model transcriptions.
	VisionConfidence float64 `json:"vision_confidence" yaml:"vision_confidence"`

	// FailedConfidence is assigned to pages where every method fell short.
	FailedConfidence float64 `json:"failed_confidence" yaml:"failed_confidence"`

	// ShortUnitChars and ShortUnitPenalty penalize very short units, which
	// are usually recognition artifacts.
	ShortUnitChars   int     `json:"short_unit_chars" yaml:"short_unit_chars"`
	ShortUnitPenalty float64 `json:"short_unit_penalty" yaml:"short_unit_penalty"`

	// TableConfidenceMin/Max bound the heuristic line-scan table detector.
	TableConfidenceMin float64 `json:"table_confidence_min" yaml:"table_confidence_min"`
	TableConfidenceMax float64 `json:"table_confidence_max" yaml:"table_confidence_max"`

	// SheetConfidence is assigned to natively parsed spreadsheet tables.
	SheetConfidence float64 `json:"sheet_confidence" yaml:"sheet_confidence"`

	// PageWorkers bounds concurrent page processing within one document.
	PageWorkers int `json:"page_workers" yaml:"page_workers"`

	// VisionWorkers bounds concurrent vision fallback calls independently of
	// page concurrency, to cap external spend.
	VisionWorkers int `json:"vision_workers" yaml:"vision_workers"`
}

// DefaultPolicy returns the stock escalation policy.
func DefaultPolicy() Policy {
	return Policy{
		MinYieldChars:      50,
		TargetDPI:          300,
		MinDPI:             150,
		NativeConfidence:   95,
		OCRCeiling:         88,
		VisionConfidence:   85,
		FailedConfidence:   30,
		ShortUnitChars:     10,
		ShortUnitPenalty:   15,
		TableConfidenceMin: 65,
		TableConfidenceMax: 78,
		SheetConfidence:    98,
		PageWorkers:        4,
		VisionWorkers:      1,
	}
}
