package docfides

import "errors"

var (
	// ErrProjectNotFound is returned when a project ID does not exist.
	ErrProjectNotFound = errors.New("docfides: project not found")

	// ErrDocumentNotFound is returned when a document ID does not exist.
	ErrDocumentNotFound = errors.New("docfides: document not found")

	// ErrUnsupportedFormat is returned for unrecognized file formats.
	ErrUnsupportedFormat = errors.New("docfides: unsupported document format")

	// ErrExtractionFailed is returned when document extraction fails outright.
	ErrExtractionFailed = errors.New("docfides: extraction failed")

	// ErrDocumentUnreadable is returned when a document that must provide text
	// yields no usable text from any extraction method on any page.
	ErrDocumentUnreadable = errors.New("docfides: no usable text extracted from document")

	// ErrLLMUnavailable is returned when the LLM provider stays unreachable
	// after the retry budget is exhausted.
	ErrLLMUnavailable = errors.New("docfides: LLM provider unavailable")

	// ErrLLMRequestFailed is returned when an LLM request is permanently rejected.
	ErrLLMRequestFailed = errors.New("docfides: LLM request failed")

	// ErrMissingToolCall is returned when the model never produces the expected
	// structured response, even after a re-prompt.
	ErrMissingToolCall = errors.New("docfides: model did not produce the expected tool call")

	// ErrStagePrecondition is returned when a pipeline stage runs before a
	// required upstream output exists.
	ErrStagePrecondition = errors.New("docfides: stage precondition not met")

	// ErrStageNotFound is returned when replaying a stage name the pipeline
	// does not define.
	ErrStageNotFound = errors.New("docfides: unknown pipeline stage")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("docfides: store is closed")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("docfides: invalid configuration")

	// ErrVisionRequired is returned when a page requires vision processing
	// but no vision provider is configured.
	ErrVisionRequired = errors.New("docfides: vision provider required for this document")
)
