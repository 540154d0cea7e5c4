package docfides

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/docfides/docfides/agent"
	"github.com/docfides/docfides/extract"
	"github.com/docfides/docfides/llm"
	"github.com/docfides/docfides/pipeline"
	"github.com/docfides/docfides/store"
)

type countingRecognizer struct {
	text  string
	calls int
}

func (c *countingRecognizer) Recognize(ctx context.Context, image []byte, languages string) (*extract.Recognized, error) {
	c.calls++
	return &extract.Recognized{Text: c.text, Confidence: 80}, nil
}

func newTestEngine(t *testing.T, cfg Config, rec extract.Recognizer) *engine {
	t.Helper()
	dir := t.TempDir()

	s, err := store.New(filepath.Join(dir, "docfides.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	filesDir := filepath.Join(dir, "files")
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		t.Fatal(err)
	}

	e := &engine{
		cfg:       cfg,
		store:     s,
		filesDir:  filesDir,
		extractor: extract.NewEngine(cfg.Extraction, rec, nil, nil),
	}
	t.Cleanup(func() { e.Close() })
	return e
}

var recognizedText = strings.Repeat("recognized sentence with plenty of characters. ", 3)

func TestParseDocumentCachesByContent(t *testing.T) {
	ctx := context.Background()
	rec := &countingRecognizer{text: recognizedText}
	e := newTestEngine(t, DefaultConfig(), rec)

	p, err := e.CreateProject(ctx, "cache test")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	data := []byte("pretend these are scanned page bytes")
	doc, err := e.AddDocument(ctx, p.ID, "scan.png", "image/png", extract.RoleSupporting, data)
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	first, err := e.ParseDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("first ParseDocument: %v", err)
	}
	if rec.calls != 1 {
		t.Fatalf("recognizer calls after first parse = %d, want 1", rec.calls)
	}

	second, err := e.ParseDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("second ParseDocument: %v", err)
	}
	if rec.calls != 1 {
		t.Errorf("recognizer calls after second parse = %d, want 1 (cache hit)", rec.calls)
	}
	if second.RawText != first.RawText || second.Confidence != first.Confidence {
		t.Errorf("cached result diverged: %v vs %v", second.Confidence, first.Confidence)
	}
	if len(second.Units) != len(first.Units) {
		t.Errorf("cached units = %d, want %d", len(second.Units), len(first.Units))
	}

	// Identical bytes under a different filename share the cache entry.
	dup, err := e.AddDocument(ctx, p.ID, "copy-of-scan.png", "image/png", extract.RoleSupporting, data)
	if err != nil {
		t.Fatalf("AddDocument duplicate: %v", err)
	}
	if _, err := e.ParseDocument(ctx, dup.ID); err != nil {
		t.Fatalf("ParseDocument duplicate: %v", err)
	}
	if rec.calls != 1 {
		t.Errorf("recognizer calls after duplicate parse = %d, want 1", rec.calls)
	}
}

func TestParseDocumentUnreadablePrimary(t *testing.T) {
	ctx := context.Background()

	addUnreadable := func(t *testing.T, e *engine) string {
		p, err := e.CreateProject(ctx, "unreadable")
		if err != nil {
			t.Fatalf("CreateProject: %v", err)
		}
		doc, err := e.AddDocument(ctx, p.ID, "blank.png", "image/png", extract.RolePrimary, []byte("blank"))
		if err != nil {
			t.Fatalf("AddDocument: %v", err)
		}
		return doc.ID
	}

	t.Run("no vision configured", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Vision.Provider = ""
		e := newTestEngine(t, cfg, &countingRecognizer{text: ""})

		_, err := e.ParseDocument(ctx, addUnreadable(t, e))
		if !errors.Is(err, ErrVisionRequired) {
			t.Fatalf("err = %v, want ErrVisionRequired", err)
		}
	})

	t.Run("vision configured", func(t *testing.T) {
		e := newTestEngine(t, DefaultConfig(), &countingRecognizer{text: ""})

		_, err := e.ParseDocument(ctx, addUnreadable(t, e))
		if !errors.Is(err, ErrDocumentUnreadable) {
			t.Fatalf("err = %v, want ErrDocumentUnreadable", err)
		}
	})
}

func TestMapPipelineErr(t *testing.T) {
	e := &engine{}

	tests := []struct {
		name string
		in   error
		want error
	}{
		{
			name: "precondition",
			in:   fmt.Errorf("run: %w", &pipeline.PreconditionError{Stage: "mapping", Missing: []string{"fields"}}),
			want: ErrStagePrecondition,
		},
		{
			name: "unknown stage",
			in:   fmt.Errorf("replay: %w", pipeline.ErrUnknownStage),
			want: ErrStageNotFound,
		},
		{
			name: "missing tool call",
			in:   fmt.Errorf("stage: %w", agent.ErrMissingTool),
			want: ErrMissingToolCall,
		},
		{
			name: "retries exhausted",
			in:   fmt.Errorf("stage: %w", agent.ErrExhausted),
			want: ErrLLMUnavailable,
		},
		{
			name: "permanent rejection",
			in:   fmt.Errorf("stage: %w", &llm.APIError{StatusCode: 400, Body: "bad request"}),
			want: ErrLLMRequestFailed,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := e.mapPipelineErr(tc.in); !errors.Is(got, tc.want) {
				t.Errorf("mapPipelineErr(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
