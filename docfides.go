// Package docfides is the entry point for the document extraction and
// AI-orchestration engine. It ingests project documents, extracts their
// text through an escalating ladder of methods, and drives the staged
// pipeline that turns extracted text into verified generated content.
package docfides

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/docfides/docfides/agent"
	"github.com/docfides/docfides/extract"
	"github.com/docfides/docfides/llm"
	"github.com/docfides/docfides/pipeline"
	"github.com/docfides/docfides/store"
)

// Engine is the main entry point for the DocFides engine.
type Engine interface {
	// CreateProject registers a new project and returns it.
	CreateProject(ctx context.Context, name string) (*store.Project, error)

	// AddDocument stores a document's bytes for a project and records its
	// metadata. Role is one of "primary", "supporting", "style".
	AddDocument(ctx context.Context, projectID, filename, mediaType string, role extract.Role, data []byte) (*store.Document, error)

	// ParseDocument extracts text from one stored document, consulting the
	// content-hash cache first and populating it after.
	ParseDocument(ctx context.Context, documentID string) (*extract.Result, error)

	// RunPipeline executes every pipeline stage in order for a project.
	RunPipeline(ctx context.Context, projectID string) ([]pipeline.StageResult, error)

	// ReplayStage re-runs a single named stage from persisted outputs.
	ReplayStage(ctx context.Context, projectID, stage string) (*pipeline.StageResult, error)

	// StageOutput returns a project's persisted output for one stage.
	StageOutput(ctx context.Context, projectID, stage string) (map[string]any, error)

	// Store exposes the underlying store for diagnostic access.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg       Config
	store     *store.Store
	filesDir  string
	extractor *extract.Engine
	runner    *pipeline.Runner
}

// New creates a DocFides engine from configuration. Everything is wired
// here by constructor injection; nothing is resolved lazily at call time.
func New(cfg Config) (Engine, error) {
	dbPath := cfg.resolveDBPath()

	s, err := store.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	filesDir := filepath.Join(filepath.Dir(dbPath), "files")
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		s.Close()
		return nil, fmt.Errorf("creating files directory: %w", err)
	}

	chatLLM, err := llm.NewProvider(llm.Config{
		Provider: cfg.Chat.Provider,
		Model:    cfg.Chat.Model,
		BaseURL:  cfg.Chat.BaseURL,
		APIKey:   cfg.Chat.APIKey,
		Timeout:  cfg.AgentTimeout,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating chat provider: %w", err)
	}

	var visionLLM llm.VisionProvider
	if cfg.Vision.Provider != "" {
		visionLLM, err = llm.NewVisionProvider(llm.Config{
			Provider: cfg.Vision.Provider,
			Model:    cfg.Vision.Model,
			BaseURL:  cfg.Vision.BaseURL,
			APIKey:   cfg.Vision.APIKey,
			Timeout:  cfg.AgentTimeout,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating vision provider: %w", err)
		}
	}

	extractor := extract.NewEngine(
		cfg.Extraction,
		extract.NewTesseractRecognizer(cfg.OCRLanguages),
		&extract.PopplerRasterizer{},
		visionLLM,
	)

	caller := agent.NewCaller(chatLLM, agent.Policy{
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     cfg.Backoff,
	})

	e := &engine{
		cfg:       cfg,
		store:     s,
		filesDir:  filesDir,
		extractor: extractor,
	}
	e.runner = pipeline.NewRunner(pipeline.DefaultStages(e, caller), s, slog.Default())
	return e, nil
}

func (e *engine) CreateProject(ctx context.Context, name string) (*store.Project, error) {
	p := store.Project{ID: uuid.NewString(), Name: name}
	if err := e.store.CreateProject(ctx, p); err != nil {
		return nil, fmt.Errorf("creating project: %w", err)
	}
	slog.Info("project created", "project", p.ID, "name", name)
	return &p, nil
}

func (e *engine) AddDocument(ctx context.Context, projectID, filename, mediaType string, role extract.Role, data []byte) (*store.Document, error) {
	if _, err := e.store.GetProject(ctx, projectID); err != nil {
		return nil, e.mapStoreErr(err)
	}
	if cat := extract.Classify(mediaType, filename); cat == extract.CategoryUnsupported {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}
	if role == "" {
		role = extract.RolePrimary
	}

	hash := contentHash(data)
	path := filepath.Join(e.filesDir, hash)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("storing document bytes: %w", err)
	}

	doc := store.Document{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		Filename:    filepath.Base(filename),
		MediaType:   mediaType,
		Role:        string(role),
		ContentHash: hash,
		SizeBytes:   int64(len(data)),
		StoragePath: path,
	}
	if err := e.store.AddDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("recording document: %w", err)
	}
	e.store.TouchProject(ctx, projectID)
	slog.Info("document added",
		"project", projectID, "document", doc.ID,
		"file", doc.Filename, "role", doc.Role, "bytes", doc.SizeBytes)
	return &doc, nil
}

func (e *engine) ParseDocument(ctx context.Context, documentID string) (*extract.Result, error) {
	doc, err := e.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, e.mapStoreErr(err)
	}
	return e.parseStored(ctx, doc)
}

// parseStored is the cache-first extraction path shared by ParseDocument
// and the pipeline's parse stage.
func (e *engine) parseStored(ctx context.Context, doc store.Document) (*extract.Result, error) {
	if cached, err := e.store.GetCachedExtraction(ctx, doc.ContentHash); err == nil {
		slog.Info("extraction cache hit", "file", doc.Filename, "hash", doc.ContentHash)
		return cached, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("consulting extraction cache: %w", err)
	}

	data, err := os.ReadFile(doc.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("reading document bytes: %w", err)
	}

	start := time.Now()
	result, err := e.extractor.Extract(ctx, extract.Input{
		Data:      data,
		Filename:  doc.Filename,
		MediaType: doc.MediaType,
		Role:      extract.Role(doc.Role),
	})
	if err != nil {
		switch {
		case errors.Is(err, extract.ErrUnsupported):
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		case errors.Is(err, extract.ErrNoText):
			if e.cfg.Vision.Provider == "" {
				return nil, fmt.Errorf("%w: %s", ErrVisionRequired, doc.Filename)
			}
			return nil, fmt.Errorf("%w: %s", ErrDocumentUnreadable, doc.Filename)
		default:
			return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
		}
	}
	slog.Info("document extracted",
		"file", doc.Filename, "pages", result.PageCount,
		"confidence", result.Confidence, "language", result.Language,
		"elapsed", time.Since(start).Round(time.Millisecond))

	if err := e.store.PutCachedExtraction(ctx, doc.ContentHash, doc.Filename, result); err != nil {
		slog.Warn("caching extraction result", "file", doc.Filename, "error", err)
	}
	return result, nil
}

// ParseProject extracts every project document concurrently and builds
// the parse stage output. Documents are independent, so they run in
// parallel; page-level concurrency inside each is bounded separately.
func (e *engine) ParseProject(ctx context.Context, projectID string) (*pipeline.ParseOutput, error) {
	docs, err := e.store.ListDocuments(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: project %s has no documents", ErrDocumentNotFound, projectID)
	}

	parsed := make([]pipeline.ParsedDocument, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(2)
	for i, doc := range docs {
		g.Go(func() error {
			result, err := e.parseStored(gctx, doc)
			if err != nil {
				return fmt.Errorf("document %s: %w", doc.Filename, err)
			}
			parsed[i] = pipeline.ParsedDocument{
				Filename:   doc.Filename,
				Role:       doc.Role,
				Language:   result.Language,
				PageCount:  result.PageCount,
				Confidence: result.Confidence,
				Text:       result.RawText,
				Warnings:   result.Warnings,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(parsed, func(i, j int) bool {
		return roleRank(parsed[i].Role) < roleRank(parsed[j].Role)
	})
	var sum float64
	for _, d := range parsed {
		sum += d.Confidence
	}
	return &pipeline.ParseOutput{
		Documents:  parsed,
		Confidence: sum / float64(len(parsed)),
	}, nil
}

func roleRank(role string) int {
	switch extract.Role(role) {
	case extract.RolePrimary:
		return 0
	case extract.RoleSupporting:
		return 1
	default:
		return 2
	}
}

func (e *engine) RunPipeline(ctx context.Context, projectID string) ([]pipeline.StageResult, error) {
	pctx, err := e.newPipelineContext(ctx, projectID)
	if err != nil {
		return nil, err
	}
	slog.Info("pipeline run started", "project", projectID)
	results, err := e.runner.Run(ctx, pctx)
	if err != nil {
		return results, e.mapPipelineErr(err)
	}
	slog.Info("pipeline run finished", "project", projectID, "stages", len(results))
	return results, nil
}

func (e *engine) ReplayStage(ctx context.Context, projectID, stage string) (*pipeline.StageResult, error) {
	pctx, err := e.newPipelineContext(ctx, projectID)
	if err != nil {
		return nil, err
	}
	slog.Info("stage replay started", "project", projectID, "stage", stage)
	result, err := e.runner.Replay(ctx, pctx, stage)
	if err != nil {
		return nil, e.mapPipelineErr(err)
	}
	return result, nil
}

func (e *engine) newPipelineContext(ctx context.Context, projectID string) (*pipeline.Context, error) {
	p, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, e.mapStoreErr(err)
	}
	docs, err := e.store.ListDocuments(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	pctx := pipeline.NewContext(p.ID, "")
	for _, d := range docs {
		if extract.Role(d.Role) == extract.RoleStyle {
			pctx.HasStyleInput = true
			break
		}
	}
	return pctx, nil
}

func (e *engine) StageOutput(ctx context.Context, projectID, stage string) (map[string]any, error) {
	out, err := e.store.GetStageOutput(ctx, projectID, stage)
	if err != nil {
		return nil, e.mapStoreErr(err)
	}
	var m map[string]any
	if err := json.Unmarshal(out.Output, &m); err != nil {
		return nil, fmt.Errorf("decoding stage output: %w", err)
	}
	return m, nil
}

func (e *engine) Store() *store.Store {
	return e.store
}

func (e *engine) Close() error {
	return e.store.Close()
}

// mapStoreErr translates store-level sentinels into the package's own.
func (e *engine) mapStoreErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		if strings.HasPrefix(err.Error(), "document ") {
			return fmt.Errorf("%w: %v", ErrDocumentNotFound, err)
		}
		if strings.HasPrefix(err.Error(), "stage output ") {
			return fmt.Errorf("%w: %v", ErrStageNotFound, err)
		}
		return fmt.Errorf("%w: %v", ErrProjectNotFound, err)
	case errors.Is(err, store.ErrClosed):
		return fmt.Errorf("%w: %v", ErrStoreClosed, err)
	default:
		return err
	}
}

func (e *engine) mapPipelineErr(err error) error {
	var precond *pipeline.PreconditionError
	switch {
	case errors.As(err, &precond):
		return fmt.Errorf("%w: %v", ErrStagePrecondition, err)
	case errors.Is(err, pipeline.ErrUnknownStage):
		return fmt.Errorf("%w: %v", ErrStageNotFound, err)
	case errors.Is(err, agent.ErrMissingTool):
		return fmt.Errorf("%w: %v", ErrMissingToolCall, err)
	case errors.Is(err, agent.ErrExhausted):
		return fmt.Errorf("%w: %v", ErrLLMUnavailable, err)
	default:
		// A bare provider error at this point is a permanent rejection: the
		// agent layer already retried everything transient.
		if _, ok := llm.AsAPIError(err); ok {
			return fmt.Errorf("%w: %v", ErrLLMRequestFailed, err)
		}
		return err
	}
}

// contentHash computes the SHA-256 hash of a document's bytes.
func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
