// Package store persists projects, uploaded documents, the extraction
// cache and per-stage pipeline outputs in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/docfides/docfides/extract"
)

// ErrNotFound is returned when a requested row does not exist. Callers
// wrap it into a more specific error at the API boundary.
var ErrNotFound = errors.New("store: not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Document struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Filename    string    `json:"filename"`
	MediaType   string    `json:"media_type"`
	Role        string    `json:"role"`
	ContentHash string    `json:"content_hash"`
	SizeBytes   int64     `json:"size_bytes"`
	StoragePath string    `json:"storage_path"`
	CreatedAt   time.Time `json:"created_at"`
}

// StageOutput is the persisted result of one pipeline stage for one
// project. Output holds the stage's JSON payload verbatim.
type StageOutput struct {
	ProjectID string          `json:"project_id"`
	Stage     string          `json:"stage"`
	Output    json.RawMessage `json:"output"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// StageRun records one attempt at a stage, successful or not.
type StageRun struct {
	ProjectID    string        `json:"project_id"`
	Stage        string        `json:"stage"`
	Status       string        `json:"status"`
	Error        string        `json:"error,omitempty"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Duration     time.Duration `json:"duration"`
	StartedAt    time.Time     `json:"started_at"`
}

type Store struct {
	db     *sql.DB
	closed bool
}

// New opens (creating if necessary) the SQLite database at path and
// applies the schema and any pending migrations.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) guard() error {
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Store) CreateProject(ctx context.Context, p Project) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name) VALUES (?, ?)`, p.ID, p.Name)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *Store) GetProject(ctx context.Context, id string) (Project, error) {
	var p Project
	if err := s.guard(); err != nil {
		return p, err
	}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at, updated_at FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return p, fmt.Errorf("select project: %w", err)
	}
	return p, nil
}

func (s *Store) TouchProject(ctx context.Context, id string) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE projects SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	return err
}

func (s *Store) AddDocument(ctx context.Context, d Document) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO documents (id, project_id, filename, media_type, role, content_hash, size_bytes, storage_path)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ProjectID, d.Filename, d.MediaType, d.Role, d.ContentHash, d.SizeBytes, d.StoragePath)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (Document, error) {
	var d Document
	if err := s.guard(); err != nil {
		return d, err
	}
	err := s.db.QueryRowContext(ctx, `
SELECT id, project_id, filename, media_type, role, content_hash, size_bytes, storage_path, created_at
FROM documents WHERE id = ?`, id).
		Scan(&d.ID, &d.ProjectID, &d.Filename, &d.MediaType, &d.Role,
			&d.ContentHash, &d.SizeBytes, &d.StoragePath, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return d, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return d, fmt.Errorf("select document: %w", err)
	}
	return d, nil
}

func (s *Store) ListDocuments(ctx context.Context, projectID string) ([]Document, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, project_id, filename, media_type, role, content_hash, size_bytes, storage_path, created_at
FROM documents WHERE project_id = ? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Filename, &d.MediaType, &d.Role,
			&d.ContentHash, &d.SizeBytes, &d.StoragePath, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// GetCachedExtraction returns the cached result for a content hash, or
// ErrNotFound when the document has not been extracted before.
func (s *Store) GetCachedExtraction(ctx context.Context, contentHash string) (*extract.Result, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM extraction_cache WHERE content_hash = ?`, contentHash).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("extraction %s: %w", contentHash, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select cached extraction: %w", err)
	}
	var res extract.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode cached extraction: %w", err)
	}
	return &res, nil
}

// PutCachedExtraction stores a result keyed by content hash. Writing
// the same hash again replaces the row, so concurrent extractions of
// identical content converge on one entry.
func (s *Store) PutCachedExtraction(ctx context.Context, contentHash, filename string, res *extract.Result) error {
	if err := s.guard(); err != nil {
		return err
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode extraction result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO extraction_cache (content_hash, filename, language, page_count, confidence, result, elapsed_ms)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		contentHash, filename, res.Language, res.PageCount, res.Confidence, raw, res.ElapsedMS)
	if err != nil {
		return fmt.Errorf("insert cached extraction: %w", err)
	}
	return nil
}

func (s *Store) SaveStageOutput(ctx context.Context, projectID, stage string, output json.RawMessage) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO stage_outputs (project_id, stage, output, updated_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(project_id, stage) DO UPDATE SET output = excluded.output, updated_at = CURRENT_TIMESTAMP`,
		projectID, stage, []byte(output))
	if err != nil {
		return fmt.Errorf("save stage output: %w", err)
	}
	return nil
}

func (s *Store) GetStageOutput(ctx context.Context, projectID, stage string) (StageOutput, error) {
	var out StageOutput
	if err := s.guard(); err != nil {
		return out, err
	}
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
SELECT project_id, stage, output, updated_at FROM stage_outputs
WHERE project_id = ? AND stage = ?`, projectID, stage).
		Scan(&out.ProjectID, &out.Stage, &raw, &out.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return out, fmt.Errorf("stage output %s/%s: %w", projectID, stage, ErrNotFound)
	}
	if err != nil {
		return out, fmt.Errorf("select stage output: %w", err)
	}
	out.Output = json.RawMessage(raw)
	return out, nil
}

func (s *Store) ListStageOutputs(ctx context.Context, projectID string) ([]StageOutput, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT project_id, stage, output, updated_at FROM stage_outputs
WHERE project_id = ? ORDER BY stage`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list stage outputs: %w", err)
	}
	defer rows.Close()

	var outs []StageOutput
	for rows.Next() {
		var out StageOutput
		var raw []byte
		if err := rows.Scan(&out.ProjectID, &out.Stage, &raw, &out.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stage output: %w", err)
		}
		out.Output = json.RawMessage(raw)
		outs = append(outs, out)
	}
	return outs, rows.Err()
}

func (s *Store) AppendStageRun(ctx context.Context, run StageRun) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO stage_runs (project_id, stage, status, error, input_tokens, output_tokens, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ProjectID, run.Stage, run.Status, run.Error,
		run.InputTokens, run.OutputTokens, run.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert stage run: %w", err)
	}
	return nil
}

func (s *Store) ListStageRuns(ctx context.Context, projectID string) ([]StageRun, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT project_id, stage, status, error, input_tokens, output_tokens, duration_ms, started_at
FROM stage_runs WHERE project_id = ? ORDER BY started_at, id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list stage runs: %w", err)
	}
	defer rows.Close()

	var runs []StageRun
	for rows.Next() {
		var run StageRun
		var durationMS int64
		if err := rows.Scan(&run.ProjectID, &run.Stage, &run.Status, &run.Error,
			&run.InputTokens, &run.OutputTokens, &durationMS, &run.StartedAt); err != nil {
			return nil, fmt.Errorf("scan stage run: %w", err)
		}
		run.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
