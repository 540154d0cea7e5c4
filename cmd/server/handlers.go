package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/docfides/docfides"
	"github.com/docfides/docfides/extract"
)

// maxUploadBytes caps document uploads at 25 MB.
const maxUploadBytes = 25 << 20

type handler struct {
	engine docfides.Engine
}

func newHandler(e docfides.Engine) *handler {
	return &handler{engine: e}
}

// POST /projects
func (h *handler) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	p, err := h.engine.CreateProject(r.Context(), req.Name)
	if err != nil {
		h.writeEngineError(w, "create project", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// POST /projects/{id}/documents
// Multipart upload: "file" part plus optional "role" field.
func (h *handler) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds 25MB limit")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart 'file' part is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading upload")
		return
	}

	// Sanitise filename to prevent path traversal.
	safeName := filepath.Base(header.Filename)
	role := extract.Role(r.FormValue("role"))
	mediaType := header.Header.Get("Content-Type")

	doc, err := h.engine.AddDocument(r.Context(), projectID, safeName, mediaType, role, data)
	if err != nil {
		h.writeEngineError(w, "upload document", err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// GET /projects/{id}/documents
func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.Store().ListDocuments(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeEngineError(w, "list documents", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// POST /documents/{id}/parse
func (h *handler) handleParseDocument(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	result, err := h.engine.ParseDocument(ctx, r.PathValue("id"))
	if err != nil {
		h.writeEngineError(w, "parse document", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// POST /projects/{id}/run
func (h *handler) handleRunPipeline(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	projectID := r.PathValue("id")
	results, err := h.engine.RunPipeline(ctx, projectID)
	if err != nil {
		// Completed stages are still useful to the caller on failure.
		status := statusFor(err)
		slog.Error("pipeline run error", "project", projectID, "error", err)
		writeJSON(w, status, map[string]any{
			"error":   err.Error(),
			"results": results,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// POST /projects/{id}/replay/{stage}
func (h *handler) handleReplayStage(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	result, err := h.engine.ReplayStage(ctx, r.PathValue("id"), r.PathValue("stage"))
	if err != nil {
		h.writeEngineError(w, "replay stage", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GET /projects/{id}/stages/{stage}
func (h *handler) handleStageOutput(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.StageOutput(r.Context(), r.PathValue("id"), r.PathValue("stage"))
	if err != nil {
		h.writeEngineError(w, "stage output", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /projects/{id}/history
func (h *handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	runs, err := h.engine.Store().ListStageRuns(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeEngineError(w, "stage history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) writeEngineError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error(op, "error", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, docfides.ErrProjectNotFound),
		errors.Is(err, docfides.ErrDocumentNotFound),
		errors.Is(err, docfides.ErrStageNotFound):
		return http.StatusNotFound
	case errors.Is(err, docfides.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, docfides.ErrStagePrecondition):
		return http.StatusConflict
	case errors.Is(err, docfides.ErrDocumentUnreadable),
		errors.Is(err, docfides.ErrVisionRequired):
		return http.StatusUnprocessableEntity
	case errors.Is(err, docfides.ErrLLMUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, docfides.ErrLLMRequestFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
