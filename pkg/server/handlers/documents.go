package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/0himera/neraAIchat/pkg/core"
	"github.com/0himera/neraAIchat/pkg/server/rag"
)

// DocumentsHandler serves the document ingest and retrieval API.
type DocumentsHandler struct {
	Engine *rag.Engine
	Logger *slog.Logger
	// MaxUploadBytes bounds the multipart body; 0 means unbounded.
	MaxUploadBytes int64
}

// Upload ingests one multipart file under the "file" form field.
func (h DocumentsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	body := r.Body
	if h.MaxUploadBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	}
	r.Body = body

	file, header, err := r.FormFile("file")
	if err != nil {
		writeCoreError(w, http.StatusBadRequest, core.NewInvalidRequestError("multipart upload with a file field is required"))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeCoreError(w, http.StatusBadRequest, core.NewInvalidRequestError("could not read uploaded file"))
		return
	}

	filename := strings.TrimSpace(header.Filename)
	if filename == "" {
		filename = "document"
	}
	doc, err := h.Engine.Ingest(r.Context(), filename, content)
	if err != nil {
		h.engineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (h DocumentsHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.List())
}

// Search returns the chunks most similar to the query parameter.
func (h DocumentsHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeCoreError(w, http.StatusBadRequest, core.NewEmptyInputError("query"))
		return
	}
	topK := 5
	if raw := r.URL.Query().Get("top_k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 20 {
			writeCoreError(w, http.StatusBadRequest, core.NewInvalidRequestError("top_k must be between 1 and 20"))
			return
		}
		topK = parsed
	}

	chunks, err := h.Engine.Query(r.Context(), query, topK)
	if err != nil {
		h.engineError(w, err)
		return
	}
	if chunks == nil {
		chunks = []rag.Chunk{}
	}
	writeJSON(w, http.StatusOK, chunks)
}

// SetEnabled toggles a document in or out of retrieval via the enabled query
// parameter.
func (h DocumentsHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	enabled, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
	if err != nil {
		writeCoreError(w, http.StatusBadRequest, core.NewInvalidRequestError("enabled must be true or false"))
		return
	}
	doc, err := h.Engine.SetEnabled(r.PathValue("id"), enabled)
	if err != nil {
		h.engineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h DocumentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Delete(r.PathValue("id")); err != nil {
		h.engineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h DocumentsHandler) engineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rag.ErrDocumentNotFound):
		writeCoreError(w, http.StatusNotFound, core.NewNotFoundError("document not found"))
	case errors.Is(err, rag.ErrInvalidDocument):
		writeCoreError(w, http.StatusBadRequest, core.NewInvalidRequestError(err.Error()))
	default:
		if h.Logger != nil {
			h.Logger.Error("document engine error", "error", err)
		}
		writeCoreError(w, http.StatusBadGateway, core.NewAPIError("embedding service failed"))
	}
}
