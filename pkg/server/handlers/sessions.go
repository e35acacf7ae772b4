package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/0himera/neraAIchat/pkg/core"
	"github.com/0himera/neraAIchat/pkg/protocol"
	"github.com/0himera/neraAIchat/pkg/server/store"
)

// SessionsHandler serves the REST sessions API.
type SessionsHandler struct {
	Store  store.Store
	Logger *slog.Logger
}

func (h SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.Store.ListSessions(r.Context())
	if err != nil {
		h.storeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []protocol.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeCoreError(w, http.StatusBadRequest, core.NewInvalidRequestError("invalid JSON body"))
		return
	}
	data, err := h.Store.CreateSession(r.Context(), body.Title)
	if err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, data)
}

func (h SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	data, err := h.Store.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (h SessionsHandler) Rename(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeCoreError(w, http.StatusBadRequest, core.NewInvalidRequestError("invalid JSON body"))
		return
	}
	if strings.TrimSpace(body.Title) == "" {
		writeCoreError(w, http.StatusBadRequest, core.NewEmptyInputError("title"))
		return
	}
	session, err := h.Store.RenameSession(r.Context(), r.PathValue("id"), strings.TrimSpace(body.Title))
	if err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h SessionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		h.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h SessionsHandler) AppendMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID   string `json:"id"`
		Role string `json:"role"`
		Text string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeCoreError(w, http.StatusBadRequest, core.NewInvalidRequestError("invalid JSON body"))
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		writeCoreError(w, http.StatusBadRequest, core.NewEmptyInputError("text"))
		return
	}
	role := strings.TrimSpace(body.Role)
	if role == "" {
		role = "assistant"
	}
	switch role {
	case "user", "assistant", "system":
	default:
		writeCoreError(w, http.StatusBadRequest, core.NewInvalidRequestError("role must be user, assistant, or system"))
		return
	}
	session, message, err := h.Store.AppendMessage(r.Context(), r.PathValue("id"), protocol.Message{
		ID:   body.ID,
		Role: role,
		Text: body.Text,
	})
	if err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Session protocol.Session `json:"session"`
		Message protocol.Message `json:"message"`
	}{Session: session, Message: message})
}

func (h SessionsHandler) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrSessionNotFound) {
		writeCoreError(w, http.StatusNotFound, core.NewNotFoundError("session not found"))
		return
	}
	if h.Logger != nil {
		h.Logger.Error("sessions store error", "error", err)
	}
	writeCoreError(w, http.StatusInternalServerError, core.NewAPIError("session storage failed"))
}

func decodeBody(r *http.Request, out any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := decoder.Decode(out); err != nil {
		// An empty body means all-default fields.
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}
