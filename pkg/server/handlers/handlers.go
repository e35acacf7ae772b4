// Package handlers implements the REST and websocket endpoints of the nera
// server.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/0himera/neraAIchat/pkg/core"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeCoreError(w http.ResponseWriter, status int, err *core.Error) {
	writeJSON(w, status, err)
}
