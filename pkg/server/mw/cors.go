package mw

import (
	"net/http"
	"strings"
)

const (
	corsMethods   = "GET, POST, PATCH, DELETE, OPTIONS"
	corsHeaders   = "Content-Type, X-Request-ID"
	corsExposed   = "X-Request-ID"
	corsCacheSecs = "600"
)

// CORS gates browser access to the allowlisted origins. An empty allowlist
// disables CORS entirely: no headers are attached and every preflight is
// rejected.
func CORS(allowed map[string]struct{}, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))

		if isPreflight(r) {
			answerPreflight(w, allowed, origin)
			return
		}

		if originAllowed(allowed, origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Vary", "Origin")
			h.Set("Access-Control-Expose-Headers", corsExposed)
		}
		next.ServeHTTP(w, r)
	})
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions &&
		strings.TrimSpace(r.Header.Get("Access-Control-Request-Method")) != ""
}

func originAllowed(allowed map[string]struct{}, origin string) bool {
	if origin == "" {
		return false
	}
	_, ok := allowed[origin]
	return ok
}

func answerPreflight(w http.ResponseWriter, allowed map[string]struct{}, origin string) {
	if !originAllowed(allowed, origin) {
		http.Error(w, "cors preflight not allowed", http.StatusForbidden)
		return
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Vary", "Origin")
	h.Set("Access-Control-Allow-Methods", corsMethods)
	h.Set("Access-Control-Allow-Headers", corsHeaders)
	h.Set("Access-Control-Max-Age", corsCacheSecs)
	w.WriteHeader(http.StatusNoContent)
}
