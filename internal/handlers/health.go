package handlers

import (
	"fmt"
	"net/http"
)

// Healthz reports process liveness.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// NotFound answers unmatched routes with a JSON error instead of the
// default plain-text body.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeFailure(w, http.StatusNotFound, fmt.Sprintf("Route not found: %s %s", r.Method, r.URL.Path))
}
