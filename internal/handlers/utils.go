package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

type contextKey string

const contextSubjectKey contextKey = "sub"

// Response is the {status, message, data} envelope used by user endpoints
// and error bodies.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ErrorResponse is the error payload used by animal endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
}

// subjectFromContext returns the authenticated subject id bound by the
// auth gate. The id is kept as a string so handlers can compare it to the
// route path parameter verbatim.
func subjectFromContext(ctx context.Context) (string, error) {
	value := ctx.Value(contextSubjectKey)
	subject, ok := value.(string)
	if !ok || strings.TrimSpace(subject) == "" {
		return "", errors.New("missing subject")
	}
	return subject, nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, Response{Status: "success", Message: message, Data: data})
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Response{Status: "error", Message: message})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
