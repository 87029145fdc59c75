package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ignite/campaign-dispatcher/internal/pkg/logger"
)

// ErrorResponse is the error envelope every API failure is written in.
// Code is stable and meant for clients to branch on; Error is for humans.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// JSON writes data with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("httputil: JSON encode failed", "error", err)
	}
}

// OK writes a 200 response.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Created writes a 201 response.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// Accepted answers a command whose work continues in the background.
func Accepted(w http.ResponseWriter, data any) {
	JSON(w, http.StatusAccepted, data)
}

// NoContent writes a 204 with no body.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// List writes one page of a collection as {key: items, "total": total}.
func List(w http.ResponseWriter, key string, items any, total int) {
	OK(w, map[string]any{key: items, "total": total})
}

// Error writes a client error without a code.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// ErrorWithCode writes a client error with a machine-readable code and
// optional details.
func ErrorWithCode(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

// BadRequest writes a 400 error.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, message)
}

// NotFound writes a 404 error.
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, message)
}

// InternalError logs err and answers with a generic 500.
func InternalError(w http.ResponseWriter, err error) {
	logger.Error("httputil: internal error", "error", err)
	ErrorWithCode(w, http.StatusInternalServerError, "internal", "internal server error", nil)
}

// ErrorRule maps the errors accepted by Match to a status and code.
// Details, when set, extracts the payload for the envelope.
type ErrorRule struct {
	Match   func(error) bool
	Status  int
	Code    string
	Details func(error) any
}

// Is matches errors wrapping any of targets.
func Is(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, t := range targets {
			if errors.Is(err, t) {
				return true
			}
		}
		return false
	}
}

// ErrorMap is an ordered list of rules. The first match wins; errors no rule
// matches are internal.
type ErrorMap []ErrorRule

// Write answers err according to the first matching rule.
func (m ErrorMap) Write(w http.ResponseWriter, err error) {
	for _, rule := range m {
		if !rule.Match(err) {
			continue
		}
		var details any
		if rule.Details != nil {
			details = rule.Details(err)
		}
		ErrorWithCode(w, rule.Status, rule.Code, err.Error(), details)
		return
	}
	InternalError(w, err)
}

// Decode reads a JSON body into dst. On failure it writes a 400 and
// returns false.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		ErrorWithCode(w, http.StatusBadRequest, "invalid_json", "invalid JSON: "+err.Error(), nil)
		return false
	}
	return true
}
