package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/openclave/warden/internal/models"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string `json:"error"`             // Machine-readable error code
	Message string `json:"message"`           // Human-readable message
	Details string `json:"details,omitempty"` // Optional additional context
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := ErrorResponse{
		Error:   errorCode,
		Message: message,
	}

	// Log encoding errors but don't expose them to client
	_ = json.NewEncoder(w).Encode(resp)
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, "forbidden", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteGone(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusGone, "expired", message)
}

func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, "conflict", message)
}

func WriteUnprocessable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnprocessableEntity, "validation_failed", message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}

// WriteServiceError maps a service-layer sentinel to its HTTP status.
// ErrInvalidCode stays 401 with a fixed message so responses leak
// nothing about why the code was rejected.
func WriteServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		WriteNotFound(w, "Resource not found")
	case errors.Is(err, models.ErrExpired):
		WriteGone(w, "Session expired")
	case errors.Is(err, models.ErrInvalidCode):
		WriteError(w, http.StatusUnauthorized, "invalid_code", "Verification failed")
	case errors.Is(err, models.ErrUnauthorized):
		WriteForbidden(w, "Forbidden")
	case errors.Is(err, models.ErrValidation):
		WriteUnprocessable(w, "Request cannot be processed in the current state")
	case errors.Is(err, models.ErrConflict):
		WriteConflict(w, "Conflicting state")
	case errors.Is(err, models.ErrBadRequest):
		WriteBadRequest(w, "Bad request")
	default:
		WriteInternalError(w, "Internal error")
	}
}

// WriteJSON writes a JSON success response with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}
