package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/clincore/clincore-backend/pkg/errors"
)

// ErrorBody is the wire shape of every error response. The code field
// carries the HTTP status so API clients do not need to re-read it from
// the transport layer, and request_id lets callers quote a specific
// request when reporting problems.
type ErrorBody struct {
	Error     string            `json:"error"`
	Code      int               `json:"code"`
	RequestID string            `json:"request_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// JSON sends a JSON response. Success bodies are the data object itself,
// with no envelope.
func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	json.NewEncoder(w).Encode(data)
}

// Error sends an error response shaped as ErrorBody. Unrecognized errors
// render as a generic 500 so internals never leak to clients.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	requestID := GetRequestID(r.Context())

	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		body := ErrorBody{
			Error:     appErr.Message,
			Code:      appErr.StatusCode,
			RequestID: requestID,
			Details:   appErr.Details,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(appErr.StatusCode)
		json.NewEncoder(w).Encode(body)
		return
	}

	body := ErrorBody{
		Error:     "an unexpected error occurred",
		Code:      http.StatusInternalServerError,
		RequestID: requestID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(body)
}

// NoContent sends a 204 No Content response
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Created sends a 201 Created response
func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

// DecodeJSON decodes the request body into the provided struct
func DecodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.BadRequest("invalid JSON body")
	}
	return nil
}
