package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// MaxRequestBodyBytes bounds JSON request bodies.
const MaxRequestBodyBytes = 16 << 20

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SuccessResponse wraps handler output under "data".
type SuccessResponse struct {
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

type statusText struct {
	code           string
	defaultMessage string
}

var errorStatuses = map[int]statusText{
	http.StatusBadRequest:          {"bad_request", "Invalid request"},
	http.StatusUnauthorized:        {"unauthorized", "Authentication required"},
	http.StatusForbidden:           {"forbidden", "Access forbidden"},
	http.StatusNotFound:            {"not_found", "Resource not found"},
	http.StatusBadGateway:          {"bad_gateway", "Upstream service failed"},
	http.StatusServiceUnavailable:  {"unavailable", "Service unavailable"},
	http.StatusInternalServerError: {"internal_error", "Internal server error"},
}

// WriteJSON writes data as JSON with the given status. Nil data writes no body.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteOK writes data under "data" with 200.
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, SuccessResponse{Data: data})
}

// WriteError writes an ErrorResponse whose code follows status. An empty
// message falls back to the status default.
func WriteError(w http.ResponseWriter, status int, message string, details map[string]interface{}) error {
	st, ok := errorStatuses[status]
	if !ok {
		st = errorStatuses[http.StatusInternalServerError]
	}
	if message == "" {
		message = st.defaultMessage
	}
	return WriteJSON(w, status, ErrorResponse{Error: st.code, Message: message, Details: details})
}

func WriteBadRequest(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteError(w, http.StatusBadRequest, message, details)
}

func WriteUnauthorized(w http.ResponseWriter, message string) error {
	return WriteError(w, http.StatusUnauthorized, message, nil)
}

func WriteForbidden(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteError(w, http.StatusForbidden, message, details)
}

func WriteNotFound(w http.ResponseWriter, message string) error {
	return WriteError(w, http.StatusNotFound, message, nil)
}

func WriteBadGateway(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteError(w, http.StatusBadGateway, message, details)
}

func WriteInternalServerError(w http.ResponseWriter, message string) error {
	return WriteError(w, http.StatusInternalServerError, message, nil)
}

var errEmptyBody = errors.New("request body is required")

// DecodeJSON decodes a bounded JSON request body into dst. An empty body
// leaves dst untouched when allowEmpty is set.
func DecodeJSON(r *http.Request, dst interface{}, allowEmpty bool) error {
	if r.Body == nil {
		return emptyBody(allowEmpty)
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxRequestBodyBytes))
	dec.UseNumber()
	err := dec.Decode(dst)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		return emptyBody(allowEmpty)
	default:
		return fmt.Errorf("invalid JSON body: %w", err)
	}
}

func emptyBody(allowEmpty bool) error {
	if allowEmpty {
		return nil
	}
	return errEmptyBody
}
