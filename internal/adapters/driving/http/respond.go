package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/custodia-labs/ratebook/internal/core/domain"
	"github.com/custodia-labs/ratebook/internal/logger"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string                  `json:"error"`
	Message string                  `json:"message"`
	Report  *domain.PreflightReport `json:"report,omitempty"`
}

// statusFor maps an error kind to a status code.
func statusFor(kind string) int {
	switch kind {
	case "ValidationError":
		return http.StatusBadRequest
	case "NotFoundError":
		return http.StatusNotFound
	case "StateTransitionError", "ConcurrencyConflictError", "AlreadyExistsError":
		return http.StatusConflict
	case "PreflightBlockedError":
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := domain.ErrorKind(err)
	body := errorBody{Error: kind, Message: err.Error()}
	var blocked *domain.PreflightBlockedError
	if errors.As(err, &blocked) {
		body.Report = &blocked.Report
	}
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		logger.Error("request failed: %v", err)
	}
	writeJSON(w, status, body)
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return domain.NewValidationError("body", "invalid JSON: %v", err)
	}
	return nil
}
