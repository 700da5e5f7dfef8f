package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/flashbots/statledger/protocol"
)

// statusCode maps a ledger error to its HTTP status.
func statusCode(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden), errors.Is(err, protocol.ErrNotOwner), errors.Is(err, protocol.ErrNotProvider):
		return http.StatusForbidden
	case errors.Is(err, protocol.ErrPaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, protocol.ErrCooldownActive):
		return http.StatusTooManyRequests
	case errors.Is(err, protocol.ErrBatchNotOpen),
		errors.Is(err, protocol.ErrReplayDetected),
		errors.Is(err, protocol.ErrStateMismatch),
		errors.Is(err, protocol.ErrDuplicateRequest):
		return http.StatusConflict
	case errors.Is(err, protocol.ErrInvalidProof), errors.Is(err, protocol.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, protocol.ErrOracleUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrForbidden):
		return "Forbidden"
	}
	return protocol.ErrorKind(err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusCode(err), &protocol.ErrorResponse{
		Error:   errorKind(err),
		Message: err.Error(),
	})
}

func badRequest(w http.ResponseWriter, err error) {
	writeError(w, fmt.Errorf("%w: %w", protocol.ErrInvalidArgument, err))
}

// APIError is a rejection reported by a remote service. It unwraps to the
// matching protocol sentinel, so errors.Is works across the wire.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Kind)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Kind {
	case "Unauthorized":
		return ErrUnauthorized
	case "Forbidden":
		return ErrForbidden
	}
	return protocol.ErrorFromKind(e.Kind)
}

// Temporary reports whether repeating the request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body protocol.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		apiErr.Kind = body.Error
		apiErr.Message = body.Message
	}
	if apiErr.Kind == "" {
		apiErr.Kind = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
