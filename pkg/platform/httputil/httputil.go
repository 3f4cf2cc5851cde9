// Package httputil writes JSON responses and translates coded domain errors
// into HTTP status codes.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "certledger/pkg/domain-errors"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	RequestID        string `json:"request_id,omitempty"`
}

// StatusFor maps a domain error code to an HTTP status.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsCallerError reports whether the code describes a problem with the request
// itself, whose message is safe to return.
func IsCallerError(code dErrors.Code) bool {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput, dErrors.CodeNotFound,
		dErrors.CodeConflict, dErrors.CodeUnauthorized, dErrors.CodeForbidden:
		return true
	}
	return false
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError writes err's outermost code. Only caller errors carry their
// message; everything else is reduced to the code.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	resp := ErrorResponse{Error: string(code)}
	var de *dErrors.Error
	if IsCallerError(code) && errors.As(err, &de) {
		resp.ErrorDescription = de.Message
	}
	WriteJSON(w, StatusFor(code), resp)
}

// WriteRetryableError writes a server-side failure with a fixed description
// and the correlation ID the caller should quote.
func WriteRetryableError(w http.ResponseWriter, err error, description, requestID string) {
	code := dErrors.CodeOf(err)
	WriteJSON(w, StatusFor(code), ErrorResponse{
		Error:            string(code),
		ErrorDescription: description,
		RequestID:        requestID,
	})
}
