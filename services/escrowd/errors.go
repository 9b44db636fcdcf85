package escrowd

import (
	"encoding/json"
	"errors"
	"net/http"

	escrowerrors "juryledger/core/errors"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// requestError is a malformed request rejected before it reaches the node.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error { return &requestError{msg: msg} }

// statusFor maps a node rejection to an HTTP status and stable code.
func statusFor(err error) (int, string) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return http.StatusBadRequest, "InvalidRequest"
	}
	if errors.Is(err, ErrIdempotencyMismatch) {
		return http.StatusConflict, "IdempotencyMismatch"
	}
	name := escrowerrors.NameOf(err)
	switch {
	case errors.Is(err, escrowerrors.ErrTransferFailed):
		return http.StatusBadGateway, name
	case errors.Is(err, escrowerrors.ErrReentrantCall):
		return http.StatusLocked, name
	}
	switch escrowerrors.KindOf(err) {
	case escrowerrors.KindAuthorization:
		return http.StatusForbidden, name
	case escrowerrors.KindState, escrowerrors.KindTiming, escrowerrors.KindLedger:
		return http.StatusConflict, name
	case escrowerrors.KindValidation:
		return http.StatusBadRequest, name
	case escrowerrors.KindNotFound:
		return http.StatusNotFound, name
	default:
		return http.StatusInternalServerError, name
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}
