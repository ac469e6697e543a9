package admin

import (
	"net/http"

	"github.com/emperorhan/rwa-custody/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

var kindStatus = map[string]int{
	"Unauthorized":                http.StatusForbidden,
	"NotFound":                    http.StatusNotFound,
	"AlreadyExists":               http.StatusConflict,
	"InvalidState":                http.StatusConflict,
	"InvalidRequestStatus":        http.StatusConflict,
	"ContractPaused":              http.StatusLocked,
	"InvalidAmount":               http.StatusUnprocessableEntity,
	"InsufficientBalance":         http.StatusUnprocessableEntity,
	"InsufficientAvailableTokens": http.StatusUnprocessableEntity,
	"AddressBlacklisted":          http.StatusUnprocessableEntity,
	"AddressNotBlacklisted":       http.StatusUnprocessableEntity,
	"CounterOverflow":             http.StatusUnprocessableEntity,
	"MathOverflow":                http.StatusUnprocessableEntity,
}

// statusFor maps an operation error to its HTTP status through its kind.
func statusFor(err error) (int, string) {
	kind := domain.KindOf(err)
	if status, ok := kindStatus[kind]; ok {
		return status, kind
	}
	return http.StatusInternalServerError, kind
}

// writeError renders err. Internal errors are logged by the service and
// reach the client without detail.
func writeError(w http.ResponseWriter, err error) {
	status, kind := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}
