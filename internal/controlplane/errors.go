package controlplane

import (
	"encoding/json"
	"net/http"

	"github.com/fentz26/petfeeder/internal/errs"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is safe to show to the person who pressed the button.
	Error  string `json:"error"`
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindAuth:
		return http.StatusUnauthorized
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindState, errs.KindInvalidState:
		return http.StatusConflict
	case errs.KindLock, errs.KindStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), ErrorResponse{
		Error:  errs.UserMessage(err),
		Kind:   errs.KindOf(err).String(),
		Detail: err.Error(),
	})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeError(w, errs.E(errs.KindValidation, "controlplane", msg, nil))
}
