// Package httpapi wires every endpoint in spec.md §6 onto a gorilla/mux
// router, translating between the wire JSON envelope and the
// internal/service layer. Grounded on the teacher's 04-web/02-routing-rest
// APIResponse/writeJSONResponse pattern, carried through unchanged since it
// already matches the spec's {"success":true,"data":...} envelope.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/cpu-jia/chatroom/internal/apperr"
)

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *errorBody  `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func writeNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps the apperr taxonomy onto HTTP status codes (spec.md's
// error handling design) and renders the failure envelope.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(apperr.Of(err))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{
		Success: false,
		Error:   &errorBody{Code: string(apperr.Of(err)), Message: apperr.ClientMessage(err)},
	})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.Validation:
		return http.StatusUnprocessableEntity
	case apperr.Authentication:
		return http.StatusUnauthorized
	case apperr.Authorization:
		return http.StatusForbidden
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.RateLimited:
		return http.StatusTooManyRequests
	case apperr.ExternalUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.New(apperr.Validation, "malformed JSON body")
	}
	return nil
}
