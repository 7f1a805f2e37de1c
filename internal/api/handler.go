// Package api provides the HTTP surface consumed by the presentation layer.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/akolesov/promptdeck/internal/shared"
)

// response is the envelope every endpoint returns: {success, data?} on the
// happy path, {success:false, error} otherwise. Raw internals never cross
// this boundary.
type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// JSON writes a success envelope with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, response{Success: true, Data: data})
}

// Error writes a failure envelope.
func Error(w http.ResponseWriter, status int, message string) {
	write(w, status, response{Success: false, Error: message})
}

// StoreError maps a typed store/orchestrator error onto a failure envelope.
func StoreError(w http.ResponseWriter, err error) {
	switch {
	case shared.IsCode(err, shared.ErrNotFound):
		Error(w, http.StatusNotFound, err.Error())
	case shared.IsCode(err, shared.ErrLoad):
		Error(w, http.StatusBadGateway, err.Error())
	default:
		Error(w, http.StatusInternalServerError, err.Error())
	}
}

func write(w http.ResponseWriter, status int, v response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"success":false,"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// decode parses a JSON request body into v.
func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
