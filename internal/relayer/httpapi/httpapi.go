// Package httpapi provides the relayer's shared HTTP error envelope:
// every error the relayer returns over HTTP is shaped
// {name, message, code, details}, produced by one reusable helper
// instead of ad-hoc per-handler encoding.
package httpapi

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the wire shape of every relayer error response.
type ErrorBody struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// WriteError writes status with a JSON ErrorBody built from name/err.
func WriteError(w http.ResponseWriter, status int, name string, err error) {
	body := ErrorBody{Name: name, Message: err.Error(), Code: status}
	WriteJSON(w, status, body)
}

// WriteErrorDetails is WriteError plus a details string (e.g. a contract
// revert reason surfaced verbatim).
func WriteErrorDetails(w http.ResponseWriter, status int, name string, err error, details string) {
	body := ErrorBody{Name: name, Message: err.Error(), Code: status, Details: details}
	WriteJSON(w, status, body)
}

// WriteJSON encodes v as the response body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
