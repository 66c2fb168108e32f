package handlers

import (
	"encoding/json"
	"net/http"
)

// Envelope is the wire shape of every API response. Status mirrors the HTTP
// status; Response carries rows, a batch receipt, or a rejection reason.
type Envelope struct {
	Status   int `json:"status"`
	Response any `json:"response"`
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteOK wraps a response body in a 200 envelope.
func WriteOK(w http.ResponseWriter, response any) error {
	return WriteJSON(w, http.StatusOK, Envelope{Status: http.StatusOK, Response: response})
}

// WriteReject wraps a rejection reason in a 405 envelope. The API answers
// every malformed or unservable request with 405 rather than ranging over
// the 4xx codes.
func WriteReject(w http.ResponseWriter, reason string) error {
	return WriteJSON(w, http.StatusMethodNotAllowed, Envelope{
		Status:   http.StatusMethodNotAllowed,
		Response: reason,
	})
}
