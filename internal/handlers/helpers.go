// Package handlers implements the control API of the worker.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/benvon/timesheet-sync/internal/logger"
)

// maxErrorMessageLength caps error text returned to API callers.
const maxErrorMessageLength = 200

type envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`
}

// respondJSON sends a success envelope
func respondJSON(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, envelope{Success: true, Data: data})
}

// respondJSONError sends an error envelope with a truncated, sanitized message
func respondJSONError(w http.ResponseWriter, status int, errorType, message string) {
	writeEnvelope(w, status, envelope{
		Error:   errorType,
		Message: logger.SanitizeString(message, maxErrorMessageLength),
	})
}

func writeEnvelope(w http.ResponseWriter, status int, body envelope) {
	body.Timestamp = time.Now().UTC().Format(time.RFC3339)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// decodeJSON reads exactly one JSON object into dest, rejecting unknown fields.
func decodeJSON(r *http.Request, dest any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("malformed JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}
