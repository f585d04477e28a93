// Package httpx provides the JSON response envelope shared by every endpoint.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MaxBodyBytes bounds decoded request bodies.
const MaxBodyBytes = 1 << 20

// Envelope is the response shape for success and failure alike.
type Envelope struct {
	Success   bool              `json:"success"`
	Data      any               `json:"data,omitempty"`
	Message   string            `json:"message,omitempty"`
	ErrorCode string            `json:"error_code,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Success writes a success envelope.
func Success(w http.ResponseWriter, status int, data any, message string) {
	JSON(w, status, Envelope{
		Success:   true,
		Data:      data,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// Error writes a failure envelope.
func Error(w http.ResponseWriter, status int, code, message string, details map[string]string) {
	JSON(w, status, Envelope{
		Success:   false,
		ErrorCode: code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
	})
}

// DecodeJSON decodes a JSON request body into target, rejecting unknown fields.
func DecodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("httpx: empty body: %w", ErrBadRequest)
		}
		return fmt.Errorf("httpx: decode body: %v: %w", err, ErrBadRequest)
	}
	return nil
}
