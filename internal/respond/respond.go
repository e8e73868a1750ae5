// Package respond writes the relay's plain-text and redirect responses.
package respond

import (
	"net/http"

	"github.com/dgellow/oauth-relay/internal/log"
)

// WriteText writes a plain-text body with the given status code
func WriteText(w http.ResponseWriter, statusCode int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(statusCode)

	if _, err := w.Write([]byte(body)); err != nil {
		log.LogDebug("Failed to write response body: %v", err)
	}
}

// Redirect sends a 302 Found to location with an empty body
func Redirect(w http.ResponseWriter, location string) {
	w.Header().Set("Location", location)
	w.WriteHeader(http.StatusFound)
}

// WriteOK writes the health check body
func WriteOK(w http.ResponseWriter) {
	WriteText(w, http.StatusOK, "OK")
}

// WriteBadRequest writes a 400 with message as the body
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteText(w, http.StatusBadRequest, message)
}

// WriteNotFound writes a 404 response
func WriteNotFound(w http.ResponseWriter) {
	WriteText(w, http.StatusNotFound, "Not found")
}

// WriteMethodNotAllowed writes a 405 advertising the allowed methods
func WriteMethodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	WriteText(w, http.StatusMethodNotAllowed, "Method not allowed")
}

// WriteTooManyRequests writes a 429 asking the client to retry after a second
func WriteTooManyRequests(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "1")
	WriteText(w, http.StatusTooManyRequests, "Too many requests")
}

// WriteInternalServerError writes a 500 with message as the body
func WriteInternalServerError(w http.ResponseWriter, message string) {
	WriteText(w, http.StatusInternalServerError, message)
}
