package utils

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
)

// ErrorResponse is the uniform error payload returned by every endpoint
type ErrorResponse struct {
	Error string `json:"error"`
}

// RespondWithJSON writes a JSON response with the given status code
func RespondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// RespondWithSuccess writes a successful JSON response
func RespondWithSuccess(w http.ResponseWriter, statusCode int, payload interface{}) {
	RespondWithJSON(w, statusCode, payload)
}

// RespondWithError writes a JSON error response
func RespondWithError(w http.ResponseWriter, statusCode int, message string) {
	RespondWithJSON(w, statusCode, ErrorResponse{Error: message})
}

// GetEnvOrDefault returns the environment variable value or a default when it
// is unset or empty
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// PanicRecoveryMiddleware converts handler panics into 500 responses instead
// of tearing down the connection
func PanicRecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("Panic recovered in HTTP handler", "panic", rec, "path", r.URL.Path, "method", r.Method)
				RespondWithError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
