package helpers

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// RespondJSON writes v as the JSON response body with the given status.
func RespondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response_encode_failed", "error", err)
	}
}

// errorBody is the error envelope shared by the JSON API and the OAuth
// protocol endpoints: a stable machine-readable code plus an optional
// human-readable description, per RFC 6749 §5.2.
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// RespondError writes an error envelope carrying only the stable code.
func RespondError(w http.ResponseWriter, status int, code string) {
	RespondJSON(w, status, errorBody{Error: code})
}

// RespondOAuthError writes the full RFC 6749 envelope with a description.
func RespondOAuthError(w http.ResponseWriter, status int, code, description string) {
	RespondJSON(w, status, errorBody{Error: code, ErrorDescription: description})
}
