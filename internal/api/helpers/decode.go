package helpers

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// DecodeJSON decodes a JSON request body with strict validation: unknown
// fields are rejected so payload pollution fails loudly.
//
// Usage:
//
//	var req loginRequest
//	if err := helpers.DecodeJSON(r, &req); err != nil {
//	    helpers.RespondError(w, http.StatusBadRequest, err.Error())
//	    return
//	}
func DecodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	return nil
}
