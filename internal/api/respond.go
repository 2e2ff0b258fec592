package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/sirdesai22/mutualaid/internal/errs"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind string) int {
	switch kind {
	case "validation_failure":
		return http.StatusBadRequest
	case "intake_closed":
		return http.StatusLocked
	case "quota_exhausted", "already_claimed", "invalid_transition", "lottery_in_progress":
		return http.StatusConflict
	case "permission_denied", "not_eligible":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("❌ encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errs.Kind(err)
	body := errorBody{Error: kind, Message: err.Error()}
	var ve *errs.ValidationError
	if errors.As(err, &ve) {
		body.Fields = ve.Fields
	}
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		log.Printf("❌ %s %s: %v", r.Method, r.URL.Path, err)
		body.Message = "internal error"
	}
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, field, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{
		Error:   "validation_failure",
		Message: field + ": " + msg,
		Fields:  map[string]string{field: msg},
	})
}

// decode reads a JSON body into v, answering 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "body", "invalid JSON: "+err.Error())
		return false
	}
	return true
}
