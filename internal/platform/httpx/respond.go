// Package httpx writes JSON and RFC 7807 problem responses for the run API.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Transport-level sentinels. Handlers wrap them, or register a Mapping for
// their own domain errors.
var (
	ErrNotFound    = errors.New("resource not found")
	ErrConflict    = errors.New("conflicting state")
	ErrValidation  = errors.New("validation failed")
	ErrUnavailable = errors.New("dependency unavailable")
)

// ProblemDetail is an RFC 7807 body.
type ProblemDetail struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Mapping routes errors matching Target (errors.Is) to a status and title.
type Mapping struct {
	Target error
	Status int
	Title  string
}

var defaultMappings = []Mapping{
	{Target: ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: ErrConflict, Status: http.StatusConflict, Title: "Conflict"},
	{Target: ErrValidation, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Target: ErrUnavailable, Status: http.StatusServiceUnavailable, Title: "Service Unavailable"},
}

// JSON sends data with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem sends a problem response typed urn:fxreval:problem:<status>.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ProblemDetail{
		Type:   fmt.Sprintf("urn:fxreval:problem:%d", status),
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// RespondError writes the first matching mapping, checking extra before the
// transport sentinels. Unmatched errors become a 500 without detail so
// driver messages never reach the client.
func RespondError(w http.ResponseWriter, err error, extra ...Mapping) {
	for _, m := range append(extra, defaultMappings...) {
		if errors.Is(err, m.Target) {
			Problem(w, m.Status, m.Title, err.Error())
			return
		}
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}

// Matches reports whether RespondError would map err to a non-500 status.
func Matches(err error, extra ...Mapping) bool {
	for _, m := range append(extra, defaultMappings...) {
		if errors.Is(err, m.Target) {
			return true
		}
	}
	return false
}

// DecodeJSON decodes a request body into target, rejecting unknown fields.
func DecodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
