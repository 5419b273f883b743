package problem

import (
	"encoding/json"
	"net/http"
)

const contentType = "application/problem+json"
const baseTypeURL = "https://errors.branch-transactions.bank/"

// FieldError is one invalid input, in the order the client should focus them.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Details represents RFC 7807 Problem Details. Errors, Redirect and Current are
// extension members: field errors for 422, the form to return to, and the
// server's refreshed view after a refused state change.
type Details struct {
	Type      string       `json:"type"`
	Title     string       `json:"title"`
	Status    int          `json:"status"`
	Detail    string       `json:"detail"`
	Instance  string       `json:"instance"`
	RequestID string       `json:"request_id"`
	Retryable bool         `json:"retryable,omitempty"`
	Errors    []FieldError `json:"errors,omitempty"`
	Redirect  any          `json:"redirect,omitempty"`
	Current   any          `json:"current,omitempty"`
}

// Extensions are optional members added to a problem body.
type Extensions struct {
	Retryable bool
	Errors    []FieldError
	Redirect  any
	Current   any
}

func Type(slug string) string {
	return baseTypeURL + slug
}

// Write sends RFC 7807-compliant errors.
func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string) {
	WriteExt(w, r, status, problemType, title, detail, Extensions{})
}

// WriteExt is Write with extension members.
func WriteExt(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string, ext Extensions) {
	if title == "" {
		title = http.StatusText(status)
	}
	if problemType == "" {
		problemType = "about:blank"
	}
	instance := ""
	requestID := ""
	if r != nil {
		instance = r.URL.Path
		requestID = r.Header.Get("X-Trace-ID")
	}
	if requestID == "" {
		requestID = w.Header().Get("X-Trace-ID")
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Details{
		Type:      problemType,
		Title:     title,
		Status:    status,
		Detail:    detail,
		Instance:  instance,
		RequestID: requestID,
		Retryable: ext.Retryable,
		Errors:    ext.Errors,
		Redirect:  ext.Redirect,
		Current:   ext.Current,
	})
}
