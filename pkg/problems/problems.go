package problems

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"

	"avitolink/pkg/apperr"
)

// Base returns the base URL for problem type identifiers.
// Order of precedence:
// 1. PROBLEM_BASE_URL (exact base, e.g. https://mydomain.com/problems)
// 2. BASE_PUBLIC_URL + "/problems" (if set)
// 3. https://example.com/problems (fallback)
func Base() string {
	if b := os.Getenv("PROBLEM_BASE_URL"); b != "" {
		return strings.TrimRight(b, "/")
	}
	if b := os.Getenv("BASE_PUBLIC_URL"); b != "" {
		return strings.TrimRight(b, "/") + "/problems"
	}
	return "https://example.com/problems"
}

// Type builds a full problem type URL for the given slug.
func Type(slug string) string { return Base() + "/" + slug }

// Payload is an RFC 7807 style response body.
type Payload struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// statusFor maps error kinds onto HTTP statuses for the admin API.
func statusFor(err error) (int, string) {
	switch {
	case apperr.IsKind(err, apperr.NotFound):
		return http.StatusNotFound, "account not found"
	case apperr.IsKind(err, apperr.Configuration):
		return http.StatusBadRequest, "invalid configuration"
	case apperr.IsKind(err, apperr.Integrity):
		return http.StatusInternalServerError, "stored credential unreadable"
	case apperr.IsKind(err, apperr.AuthExpired):
		return http.StatusUnauthorized, "marketplace authorization expired"
	case apperr.IsKind(err, apperr.Upstream):
		return http.StatusBadGateway, "marketplace unavailable"
	case apperr.IsKind(err, apperr.Build):
		return http.StatusBadGateway, "client build failed"
	}
	return http.StatusInternalServerError, "internal error"
}

// Write renders err as a problem+json response.
func Write(w http.ResponseWriter, err error) {
	status, title := statusFor(err)
	p := Payload{
		Type:   Type(slugFor(err)),
		Title:  title,
		Status: status,
		Detail: err.Error(),
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(p)
}

func slugFor(err error) string {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae.Kind.String()
	}
	return "internal"
}
