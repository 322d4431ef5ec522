// pkg/apperr/apperr.go
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies failures the way callers need to branch on them.
type Kind int

const (
	// Configuration is fatal for the operation (or startup): missing or
	// short master key, malformed proxy auth, missing OAuth app creds.
	Configuration Kind = iota
	// Integrity is a decrypt/auth-tag failure. Never treated as plaintext.
	Integrity
	// AuthExpired means the marketplace rejected a token and the single
	// inline refresh attempt did not recover.
	AuthExpired
	// Upstream is an unreachable or non-2xx marketplace endpoint; the
	// upstream status is preserved on the error.
	Upstream
	// Build is any failure while constructing a tenant's client. Build
	// failures are never cached.
	Build
	// NotFound is an unknown tenant/account.
	NotFound
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case Integrity:
		return "integrity"
	case AuthExpired:
		return "auth_expired"
	case Upstream:
		return "upstream"
	case Build:
		return "build"
	case NotFound:
		return "not_found"
	}
	return "unknown"
}

// Error carries a kind, a message and an optional wrapped cause.
// Upstream errors additionally carry the remote HTTP status.
type Error struct {
	Kind   Kind
	Msg    string
	Status int // upstream HTTP status, 0 when not applicable
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(k Kind, msg string) *Error { return &Error{Kind: k, Msg: msg} }

func Newf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error. A nil cause returns nil.
func Wrap(k Kind, msg string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Msg: msg, Err: err}
}

// UpstreamStatus builds an Upstream error that preserves the remote status.
func UpstreamStatus(status int, msg string) *Error {
	return &Error{Kind: Upstream, Msg: msg, Status: status}
}

// IsKind reports whether err (or anything it wraps) is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == k
	}
	return false
}
