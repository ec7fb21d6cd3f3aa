package driven

import (
	"fmt"
	"net/http"
)

// IdentitySourceError is returned when the workload identity token cannot be
// read. It is fatal at startup: without an identity no exchange is possible.
type IdentitySourceError struct {
	Path string
	Err  error
}

func (e *IdentitySourceError) Error() string {
	return fmt.Sprintf("read identity token %s: %v", e.Path, e.Err)
}

func (e *IdentitySourceError) Unwrap() error { return e.Err }

// AuthenticationError is returned when the identity exchange (login) is
// rejected or cannot be completed. StatusCode is 0 when no response arrived.
type AuthenticationError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthenticationError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("authentication failed: %v", e.Err)
	}
	return "authentication failed: " + statusDetail(e.StatusCode, e.Body, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// IssuanceError is returned when a credential request for Role is rejected or
// cannot be completed. StatusCode is 0 when no response arrived.
type IssuanceError struct {
	Role       string
	StatusCode int
	Body       string
	Err        error
}

func (e *IssuanceError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("issue credentials for role %q: %v", e.Role, e.Err)
	}
	return fmt.Sprintf("issue credentials for role %q: %s", e.Role, statusDetail(e.StatusCode, e.Body, e.Err))
}

func (e *IssuanceError) Unwrap() error { return e.Err }

// Unauthorized reports whether the issuer rejected the service token itself,
// which usually means it expired or was revoked.
func (e *IssuanceError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// ConsumerError is returned when the downstream database check fails. It does
// not invalidate the lease that was used.
type ConsumerError struct {
	Host     string
	Database string
	Err      error
}

func (e *ConsumerError) Error() string {
	return fmt.Sprintf("database check %s/%s: %v", e.Host, e.Database, e.Err)
}

func (e *ConsumerError) Unwrap() error { return e.Err }

// statusDetail renders a response status with whichever of body and cause are present.
func statusDetail(status int, body string, err error) string {
	detail := fmt.Sprintf("status %d", status)
	if body != "" {
		detail += ": " + body
	}
	if err != nil {
		detail += ": " + err.Error()
	}
	return detail
}
