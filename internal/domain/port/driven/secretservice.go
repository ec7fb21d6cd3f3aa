package driven

import (
	"context"

	"github.com/ericfisherdev/credsidecar/internal/domain/model"
)

// SecretService defines the driven port for the secret-management service.
// Implementations perform exactly one network exchange per call and never
// retry; retry policy belongs to the caller.
type SecretService interface {
	// Login exchanges the identity token for a service token bound to role.
	// Failures are reported as *AuthenticationError.
	Login(ctx context.Context, identityToken, role string) (string, error)

	// IssueCredentials requests a fresh dynamic credential for role using the
	// service token. Failures are reported as *IssuanceError.
	IssueCredentials(ctx context.Context, serviceToken, role string) (model.Lease, error)
}
