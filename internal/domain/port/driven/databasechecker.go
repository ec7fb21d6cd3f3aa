package driven

import (
	"context"

	"github.com/ericfisherdev/credsidecar/internal/domain/model"
)

// DatabaseChecker defines the driven port for the downstream database
// liveness check. It connects with the given credential, runs a trivial query,
// and releases the connection. Failures are reported as *ConsumerError.
type DatabaseChecker interface {
	Check(ctx context.Context, target model.DatabaseTarget, cred model.DatabaseCredential) (string, error)
}
