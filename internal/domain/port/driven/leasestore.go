package driven

import (
	"context"

	"github.com/ericfisherdev/credsidecar/internal/domain/model"
)

// LeaseStore defines the driven port for lease history persistence.
// Only metadata is stored; passwords never reach the store.
type LeaseStore interface {
	Record(ctx context.Context, lease model.Lease) error
	// ListRecent returns up to limit records, newest first.
	ListRecent(ctx context.Context, limit int) ([]model.LeaseRecord, error)
}
