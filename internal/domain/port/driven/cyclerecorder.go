package driven

import (
	"time"

	"github.com/ericfisherdev/credsidecar/internal/domain/model"
)

// CycleRecorder defines the driven port for exporting driver loop telemetry.
type CycleRecorder interface {
	ObserveCycle(outcome model.CycleOutcome, duration time.Duration)
	ObserveLeaseIssued(lease model.Lease)
}
