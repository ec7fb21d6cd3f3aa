package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/ericfisherdev/credsidecar/internal/domain/model"
	"github.com/ericfisherdev/credsidecar/internal/domain/port/driven"
)

// CredentialSource hands out the currently valid lease. Supervisor implements it.
type CredentialSource interface {
	ObtainCredential(ctx context.Context) (model.Lease, error)
}

// cycleRequest represents a manual cycle trigger.
type cycleRequest struct {
	done chan model.CycleReport
}

// DriverOptions carries the optional collaborators of a DriverService.
type DriverOptions struct {
	Store    driven.LeaseStore    // Nil disables lease history.
	Recorder driven.CycleRecorder // Nil disables metrics.
	Clock    clock.WithTicker     // Defaults to the real clock.
	Logger   *slog.Logger         // Defaults to slog.Default().
}

// DriverService runs the credential cycle on a fixed interval: obtain the
// active lease, then exercise the database with it. Cycles never overlap and
// no failure stops the loop.
type DriverService struct {
	source   CredentialSource
	checker  driven.DatabaseChecker
	target   model.DatabaseTarget
	interval time.Duration
	store    driven.LeaseStore
	recorder driven.CycleRecorder
	clock    clock.WithTicker
	logger   *slog.Logger
	cycleCh  chan cycleRequest

	// Owned by the loop goroutine.
	lastLease *model.Lease

	mu     sync.RWMutex
	last   *model.CycleReport
	cycles int
}

// NewDriverService creates a DriverService with all required dependencies.
func NewDriverService(
	source CredentialSource,
	checker driven.DatabaseChecker,
	target model.DatabaseTarget,
	interval time.Duration,
	opts DriverOptions,
) *DriverService {
	s := &DriverService{
		source:   source,
		checker:  checker,
		target:   target,
		interval: interval,
		store:    opts.Store,
		recorder: opts.Recorder,
		clock:    opts.Clock,
		logger:   opts.Logger,
		cycleCh:  make(chan cycleRequest),
	}
	if s.clock == nil {
		s.clock = clock.RealClock{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Start runs an immediate cycle, then one per interval. It also serves manual
// cycle requests. Start blocks until the context is canceled.
func (s *DriverService) Start(ctx context.Context) {
	s.runCycle(ctx)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("credential driver stopped")
			return
		case <-ticker.C():
			s.runCycle(ctx)
		case req := <-s.cycleCh:
			req.done <- s.runCycle(ctx)
		}
	}
}

// RunNow triggers a cycle outside the interval and waits for its report. It
// blocks until the cycle completes or the context is canceled.
func (s *DriverService) RunNow(ctx context.Context) (model.CycleReport, error) {
	done := make(chan model.CycleReport, 1)

	select {
	case s.cycleCh <- cycleRequest{done: done}:
	case <-ctx.Done():
		return model.CycleReport{}, ctx.Err()
	}

	select {
	case report := <-done:
		return report, nil
	case <-ctx.Done():
		return model.CycleReport{}, ctx.Err()
	}
}

// LastCycle returns the report of the most recent cycle, if any has run.
func (s *DriverService) LastCycle() (model.CycleReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return model.CycleReport{}, false
	}
	return *s.last, true
}

// runCycle performs one obtain-then-check cycle and records its report.
func (s *DriverService) runCycle(ctx context.Context) model.CycleReport {
	start := s.clock.Now()
	report := model.CycleReport{StartedAt: start}

	lease, err := s.source.ObtainCredential(ctx)
	if err != nil {
		report.Outcome = classifyCycleError(err)
		report.Error = err.Error()
		s.logger.Error("failed to obtain credential", "kind", report.Outcome, "error", err)
	} else {
		if s.lastLease == nil || !sameLease(*s.lastLease, lease) {
			report.NewLease = true
			s.lastLease = &lease
			s.recordLease(ctx, lease)
		}

		version, err := s.checker.Check(ctx, s.target, lease.Credential())
		if err != nil {
			report.Outcome = classifyCycleError(err)
			report.Error = err.Error()
			s.logger.Error("database check failed",
				"kind", report.Outcome,
				"host", s.target.Host,
				"username", lease.Username,
				"error", err,
			)
		} else {
			report.Outcome = model.CycleOutcomeSuccess
			report.DBVersion = version
			s.logger.Info("database check succeeded",
				"host", s.target.Host,
				"username", lease.Username,
				"db_version", version,
			)
		}
	}

	report.Duration = s.clock.Since(start)

	s.mu.Lock()
	s.cycles++
	report.CycleCount = s.cycles
	s.last = &report
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.ObserveCycle(report.Outcome, report.Duration)
	}

	return report
}

// recordLease persists and publishes a newly issued lease. Failures are
// logged only; history is advisory.
func (s *DriverService) recordLease(ctx context.Context, lease model.Lease) {
	if s.recorder != nil {
		s.recorder.ObserveLeaseIssued(lease)
	}
	if s.store == nil {
		return
	}
	if err := s.store.Record(ctx, lease); err != nil {
		s.logger.Error("record lease failed", "lease", lease, "error", err)
	}
}

// classifyCycleError maps an error to its cycle outcome by error kind.
func classifyCycleError(err error) model.CycleOutcome {
	var (
		authErr     *driven.AuthenticationError
		issErr      *driven.IssuanceError
		consumerErr *driven.ConsumerError
	)

	switch {
	case errors.As(err, &authErr):
		return model.CycleOutcomeAuthenticationError
	case errors.As(err, &issErr):
		return model.CycleOutcomeIssuanceError
	case errors.As(err, &consumerErr):
		return model.CycleOutcomeConsumerError
	default:
		return model.CycleOutcomeError
	}
}

// sameLease reports whether two leases are the same issuance.
func sameLease(a, b model.Lease) bool {
	return a.LeaseID == b.LeaseID && a.Username == b.Username && a.IssuedAt.Equal(b.IssuedAt)
}
