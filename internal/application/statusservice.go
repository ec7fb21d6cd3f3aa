package application

import (
	"context"
	"errors"
	"time"

	"k8s.io/utils/clock"

	"github.com/ericfisherdev/credsidecar/internal/domain/model"
	"github.com/ericfisherdev/credsidecar/internal/domain/port/driven"
)

// ErrLeaseHistoryDisabled is returned by RecentLeases when no lease store is configured.
var ErrLeaseHistoryDisabled = errors.New("lease history disabled")

// SupervisorStatus is the read-only view of a Supervisor.
type SupervisorStatus interface {
	Snapshot() SupervisorSnapshot
}

// CycleReporter is the read-only view of a DriverService.
type CycleReporter interface {
	LastCycle() (model.CycleReport, bool)
}

// StatusSummary contains the combined supervisor and driver view for the HTTP API.
type StatusSummary struct {
	Supervisor     SupervisorSnapshot
	LastCycle      *model.CycleReport // Nil until the first cycle completes.
	LeaseRemaining time.Duration      // Zero when no lease is held or it has expired.
	Ready          bool
}

// StatusService assembles status views from in-memory state and the optional
// lease history. It never calls the secret service.
type StatusService struct {
	supervisor SupervisorStatus
	cycles     CycleReporter
	store      driven.LeaseStore
	clock      clock.PassiveClock
}

// NewStatusService creates a StatusService. store may be nil when lease
// history is disabled; clk defaults to the real clock.
func NewStatusService(supervisor SupervisorStatus, cycles CycleReporter, store driven.LeaseStore, clk clock.PassiveClock) *StatusService {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &StatusService{
		supervisor: supervisor,
		cycles:     cycles,
		store:      store,
		clock:      clk,
	}
}

// Summary returns the current status. Ready is true only while the supervisor
// holds an unexpired lease.
func (s *StatusService) Summary() StatusSummary {
	summary := StatusSummary{
		Supervisor: s.supervisor.Snapshot(),
	}

	if report, ok := s.cycles.LastCycle(); ok {
		summary.LastCycle = &report
	}

	if summary.Supervisor.State == model.StateLeaseValid && summary.Supervisor.Lease != nil {
		summary.Ready = true
		summary.LeaseRemaining = summary.Supervisor.Lease.Remaining(s.clock.Now())
	}

	return summary
}

// Ready reports whether a usable credential is currently held.
func (s *StatusService) Ready() bool {
	return s.supervisor.Snapshot().State == model.StateLeaseValid
}

// HistoryEnabled reports whether lease history is available.
func (s *StatusService) HistoryEnabled() bool {
	return s.store != nil
}

// RecentLeases returns up to limit recorded leases, newest first.
func (s *StatusService) RecentLeases(ctx context.Context, limit int) ([]model.LeaseRecord, error) {
	if s.store == nil {
		return nil, ErrLeaseHistoryDisabled
	}
	return s.store.ListRecent(ctx, limit)
}
