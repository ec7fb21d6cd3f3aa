// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"k8s.io/utils/clock"

	"github.com/ericfisherdev/credsidecar/internal/domain/model"
	"github.com/ericfisherdev/credsidecar/internal/domain/port/driven"
)

// SupervisorOptions configures a Supervisor.
type SupervisorOptions struct {
	AuthRole string             // Role presented at login.
	DBRole   string             // Database secrets role credentials are issued for.
	Clock    clock.PassiveClock // Used for expiry checks; defaults to the real clock.
	Logger   *slog.Logger       // Defaults to slog.Default().
}

// SupervisorSnapshot is a point-in-time view of the supervisor for status reporting.
type SupervisorSnapshot struct {
	State             model.SupervisorState
	Lease             *model.Lease // Nil until the first successful issuance.
	Logins            int
	Issuances         int
	Reauthentications int
}

// Supervisor owns the service token and the current lease. It decides on each
// call whether to log in and whether to request a fresh lease.
type Supervisor struct {
	secrets       driven.SecretService
	identityToken string
	authRole      string
	dbRole        string
	clock         clock.PassiveClock
	logger        *slog.Logger

	// cycleMu serializes ObtainCredential so concurrent callers never issue twice.
	cycleMu sync.Mutex

	// mu guards the fields below for Snapshot readers.
	mu           sync.RWMutex
	serviceToken string
	lease        *model.Lease
	logins       int
	issuances    int
	reauths      int
}

// NewSupervisor reads the identity token once and returns a Supervisor in the
// unauthenticated state. A failed read is returned as the source's
// *driven.IdentitySourceError and is fatal to the caller.
func NewSupervisor(identity driven.IdentitySource, secrets driven.SecretService, opts SupervisorOptions) (*Supervisor, error) {
	token, err := identity.ReadIdentityToken()
	if err != nil {
		return nil, err
	}

	s := &Supervisor{
		secrets:       secrets,
		identityToken: token,
		authRole:      opts.AuthRole,
		dbRole:        opts.DBRole,
		clock:         opts.Clock,
		logger:        opts.Logger,
	}
	if s.clock == nil {
		s.clock = clock.RealClock{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	return s, nil
}

// ObtainCredential ensures a service token is held, ensures an unexpired lease
// is held, and returns that lease. Errors from the secret service are returned
// unchanged; on failure the previously held lease is left untouched.
//
// If issuance is rejected as unauthorized the service token is assumed to be
// expired or revoked: it is dropped and login plus issuance are retried once.
func (s *Supervisor) ObtainCredential(ctx context.Context) (model.Lease, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	if err := s.ensureAuthenticated(ctx); err != nil {
		return model.Lease{}, err
	}

	lease, err := s.ensureCredentials(ctx)
	if err == nil {
		return lease, nil
	}

	var issErr *driven.IssuanceError
	if !errors.As(err, &issErr) || !issErr.Unauthorized() {
		return model.Lease{}, err
	}

	s.logger.Warn("service token rejected, re-authenticating",
		"role", s.dbRole,
		"status", issErr.StatusCode,
	)
	s.mu.Lock()
	s.serviceToken = ""
	s.reauths++
	s.mu.Unlock()

	if err := s.ensureAuthenticated(ctx); err != nil {
		return model.Lease{}, err
	}
	return s.ensureCredentials(ctx)
}

// ensureAuthenticated logs in when no service token is held.
func (s *Supervisor) ensureAuthenticated(ctx context.Context) error {
	s.mu.RLock()
	authenticated := s.serviceToken != ""
	s.mu.RUnlock()
	if authenticated {
		return nil
	}

	token, err := s.secrets.Login(ctx, s.identityToken, s.authRole)
	if err != nil {
		return err
	}
	if token == "" {
		return &driven.AuthenticationError{Err: fmt.Errorf("empty service token for role %q", s.authRole)}
	}

	s.mu.Lock()
	s.serviceToken = token
	s.logins++
	s.mu.Unlock()

	s.logger.Info("authenticated with secret service", "role", s.authRole)
	return nil
}

// ensureCredentials returns the held lease while it is valid and otherwise
// requests a new one.
func (s *Supervisor) ensureCredentials(ctx context.Context) (model.Lease, error) {
	s.mu.RLock()
	token := s.serviceToken
	current := s.lease
	s.mu.RUnlock()

	if current != nil && !current.IsExpired(s.clock.Now()) {
		s.logger.Info("using existing credential", "lease", *current)
		return *current, nil
	}

	lease, err := s.secrets.IssueCredentials(ctx, token, s.dbRole)
	if err != nil {
		return model.Lease{}, err
	}

	s.mu.Lock()
	s.lease = &lease
	s.issuances++
	s.mu.Unlock()

	s.logger.Info("obtained new credential", "lease", lease)
	return lease, nil
}

// CurrentLease returns the held lease, which may be expired, and whether one is held.
func (s *Supervisor) CurrentLease() (model.Lease, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lease == nil {
		return model.Lease{}, false
	}
	return *s.lease, true
}

// Snapshot reports the current state without making any network call.
func (s *Supervisor) Snapshot() SupervisorSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := SupervisorSnapshot{
		Logins:            s.logins,
		Issuances:         s.issuances,
		Reauthentications: s.reauths,
	}

	switch {
	case s.serviceToken == "":
		snap.State = model.StateUnauthenticated
	case s.lease == nil:
		snap.State = model.StateAuthenticatedNoLease
	case s.lease.IsExpired(s.clock.Now()):
		snap.State = model.StateLeaseExpired
	default:
		snap.State = model.StateLeaseValid
	}

	if s.lease != nil {
		lease := *s.lease
		snap.Lease = &lease
	}

	return snap
}
