package model

// SupervisorState is the credential supervisor's position in the
// authenticate -> issue -> renew lifecycle.
type SupervisorState string

const (
	StateUnauthenticated      SupervisorState = "unauthenticated"
	StateAuthenticatedNoLease SupervisorState = "authenticated_no_lease"
	StateLeaseValid           SupervisorState = "authenticated_lease_valid"
	StateLeaseExpired         SupervisorState = "authenticated_lease_expired" // Transient; resolved on the next call.
)

// CycleOutcome classifies the result of one driver loop cycle.
type CycleOutcome string

const (
	CycleOutcomeSuccess             CycleOutcome = "success"
	CycleOutcomeAuthenticationError CycleOutcome = "authentication_error"
	CycleOutcomeIssuanceError       CycleOutcome = "issuance_error"
	CycleOutcomeConsumerError       CycleOutcome = "consumer_error"
	CycleOutcomeError               CycleOutcome = "error"
)
