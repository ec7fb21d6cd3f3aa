package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/credsidecar/internal/application"
	"github.com/ericfisherdev/credsidecar/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// ReadyResponse is the JSON representation of the readiness endpoint.
type ReadyResponse struct {
	Ready bool   `json:"ready"`
	State string `json:"state"`
}

// LeaseResponse is the JSON representation of the held lease. The password is
// never exposed.
type LeaseResponse struct {
	LeaseID          string `json:"lease_id,omitempty"`
	Username         string `json:"username"`
	ValiditySeconds  int    `json:"validity_seconds"`
	Renewable        bool   `json:"renewable"`
	IssuedAt         string `json:"issued_at"`
	ExpiresAt        string `json:"expires_at"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

// CycleResponse is the JSON representation of a driver cycle report.
type CycleResponse struct {
	Count      int    `json:"count"`
	Outcome    string `json:"outcome"`
	StartedAt  string `json:"started_at"`
	DurationMs int64  `json:"duration_ms"`
	NewLease   bool   `json:"new_lease"`
	DBVersion  string `json:"db_version,omitempty"`
	Error      string `json:"error,omitempty"`
}

// StatusResponse is the JSON representation of the status endpoint.
type StatusResponse struct {
	State             string         `json:"state"`
	Ready             bool           `json:"ready"`
	Lease             *LeaseResponse `json:"lease"`
	Logins            int            `json:"logins"`
	Issuances         int            `json:"issuances"`
	Reauthentications int            `json:"reauthentications"`
	LastCycle         *CycleResponse `json:"last_cycle"`
}

// LeaseRecordResponse is the JSON representation of a lease history entry.
type LeaseRecordResponse struct {
	ID              int64  `json:"id"`
	LeaseID         string `json:"lease_id,omitempty"`
	Username        string `json:"username"`
	ValiditySeconds int    `json:"validity_seconds"`
	IssuedAt        string `json:"issued_at"`
	ExpiresAt       string `json:"expires_at"`
}

// toStatusResponse converts a status summary to its JSON representation.
func toStatusResponse(s application.StatusSummary) StatusResponse {
	resp := StatusResponse{
		State:             string(s.Supervisor.State),
		Ready:             s.Ready,
		Logins:            s.Supervisor.Logins,
		Issuances:         s.Supervisor.Issuances,
		Reauthentications: s.Supervisor.Reauthentications,
	}

	if s.Supervisor.Lease != nil {
		lease := toLeaseResponse(*s.Supervisor.Lease, s.LeaseRemaining)
		resp.Lease = &lease
	}
	if s.LastCycle != nil {
		cycle := toCycleResponse(*s.LastCycle)
		resp.LastCycle = &cycle
	}

	return resp
}

// toLeaseResponse converts a domain Lease to its JSON representation.
func toLeaseResponse(l model.Lease, remaining time.Duration) LeaseResponse {
	return LeaseResponse{
		LeaseID:          l.LeaseID,
		Username:         l.Username,
		ValiditySeconds:  l.ValiditySeconds,
		Renewable:        l.Renewable,
		IssuedAt:         l.IssuedAt.UTC().Format(time.RFC3339),
		ExpiresAt:        l.ExpiresAt().UTC().Format(time.RFC3339),
		RemainingSeconds: int(remaining / time.Second),
	}
}

// toCycleResponse converts a domain CycleReport to its JSON representation.
func toCycleResponse(c model.CycleReport) CycleResponse {
	return CycleResponse{
		Count:      c.CycleCount,
		Outcome:    string(c.Outcome),
		StartedAt:  c.StartedAt.UTC().Format(time.RFC3339),
		DurationMs: c.Duration.Milliseconds(),
		NewLease:   c.NewLease,
		DBVersion:  c.DBVersion,
		Error:      c.Error,
	}
}

// toLeaseRecordResponse converts a domain LeaseRecord to its JSON representation.
func toLeaseRecordResponse(rec model.LeaseRecord) LeaseRecordResponse {
	return LeaseRecordResponse{
		ID:              rec.ID,
		LeaseID:         rec.LeaseID,
		Username:        rec.Username,
		ValiditySeconds: rec.ValiditySeconds,
		IssuedAt:        rec.IssuedAt.UTC().Format(time.RFC3339),
		ExpiresAt:       rec.ExpiresAt.UTC().Format(time.RFC3339),
	}
}
