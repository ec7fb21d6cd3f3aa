package model

import "time"

// DatabaseTarget identifies the database the consumer check connects to.
type DatabaseTarget struct {
	Host     string
	Port     int
	Database string
	SSLMode  string // libpq sslmode, e.g. "disable", "prefer", "require".
}

// DatabaseCredential is the username/password pair taken from the active lease.
type DatabaseCredential struct {
	Username string
	Password string
}

// CycleReport describes the most recent driver loop cycle.
type CycleReport struct {
	Outcome    CycleOutcome
	StartedAt  time.Time
	Duration   time.Duration
	Error      string // Empty on success.
	DBVersion  string // Server version reported by the consumer check.
	NewLease   bool   // True when the cycle obtained a freshly issued lease.
	CycleCount int
}
