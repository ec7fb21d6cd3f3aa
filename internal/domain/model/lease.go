package model

import (
	"fmt"
	"log/slog"
	"time"
)

// Lease is one dynamically issued database credential and its validity window.
// A Lease is never mutated after construction; a refresh produces a new Lease
// and the old one is simply dropped.
type Lease struct {
	LeaseID         string    // Vault lease identifier, may be empty.
	Username        string    // Database username issued by Vault.
	Password        string    // Database password issued alongside Username.
	ValiditySeconds int       // lease_duration declared by the issuer.
	Renewable       bool      // Whether Vault marked the lease renewable.
	IssuedAt        time.Time // Stamped once, at construction.
}

// NewLease creates a Lease issued at the given instant.
func NewLease(username, password string, validitySeconds int, issuedAt time.Time) Lease {
	return Lease{
		Username:        username,
		Password:        password,
		ValiditySeconds: validitySeconds,
		IssuedAt:        issuedAt,
	}
}

// Validity returns the declared lease duration.
func (l Lease) Validity() time.Duration {
	return time.Duration(l.ValiditySeconds) * time.Second
}

// ExpiresAt returns the instant at which the lease stops being usable.
func (l Lease) ExpiresAt() time.Time {
	return l.IssuedAt.Add(l.Validity())
}

// IsExpired reports whether at least ValiditySeconds have elapsed since IssuedAt.
// A lease with a non-positive validity is expired from the moment it is issued.
func (l Lease) IsExpired(now time.Time) bool {
	return now.Sub(l.IssuedAt) >= l.Validity()
}

// Remaining returns the time left before expiry, or 0 once expired.
func (l Lease) Remaining(now time.Time) time.Duration {
	remaining := l.ExpiresAt().Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Credential returns the username/password pair handed to the database consumer.
func (l Lease) Credential() DatabaseCredential {
	return DatabaseCredential{Username: l.Username, Password: l.Password}
}

// String renders the lease without its password.
func (l Lease) String() string {
	return fmt.Sprintf("%s (ttl %ds)", l.Username, l.ValiditySeconds)
}

// LogValue implements slog.LogValuer so leases can be logged directly.
// The password is deliberately omitted.
func (l Lease) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", l.Username),
		slog.String("lease_id", l.LeaseID),
		slog.Int("ttl_seconds", l.ValiditySeconds),
		slog.Time("issued_at", l.IssuedAt),
	)
}

// LeaseRecord is the persisted metadata of an issued lease. It never carries
// the password.
type LeaseRecord struct {
	ID              int64
	LeaseID         string
	Username        string
	ValiditySeconds int
	IssuedAt        time.Time
	ExpiresAt       time.Time
}

// NewLeaseRecord extracts the persistable metadata from a lease.
func NewLeaseRecord(l Lease) LeaseRecord {
	return LeaseRecord{
		LeaseID:         l.LeaseID,
		Username:        l.Username,
		ValiditySeconds: l.ValiditySeconds,
		IssuedAt:        l.IssuedAt,
		ExpiresAt:       l.ExpiresAt(),
	}
}
