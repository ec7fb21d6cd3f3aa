package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/ericfisherdev/credsidecar/internal/domain/model"
	"github.com/ericfisherdev/credsidecar/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.LeaseStore = (*LeaseRepo)(nil)

// timeLayout is used for every timestamp column so lexical order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// LeaseRepo is the SQLite implementation of the LeaseStore port interface.
type LeaseRepo struct {
	db *DB
}

// NewLeaseRepo creates a new LeaseRepo backed by the given DB.
func NewLeaseRepo(db *DB) *LeaseRepo {
	return &LeaseRepo{db: db}
}

// Record inserts the metadata of an issued lease. The password is not stored.
func (r *LeaseRepo) Record(ctx context.Context, lease model.Lease) error {
	const query = `INSERT INTO leases (lease_id, username, validity_seconds, issued_at, expires_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	rec := model.NewLeaseRecord(lease)
	_, err := r.db.Writer.ExecContext(ctx, query,
		rec.LeaseID,
		rec.Username,
		rec.ValiditySeconds,
		formatTime(rec.IssuedAt),
		formatTime(rec.ExpiresAt),
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("record lease %s: %w", rec.Username, err)
	}
	return nil
}

// ListRecent returns up to limit lease records, newest first.
func (r *LeaseRepo) ListRecent(ctx context.Context, limit int) ([]model.LeaseRecord, error) {
	if limit <= 0 {
		return []model.LeaseRecord{}, nil
	}

	const query = `SELECT id, lease_id, username, validity_seconds, issued_at, expires_at
		FROM leases ORDER BY issued_at DESC, id DESC LIMIT ?`

	rows, err := r.db.Reader.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list leases: %w", err)
	}
	defer rows.Close()

	records := []model.LeaseRecord{}
	for rows.Next() {
		var rec model.LeaseRecord
		var issuedAt, expiresAt string
		if err := rows.Scan(&rec.ID, &rec.LeaseID, &rec.Username, &rec.ValiditySeconds, &issuedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scan lease: %w", err)
		}

		if rec.IssuedAt, err = parseTime(issuedAt); err != nil {
			return nil, fmt.Errorf("parse issued_at for lease %d: %w", rec.ID, err)
		}
		if rec.ExpiresAt, err = parseTime(expiresAt); err != nil {
			return nil, fmt.Errorf("parse expires_at for lease %d: %w", rec.ID, err)
		}

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leases: %w", err)
	}

	return records, nil
}

// Prune deletes lease records issued before cutoff and returns the number removed.
func (r *LeaseRepo) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM leases WHERE issued_at < ?`

	result, err := r.db.Writer.ExecContext(ctx, query, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune leases: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune leases rows affected: %w", err)
	}
	return n, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime parses a timestamp column. CURRENT_TIMESTAMP defaults use the
// SQLite layout, so both are accepted.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		timeLayout,
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}
