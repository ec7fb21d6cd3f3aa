// Package postgres implements the DatabaseChecker port using pgx.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ericfisherdev/credsidecar/internal/domain/model"
	"github.com/ericfisherdev/credsidecar/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.DatabaseChecker = (*Checker)(nil)

// DefaultConnectTimeout bounds connection setup for each check.
const DefaultConnectTimeout = 5 * time.Second

// Checker opens a fresh connection per check, runs SELECT version(), and
// closes the connection. No pool is kept because credentials rotate.
type Checker struct {
	connectTimeout time.Duration
}

// NewChecker creates a Checker. A non-positive timeout selects DefaultConnectTimeout.
func NewChecker(connectTimeout time.Duration) *Checker {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	return &Checker{connectTimeout: connectTimeout}
}

// Check connects to target with cred and returns the server version string.
func (c *Checker) Check(ctx context.Context, target model.DatabaseTarget, cred model.DatabaseCredential) (string, error) {
	connConfig, err := c.ConnConfig(target, cred)
	if err != nil {
		return "", &driven.ConsumerError{Host: target.Host, Database: target.Database, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	conn, err := pgx.ConnectConfig(ctx, connConfig)
	if err != nil {
		return "", &driven.ConsumerError{Host: target.Host, Database: target.Database, Err: fmt.Errorf("connect: %w", err)}
	}
	defer func() {
		if closeErr := conn.Close(context.Background()); closeErr != nil {
			slog.Warn("error closing database connection", "host", target.Host, "error", closeErr)
		}
	}()

	var version string
	if err := conn.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
		return "", &driven.ConsumerError{Host: target.Host, Database: target.Database, Err: fmt.Errorf("query version: %w", err)}
	}

	return version, nil
}

// ConnConfig builds the pgx connection config for target. The password is set
// on the parsed config rather than embedded in the connection string.
func (c *Checker) ConnConfig(target model.DatabaseTarget, cred model.DatabaseCredential) (*pgx.ConnConfig, error) {
	sslMode := target.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	// Host stays in the DSN: ParseConfig derives the TLS server name and the
	// prefer fallbacks from it.
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s connect_timeout=%d",
		quoteDSNValue(target.Host), target.Port, quoteDSNValue(target.Database),
		quoteDSNValue(sslMode), int(c.connectTimeout.Seconds()))

	connConfig, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse connection config: %w", err)
	}
	connConfig.User = cred.Username
	connConfig.Password = cred.Password
	connConfig.RuntimeParams["application_name"] = "credsidecar"

	return connConfig, nil
}

var dsnEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// quoteDSNValue single-quotes a keyword/value connection string value.
func quoteDSNValue(v string) string {
	return "'" + dsnEscaper.Replace(v) + "'"
}
