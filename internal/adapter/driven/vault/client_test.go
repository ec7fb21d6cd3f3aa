package vault_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	vaultadapter "github.com/ericfisherdev/credsidecar/internal/adapter/driven/vault"
	"github.com/ericfisherdev/credsidecar/internal/domain/port/driven"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestClient creates a Client backed by the given httptest handler.
func newTestClient(t *testing.T, handler http.Handler, opts ...func(*vaultadapter.ClientConfig)) *vaultadapter.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := vaultadapter.ClientConfig{
		Address: server.URL,
		Timeout: 2 * time.Second,
		Clock:   testingclock.NewFakePassiveClock(fixedNow),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	client, err := vaultadapter.NewClient(cfg)
	require.NoError(t, err)

	return client
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	assert.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestLogin_Success(t *testing.T) {
	var gotRole, gotJWT, gotContentType, gotToken string

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/kubernetes/login", func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotToken = r.Header.Get("X-Vault-Token")
		assert.NoError(t, r.ParseForm())
		gotRole = r.PostForm.Get("role")
		gotJWT = r.PostForm.Get("jwt")
		writeJSON(t, w, http.StatusOK, map[string]any{
			"auth": map[string]any{
				"client_token":   "svc-1",
				"lease_duration": 3600,
				"renewable":      true,
			},
		})
	})

	client := newTestClient(t, mux)
	token, err := client.Login(context.Background(), "tok-A", "demo")

	require.NoError(t, err)
	assert.Equal(t, "svc-1", token)
	assert.Equal(t, "demo", gotRole)
	assert.Equal(t, "tok-A", gotJWT)
	assert.Equal(t, "application/x-www-form-urlencoded", gotContentType)
	assert.Empty(t, gotToken, "login must not send a service token")
}

func TestLogin_CustomMount(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/k8s-prod/login", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"auth": map[string]any{"client_token": "svc-prod"}})
	})

	client := newTestClient(t, mux, func(c *vaultadapter.ClientConfig) { c.AuthMount = "/k8s-prod/" })
	token, err := client.Login(context.Background(), "tok-A", "demo")

	require.NoError(t, err)
	assert.Equal(t, "svc-prod", token)
}

func TestLogin_Rejected(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/kubernetes/login", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeJSON(t, w, http.StatusBadRequest, map[string]any{"errors": []string{"invalid role name \"demo\""}})
	})

	client := newTestClient(t, mux)
	_, err := client.Login(context.Background(), "tok-A", "demo")

	var authErr *driven.AuthenticationError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, http.StatusBadRequest, authErr.StatusCode)
	assert.Contains(t, authErr.Body, "invalid role name")
	assert.Equal(t, int32(1), calls.Load())
}

func TestLogin_ServerErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/kubernetes/login", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeJSON(t, w, http.StatusServiceUnavailable, map[string]any{"errors": []string{"Vault is sealed"}})
	})

	client := newTestClient(t, mux)
	_, err := client.Login(context.Background(), "tok-A", "demo")

	var authErr *driven.AuthenticationError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, http.StatusServiceUnavailable, authErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLogin_NonOKSuccessStatusIsFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/kubernetes/login", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	client := newTestClient(t, mux)
	_, err := client.Login(context.Background(), "tok-A", "demo")

	var authErr *driven.AuthenticationError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, http.StatusNoContent, authErr.StatusCode)
}

func TestLogin_MissingClientToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/kubernetes/login", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"data": map[string]any{}})
	})

	client := newTestClient(t, mux)
	_, err := client.Login(context.Background(), "tok-A", "demo")

	var authErr *driven.AuthenticationError
	require.True(t, errors.As(err, &authErr))
	assert.Contains(t, err.Error(), "client_token")
}

func TestLogin_Timeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/kubernetes/login", func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})

	client := newTestClient(t, mux, func(c *vaultadapter.ClientConfig) { c.Timeout = 100 * time.Millisecond })

	start := time.Now()
	_, err := client.Login(context.Background(), "tok-A", "demo")

	var authErr *driven.AuthenticationError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, 0, authErr.StatusCode)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestLogin_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	client, err := vaultadapter.NewClient(vaultadapter.ClientConfig{Address: addr, Timeout: time.Second})
	require.NoError(t, err)

	_, err = client.Login(context.Background(), "tok-A", "demo")

	var authErr *driven.AuthenticationError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, 0, authErr.StatusCode)
}

func TestIssueCredentials_Success(t *testing.T) {
	var gotToken, gotAuthz string

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/database/creds/demo", func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Vault-Token")
		gotAuthz = r.Header.Get("Authorization")
		writeJSON(t, w, http.StatusOK, map[string]any{
			"lease_id":       "database/creds/demo/abc123",
			"lease_duration": 5,
			"renewable":      true,
			"data": map[string]any{
				"username": "u1",
				"password": "p1",
			},
		})
	})

	client := newTestClient(t, mux)
	lease, err := client.IssueCredentials(context.Background(), "svc-1", "demo")

	require.NoError(t, err)
	assert.Equal(t, "svc-1", gotToken)
	assert.Empty(t, gotAuthz, "service token is sent in X-Vault-Token, not as bearer auth")
	assert.Equal(t, "u1", lease.Username)
	assert.Equal(t, "p1", lease.Password)
	assert.Equal(t, 5, lease.ValiditySeconds)
	assert.Equal(t, "database/creds/demo/abc123", lease.LeaseID)
	assert.True(t, lease.Renewable)
	assert.Equal(t, fixedNow, lease.IssuedAt)
}

func TestIssueCredentials_CustomMount(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/pg/creds/readonly", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"lease_duration": 60,
			"data":           map[string]any{"username": "ro", "password": "pw"},
		})
	})

	client := newTestClient(t, mux, func(c *vaultadapter.ClientConfig) { c.SecretsMount = "pg" })
	lease, err := client.IssueCredentials(context.Background(), "svc-1", "readonly")

	require.NoError(t, err)
	assert.Equal(t, "ro", lease.Username)
}

func TestIssueCredentials_Rejected(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		unauthorized bool
	}{
		{"forbidden", http.StatusForbidden, true},
		{"unauthorized", http.StatusUnauthorized, true},
		{"bad request", http.StatusBadRequest, false},
		{"internal error", http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			mux := http.NewServeMux()
			mux.HandleFunc("GET /v1/database/creds/demo", func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				writeJSON(t, w, tt.status, map[string]any{"errors": []string{"permission denied"}})
			})

			client := newTestClient(t, mux)
			_, err := client.IssueCredentials(context.Background(), "svc-1", "demo")

			var issErr *driven.IssuanceError
			require.True(t, errors.As(err, &issErr))
			assert.Equal(t, tt.status, issErr.StatusCode)
			assert.Equal(t, "demo", issErr.Role)
			assert.Equal(t, tt.unauthorized, issErr.Unauthorized())
			assert.Contains(t, issErr.Body, "permission denied")
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestIssueCredentials_MissingFields(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/database/creds/demo", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"lease_duration": 5,
			"data":           map[string]any{"username": "u1"},
		})
	})

	client := newTestClient(t, mux)
	_, err := client.IssueCredentials(context.Background(), "svc-1", "demo")

	var issErr *driven.IssuanceError
	require.True(t, errors.As(err, &issErr))
	assert.Contains(t, err.Error(), "data.password")
}

func TestIssueCredentials_RejectsRoleOutsideMount(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))

	for _, role := range []string{"", ".", "..", "../../sys/x", "app/role", `app\role`, "app?x=1", "app%2f..", "app#x"} {
		t.Run(role, func(t *testing.T) {
			_, err := client.IssueCredentials(context.Background(), "svc-1", role)

			var issErr *driven.IssuanceError
			require.True(t, errors.As(err, &issErr))
			assert.Zero(t, issErr.StatusCode)
			assert.Contains(t, err.Error(), "single path segment")
		})
	}

	assert.Zero(t, calls.Load(), "no request may leave the client")
}

func TestIssueCredentials_DoesNotDeduplicate(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/database/creds/demo", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeJSON(t, w, http.StatusOK, map[string]any{
			"lease_duration": 5,
			"data":           map[string]any{"username": "u1", "password": "p1"},
		})
	})

	client := newTestClient(t, mux)
	for range 3 {
		_, err := client.IssueCredentials(context.Background(), "svc-1", "demo")
		require.NoError(t, err)
	}

	assert.Equal(t, int32(3), calls.Load())
}
