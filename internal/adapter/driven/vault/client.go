// Package vault implements the SecretService port against HashiCorp Vault
// using the official API client.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"k8s.io/utils/clock"

	"github.com/ericfisherdev/credsidecar/internal/domain/model"
	"github.com/ericfisherdev/credsidecar/internal/domain/port/driven"
)

// errInvalidRole rejects role names that are not a single path segment.
var errInvalidRole = errors.New("role must be a single path segment")

// Compile-time interface satisfaction check.
var _ driven.SecretService = (*Client)(nil)

const (
	// DefaultTimeout bounds every login and issuance call.
	DefaultTimeout = 5 * time.Second

	// maxErrorBody caps how much of a non-200 response body is kept for diagnostics.
	maxErrorBody = 4 << 10
)

// ClientConfig holds configuration for creating a Vault client.
type ClientConfig struct {
	Address      string
	Timeout      time.Duration
	AuthMount    string             // Kubernetes auth mount, default "kubernetes".
	SecretsMount string             // Database secrets engine mount, default "database".
	Clock        clock.PassiveClock // Stamps Lease.IssuedAt; defaults to the real clock.
}

// Client implements driven.SecretService. It performs exactly one HTTP
// exchange per call; the Vault client's built-in retries are disabled.
type Client struct {
	api          *api.Client
	authMount    string
	secretsMount string
	clock        clock.PassiveClock
}

// NewClient creates a Vault client. TLS settings are taken from the standard
// VAULT_CACERT / VAULT_SKIP_VERIFY environment variables read by the API client.
func NewClient(cfg ClientConfig) (*Client, error) {
	config := api.DefaultConfig()
	if config.Error != nil {
		return nil, fmt.Errorf("vault default config: %w", config.Error)
	}

	config.Address = cfg.Address
	config.MaxRetries = 0
	config.Timeout = DefaultTimeout
	if cfg.Timeout > 0 {
		config.Timeout = cfg.Timeout
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	// The service token is supplied per request; never fall back to VAULT_TOKEN.
	client.ClearToken()

	c := &Client{
		api:          client,
		authMount:    "kubernetes",
		secretsMount: "database",
		clock:        cfg.Clock,
	}
	if m := strings.Trim(cfg.AuthMount, "/"); m != "" {
		c.authMount = m
	}
	if m := strings.Trim(cfg.SecretsMount, "/"); m != "" {
		c.secretsMount = m
	}
	if c.clock == nil {
		c.clock = clock.RealClock{}
	}

	return c, nil
}

// Address returns the Vault address the client talks to.
func (c *Client) Address() string {
	return c.api.Address()
}

// Login posts the identity token and role as a form-encoded body to
// /v1/auth/{mount}/login and returns auth.client_token.
func (c *Client) Login(ctx context.Context, identityToken, role string) (string, error) {
	form := url.Values{}
	form.Set("role", role)
	form.Set("jwt", identityToken)

	req := c.api.NewRequest(http.MethodPost, "/v1/auth/"+c.authMount+"/login")
	req.ClientToken = ""
	req.BodyBytes = []byte(form.Encode())
	req.Headers = withHeader(req.Headers, "Content-Type", "application/x-www-form-urlencoded")

	secret, status, body, err := c.do(ctx, req)
	if err != nil {
		return "", &driven.AuthenticationError{StatusCode: status, Body: body, Err: err}
	}

	if secret.Auth == nil || secret.Auth.ClientToken == "" {
		return "", &driven.AuthenticationError{
			StatusCode: status,
			Err:        errors.New("login response has no auth.client_token"),
		}
	}

	return secret.Auth.ClientToken, nil
}

// IssueCredentials reads /v1/{mount}/creds/{role} with the service token in
// the X-Vault-Token header and builds a Lease from the response.
func (c *Client) IssueCredentials(ctx context.Context, serviceToken, role string) (model.Lease, error) {
	if !isPathSegment(role) {
		return model.Lease{}, &driven.IssuanceError{Role: role, Err: errInvalidRole}
	}

	req := c.api.NewRequest(http.MethodGet, path.Join("/v1", c.secretsMount, "creds", role))
	req.ClientToken = serviceToken

	secret, status, body, err := c.do(ctx, req)
	if err != nil {
		return model.Lease{}, &driven.IssuanceError{Role: role, StatusCode: status, Body: body, Err: err}
	}

	username, _ := secret.Data["username"].(string)
	password, _ := secret.Data["password"].(string)
	if username == "" || password == "" {
		return model.Lease{}, &driven.IssuanceError{
			Role:       role,
			StatusCode: status,
			Err:        errors.New("credential response is missing data.username or data.password"),
		}
	}

	lease := model.NewLease(username, password, secret.LeaseDuration, c.clock.Now())
	lease.LeaseID = secret.LeaseID
	lease.Renewable = secret.Renewable

	return lease, nil
}

// do sends req and decodes a 200 response into a Secret. On failure it returns
// the HTTP status (0 when no response arrived) and a diagnostic body.
func (c *Client) do(ctx context.Context, req *api.Request) (*api.Secret, int, string, error) {
	//nolint:staticcheck // RawRequestWithContext is the only API that exposes the raw status code.
	resp, err := c.api.RawRequestWithContext(ctx, req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		var respErr *api.ResponseError
		if errors.As(err, &respErr) {
			return nil, respErr.StatusCode, strings.Join(respErr.Errors, "; "), err
		}
		if resp != nil {
			return nil, resp.StatusCode, "", err
		}
		return nil, 0, "", err
	}

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, resp.StatusCode, string(raw), fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	secret, err := api.ParseSecret(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, "", fmt.Errorf("decode response: %w", err)
	}
	if secret == nil {
		return nil, resp.StatusCode, "", errors.New("empty response body")
	}

	return secret, resp.StatusCode, "", nil
}

// isPathSegment reports whether s can be used as a single URL path element
// without leaving the mount it is joined under.
func isPathSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\?#%`)
}

// withHeader returns a copy of h with key set. The request's header map is
// shared with the API client, so it must not be modified in place.
func withHeader(h http.Header, key, value string) http.Header {
	out := h.Clone()
	if out == nil {
		out = make(http.Header)
	}
	out.Set(key, value)
	return out
}
