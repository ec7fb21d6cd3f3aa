package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

const (
	defaultAddr  = "127.0.0.1:8080"
	probeTimeout = 2 * time.Second
)

// Probe paths. "ready" succeeds only while the sidecar holds a valid credential.
var probePaths = map[string]string{
	"live":  "/api/v1/health",
	"ready": "/api/v1/ready",
}

func main() {
	mode := "live"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	path, ok := probePaths[mode]
	if !ok {
		fmt.Fprintf(os.Stderr, "usage: healthcheck [live|ready]\n")
		os.Exit(2)
	}

	os.Exit(check(normalizeAddr(os.Getenv("CREDSIDECAR_LISTEN_ADDR")), path))
}

// check returns 0 when GET http://addr+path answers 200 within probeTimeout.
func check(addr, path string) int {
	client := &http.Client{Timeout: probeTimeout}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+path, nil)
	if err != nil {
		return 1
	}

	resp, err := client.Do(req)
	if err != nil {
		return 1
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 1
	}

	return 0
}

// normalizeAddr points the probe at loopback. The sidecar binds 0.0.0.0 but
// the probe runs in the same container.
func normalizeAddr(raw string) string {
	if raw == "" {
		return defaultAddr
	}

	host, port, err := net.SplitHostPort(raw)
	if err != nil {
		return defaultAddr
	}

	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}

	return net.JoinHostPort(host, port)
}
