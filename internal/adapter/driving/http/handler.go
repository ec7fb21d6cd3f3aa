package httphandler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ericfisherdev/credsidecar/internal/application"
	"github.com/ericfisherdev/credsidecar/internal/domain/model"
)

const (
	defaultLeaseLimit = 20
	maxLeaseLimit     = 200

	// cycleTimeout bounds a manually triggered cycle.
	cycleTimeout = 30 * time.Second
)

// CycleRunner triggers an out-of-band driver cycle.
type CycleRunner interface {
	RunNow(ctx context.Context) (model.CycleReport, error)
}

// Handler is the HTTP driving adapter that serves the status API.
type Handler struct {
	statusSvc *application.StatusService
	runner    CycleRunner
	logger    *slog.Logger
}

// NewHandler creates a Handler. runner may be nil, in which case manual
// cycles are unavailable.
func NewHandler(statusSvc *application.StatusService, runner CycleRunner, logger *slog.Logger) *Handler {
	return &Handler{
		statusSvc: statusSvc,
		runner:    runner,
		logger:    logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware. metrics is mounted at /metrics when
// non-nil.
func NewServeMux(h *Handler, metrics http.Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("GET /api/v1/ready", h.Ready)
	mux.HandleFunc("GET /api/v1/status", h.Status)
	mux.HandleFunc("GET /api/v1/leases", h.ListLeases)
	mux.HandleFunc("POST /api/v1/cycle", h.RunCycle)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// Health returns a simple liveness response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready returns 200 while an unexpired credential is held and 503 otherwise.
func (h *Handler) Ready(w http.ResponseWriter, _ *http.Request) {
	summary := h.statusSvc.Summary()

	resp := ReadyResponse{
		Ready: summary.Ready,
		State: string(summary.Supervisor.State),
	}
	if !summary.Ready {
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Status returns the supervisor state, lease metadata, and the last cycle.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toStatusResponse(h.statusSvc.Summary()))
}

// ListLeases returns recent lease history, newest first.
func (h *Handler) ListLeases(w http.ResponseWriter, r *http.Request) {
	limit := defaultLeaseLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLeaseLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxLeaseLimit))
			return
		}
		limit = n
	}

	records, err := h.statusSvc.RecentLeases(r.Context(), limit)
	if err != nil {
		if errors.Is(err, application.ErrLeaseHistoryDisabled) {
			writeError(w, http.StatusNotFound, "lease history disabled")
			return
		}
		h.logger.Error("failed to list leases", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]LeaseRecordResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, toLeaseRecordResponse(rec))
	}

	writeJSON(w, http.StatusOK, resp)
}

// RunCycle runs a driver cycle immediately and returns its report.
func (h *Handler) RunCycle(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "manual cycles unavailable")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), cycleTimeout)
	defer cancel()

	report, err := h.runner.RunNow(ctx)
	if err != nil {
		h.logger.Error("manual cycle failed", "error", err)
		writeError(w, http.StatusGatewayTimeout, "cycle did not complete")
		return
	}

	writeJSON(w, http.StatusOK, toCycleResponse(report))
}
