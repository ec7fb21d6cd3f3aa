// Package metrics implements the CycleRecorder port with Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ericfisherdev/credsidecar/internal/domain/model"
	"github.com/ericfisherdev/credsidecar/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CycleRecorder = (*Recorder)(nil)

const namespace = "credsidecar"

// Recorder holds the sidecar's Prometheus collectors.
type Recorder struct {
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	leasesIssued  prometheus.Counter
	leaseExpiry   prometheus.Gauge
	leaseTTL      prometheus.Gauge
}

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Driver loop cycles by outcome.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one driver loop cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		leasesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leases_issued_total",
			Help:      "Database credential leases obtained from Vault.",
		}),
		leaseExpiry: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lease_expiry_timestamp_seconds",
			Help:      "Unix time at which the current lease expires.",
		}),
		leaseTTL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lease_ttl_seconds",
			Help:      "Declared duration of the current lease.",
		}),
	}

	reg.MustRegister(r.cycles, r.cycleDuration, r.leasesIssued, r.leaseExpiry, r.leaseTTL)

	// Pre-create outcome series so dashboards see zeroes before the first failure.
	for _, outcome := range []model.CycleOutcome{
		model.CycleOutcomeSuccess,
		model.CycleOutcomeAuthenticationError,
		model.CycleOutcomeIssuanceError,
		model.CycleOutcomeConsumerError,
		model.CycleOutcomeError,
	} {
		r.cycles.WithLabelValues(string(outcome))
	}

	return r
}

// ObserveCycle counts one cycle and records its duration.
func (r *Recorder) ObserveCycle(outcome model.CycleOutcome, duration time.Duration) {
	r.cycles.WithLabelValues(string(outcome)).Inc()
	r.cycleDuration.Observe(duration.Seconds())
}

// ObserveLeaseIssued counts a new lease and publishes its expiry.
func (r *Recorder) ObserveLeaseIssued(lease model.Lease) {
	r.leasesIssued.Inc()
	r.leaseExpiry.Set(float64(lease.ExpiresAt().Unix()))
	r.leaseTTL.Set(float64(lease.ValiditySeconds))
}
