// Package observability — metrics.go
//
// Prometheus metrics for the edge-vehicle-server broker.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback by default; a configured address is used as given and
// is not checked to be loopback.
//
// Metric naming convention: edgebroker_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control:
//   - Client name is NOT used as a label (client population is
//     operator-controlled but unbounded over a long run).
//   - Per-client counts are aggregated before recording.

package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for the broker.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Verdict cycle ────────────────────────────────────────────────────────

	// VerdictCyclesTotal counts verdict cycle attempts, by outcome
	// (published, rate_limited).
	VerdictCyclesTotal *prometheus.CounterVec

	// VerdictCycleLatency records wall-clock cost of one fusion +
	// reputation pass.
	VerdictCycleLatency prometheus.Histogram

	// VerdictSlotTallySize records the number of slots in each published
	// verdict. Per-slot label tally sizes are not recorded.
	VerdictSlotTallySize prometheus.Histogram

	// ─── Clients ───────────────────────────────────────────────────────────────

	// RegisteredClients is the current number of registered clients.
	RegisteredClients prometheus.Gauge

	// ReputationMin/Mean/Max track the reputation distribution across
	// registered clients, sampled each verdict cycle.
	ReputationMin  prometheus.Gauge
	ReputationMean prometheus.Gauge
	ReputationMax  prometheus.Gauge

	// DisagreementsTotal counts per-slot categorical disagreements
	// accumulated across all reputation updates.
	DisagreementsTotal prometheus.Counter

	// StaleObservationsDroppedTotal counts observations excluded from a
	// verdict for exceeding the freshness window.
	StaleObservationsDroppedTotal prometheus.Counter

	// ─── Transport ──────────────────────────────────────────────────────────

	// DecodeErrorsTotal counts malformed inbound payloads dropped at the
	// transport adapter.
	DecodeErrorsTotal *prometheus.CounterVec

	// PublishFailuresTotal counts publish failures, by topic.
	PublishFailuresTotal *prometheus.CounterVec

	// ─── Parking variant ────────────────────────────────────────────────────

	// ParkingDisplacementsTotal counts plate-to-spot displacement events
	// in the spatial assignment algorithm.
	ParkingDisplacementsTotal prometheus.Counter

	// ─── Ledger ─────────────────────────────────────────────────────────────

	// LedgerWriteLatency records BoltDB write transaction latency for the
	// verdict audit ledger.
	LedgerWriteLatency prometheus.Histogram

	// LedgerEntries is the current number of ledger entries.
	LedgerEntries prometheus.Gauge

	// ─── Broker ─────────────────────────────────────────────────────────────

	// BrokerUptimeSeconds is the number of seconds since broker start.
	BrokerUptimeSeconds prometheus.Gauge

	// startTime records when the broker started (for uptime calculation).
	startTime time.Time
}

// NewMetrics creates and registers all broker Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		VerdictCyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgebroker",
			Subsystem: "verdict",
			Name:      "cycles_total",
			Help:      "Total verdict cycle attempts, by outcome.",
		}, []string{"outcome"}),

		VerdictCycleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "edgebroker",
			Subsystem: "verdict",
			Name:      "cycle_latency_seconds",
			Help:      "Wall-clock cost of one fusion + reputation pass.",
			Buckets:   prometheus.DefBuckets,
		}),

		VerdictSlotTallySize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "edgebroker",
			Subsystem: "verdict",
			Name:      "slot_tally_size",
			Help:      "Number of slots in each published verdict.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13},
		}),

		RegisteredClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "edgebroker",
			Subsystem: "clients",
			Name:      "registered",
			Help:      "Current number of registered clients.",
		}),

		ReputationMin: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "edgebroker",
			Subsystem: "clients",
			Name:      "reputation_min",
			Help:      "Minimum reputation across registered clients.",
		}),

		ReputationMean: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "edgebroker",
			Subsystem: "clients",
			Name:      "reputation_mean",
			Help:      "Mean reputation across registered clients.",
		}),

		ReputationMax: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "edgebroker",
			Subsystem: "clients",
			Name:      "reputation_max",
			Help:      "Maximum reputation across registered clients.",
		}),

		DisagreementsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edgebroker",
			Subsystem: "clients",
			Name:      "disagreements_total",
			Help:      "Total per-slot categorical disagreements across all reputation updates.",
		}),

		StaleObservationsDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edgebroker",
			Subsystem: "clients",
			Name:      "stale_observations_dropped_total",
			Help:      "Observations excluded from a verdict for exceeding the freshness window.",
		}),

		DecodeErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgebroker",
			Subsystem: "transport",
			Name:      "decode_errors_total",
			Help:      "Malformed inbound payloads dropped, by topic.",
		}, []string{"topic"}),

		PublishFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgebroker",
			Subsystem: "transport",
			Name:      "publish_failures_total",
			Help:      "Publish failures, by topic.",
		}, []string{"topic"}),

		ParkingDisplacementsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edgebroker",
			Subsystem: "parking",
			Name:      "displacements_total",
			Help:      "Plate-to-spot displacement events in the spatial assignment algorithm.",
		}),

		LedgerWriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "edgebroker",
			Subsystem: "ledger",
			Name:      "write_latency_seconds",
			Help:      "BoltDB write transaction latency for the verdict audit ledger.",
			Buckets:   prometheus.DefBuckets,
		}),

		LedgerEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "edgebroker",
			Subsystem: "ledger",
			Name:      "entries",
			Help:      "Current number of audit ledger entries in BoltDB.",
		}),

		BrokerUptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "edgebroker",
			Subsystem: "broker",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the broker started.",
		}),
	}

	reg.MustRegister(
		m.VerdictCyclesTotal,
		m.VerdictCycleLatency,
		m.VerdictSlotTallySize,
		m.RegisteredClients,
		m.ReputationMin,
		m.ReputationMean,
		m.ReputationMax,
		m.DisagreementsTotal,
		m.StaleObservationsDroppedTotal,
		m.DecodeErrorsTotal,
		m.PublishFailuresTotal,
		m.ParkingDisplacementsTotal,
		m.LedgerWriteLatency,
		m.LedgerEntries,
		m.BrokerUptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given address.
// Blocks until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

// updateUptime periodically updates the BrokerUptimeSeconds gauge.
func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.BrokerUptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
