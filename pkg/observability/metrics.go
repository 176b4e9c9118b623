// Package observability wires the runtime's engine events into Prometheus
// metrics and OpenTelemetry traces. The Instrumentation type plugs into
// pkg/rpc via rpc.WithInstrumentation.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configures metric naming and the scrape endpoint.
type MetricsConfig struct {
	// Identity stamped onto every series as const labels.
	ServiceName    string
	ServiceVersion string
	Environment    string

	// Scrape endpoint served by Start.
	MetricsPath string // default /metrics
	MetricsPort int    // default 9090

	Namespace        string    // metric name prefix, default mcp
	Subsystem        string
	HistogramBuckets []float64 // latency buckets, in milliseconds

	// ConstLabels are attached to every metric in addition to the
	// identity labels above.
	ConstLabels prometheus.Labels
}

// MetricsProvider records engine-level events as Prometheus metrics
type MetricsProvider struct {
	config MetricsConfig
	server *http.Server

	outboundDuration *prometheus.HistogramVec
	outboundTotal    *prometheus.CounterVec
	inboundDuration  *prometheus.HistogramVec
	inboundTotal     *prometheus.CounterVec

	notificationTotal *prometheus.CounterVec

	pendingRequests prometheus.Gauge
	errorTotal      *prometheus.CounterVec
}

// NewMetricsProvider builds and registers the engine metric set.
func NewMetricsProvider(config MetricsConfig) (*MetricsProvider, error) {
	if config.Namespace == "" {
		config.Namespace = "mcp"
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if config.MetricsPort == 0 {
		config.MetricsPort = 9090
	}
	if config.HistogramBuckets == nil {
		config.HistogramBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
	}

	if config.ConstLabels == nil {
		config.ConstLabels = prometheus.Labels{}
	}
	config.ConstLabels["service"] = config.ServiceName
	config.ConstLabels["version"] = config.ServiceVersion
	config.ConstLabels["environment"] = config.Environment

	p := &MetricsProvider{config: config}
	p.initializeMetrics()
	if err := p.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return p, nil
}

func (p *MetricsProvider) initializeMetrics() {
	p.outboundDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        "request_duration_milliseconds",
			Help:        "Duration of outbound requests from send to settlement in milliseconds",
			Buckets:     p.config.HistogramBuckets,
			ConstLabels: p.config.ConstLabels,
		},
		[]string{"method", "outcome"},
	)

	p.outboundTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        "request_total",
			Help:        "Total number of outbound requests by terminal outcome",
			ConstLabels: p.config.ConstLabels,
		},
		[]string{"method", "outcome"},
	)

	p.inboundDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        "incoming_request_duration_milliseconds",
			Help:        "Duration of inbound request handlers in milliseconds",
			Buckets:     p.config.HistogramBuckets,
			ConstLabels: p.config.ConstLabels,
		},
		[]string{"method", "status"},
	)

	p.inboundTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        "incoming_request_total",
			Help:        "Total number of inbound requests",
			ConstLabels: p.config.ConstLabels,
		},
		[]string{"method", "status"},
	)

	p.notificationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        "notification_total",
			Help:        "Total number of notifications by direction",
			ConstLabels: p.config.ConstLabels,
		},
		[]string{"method", "direction"},
	)

	p.pendingRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        "pending_requests",
			Help:        "Number of outbound requests awaiting settlement",
			ConstLabels: p.config.ConstLabels,
		},
	)

	p.errorTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        "error_total",
			Help:        "Total number of errors",
			ConstLabels: p.config.ConstLabels,
		},
		[]string{"type", "method"},
	)
}

func (p *MetricsProvider) registerMetrics() error {
	collectors := []prometheus.Collector{
		p.outboundDuration,
		p.outboundTotal,
		p.inboundDuration,
		p.inboundTotal,
		p.notificationTotal,
		p.pendingRequests,
		p.errorTotal,
	}

	for _, collector := range collectors {
		if err := prometheus.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

// RecordOutboundRequest records one settled outbound request
func (p *MetricsProvider) RecordOutboundRequest(method, outcome string, duration time.Duration) {
	ms := float64(duration.Milliseconds())
	p.outboundDuration.WithLabelValues(method, outcome).Observe(ms)
	p.outboundTotal.WithLabelValues(method, outcome).Inc()
}

// RecordInboundRequest records one completed inbound request handler
func (p *MetricsProvider) RecordInboundRequest(method, status string, duration time.Duration) {
	ms := float64(duration.Milliseconds())
	p.inboundDuration.WithLabelValues(method, status).Observe(ms)
	p.inboundTotal.WithLabelValues(method, status).Inc()
}

// RecordNotification records one notification sent or received
func (p *MetricsProvider) RecordNotification(method, direction string) {
	p.notificationTotal.WithLabelValues(method, direction).Inc()
}

// RecordPendingRequests records the outstanding-request table size
func (p *MetricsProvider) RecordPendingRequests(n int) {
	p.pendingRequests.Set(float64(n))
}

// RecordError records an error by type and method
func (p *MetricsProvider) RecordError(errType, method string) {
	p.errorTotal.WithLabelValues(errType, method).Inc()
}

// Start serves the scrape endpoint until Shutdown.
func (p *MetricsProvider) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(p.config.MetricsPath, promhttp.Handler())

	p.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", p.config.MetricsPort),
		Handler: mux,
	}

	go func() {
		_ = p.server.ListenAndServe()
	}()

	return nil
}

// Shutdown stops the scrape endpoint.
func (p *MetricsProvider) Shutdown(ctx context.Context) error {
	if p.server != nil {
		return p.server.Shutdown(ctx)
	}
	return nil
}
