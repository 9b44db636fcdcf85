package observability

import (
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	escrowerrors "juryledger/core/errors"
)

// LedgerMetrics tracks ledger operations executed by the node.
type LedgerMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	payouts    *prometheus.CounterVec
	payoutErrs *prometheus.CounterVec
	custody    *prometheus.GaugeVec
}

type httpMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics

	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics
)

// Ledger returns the lazily-initialised registry for ledger operations.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Ledger operations segmented by operation and rejection code (ok on success).",
			}, []string{"operation", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "escrow",
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for ledger operations including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "ledger",
				Name:      "payouts_total",
				Help:      "Successful value transfers out of custody by kind (balance, fees).",
			}, []string{"kind"}),
			payoutErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "ledger",
				Name:      "payout_failures_total",
				Help:      "Value transfers that failed and were rolled back, by kind.",
			}, []string{"kind"}),
			custody: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "escrow",
				Subsystem: "ledger",
				Name:      "custody_units",
				Help:      "Audit snapshot of custody buckets (balances, fees, undistributed, deposited).",
			}, []string{"bucket"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.latency,
			ledgerRegistry.payouts,
			ledgerRegistry.payoutErrs,
			ledgerRegistry.custody,
		)
	})
	return ledgerRegistry
}

// Observe records the outcome of a ledger operation. err may be nil.
func (m *LedgerMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	operation = normalizeLabel(operation)
	code := "ok"
	if err != nil {
		code = escrowerrors.NameOf(err)
	}
	m.operations.WithLabelValues(operation, code).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordPayout counts a transfer attempt of the supplied kind.
func (m *LedgerMetrics) RecordPayout(kind string, ok bool) {
	if m == nil {
		return
	}
	kind = normalizeLabel(kind)
	if ok {
		m.payouts.WithLabelValues(kind).Inc()
		return
	}
	m.payoutErrs.WithLabelValues(kind).Inc()
}

// SetCustody publishes an audit bucket. Values beyond float64 precision are
// approximated.
func (m *LedgerMetrics) SetCustody(bucket string, amount *big.Int) {
	if m == nil || amount == nil {
		return
	}
	value, _ := new(big.Float).SetInt(amount).Float64()
	m.custody.WithLabelValues(normalizeLabel(bucket)).Set(value)
}

// HTTP returns the registry recording daemon requests.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests segmented by route, method and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "HTTP errors segmented by route, method and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "escrow",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Requests rejected by the rate limiter.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(
			httpRegistry.requests,
			httpRegistry.errors,
			httpRegistry.latency,
			httpRegistry.throttles,
		)
	})
	return httpRegistry
}

// Observe records the outcome of an HTTP request. The status code should be
// the one ultimately written to the response writer.
func (m *httpMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = normalizeLabel(route)
	method = normalizeLabel(method)
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(route, method, httpStatusLabel(status)).Inc()
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *httpMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(normalizeLabel(route), reason).Inc()
}

func normalizeLabel(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}

func httpStatusLabel(status int) string {
	if status < 100 || status > 999 {
		return "unknown"
	}
	return strconv.Itoa(status)
}
