package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"code"},
	)
	Latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Request latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_http_in_flight",
		Help: "In-flight HTTP requests",
	})

	RefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_refresh_total",
			Help: "Ledger slot refreshes by slot and result",
		}, []string{"slot", "result"},
	)
	RefreshDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_refresh_duration_seconds",
		Help:    "Time to load and install a ledger snapshot",
		Buckets: prometheus.DefBuckets,
	})
	HeldSeq = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ledger_held_seq",
			Help: "Sequence of the ledger currently held per slot; 0 when empty",
		}, []string{"slot"},
	)
	ForkDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_fork_duration_seconds",
		Help:    "Time to derive a mutable copy of the closed ledger",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal, Latency, InFlight, RefreshTotal, RefreshDuration, HeldSeq, ForkDuration)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlight.Inc()
		defer InFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		Latency.Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(strconv.Itoa(rr.code)).Inc()
	})
}
