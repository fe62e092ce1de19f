// Package metrics implements the Metrics Aggregator: per-endpoint counters
// and response-time percentile sketches, mirrored into a private Prometheus
// registry for optional HTTP exposition.
package metrics

import (
	"sort"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EndpointStats is a point-in-time snapshot of one endpoint's counters.
type EndpointStats struct {
	Name             string
	Counter          int64
	SuccessCount     int64
	FailCount        int64
	StatusCodeCounts map[int]int64
	Percentiles      map[float64]float64 // p50/p90/p95/p99 response time, ms
}

// Snapshot is a consistent read of every endpoint's stats plus the total
// count of metrics dropped by per-user bounded channels (see
// internal/userrun).
type Snapshot struct {
	Endpoints      map[string]EndpointStats
	DroppedMetrics int64
}

var objectives = map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.95: 0.005, 0.99: 0.001}

// Aggregator owns all measurement state for a single attack run. It is
// created fresh per run (Reset rather than a global singleton) so tests and
// gaggle workers never collide on metric registration.
type Aggregator struct {
	reg *prometheus.Registry

	counterVec  *prometheus.CounterVec
	successVec  *prometheus.CounterVec
	failVec     *prometheus.CounterVec
	statusVec   *prometheus.CounterVec
	latencyVec  *prometheus.SummaryVec
	droppedVec  prometheus.Counter

	mu       sync.Mutex
	counters map[string]*endpointCounters
	dropped  int64
}

type endpointCounters struct {
	total, success, fail int64
	status               map[int]int64
	samples              []float64 // response times, ms; only the first maxSamplesPerEndpoint are kept
}

const maxSamplesPerEndpoint = 4096

// New builds an empty Aggregator with its own Prometheus registry.
func New() *Aggregator {
	a := &Aggregator{
		reg:      prometheus.NewRegistry(),
		counters: make(map[string]*endpointCounters),
	}
	a.counterVec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stampede_requests_total", Help: "Total requests issued per endpoint.",
	}, []string{"endpoint"})
	a.successVec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stampede_requests_success_total", Help: "Successful requests per endpoint.",
	}, []string{"endpoint"})
	a.failVec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stampede_requests_fail_total", Help: "Failed requests per endpoint.",
	}, []string{"endpoint"})
	a.statusVec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stampede_requests_status_total", Help: "Requests per endpoint and status code.",
	}, []string{"endpoint", "status"})
	a.latencyVec = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Name: "stampede_request_duration_ms", Help: "Response time distribution per endpoint, in milliseconds.",
		Objectives: objectives,
	}, []string{"endpoint"})
	a.droppedVec = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stampede_metrics_dropped_total", Help: "Metrics dropped because a user's bounded channel was full.",
	})
	a.reg.MustRegister(a.counterVec, a.successVec, a.failVec, a.statusVec, a.latencyVec, a.droppedVec)
	return a
}

// Registry exposes the private registry for promhttp.HandlerFor.
func (a *Aggregator) Registry() *prometheus.Registry { return a.reg }

// RecordRequest ingests one Request Metric.
func (a *Aggregator) RecordRequest(endpoint string, statusCode int, success bool, responseTimeMs int64) {
	a.mu.Lock()
	ec := a.endpoint(endpoint)
	ec.total++
	if success {
		ec.success++
	} else {
		ec.fail++
	}
	ec.status[statusCode]++
	if len(ec.samples) < maxSamplesPerEndpoint {
		ec.samples = append(ec.samples, float64(responseTimeMs))
	}
	a.mu.Unlock()

	a.counterVec.WithLabelValues(endpoint).Inc()
	if success {
		a.successVec.WithLabelValues(endpoint).Inc()
	} else {
		a.failVec.WithLabelValues(endpoint).Inc()
	}
	a.statusVec.WithLabelValues(endpoint, statusLabel(statusCode)).Inc()
	a.latencyVec.WithLabelValues(endpoint).Observe(float64(responseTimeMs))
}

// RecordDropped increments the count of metrics a user's bounded channel
// had to discard because it was full (see spec §5 back-pressure policy).
func (a *Aggregator) RecordDropped(n int64) {
	a.mu.Lock()
	a.dropped += n
	a.mu.Unlock()
	a.droppedVec.Add(float64(n))
}

func (a *Aggregator) endpoint(name string) *endpointCounters {
	ec, ok := a.counters[name]
	if !ok {
		ec = &endpointCounters{status: make(map[int]int64)}
		a.counters[name] = ec
	}
	return ec
}

// Reset zeroes the per-endpoint counters, samples and dropped count behind
// Snapshot; the Prometheus mirror keeps its running totals. Called by the
// Attack Controller at the Hatching -> Running boundary unless
// --no-reset-metrics is set, so the measurement window excludes ramp-up.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.counters = make(map[string]*endpointCounters)
	a.dropped = 0
	a.mu.Unlock()
}

// Snapshot returns a consistent read of all endpoint stats for the final
// report or a --running-metrics tick.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := Snapshot{Endpoints: make(map[string]EndpointStats, len(a.counters)), DroppedMetrics: a.dropped}
	for name, ec := range a.counters {
		statusCopy := make(map[int]int64, len(ec.status))
		for k, v := range ec.status {
			statusCopy[k] = v
		}
		out.Endpoints[name] = EndpointStats{
			Name:             name,
			Counter:          ec.total,
			SuccessCount:     ec.success,
			FailCount:        ec.fail,
			StatusCodeCounts: statusCopy,
			Percentiles:      percentiles(ec.samples),
		}
	}
	return out
}

// MergeSnapshot folds a worker's pre-aggregated Snapshot into this
// Aggregator, for the gaggle manager combining metric batches streamed from
// each worker. Percentile sketches are not recomputable from pre-aggregated
// counts, so only counters and status codes are merged precisely; the
// manager's own percentile view reflects only what it observes directly.
func (a *Aggregator) MergeSnapshot(snap Snapshot) {
	a.mu.Lock()
	for name, ep := range snap.Endpoints {
		ec := a.endpoint(name)
		ec.total += ep.Counter
		ec.success += ep.SuccessCount
		ec.fail += ep.FailCount
		for code, n := range ep.StatusCodeCounts {
			ec.status[code] += n
		}
	}
	a.dropped += snap.DroppedMetrics
	a.mu.Unlock()

	for name, ep := range snap.Endpoints {
		a.counterVec.WithLabelValues(name).Add(float64(ep.Counter))
		a.successVec.WithLabelValues(name).Add(float64(ep.SuccessCount))
		a.failVec.WithLabelValues(name).Add(float64(ep.FailCount))
		for code, n := range ep.StatusCodeCounts {
			a.statusVec.WithLabelValues(name, statusLabel(code)).Add(float64(n))
		}
	}
	a.droppedVec.Add(float64(snap.DroppedMetrics))
}

func percentiles(samples []float64) map[float64]float64 {
	if len(samples) == 0 {
		return map[float64]float64{}
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	out := make(map[float64]float64, 4)
	for _, p := range []float64{0.5, 0.9, 0.95, 0.99} {
		idx := int(p * float64(len(sorted)-1))
		out[p] = sorted[idx]
	}
	return out
}

func statusLabel(code int) string {
	if code == 0 {
		return "none"
	}
	return strconv.Itoa(code)
}
