// Package metrics records latency percentiles and status counts for client
// invocations. A Recorder keeps HDR histograms in memory and can mirror its
// counters to Prometheus.
package metrics

import (
	"errors"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wesleyorama2/fetchx/http"
)

// Config contains configuration for a Recorder.
type Config struct {
	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 3600000000 = 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int

	// Registerer receives the Prometheus collectors. Nil disables them.
	Registerer prometheus.Registerer

	// Namespace prefixes the Prometheus metric names (default: fetchx)
	Namespace string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		HistogramMin:     1,
		HistogramMax:     3600000000, // 1 hour in microseconds
		HistogramSigFigs: 3,
		Namespace:        "fetchx",
	}
}

// LatencyStats summarizes one histogram.
type LatencyStats struct {
	Min    time.Duration `json:"min" yaml:"min"`
	Max    time.Duration `json:"max" yaml:"max"`
	Mean   time.Duration `json:"mean" yaml:"mean"`
	StdDev time.Duration `json:"stddev" yaml:"stddev"`
	P50    time.Duration `json:"p50" yaml:"p50"`
	P90    time.Duration `json:"p90" yaml:"p90"`
	P95    time.Duration `json:"p95" yaml:"p95"`
	P99    time.Duration `json:"p99" yaml:"p99"`
	Count  int64         `json:"count" yaml:"count"`
}

// Snapshot is a point-in-time copy of a Recorder.
type Snapshot struct {
	TotalRequests   int64 `json:"totalRequests" yaml:"totalRequests"`
	SuccessRequests int64 `json:"successRequests" yaml:"successRequests"`
	FailedRequests  int64 `json:"failedRequests" yaml:"failedRequests"`

	// Errors counts invocations that produced no response.
	Errors     int64 `json:"errors" yaml:"errors"`
	TotalBytes int64 `json:"totalBytes" yaml:"totalBytes"`

	Latency  LatencyStats            `json:"latency" yaml:"latency"`
	Requests map[string]LatencyStats `json:"requests,omitempty" yaml:"requests,omitempty"`
	ByStatus map[int]int64           `json:"byStatus,omitempty" yaml:"byStatus,omitempty"`

	RPS       float64       `json:"rps" yaml:"rps"`
	ErrorRate float64       `json:"errorRate" yaml:"errorRate"`
	Elapsed   time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Recorder collects invocation metrics. It is safe for concurrent use.
type Recorder struct {
	config Config

	// HDR histogram RecordValue is not thread-safe
	mu       sync.Mutex
	latency  *hdrhistogram.Histogram
	requests map[string]*hdrhistogram.Histogram
	byStatus map[int]int64

	totalRequests   atomic.Int64
	successRequests atomic.Int64
	failedRequests  atomic.Int64
	errors          atomic.Int64
	totalBytes      atomic.Int64

	startTime time.Time
	prom      *collector
}

// New creates a Recorder with the default configuration and no Prometheus
// collectors.
func New() *Recorder {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a Recorder. Zero histogram settings fall back to the
// defaults.
func NewWithConfig(config Config) *Recorder {
	def := DefaultConfig()
	if config.HistogramMin <= 0 {
		config.HistogramMin = def.HistogramMin
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = def.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = def.HistogramSigFigs
	}
	if config.Namespace == "" {
		config.Namespace = def.Namespace
	}

	r := &Recorder{
		config:    config,
		latency:   hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		requests:  make(map[string]*hdrhistogram.Histogram),
		byStatus:  make(map[int]int64),
		startTime: time.Now(),
	}
	if config.Registerer != nil {
		r.prom = newCollector(config.Registerer, config.Namespace)
	}
	return r
}

// Record records one resolved response. name groups per-request
// histograms; pass an empty name to skip them.
func (r *Recorder) Record(name, method string, status int, ok bool, duration time.Duration, bytes int64) {
	micros := duration.Microseconds()
	if micros < r.config.HistogramMin {
		micros = r.config.HistogramMin
	}
	if micros > r.config.HistogramMax {
		micros = r.config.HistogramMax
	}

	r.mu.Lock()
	r.latency.RecordValue(micros)
	if name != "" {
		hist, exists := r.requests[name]
		if !exists {
			hist = hdrhistogram.New(r.config.HistogramMin, r.config.HistogramMax, r.config.HistogramSigFigs)
			r.requests[name] = hist
		}
		hist.RecordValue(micros)
	}
	r.byStatus[status]++
	r.mu.Unlock()

	r.totalRequests.Add(1)
	r.totalBytes.Add(bytes)
	if ok {
		r.successRequests.Add(1)
	} else {
		r.failedRequests.Add(1)
	}
	r.prom.recordRequest(method, status, duration)
}

// RecordError counts a failed invocation. Errors carrying a rejected
// response are recorded like responses; the rest count as errors labelled
// with their kind, or "other" for foreign errors.
func (r *Recorder) RecordError(method string, err error) {
	if err == nil {
		return
	}
	kind := "other"
	var fe *http.Error
	if errors.As(err, &fe) {
		kind = string(fe.Kind)
		if resp := fe.Response; resp != nil {
			// rejected by the failure predicate, afterResponse never ran
			r.Record(requestName(method, resp.URL), method, resp.StatusCode, false,
				resp.Timing.TotalTime, int64(len(resp.Raw)))
			return
		}
	}
	r.errors.Add(1)
	r.prom.recordError(kind, method)
}

// Attach registers an afterResponse hook on c that records every resolved
// response, short-circuited ones included.
func (r *Recorder) Attach(c *http.Client) (http.HookID, error) {
	return c.On(http.AfterResponse, func(ctx *http.Context) (http.Result, error) {
		if resp := ctx.Response(); resp != nil {
			r.Record(requestName(ctx.Method, ctx.URL), ctx.Method, resp.StatusCode, resp.OK,
				resp.Timing.TotalTime, int64(len(resp.Raw)))
		}
		return http.Continue(ctx), nil
	}, false)
}

func requestName(method, rawURL string) string {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
		if path == "" {
			path = "/"
		}
	}
	return method + " " + path
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	latency := stats(r.latency)
	requests := make(map[string]LatencyStats, len(r.requests))
	for name, hist := range r.requests {
		requests[name] = stats(hist)
	}
	byStatus := make(map[int]int64, len(r.byStatus))
	for status, n := range r.byStatus {
		byStatus[status] = n
	}
	elapsed := time.Since(r.startTime)
	r.mu.Unlock()

	total := r.totalRequests.Load()
	failed := r.failedRequests.Load()
	errs := r.errors.Load()

	rps := 0.0
	if elapsed.Seconds() > 0 {
		rps = float64(total+errs) / elapsed.Seconds()
	}
	errorRate := 0.0
	if total+errs > 0 {
		errorRate = float64(failed+errs) / float64(total+errs)
	}

	return Snapshot{
		TotalRequests:   total,
		SuccessRequests: r.successRequests.Load(),
		FailedRequests:  failed,
		Errors:          errs,
		TotalBytes:      r.totalBytes.Load(),
		Latency:         latency,
		Requests:        requests,
		ByStatus:        byStatus,
		RPS:             rps,
		ErrorRate:       errorRate,
		Elapsed:         elapsed,
	}
}

// Statuses returns the recorded status codes in ascending order.
func (s Snapshot) Statuses() []int {
	out := make([]int, 0, len(s.ByStatus))
	for status := range s.ByStatus {
		out = append(out, status)
	}
	sort.Ints(out)
	return out
}

// Reset resets all metrics to initial state. Prometheus counters are left
// untouched.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.latency.Reset()
	r.requests = make(map[string]*hdrhistogram.Histogram)
	r.byStatus = make(map[int]int64)
	r.startTime = time.Now()
	r.mu.Unlock()

	r.totalRequests.Store(0)
	r.successRequests.Store(0)
	r.failedRequests.Store(0)
	r.errors.Store(0)
	r.totalBytes.Store(0)
}

func stats(hist *hdrhistogram.Histogram) LatencyStats {
	return LatencyStats{
		Min:    time.Duration(hist.Min()) * time.Microsecond,
		Max:    time.Duration(hist.Max()) * time.Microsecond,
		Mean:   time.Duration(hist.Mean()) * time.Microsecond,
		StdDev: time.Duration(hist.StdDev()) * time.Microsecond,
		P50:    time.Duration(hist.ValueAtQuantile(50)) * time.Microsecond,
		P90:    time.Duration(hist.ValueAtQuantile(90)) * time.Microsecond,
		P95:    time.Duration(hist.ValueAtQuantile(95)) * time.Microsecond,
		P99:    time.Duration(hist.ValueAtQuantile(99)) * time.Microsecond,
		Count:  hist.TotalCount(),
	}
}

// collector mirrors a Recorder to Prometheus. A nil collector is a no-op.
type collector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errorsTotal     *prometheus.CounterVec
}

func newCollector(registry prometheus.Registerer, namespace string) *collector {
	return &collector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of resolved responses",
			},
			[]string{"method", "status_code"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Duration of requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "status_code"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of invocations that produced no response",
			},
			[]string{"type", "method"},
		),
	}
}

func (c *collector) recordRequest(method string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	code := strconv.Itoa(status)
	c.requestsTotal.WithLabelValues(method, code).Inc()
	c.requestDuration.WithLabelValues(method, code).Observe(duration.Seconds())
}

func (c *collector) recordError(kind, method string) {
	if c == nil {
		return
	}
	c.errorsTotal.WithLabelValues(kind, method).Inc()
}
