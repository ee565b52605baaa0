// Package observer exposes prometheus metrics for the oracle pipeline.
package observer

import (
	"context"
	"strconv"
	"time"

	"taskoracle/internal/oracle/llm"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "oracle"

// AnalyzeAttempts counts spec generation outcomes by result and attempts used.
var AnalyzeAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "analyze_total",
	Help:      "Spec generations by outcome.",
}, []string{"outcome", "attempts"})

// VersionStatus counts versions by the status they were stored with.
var VersionStatus = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "versions_total",
	Help:      "Stored task versions by status.",
}, []string{"status"})

// HiddenTestsDropped counts hidden-test candidates dropped per reason.
var HiddenTestsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "hidden_tests_dropped_total",
	Help:      "Hidden test candidates dropped during filtering.",
}, []string{"reason"})

// LLMLatency tracks completion latency by provider and outcome.
var LLMLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "llm_latency_seconds",
	Help:      "LLM completion latency in seconds.",
	Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
}, []string{"provider", "outcome"})

// LLMTokens counts prompt and completion tokens.
var LLMTokens = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "llm_tokens_total",
	Help:      "LLM tokens by kind.",
}, []string{"kind"})

// RunOutcomes counts grading runs by outcome.
var RunOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "runs_total",
	Help:      "Grading runs by outcome.",
}, []string{"mode", "outcome"})

// SandboxDuration tracks sandbox wall time per run.
var SandboxDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "sandbox_duration_seconds",
	Help:      "Sandbox wall time per grading run.",
	Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
}, []string{"mode"})

// RunsActive is the number of grading runs holding a sandbox slot.
var RunsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "runs_active",
	Help:      "Grading runs currently executing.",
})

// HTTPRequests tracks API latency by route and status.
var HTTPRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "http_request_duration_seconds",
	Help:      "HTTP request duration in seconds.",
	Buckets:   prometheus.DefBuckets,
}, []string{"method", "route", "status"})

// HTTPMetricsMiddleware records HTTP request duration by route template.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// InstrumentedCompleter records latency and token usage of every completion.
type InstrumentedCompleter struct {
	next     llm.Completer
	provider string
}

func NewInstrumentedCompleter(next llm.Completer, provider string) *InstrumentedCompleter {
	return &InstrumentedCompleter{next: next, provider: provider}
}

func (c *InstrumentedCompleter) Complete(ctx context.Context, req llm.Request) (llm.Completion, error) {
	start := time.Now()
	out, err := c.next.Complete(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	LLMLatency.WithLabelValues(c.provider, outcome).Observe(time.Since(start).Seconds())
	if err == nil {
		LLMTokens.WithLabelValues("prompt").Add(float64(out.PromptTokens))
		LLMTokens.WithLabelValues("completion").Add(float64(out.CompletionTokens))
	}
	return out, err
}
