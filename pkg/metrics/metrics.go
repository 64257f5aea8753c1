// Package metrics provides Prometheus-based instrumentation for pipeline runs.
package metrics

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Recorder records pipeline and LLM metrics.
type Recorder struct {
	stageRunsTotal     *prometheus.CounterVec
	attemptsTotal      prometheus.Counter
	llmRequestsTotal   *prometheus.CounterVec
	llmTokensTotal     *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	runsTotal          *prometheus.CounterVec
	runDuration        prometheus.Histogram
}

var (
	defaultRecorder *Recorder //nolint:gochecknoglobals // promauto registers once per process
	recorderOnce    sync.Once //nolint:gochecknoglobals
)

// Default returns the process-wide recorder, registering collectors on first use.
func Default() *Recorder {
	recorderOnce.Do(func() {
		defaultRecorder = &Recorder{
			stageRunsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pipeline_stage_runs_total",
					Help: "Total number of stage invocations by stage and outcome",
				},
				[]string{"stage", "outcome"},
			),
			attemptsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "pipeline_generation_attempts_total",
					Help: "Total number of code generation attempts",
				},
			),
			llmRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "llm_requests_total",
					Help: "Total number of LLM requests by provider, model, and status",
				},
				[]string{"provider", "model", "status", "error_type"},
			),
			llmTokensTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "llm_tokens_total",
					Help: "Total number of tokens used in LLM requests",
				},
				[]string{"provider", "model", "type"},
			),
			llmRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "llm_request_duration_seconds",
					Help:    "Duration of LLM requests in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider", "model"},
			),
			runsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pipeline_runs_total",
					Help: "Total number of completed pipeline runs by verdict",
				},
				[]string{"verdict"},
			),
			runDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "pipeline_run_duration_seconds",
					Help:    "End-to-end duration of pipeline runs in seconds",
					Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
				},
			),
		}
	})
	return defaultRecorder
}

// ObserveStage records one stage invocation.
func (r *Recorder) ObserveStage(stage string, success bool) {
	outcome := statusSuccess
	if !success {
		outcome = statusError
	}
	r.stageRunsTotal.WithLabelValues(stage, outcome).Inc()
}

// ObserveAttempt records one generation attempt.
func (r *Recorder) ObserveAttempt() {
	r.attemptsTotal.Inc()
}

// ObserveLLMRequest records a completed LLM request.
func (r *Recorder) ObserveLLMRequest(provider, model string, promptTokens, completionTokens int, errType string, duration time.Duration) {
	status := statusSuccess
	if errType != "" {
		status = statusError
	}
	r.llmRequestsTotal.WithLabelValues(provider, model, status, errType).Inc()
	r.llmRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())

	if errType == "" {
		r.llmTokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
		r.llmTokensTotal.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// ObserveRun records a finished run and its duration.
func (r *Recorder) ObserveRun(success bool, duration time.Duration) {
	verdict := statusSuccess
	if !success {
		verdict = "failure"
	}
	r.runsTotal.WithLabelValues(verdict).Inc()
	r.runDuration.Observe(duration.Seconds())
}

// WriteSnapshot dumps the default registry in the Prometheus text format.
// Useful for batch runs where nothing scrapes the process.
func WriteSnapshot(path string) error {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create metrics snapshot %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // best effort on close after flush

	enc := expfmt.NewEncoder(f, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := enc.Encode(family); err != nil {
			return fmt.Errorf("failed to encode metric family: %w", err)
		}
	}
	return nil
}
