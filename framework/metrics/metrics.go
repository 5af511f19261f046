package metrics

import (
	"bytes"
	"context"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/nasqa/uut-harness/framework/results"
)

// Collector captures metrics for harness runs.
type Collector struct {
	registry          *prometheus.Registry
	testsTotal        *prometheus.CounterVec
	iterationsTotal   *prometheus.CounterVec
	stepsTotal        *prometheus.CounterVec
	testDuration      *prometheus.HistogramVec
	iterationDuration *prometheus.HistogramVec
	stepDuration      *prometheus.HistogramVec
	testInfo          *prometheus.GaugeVec
}

// NewCollector initializes a new metrics registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	collector := &Collector{
		registry: registry,
		testsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "uut_tests_total", Help: "Total number of tests"},
			[]string{"status"},
		),
		iterationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "uut_iterations_total", Help: "Total number of test iterations"},
			[]string{"test", "status"},
		),
		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "uut_steps_total", Help: "Total number of recorded steps"},
			[]string{"status"},
		),
		testDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "uut_test_duration_seconds",
				Help:    "Test duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"test", "status", "platform"},
		),
		iterationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "uut_iteration_duration_seconds",
				Help:    "Iteration duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
			},
			[]string{"test", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "uut_step_duration_seconds",
				Help:    "Step duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"test", "status"},
		),
		testInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "uut_test_info",
				Help: "Test metadata for traceability",
			},
			[]string{"test", "case", "status", "platform", "cloud_env", "run_id"},
		),
	}

	registry.MustRegister(collector.testsTotal, collector.iterationsTotal, collector.stepsTotal,
		collector.testDuration, collector.iterationDuration, collector.stepDuration, collector.testInfo)
	return collector
}

// ObserveTest records a test outcome.
func (c *Collector) ObserveTest(test results.TestResult) {
	status := string(test.Status)
	c.testsTotal.WithLabelValues(status).Inc()
	c.testDuration.WithLabelValues(test.Name, status, test.Platform).Observe(test.Duration.Seconds())
}

// ObserveIteration records an iteration and its steps.
func (c *Collector) ObserveIteration(testName string, iteration results.IterationResult) {
	status := string(iteration.Outcome.Kind)
	c.iterationsTotal.WithLabelValues(testName, status).Inc()
	c.iterationDuration.WithLabelValues(testName, status).Observe(iteration.Duration.Seconds())
	for _, step := range iteration.Steps {
		c.ObserveStep(testName, string(step.Status), step.Duration)
	}
}

// ObserveStep records a step outcome.
func (c *Collector) ObserveStep(testName, status string, duration time.Duration) {
	c.stepsTotal.WithLabelValues(status).Inc()
	c.stepDuration.WithLabelValues(testName, status).Observe(duration.Seconds())
}

// ObserveTestInfo records metadata for a test.
func (c *Collector) ObserveTestInfo(info TestInfo) {
	c.testInfo.WithLabelValues(info.Test, info.Case, info.Status, info.Platform, info.CloudEnv, info.RunID).Set(1)
}

// TestInfo is a structured view of test metadata for metrics.
type TestInfo struct {
	Test     string
	Case     string
	Status   string
	Platform string
	CloudEnv string
	RunID    string
}

// FlushIteration lets the collector receive iterations as they finish.
func (c *Collector) FlushIteration(_ context.Context, test *results.TestResult, iteration results.IterationResult) error {
	c.ObserveIteration(test.Name, iteration)
	return nil
}

// Registry exposes the underlying registry, e.g. for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Write writes all metrics to a Prometheus text file.
func (c *Collector) Write(path string) error {
	data, err := c.Encode()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Encode renders all metrics in the Prometheus text format.
func (c *Collector) Encode() ([]byte, error) {
	metricFamilies, err := c.registry.Gather()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range metricFamilies {
		if err := enc.Encode(family); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
