package runner

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"k8s.io/utils/clock"

	"github.com/nasqa/uut-harness/framework/artifacts"
	"github.com/nasqa/uut-harness/framework/config"
	"github.com/nasqa/uut-harness/framework/metrics"
	"github.com/nasqa/uut-harness/framework/objectstore"
	"github.com/nasqa/uut-harness/framework/plan"
	"github.com/nasqa/uut-harness/framework/registry"
	"github.com/nasqa/uut-harness/framework/report"
	"github.com/nasqa/uut-harness/framework/results"
	"github.com/nasqa/uut-harness/framework/telemetry"
	"github.com/nasqa/uut-harness/framework/testcase"
	"github.com/nasqa/uut-harness/pkg/device"
)

// Runner executes test plans against one UUT.
type Runner struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *registry.Registry
	devices   device.Provider
	artifacts *artifacts.Writer
	metrics   *metrics.Collector
	sinks     []testcase.IterationSink
	reporters []report.Reporter
	store     objectstore.Store
	telemetry *telemetry.Telemetry
	clock     clock.PassiveClock
}

// Option configures a Runner.
type Option func(*Runner)

// WithSinks adds iteration sinks next to the metrics collector.
func WithSinks(sinks ...testcase.IterationSink) Option {
	return func(r *Runner) { r.sinks = append(r.sinks, sinks...) }
}

// WithReporters sets the reporters that receive the finished run.
func WithReporters(reporters ...report.Reporter) Option {
	return func(r *Runner) { r.reporters = append(r.reporters, reporters...) }
}

// WithStore uploads the run directory to store after the run.
func WithStore(store objectstore.Store) Option {
	return func(r *Runner) { r.store = store }
}

// WithTelemetry traces the run, every test and every iteration.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(r *Runner) {
		if t.Enabled() {
			r.telemetry = t
			r.sinks = append(r.sinks, t)
		}
	}
}

// WithClock replaces the wall clock, e.g. in tests.
func WithClock(c clock.PassiveClock) Option {
	return func(r *Runner) { r.clock = c }
}

// NewRunner constructs a Runner writing artifacts under cfg.RunDir().
func NewRunner(cfg *config.Config, logger *zap.Logger, reg *registry.Registry, devices device.Provider, opts ...Option) (*Runner, error) {
	writer, err := artifacts.NewWriter(cfg.RunDir())
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		cfg:       cfg,
		logger:    logger,
		registry:  reg,
		devices:   devices,
		artifacts: writer,
		metrics:   metrics.NewCollector(),
		clock:     clock.RealClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Artifacts returns the run directory writer.
func (r *Runner) Artifacts() *artifacts.Writer {
	return r.artifacts
}

// Metrics returns the collector fed by every test.
func (r *Runner) Metrics() *metrics.Collector {
	return r.metrics
}

// RunAll executes plans and returns the run result in plan order. Plans
// filtered out by tag, platform or capability are recorded as skipped. Once
// a test asks to stop the run, plans not yet started are skipped.
func (r *Runner) RunAll(ctx context.Context, plans []plan.TestPlan) (*results.RunResult, error) {
	run := &results.RunResult{
		RunID:     r.cfg.RunID,
		UUT:       r.cfg.UUTIP,
		Platform:  r.cfg.Platform,
		CloudEnv:  r.cfg.CloudEnv,
		StartTime: r.clock.Now().UTC(),
	}
	run.Tests = make([]results.TestResult, len(plans))
	ctx, span := r.telemetry.StartSpan(ctx, "uut.run", telemetry.Attrs(
		"uut.run_id", r.cfg.RunID,
		"uut.platform", r.cfg.Platform,
		"uut.ip", r.cfg.UUTIP,
		"uut.plans", strconv.Itoa(len(plans)),
	))

	sem := semaphore.NewWeighted(int64(r.cfg.Parallelism))
	var (
		wg        sync.WaitGroup
		stopped   atomic.Bool
		stoppedBy atomic.Value
	)

	for i, testPlan := range plans {
		if reason := r.filter(testPlan); reason != "" {
			r.logger.Info("test skipped", zap.String("test", testPlan.Metadata.Name), zap.String("reason", reason))
			run.Tests[i] = r.record(r.skipResult(testPlan, results.Skipped(reason)))
			continue
		}
		if stopped.Load() {
			run.Tests[i] = r.record(r.skipResult(testPlan, results.Skipped("run stopped by "+stoppedBy.Load().(string))))
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			run.Tests[i] = r.record(r.skipResult(testPlan, results.Errored("not started: "+err.Error())))
			continue
		}
		// A test that held the slot may have stopped the run while we waited.
		if stopped.Load() {
			sem.Release(1)
			run.Tests[i] = r.record(r.skipResult(testPlan, results.Skipped("run stopped by "+stoppedBy.Load().(string))))
			continue
		}
		wg.Add(1)
		go func(i int, testPlan plan.TestPlan) {
			defer wg.Done()
			defer sem.Release(1)
			result := r.runPlan(ctx, testPlan)
			if result.Stopped && stopped.CompareAndSwap(false, true) {
				stoppedBy.Store(result.Name)
				r.logger.Warn("run stopped", zap.String("test", result.Name), zap.String("reason", result.Reason))
			}
			run.Tests[i] = r.record(result)
		}(i, testPlan)
	}
	wg.Wait()

	run.EndTime = r.clock.Now().UTC()
	run.Duration = run.EndTime.Sub(run.StartTime)
	run.Firmware = firmware(run)

	summary := run.Summarize()
	runStatus := results.StatusPassed
	if run.ExitCode() != 0 {
		runStatus = results.StatusFailed
	}
	r.telemetry.EndSpan(span, runStatus, nil, telemetry.Attrs(
		"uut.firmware", run.Firmware,
		"uut.passed", strconv.Itoa(summary.Passed),
		"uut.failed", strconv.Itoa(summary.Failed),
		"uut.skipped", strconv.Itoa(summary.Skipped),
		"uut.errored", strconv.Itoa(summary.Errored),
	))
	return run, nil
}

func (r *Runner) filter(testPlan plan.TestPlan) string {
	if !testPlan.MatchesTags(r.cfg.IncludeTags, r.cfg.ExcludeTags) {
		return "tag filtered"
	}
	if !testPlan.SupportsPlatform(r.cfg.Platform) {
		return "not supported on " + r.cfg.Platform
	}
	if missing := testPlan.MissingRequirements(r.capabilities()); len(missing) > 0 {
		return "missing capabilities: " + strings.Join(missing, ", ")
	}
	return ""
}

// capabilities are the configured ones, or else every transport the device
// provider can open.
func (r *Runner) capabilities() []string {
	if len(r.cfg.Capabilities) > 0 {
		return r.cfg.Capabilities
	}
	var available []string
	if r.devices == nil {
		return available
	}
	for _, t := range []device.Transport{device.TransportADB, device.TransportSSH, device.TransportSerial, device.TransportREST} {
		if r.devices.Has(t) {
			available = append(available, string(t))
		}
	}
	return available
}

func (r *Runner) runPlan(ctx context.Context, testPlan plan.TestPlan) results.TestResult {
	name := testPlan.Metadata.Name
	ctx, span := r.telemetry.StartSpan(ctx, "uut.test:"+name, telemetry.Attrs(
		"uut.run_id", r.cfg.RunID,
		"uut.test", name,
		"uut.case", testPlan.Case,
		"uut.owner", testPlan.Metadata.Owner,
		"uut.component", testPlan.Metadata.Component,
		"uut.tags", strings.Join(testPlan.Metadata.Tags, ","),
	))
	result := r.executePlan(ctx, testPlan)
	r.telemetry.EndSpan(span, result.Status, nil, telemetry.Attrs(
		"uut.status", string(result.Status),
		"uut.reason", result.Reason,
		"uut.iterations", strconv.Itoa(len(result.Iterations)),
	))
	return result
}

func (r *Runner) executePlan(ctx context.Context, testPlan plan.TestPlan) results.TestResult {
	name := testPlan.Metadata.Name
	c, err := r.registry.New(testPlan.Case)
	if err != nil {
		return r.skipResult(testPlan, results.Errored(err.Error()))
	}
	timeout, err := testPlan.TimeoutDuration(r.cfg.DefaultTimeout)
	if err != nil {
		return r.skipResult(testPlan, results.Errored(err.Error()))
	}
	iterationTimeout, err := testPlan.IterationTimeout()
	if err != nil {
		return r.skipResult(testPlan, results.Errored(err.Error()))
	}
	writer, err := r.artifacts.Sub(name)
	if err != nil {
		return r.skipResult(testPlan, results.Errored(err.Error()))
	}
	loop := testPlan.Loop
	if loop < 1 {
		loop = r.cfg.LoopTimes
	}

	tr := &testcase.Runner{
		RunID:         r.cfg.RunID,
		CloudEnv:      r.cfg.CloudEnv,
		Logger:        r.logger,
		Devices:       r.devices,
		Artifacts:     writer,
		Sinks:         append([]testcase.IterationSink{r.metrics}, r.sinks...),
		Clock:         r.clock,
		StopOnFailure: r.cfg.StopOnFailure,
	}
	result := tr.Run(ctx, c, testcase.Options{
		Name:             name,
		Case:             testPlan.Case,
		Description:      testPlan.Metadata.Description,
		Tags:             testPlan.Metadata.Tags,
		Requires:         testPlan.Requires,
		Metadata:         planMetadata(testPlan),
		Params:           testPlan.With,
		Loop:             loop,
		Timeout:          timeout,
		IterationTimeout: iterationTimeout,
	})
	if _, err := writer.WriteJSON("result.json", result); err != nil {
		r.logger.Warn("failed to write test result", zap.String("test", name), zap.Error(err))
	}
	return result
}

func (r *Runner) record(result results.TestResult) results.TestResult {
	r.metrics.ObserveTest(result)
	r.metrics.ObserveTestInfo(metrics.TestInfo{
		Test:     result.Name,
		Case:     result.Case,
		Status:   string(result.Status),
		Platform: r.cfg.Platform,
		CloudEnv: r.cfg.CloudEnv,
		RunID:    r.cfg.RunID,
	})
	return result
}

func (r *Runner) skipResult(testPlan plan.TestPlan, outcome results.Outcome) results.TestResult {
	now := r.clock.Now().UTC()
	return results.TestResult{
		Name:        testPlan.Metadata.Name,
		Case:        testPlan.Case,
		Description: testPlan.Metadata.Description,
		Tags:        testPlan.Metadata.Tags,
		Platform:    r.cfg.Platform,
		Requires:    testPlan.Requires,
		Metadata:    planMetadata(testPlan),
		Status:      outcome.Kind,
		Reason:      outcome.Reason,
		StartTime:   now,
		EndTime:     now,
	}
}

func planMetadata(testPlan plan.TestPlan) map[string]string {
	metadata := map[string]string{}
	if testPlan.Metadata.Owner != "" {
		metadata["owner"] = testPlan.Metadata.Owner
	}
	if testPlan.Metadata.Component != "" {
		metadata["component"] = testPlan.Metadata.Component
	}
	if testPlan.Source != "" {
		metadata["source"] = testPlan.Source
	}
	if len(metadata) == 0 {
		return nil
	}
	return metadata
}

// firmware is the first firmware version any iteration recorded.
func firmware(run *results.RunResult) string {
	for _, test := range run.Tests {
		for _, iteration := range test.Iterations {
			if iteration.Fields == nil {
				continue
			}
			if fw := iteration.Fields.GetString("firmware"); fw != "" {
				return fw
			}
		}
	}
	return ""
}

// FlushArtifacts writes the run documents and the metrics file.
func (r *Runner) FlushArtifacts(run *results.RunResult) error {
	if _, err := r.artifacts.WriteJSON("results.json", run); err != nil {
		return err
	}
	if _, err := r.artifacts.WriteJSON("summary.json", run.Summarize()); err != nil {
		return err
	}
	if _, err := r.artifacts.WriteText("results.csv", report.RenderCSV(run)); err != nil {
		return err
	}
	if _, err := r.artifacts.WriteText("results.html", report.RenderHTML(run)); err != nil {
		return err
	}
	if _, err := r.artifacts.WriteJSON("config.json", r.cfg.Redacted()); err != nil {
		return err
	}
	if r.cfg.MetricsEnabled {
		if err := os.MkdirAll(filepath.Dir(r.cfg.MetricsPath), 0o755); err != nil {
			return errors.WithStack(err)
		}
		if err := r.metrics.Write(r.cfg.MetricsPath); err != nil {
			return errors.Wrap(err, "write metrics")
		}
	}
	return nil
}

// Report hands the run to every reporter; a failing reporter does not stop
// the others.
func (r *Runner) Report(ctx context.Context, run *results.RunResult) error {
	var result *multierror.Error
	for _, reporter := range r.reporters {
		if err := reporter.Report(ctx, run); err != nil {
			r.logger.Warn("reporter failed", zap.Error(err))
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Upload copies the run directory to the object store under the run ID.
func (r *Runner) Upload(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	files, err := r.artifacts.Files()
	if err != nil {
		return err
	}
	start := time.Now()
	uploaded, err := objectstore.UploadFiles(ctx, r.store, r.artifacts.RunDir, files, r.cfg.RunID, r.logger)
	r.logger.Info("artifacts uploaded",
		zap.Int("files", len(uploaded)),
		zap.Int("total", len(files)),
		zap.Duration("duration", time.Since(start)))
	return err
}

// Finish flushes artifacts, reports and uploads, returning every error.
func (r *Runner) Finish(ctx context.Context, run *results.RunResult) error {
	var result *multierror.Error
	if err := r.FlushArtifacts(run); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "flush artifacts"))
	}
	if err := r.Report(ctx, run); err != nil {
		result = multierror.Append(result, err)
	}
	if err := r.Upload(ctx); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "upload artifacts"))
	}
	return result.ErrorOrNil()
}
