package testcase

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/nasqa/uut-harness/framework/artifacts"
	"github.com/nasqa/uut-harness/framework/results"
	"github.com/nasqa/uut-harness/framework/steplog"
	"github.com/nasqa/uut-harness/pkg/device"
)

// DefaultCleanupTimeout bounds AfterTest and AfterLoop. Cleanup gets its own
// deadline so it still runs after the iteration timed out.
const DefaultCleanupTimeout = 5 * time.Minute

// IterationSink receives every finished iteration exactly once.
type IterationSink interface {
	FlushIteration(ctx context.Context, test *results.TestResult, iteration results.IterationResult) error
}

// Options describe one test to run.
type Options struct {
	Name        string
	Case        string
	Description string
	Tags        []string
	Requires    []string
	Metadata    map[string]string
	Params      map[string]interface{}

	// Loop is the number of iterations; values below 1 mean 1.
	Loop int
	// Timeout bounds the whole test, IterationTimeout each iteration.
	Timeout          time.Duration
	IterationTimeout time.Duration
}

// Runner drives a Case through its lifecycle.
type Runner struct {
	RunID     string
	CloudEnv  string
	Logger    *zap.Logger
	Devices   device.Provider
	Artifacts *artifacts.Writer
	Sinks     []IterationSink
	Clock     clock.PassiveClock

	// StopOnFailure ends the loop after the first failed iteration.
	StopOnFailure bool
	// StrictCleanup turns an AfterTest error into an Error outcome for an
	// iteration that otherwise passed.
	StrictCleanup  bool
	CleanupTimeout time.Duration
}

type hook func(ctx context.Context, env *Env) error

// Run executes c and returns its result. It never returns early without a
// result; every error is folded into the outcome.
func (r *Runner) Run(ctx context.Context, c Case, opts Options) results.TestResult {
	clk := r.clock()
	logger := r.logger().With(zap.String("test", opts.Name))

	var platform device.Platform
	if r.Devices != nil {
		platform = r.Devices.Platform()
	}
	test := results.TestResult{
		Name:        opts.Name,
		Case:        opts.Case,
		Description: opts.Description,
		Tags:        opts.Tags,
		Platform:    string(platform),
		Metadata:    opts.Metadata,
		Requires:    opts.Requires,
		StartTime:   clk.Now(),
	}
	if test.Description == "" {
		if d, ok := c.(Describer); ok {
			test.Description = d.Description()
		}
	}
	finish := func(outcome results.Outcome) results.TestResult {
		test.Status = outcome.Kind
		test.Reason = outcome.Reason
		test.EndTime = clk.Now()
		test.Duration = test.EndTime.Sub(test.StartTime)
		logger.Info("test finished",
			zap.String("status", string(test.Status)),
			zap.String("reason", test.Reason),
			zap.Int("iterations", len(test.Iterations)),
			zap.Duration("duration", test.Duration))
		return test
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	params := Params{}
	params.Merge(opts.Params)
	if d, ok := c.(Declarer); ok {
		err := r.call(ctx, nil, "declare", func(context.Context, *Env) error {
			d.Declare(params)
			return nil
		})
		if err != nil {
			logHookError(logger, "declare", err)
			return finish(Classify(err))
		}
	}

	if req, ok := c.(Requirer); ok && r.Devices != nil {
		for _, t := range req.Requires() {
			if !r.Devices.Has(t) {
				return finish(results.Skipped("requires " + string(t) + " transport"))
			}
		}
	}

	env := &Env{
		RunID:     r.RunID,
		TestName:  opts.Name,
		CloudEnv:  r.CloudEnv,
		Platform:  platform,
		Params:    params,
		Logger:    logger,
		Steps:     steplog.New(logger, steplog.WithClock(clk)),
		Result:    results.NewFields(),
		Share:     NewShare(),
		Devices:   r.Devices,
		Artifacts: r.Artifacts,
	}
	logger.Info("test started", zap.Strings("params", params.Keys()))

	if initer, ok := c.(Initializer); ok {
		if err := r.call(ctx, env, "init", initer.Init); err != nil {
			logHookError(logger, "init", err)
			test.Stopped = IsStop(err)
			return finish(Classify(err))
		}
	}
	if before, ok := c.(BeforeLooper); ok {
		if err := r.call(ctx, env, "before_loop", before.BeforeLoop); err != nil {
			logHookError(logger, "before_loop", err)
			test.Stopped = IsStop(err)
			return finish(Classify(err))
		}
	}

	loop := opts.Loop
	if loop < 1 {
		loop = 1
	}
	for i := 1; i <= loop; i++ {
		if ctx.Err() != nil {
			logger.Warn("loop interrupted", zap.Int("completed", i-1), zap.Error(ctx.Err()))
			break
		}
		iteration, err := r.iteration(ctx, c, env, i, opts.IterationTimeout)
		test.Iterations = append(test.Iterations, iteration)
		r.flush(ctx, &test, iteration, logger)
		if EndsLoop(err) {
			test.Stopped = IsStop(err)
			break
		}
		if r.StopOnFailure && iteration.Outcome.Kind.IsFailure() {
			logger.Info("stopping loop after failure", zap.Int("iteration", i))
			break
		}
	}

	var afterLoopErr error
	if after, ok := c.(AfterLooper); ok {
		cleanupCtx, cancel := r.cleanupContext(ctx)
		afterLoopErr = r.call(cleanupCtx, env, "after_loop", after.AfterLoop)
		cancel()
		if afterLoopErr != nil {
			logHookError(logger, "after_loop", afterLoopErr)
		}
	}

	if env.Steps.HasFailures() {
		env.Steps.PrintErrors()
	}

	outcome := results.Aggregate(test.Iterations)
	switch {
	case len(test.Iterations) == 0 && ctx.Err() != nil:
		outcome = Classify(ctx.Err())
	case len(test.Iterations) < loop && ctx.Err() != nil && !outcome.Kind.IsFailure():
		outcome = results.Errored("loop interrupted: " + ctx.Err().Error())
	case afterLoopErr != nil && r.StrictCleanup && outcome.Kind == results.StatusPassed:
		outcome = results.Errored("after_loop: " + afterLoopErr.Error())
	}
	return finish(outcome)
}

func (r *Runner) iteration(ctx context.Context, c Case, env *Env, i int, timeout time.Duration) (results.IterationResult, error) {
	clk := r.clock()
	iterCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		iterCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	logger := env.Logger.With(zap.Int("iteration", i))
	env.Iteration = i
	env.Steps.SetIteration(i)
	env.Result = results.NewFields()
	env.Result.Set("test_name", env.TestName)
	env.Result.Set("iteration", i)
	env.Result.Set("platform", string(env.Platform))
	if env.CloudEnv != "" {
		env.Result.Set("cloud_env", env.CloudEnv)
	}

	start := clk.Now()
	logger.Info("iteration started")

	var err error
	if before, ok := c.(BeforeTester); ok {
		err = r.call(iterCtx, env, "before_test", before.BeforeTest)
	}
	if err == nil {
		err = r.call(iterCtx, env, "test", c.Test)
	}

	var cleanupErr error
	if after, ok := c.(AfterTester); ok {
		cleanupCtx, cancel := r.cleanupContext(ctx)
		cleanupErr = r.call(cleanupCtx, env, "after_test", after.AfterTest)
		cancel()
	}

	outcome := Classify(err)
	steps := env.Steps.IterationSteps(i)
	if outcome.Kind == results.StatusPassed {
		if failed := failedSteps(steps); len(failed) > 0 {
			outcome = results.Failed(steplog.FormatErrors(failed))
		}
	}

	end := clk.Now()
	iteration := results.IterationResult{
		TestName:  env.TestName,
		Iteration: i,
		StartTime: start,
		EndTime:   end,
		Duration:  end.Sub(start),
		Steps:     steps,
		Fields:    env.Result,
	}
	if cleanupErr != nil {
		iteration.Cleanup = cleanupErr.Error()
		logHookError(logger, "after_test", cleanupErr)
		if r.StrictCleanup && outcome.Kind == results.StatusPassed {
			outcome = results.Errored("after_test: " + cleanupErr.Error())
		}
	}
	iteration.Outcome = outcome
	env.Result.Set("result", string(outcome.Kind))
	env.Result.Set("elapsed_sec", iteration.Duration.Seconds())

	switch outcome.Kind {
	case results.StatusPassed, results.StatusSkipped:
		logger.Info("iteration finished", zap.Stringer("outcome", outcome), zap.Duration("duration", iteration.Duration))
	default:
		if err != nil {
			logHookError(logger, "test", err)
		}
		logger.Error("iteration finished", zap.Stringer("outcome", outcome), zap.Duration("duration", iteration.Duration))
	}
	return iteration, err
}

func (r *Runner) call(ctx context.Context, env *Env, name string, fn hook) (err error) {
	defer recoverHook(name, &err)
	return fn(ctx, env)
}

func (r *Runner) flush(ctx context.Context, test *results.TestResult, iteration results.IterationResult, logger *zap.Logger) {
	flushCtx := context.WithoutCancel(ctx)
	for _, sink := range r.Sinks {
		if err := sink.FlushIteration(flushCtx, test, iteration); err != nil {
			logger.Warn("failed to flush iteration", zap.Int("iteration", iteration.Iteration), zap.Error(err))
		}
	}
}

func (r *Runner) cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := r.CleanupTimeout
	if timeout <= 0 {
		timeout = DefaultCleanupTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func (r *Runner) clock() clock.PassiveClock {
	if r.Clock != nil {
		return r.Clock
	}
	return clock.RealClock{}
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return zap.NewNop()
}

func failedSteps(steps []results.StepResult) []results.StepResult {
	var failed []results.StepResult
	for _, step := range steps {
		if step.Status.IsFailure() {
			failed = append(failed, step)
		}
	}
	return failed
}

func logHookError(logger *zap.Logger, hook string, err error) {
	fields := []zap.Field{zap.String("hook", hook), zap.Error(err)}
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		fields = append(fields, zap.ByteString("stack", panicErr.Stack))
	}
	outcome := Classify(err)
	if outcome.Kind == results.StatusSkipped {
		logger.Info("hook skipped", fields...)
		return
	}
	logger.Error("hook failed", fields...)
}
