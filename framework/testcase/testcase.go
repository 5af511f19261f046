package testcase

import (
	"context"

	"go.uber.org/zap"

	"github.com/nasqa/uut-harness/framework/artifacts"
	"github.com/nasqa/uut-harness/framework/results"
	"github.com/nasqa/uut-harness/framework/steplog"
	"github.com/nasqa/uut-harness/pkg/device"
)

// Env is passed to every hook of a test. Iteration, Result and the step
// iteration are reset by the runner before each iteration.
type Env struct {
	RunID     string
	TestName  string
	CloudEnv  string
	Platform  device.Platform
	Params    Params
	Logger    *zap.Logger
	Steps     *steplog.Log
	Result    *results.Fields
	Iteration int
	Share     *Share
	Devices   device.Provider
	Artifacts *artifacts.Writer
}

// Case is a test. Test holds the assertions of one iteration.
type Case interface {
	Test(ctx context.Context, env *Env) error
}

// Declarer sets parameter defaults before anything else runs.
type Declarer interface {
	Declare(params Params)
}

// Initializer runs once before the first iteration.
type Initializer interface {
	Init(ctx context.Context, env *Env) error
}

// BeforeLooper runs once after Init and before the first iteration.
type BeforeLooper interface {
	BeforeLoop(ctx context.Context, env *Env) error
}

// AfterLooper runs once after the last iteration when BeforeLoop succeeded.
type AfterLooper interface {
	AfterLoop(ctx context.Context, env *Env) error
}

// BeforeTester runs at the start of every iteration.
type BeforeTester interface {
	BeforeTest(ctx context.Context, env *Env) error
}

// AfterTester runs at the end of every iteration, also when BeforeTest or
// Test failed.
type AfterTester interface {
	AfterTest(ctx context.Context, env *Env) error
}

// Func adapts a function to Case.
type Func func(ctx context.Context, env *Env) error

func (f Func) Test(ctx context.Context, env *Env) error { return f(ctx, env) }

// Describer is implemented by cases that carry their own description.
type Describer interface {
	Description() string
}

// Requirer lists the transports a case needs. The runner skips the case
// when one of them is not available.
type Requirer interface {
	Requires() []device.Transport
}
