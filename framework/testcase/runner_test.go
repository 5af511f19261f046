package testcase_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/nasqa/uut-harness/framework/results"
	"github.com/nasqa/uut-harness/framework/testcase"
	"github.com/nasqa/uut-harness/pkg/device"
)

// faultCase records every hook call and fails where it is told to.
type faultCase struct {
	mu    sync.Mutex
	calls []string

	declared  map[string]interface{}
	initErr   error
	testErr   func(iteration int) error
	testPanic bool
	afterErr  error
	stepFail  bool
	observe   func(ctx context.Context, env *testcase.Env)
}

func (c *faultCase) record(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, name)
}

func (c *faultCase) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *faultCase) Declare(params testcase.Params) {
	c.record("declare")
	for key, value := range c.declared {
		params.Default(key, value)
	}
}

func (c *faultCase) Init(ctx context.Context, env *testcase.Env) error {
	c.record("init")
	return c.initErr
}

func (c *faultCase) BeforeLoop(ctx context.Context, env *testcase.Env) error {
	c.record("before_loop")
	return nil
}

func (c *faultCase) BeforeTest(ctx context.Context, env *testcase.Env) error {
	c.record("before_test")
	return nil
}

func (c *faultCase) Test(ctx context.Context, env *testcase.Env) error {
	c.record("test")
	if c.observe != nil {
		c.observe(ctx, env)
	}
	if c.testPanic {
		panic("boom")
	}
	if c.stepFail {
		env.Steps.TestStep("check share is mounted", results.StatusFailed, "mount point /shares/qa missing")
	}
	if c.testErr != nil {
		return c.testErr(env.Iteration)
	}
	return nil
}

func (c *faultCase) AfterTest(ctx context.Context, env *testcase.Env) error {
	c.record("after_test")
	return c.afterErr
}

func (c *faultCase) AfterLoop(ctx context.Context, env *testcase.Env) error {
	c.record("after_loop")
	return nil
}

type recordingSink struct {
	mu      sync.Mutex
	flushed map[int]int
}

func (s *recordingSink) FlushIteration(_ context.Context, _ *results.TestResult, iteration results.IterationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushed[iteration.Iteration]++
	return nil
}

type fakeProvider struct {
	transports map[device.Transport]bool
}

func (p *fakeProvider) Platform() device.Platform { return device.Godzilla }
func (p *fakeProvider) Shell(context.Context) (device.Shell, error) {
	return nil, errors.New("not used")
}
func (p *fakeProvider) Console(context.Context) (device.Shell, error) {
	return nil, errors.New("not used")
}
func (p *fakeProvider) API() (device.API, error) { return nil, errors.New("not used") }
func (p *fakeProvider) Has(t device.Transport) bool { return p.transports[t] }

type requiresSerial struct{ testcase.Func }

func (requiresSerial) Requires() []device.Transport {
	return []device.Transport{device.TransportSerial}
}

var _ = Describe("Runner", func() {
	var (
		runner *testcase.Runner
		sink   *recordingSink
		ctx    context.Context
	)

	BeforeEach(func() {
		sink = &recordingSink{flushed: map[int]int{}}
		runner = &testcase.Runner{
			RunID:  "run-1",
			Logger: zap.NewNop(),
			Clock:  clocktesting.NewFakePassiveClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)),
			Sinks:  []testcase.IterationSink{sink},
		}
		ctx = context.Background()
	})

	It("runs every hook in order for a passing test", func() {
		c := &faultCase{}
		result := runner.Run(ctx, c, testcase.Options{Name: "smoke"})

		Expect(result.Status).To(Equal(results.StatusPassed))
		Expect(c.Calls()).To(Equal([]string{
			"declare", "init", "before_loop", "before_test", "test", "after_test", "after_loop",
		}))
		Expect(result.Iterations).To(HaveLen(1))
		Expect(result.Iterations[0].Fields.GetString("result")).To(Equal("passed"))
	})

	It("runs after_test when test fails", func() {
		c := &faultCase{testErr: func(int) error { return testcase.Fail("firmware is %s", "5.25.0") }}
		result := runner.Run(ctx, c, testcase.Options{Name: "fw"})

		Expect(c.Calls()).To(ContainElement("after_test"))
		Expect(result.Status).To(Equal(results.StatusFailed))
		Expect(result.Reason).To(Equal("firmware is 5.25.0"))
	})

	It("runs after_test when test panics and reports an error", func() {
		c := &faultCase{testPanic: true}
		result := runner.Run(ctx, c, testcase.Options{Name: "panic"})

		Expect(c.Calls()).To(ContainElement("after_test"))
		Expect(result.Status).To(Equal(results.StatusError))
		Expect(result.Reason).To(ContainSubstring("test panicked: boom"))
	})

	It("keeps the primary result when after_test fails", func() {
		c := &faultCase{afterErr: errors.New("umount busy")}
		result := runner.Run(ctx, c, testcase.Options{Name: "cleanup"})

		Expect(result.Status).To(Equal(results.StatusPassed))
		Expect(result.Iterations[0].Cleanup).To(Equal("umount busy"))

		runner.StrictCleanup = true
		result = runner.Run(ctx, &faultCase{afterErr: errors.New("umount busy")}, testcase.Options{Name: "cleanup"})
		Expect(result.Status).To(Equal(results.StatusError))
		Expect(result.Reason).To(Equal("after_test: umount busy"))

		c = &faultCase{
			afterErr: errors.New("umount busy"),
			testErr:  func(int) error { return testcase.Fail("share missing") },
		}
		result = runner.Run(ctx, c, testcase.Options{Name: "cleanup"})
		Expect(result.Reason).To(Equal("share missing"))
	})

	It("flushes each iteration exactly once", func() {
		c := &faultCase{}
		result := runner.Run(ctx, c, testcase.Options{Name: "loop", Loop: 3})

		Expect(result.Iterations).To(HaveLen(3))
		Expect(sink.flushed).To(Equal(map[int]int{1: 1, 2: 1, 3: 1}))
		Expect(c.Calls()).To(HaveLen(3 + 3*3 + 1))
		for i, iteration := range result.Iterations {
			Expect(iteration.Iteration).To(Equal(i + 1))
		}
	})

	It("stops the loop on StopTest", func() {
		c := &faultCase{testErr: func(i int) error {
			if i == 2 {
				return testcase.StopTest("UUT unreachable")
			}
			return nil
		}}
		result := runner.Run(ctx, c, testcase.Options{Name: "stop", Loop: 5})

		Expect(result.Iterations).To(HaveLen(2))
		Expect(result.Stopped).To(BeTrue())
		Expect(result.Status).To(Equal(results.StatusError))
		Expect(c.Calls()).To(ContainElement("after_loop"))
	})

	It("keeps looping after a plain failure unless StopOnFailure is set", func() {
		failing := func(int) error { return testcase.Fail("nope") }
		result := runner.Run(ctx, &faultCase{testErr: failing}, testcase.Options{Name: "f", Loop: 3})
		Expect(result.Iterations).To(HaveLen(3))

		runner.StopOnFailure = true
		result = runner.Run(ctx, &faultCase{testErr: failing}, testcase.Options{Name: "f", Loop: 3})
		Expect(result.Iterations).To(HaveLen(1))
		Expect(result.Stopped).To(BeFalse())
	})

	It("reports a skip without counting it as a failure", func() {
		c := &faultCase{testErr: func(int) error { return testcase.Skip("no USB drive attached") }}
		result := runner.Run(ctx, c, testcase.Options{Name: "usb"})

		Expect(result.Status).To(Equal(results.StatusSkipped))
		Expect(result.Status.IsFailure()).To(BeFalse())
		Expect(result.Reason).To(Equal("no USB drive attached"))
	})

	It("fails an iteration whose steps failed", func() {
		c := &faultCase{stepFail: true}
		result := runner.Run(ctx, c, testcase.Options{Name: "steps"})

		Expect(result.Status).To(Equal(results.StatusFailed))
		Expect(result.Reason).To(HavePrefix("Step 1 (iteration 1) failed: check share is mounted"))
		Expect(result.Iterations[0].Steps).To(HaveLen(1))
	})

	It("skips the loop when init fails", func() {
		c := &faultCase{initErr: testcase.Errorf(errors.New("connection refused"), "pair UUT")}
		result := runner.Run(ctx, c, testcase.Options{Name: "init", Loop: 2})

		Expect(result.Status).To(Equal(results.StatusError))
		Expect(result.Reason).To(Equal("pair UUT: connection refused"))
		Expect(result.Iterations).To(BeEmpty())
		Expect(c.Calls()).To(Equal([]string{"declare", "init"}))
	})

	It("layers plan params over declared defaults", func() {
		var seen testcase.Params
		c := &faultCase{
			declared: map[string]interface{}{"share": "qa", "size_mb": 64},
			observe:  func(_ context.Context, env *testcase.Env) { seen = env.Params },
		}
		runner.Run(ctx, c, testcase.Options{Name: "params", Params: map[string]interface{}{"size_mb": "128"}})

		Expect(seen.String("share", "")).To(Equal("qa"))
		Expect(seen.Int("size_mb", 0)).To(Equal(128))
	})

	It("bounds each iteration with its own deadline", func() {
		c := &faultCase{observe: func(ctx context.Context, _ *testcase.Env) {
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
		}}
		start := time.Now()
		result := runner.Run(ctx, &timeoutCase{c}, testcase.Options{Name: "slow", IterationTimeout: 20 * time.Millisecond})

		Expect(time.Since(start)).To(BeNumerically("<", 2*time.Second))
		Expect(result.Status).To(Equal(results.StatusError))
		Expect(result.Reason).To(HavePrefix("timed out"))
		Expect(c.Calls()).To(ContainElement("after_test"))
	})

	It("skips cases whose transports are missing", func() {
		runner.Devices = &fakeProvider{transports: map[device.Transport]bool{device.TransportSSH: true}}
		called := false
		c := requiresSerial{testcase.Func(func(context.Context, *testcase.Env) error {
			called = true
			return nil
		})}
		result := runner.Run(ctx, c, testcase.Options{Name: "console"})

		Expect(called).To(BeFalse())
		Expect(result.Status).To(Equal(results.StatusSkipped))
		Expect(result.Reason).To(Equal("requires serial transport"))
		Expect(result.Platform).To(Equal("godzilla"))
	})
})

// timeoutCase returns the context error once the observer has waited.
type timeoutCase struct{ *faultCase }

func (c *timeoutCase) Test(ctx context.Context, env *testcase.Env) error {
	c.faultCase.Test(ctx, env)
	return ctx.Err()
}
