package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNotIdle is returned when workers are appended after RunThreads.
	ErrNotIdle = errors.New("executor: workers can only be appended before RunThreads")
	// ErrAlreadyRun is returned when RunThreads is called twice.
	ErrAlreadyRun = errors.New("executor: RunThreads already called")
)

// State tracks one concurrent phase.
type State int

const (
	Idle State = iota
	Running
	Joined
	Reported
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Joined:
		return "joined"
	case Reported:
		return "reported"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Target is a unit of work. Arguments are captured by the closure.
type Target func(ctx context.Context) error

// Worker is a registered target.
type Worker struct {
	Name   string
	Target Target
}

// WorkerResult records how a worker finished.
type WorkerResult struct {
	Name      string
	Err       error
	StartTime time.Time
	EndTime   time.Time
}

// Executor starts every registered worker together and joins all of them.
//
// Workers are never cancelled. The context passed to RunThreads reaches
// every target, but a target that ignores it runs to completion and
// RunThreads waits for it. Callers that need a deadline poll with their own.
type Executor struct {
	logger *zap.Logger
	limit  int

	mu      sync.Mutex
	state   State
	workers []Worker
	results []WorkerResult
}

// Option configures an Executor.
type Option func(*Executor)

// WithLimit caps the number of workers running at once. Zero means no cap.
func WithLimit(n int) Option {
	return func(e *Executor) { e.limit = n }
}

// New returns an idle executor.
func New(logger *zap.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AppendThreadByFunc registers target under name. An empty name becomes
// worker-N where N is the registration position.
func (e *Executor) AppendThreadByFunc(target Target, name string) error {
	if target == nil {
		return errors.New("executor: nil target")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Idle {
		return ErrNotIdle
	}
	if name == "" {
		name = fmt.Sprintf("worker-%d", len(e.workers)+1)
	}
	e.workers = append(e.workers, Worker{Name: name, Target: target})
	return nil
}

// Len returns the number of registered workers.
func (e *Executor) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.workers)
}

// State returns the current phase.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// RunThreads starts all registered workers, waits for every one of them,
// and returns the first error any of them produced. Panics are recovered
// and reported as errors carrying the stack.
func (e *Executor) RunThreads(ctx context.Context) error {
	e.mu.Lock()
	if e.state != Idle {
		e.mu.Unlock()
		return ErrAlreadyRun
	}
	e.state = Running
	workers := e.workers
	e.workers = nil
	e.results = make([]WorkerResult, len(workers))
	e.mu.Unlock()

	e.logger.Debug("starting workers", zap.Int("count", len(workers)))

	var g errgroup.Group
	if e.limit > 0 {
		g.SetLimit(e.limit)
	}
	for i, worker := range workers {
		g.Go(func() error {
			result := e.runWorker(ctx, worker)
			e.mu.Lock()
			e.results[i] = result
			e.mu.Unlock()
			return result.Err
		})
	}
	err := g.Wait()

	e.mu.Lock()
	e.state = Joined
	e.mu.Unlock()

	if err != nil {
		e.logger.Error("concurrent phase failed", zap.Int("workers", len(workers)), zap.Error(err))
	}

	e.mu.Lock()
	e.state = Reported
	e.mu.Unlock()
	return err
}

func (e *Executor) runWorker(ctx context.Context, worker Worker) (result WorkerResult) {
	result = WorkerResult{Name: worker.Name, StartTime: time.Now()}
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			result.Err = errors.Errorf("worker %s panicked: %v", worker.Name, r)
			e.logger.Error("worker panicked", zap.String("worker", worker.Name), zap.Any("panic", r), zap.String("stack", stack))
		}
		result.EndTime = time.Now()
	}()

	labels := pprof.Labels("worker", worker.Name)
	pprof.Do(ctx, labels, func(ctx context.Context) {
		ctx = context.WithValue(ctx, workerNameKey{}, worker.Name)
		result.Err = worker.Target(ctx)
	})
	if result.Err != nil {
		e.logger.Error("worker failed", zap.String("worker", worker.Name), zap.Error(result.Err))
	} else {
		e.logger.Debug("worker finished", zap.String("worker", worker.Name))
	}
	return result
}

// Results returns how each worker finished, in registration order.
func (e *Executor) Results() []WorkerResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]WorkerResult, len(e.results))
	copy(out, e.results)
	return out
}

// AllErrors returns every worker error, or nil when all succeeded.
func (e *Executor) AllErrors() error {
	var merr *multierror.Error
	for _, result := range e.Results() {
		if result.Err != nil {
			merr = multierror.Append(merr, errors.Wrap(result.Err, result.Name))
		}
	}
	return merr.ErrorOrNil()
}

type workerNameKey struct{}

// WorkerName returns the name of the worker running with ctx.
func WorkerName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if name, ok := ctx.Value(workerNameKey{}).(string); ok {
		return name
	}
	return ""
}
