package steplog

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/utils/clock"

	"github.com/nasqa/uut-harness/framework/results"
)

// LoggerName names the child logger every step line is written to. zap has
// no custom levels, so step lines are told apart by logger name instead.
const LoggerName = "step"

// StepLevel is the level step lines are written at.
const StepLevel = zapcore.InfoLevel

// Log is the ordered step list of one test run.
type Log struct {
	logger *zap.Logger
	clock  clock.PassiveClock

	mu        sync.Mutex
	iteration int
	steps     []*results.StepResult
}

// Option configures a Log.
type Option func(*Log)

// WithClock replaces the wall clock.
func WithClock(c clock.PassiveClock) Option {
	return func(l *Log) { l.clock = c }
}

// New returns an empty log for iteration 1.
func New(logger *zap.Logger, opts ...Option) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Log{
		logger:    logger.Named(LoggerName),
		clock:     clock.RealClock{},
		iteration: 1,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetIteration sets the iteration recorded on steps created from now on.
func (l *Log) SetIteration(iteration int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.iteration = iteration
}

// Iteration returns the current iteration.
func (l *Log) Iteration() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.iteration
}

// TestStep records a finished step and writes a step log line.
func (l *Log) TestStep(description string, status results.Status, messages ...string) results.StepResult {
	if status == "" {
		status = results.StatusPassed
	}
	l.mu.Lock()
	now := l.clock.Now()
	step := l.appendLocked(description)
	step.Messages = append(step.Messages, messages...)
	step.Status = status
	step.StartTime = now
	step.EndTime = now
	out := copyStep(step)
	l.mu.Unlock()

	l.write(out)
	return out
}

// Begin opens a step that is finished later. Its index is assigned now, so
// indexes follow creation order even when steps finish out of order.
func (l *Log) Begin(description string) *Step {
	l.mu.Lock()
	defer l.mu.Unlock()
	step := l.appendLocked(description)
	step.Status = results.StatusPassed
	step.StartTime = l.clock.Now()
	return &Step{log: l, rec: step}
}

func (l *Log) appendLocked(description string) *results.StepResult {
	step := &results.StepResult{
		Index:       len(l.steps) + 1,
		Iteration:   l.iteration,
		Description: description,
	}
	l.steps = append(l.steps, step)
	return step
}

func (l *Log) write(step results.StepResult) {
	fields := []zap.Field{
		zap.Int("index", step.Index),
		zap.Int("iteration", step.Iteration),
		zap.String("status", string(step.Status)),
	}
	if len(step.Messages) > 0 {
		fields = append(fields, zap.Strings("messages", step.Messages))
	}
	if step.Error != "" {
		fields = append(fields, zap.String("error", step.Error))
	}
	if ce := l.logger.Check(StepLevel, step.Description); ce != nil {
		ce.Write(fields...)
	}
}

// Steps returns a copy of all steps in index order.
func (l *Log) Steps() []results.StepResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]results.StepResult, 0, len(l.steps))
	for _, step := range l.steps {
		out = append(out, copyStep(step))
	}
	return out
}

// IterationSteps returns the steps recorded for one iteration.
func (l *Log) IterationSteps(iteration int) []results.StepResult {
	var out []results.StepResult
	for _, step := range l.Steps() {
		if step.Iteration == iteration {
			out = append(out, step)
		}
	}
	return out
}

// Errors returns every step whose status is not passed.
func (l *Log) Errors() []results.StepResult {
	var out []results.StepResult
	for _, step := range l.Steps() {
		if step.Status != results.StatusPassed {
			out = append(out, step)
		}
	}
	return out
}

// HasFailures reports whether any step failed or errored.
func (l *Log) HasFailures() bool {
	for _, step := range l.Errors() {
		if step.Status.IsFailure() {
			return true
		}
	}
	return false
}

// GenErrMsg renders every non-passed step as a human readable summary.
// It returns an empty string when all steps passed.
func (l *Log) GenErrMsg() string {
	return FormatErrors(l.Errors())
}

// PrintErrors logs the error summary, if there is one.
func (l *Log) PrintErrors() {
	summary := l.GenErrMsg()
	if summary == "" {
		return
	}
	for _, line := range strings.Split(summary, "\n") {
		l.logger.Warn(line)
	}
}

// FormatErrors renders steps the way GenErrMsg does.
func FormatErrors(steps []results.StepResult) string {
	var sb strings.Builder
	for _, step := range steps {
		if step.Status == results.StatusPassed {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "Step %d (iteration %d) %s: %s", step.Index, step.Iteration, step.Status, step.Description)
		if step.Error != "" {
			fmt.Fprintf(&sb, "\n    error: %s", step.Error)
		}
		for _, message := range step.Messages {
			fmt.Fprintf(&sb, "\n    %s", message)
		}
	}
	return sb.String()
}

func copyStep(step *results.StepResult) results.StepResult {
	out := *step
	if step.Messages != nil {
		out.Messages = append([]string(nil), step.Messages...)
	}
	return out
}

// Step is a step in progress.
type Step struct {
	log      *Log
	rec      *results.StepResult
	finished bool
}

// Index returns the step index.
func (s *Step) Index() int {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	return s.rec.Index
}

// AddMessage appends a message to the step.
func (s *Step) AddMessage(format string, args ...any) {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	s.rec.Messages = append(s.rec.Messages, fmt.Sprintf(format, args...))
}

// Pass finishes the step as passed.
func (s *Step) Pass() results.StepResult {
	return s.Finish(results.StatusPassed, nil)
}

// Fail finishes the step as failed with err.
func (s *Step) Fail(err error) results.StepResult {
	return s.Finish(results.StatusFailed, err)
}

// Skip finishes the step as skipped.
func (s *Step) Skip(reason string) results.StepResult {
	s.AddMessage("%s", reason)
	return s.Finish(results.StatusSkipped, nil)
}

// Finish closes the step. Finishing twice keeps the first result.
func (s *Step) Finish(status results.Status, err error) results.StepResult {
	s.log.mu.Lock()
	if s.finished {
		out := copyStep(s.rec)
		s.log.mu.Unlock()
		return out
	}
	s.finished = true
	s.rec.Status = status
	if err != nil {
		s.rec.Error = err.Error()
	}
	end := s.log.clock.Now()
	if end.Before(s.rec.StartTime) {
		end = s.rec.StartTime
	}
	s.rec.EndTime = end
	s.rec.Duration = end.Sub(s.rec.StartTime)
	out := copyStep(s.rec)
	s.log.mu.Unlock()

	s.log.write(out)
	return out
}
