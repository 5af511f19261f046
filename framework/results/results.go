package results

import (
	"time"
)

// Status indicates outcome for a test, iteration or step.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// IsFailure reports whether the status counts against the run.
func (s Status) IsFailure() bool {
	return s == StatusFailed || s == StatusError
}

// Outcome is the closed set of results a lifecycle phase can produce.
type Outcome struct {
	Kind   Status `json:"kind"`
	Reason string `json:"reason,omitempty"`
}

func Passed() Outcome { return Outcome{Kind: StatusPassed} }
func Failed(reason string) Outcome { return Outcome{Kind: StatusFailed, Reason: reason} }
func Skipped(reason string) Outcome { return Outcome{Kind: StatusSkipped, Reason: reason} }
func Errored(reason string) Outcome { return Outcome{Kind: StatusError, Reason: reason} }

func (o Outcome) String() string {
	if o.Reason == "" {
		return string(o.Kind)
	}
	return string(o.Kind) + ": " + o.Reason
}

// StepResult captures a single recorded test step.
type StepResult struct {
	Index       int           `json:"index"`
	Iteration   int           `json:"iteration"`
	Description string        `json:"description"`
	Messages    []string      `json:"messages,omitempty"`
	Status      Status        `json:"status"`
	Error       string        `json:"error,omitempty"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     time.Time     `json:"end_time"`
	Duration    time.Duration `json:"duration"`
}

// IterationResult captures one pass through before_test/test/after_test.
type IterationResult struct {
	TestName  string        `json:"test_name"`
	Iteration int           `json:"iteration"`
	Outcome   Outcome       `json:"outcome"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Steps     []StepResult  `json:"steps"`
	Fields    *Fields       `json:"fields"`
	Cleanup   string        `json:"cleanup_error,omitempty"`
}

// TestResult captures a test execution summary across all iterations.
type TestResult struct {
	Name        string            `json:"name"`
	Case        string            `json:"case"`
	Description string            `json:"description,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Platform    string            `json:"platform,omitempty"`
	Status      Status            `json:"status"`
	Reason      string            `json:"reason,omitempty"`
	StartTime   time.Time         `json:"start_time"`
	EndTime     time.Time         `json:"end_time"`
	Duration    time.Duration     `json:"duration"`
	Iterations  []IterationResult `json:"iterations"`
	Artifacts   map[string]string `json:"artifacts,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Requires    []string          `json:"requires,omitempty"`
	Stopped     bool              `json:"stopped,omitempty"`
}

// RunResult captures the overall run summary.
type RunResult struct {
	RunID     string        `json:"run_id"`
	UUT       string        `json:"uut,omitempty"`
	Platform  string        `json:"platform,omitempty"`
	Firmware  string        `json:"firmware,omitempty"`
	CloudEnv  string        `json:"cloud_env,omitempty"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Tests     []TestResult  `json:"tests"`
}

// Summary counts tests per status.
type Summary struct {
	RunID   string        `json:"run_id"`
	Total   int           `json:"total"`
	Passed  int           `json:"passed"`
	Failed  int           `json:"failed"`
	Skipped int           `json:"skipped"`
	Errored int           `json:"errored"`
	Elapsed time.Duration `json:"elapsed"`
}

// Summarize counts the test outcomes of the run.
func (r *RunResult) Summarize() Summary {
	summary := Summary{RunID: r.RunID, Total: len(r.Tests), Elapsed: r.Duration}
	for _, test := range r.Tests {
		switch test.Status {
		case StatusPassed:
			summary.Passed++
		case StatusFailed:
			summary.Failed++
		case StatusSkipped:
			summary.Skipped++
		case StatusError:
			summary.Errored++
		}
	}
	return summary
}

// ExitCode is 0 when no test failed or errored and 1 otherwise.
func (r *RunResult) ExitCode() int {
	for _, test := range r.Tests {
		if test.Status.IsFailure() {
			return 1
		}
	}
	return 0
}

// Aggregate folds iteration outcomes into a single test status. The first
// failing iteration decides the status; all-skipped is skipped.
func Aggregate(iterations []IterationResult) Outcome {
	if len(iterations) == 0 {
		return Skipped("no iterations ran")
	}
	skipped := 0
	for _, iteration := range iterations {
		switch iteration.Outcome.Kind {
		case StatusFailed, StatusError:
			return iteration.Outcome
		case StatusSkipped:
			skipped++
		}
	}
	if skipped == len(iterations) {
		return iterations[0].Outcome
	}
	return Passed()
}
