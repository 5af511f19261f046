package report

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nasqa/uut-harness/framework/results"
)

// NewHTTPClient returns a retrying client for result uploads.
func NewHTTPClient(logger *zap.Logger, retryMax int) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = 30 * time.Second
	if logger == nil {
		logger = zap.NewNop()
	}
	client.Logger = zapLeveled{logger.Sugar()}
	return client
}

func postJSON(ctx context.Context, client *retryablehttp.Client, url string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "encode upload")
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "post %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("post %s: status %d: %s", url, resp.StatusCode, bytes.TrimSpace(data))
	}
	return nil
}

// Logstash sends one document per iteration to a logstash HTTP input.
type Logstash struct {
	URL    string
	RunID  string
	UUT    string
	Client *retryablehttp.Client
}

// NewLogstash returns a logstash sink.
func NewLogstash(url, runID, uut string, logger *zap.Logger) *Logstash {
	return &Logstash{URL: url, RunID: runID, UUT: uut, Client: NewHTTPClient(logger, 3)}
}

// FlushIteration posts the iteration as a flat document.
func (l *Logstash) FlushIteration(ctx context.Context, test *results.TestResult, iteration results.IterationResult) error {
	return postJSON(ctx, l.Client, l.URL, l.document(test, iteration))
}

func (l *Logstash) document(test *results.TestResult, iteration results.IterationResult) map[string]interface{} {
	doc := map[string]interface{}{}
	if iteration.Fields != nil {
		for _, key := range iteration.Fields.Keys() {
			value, _ := iteration.Fields.Get(key)
			doc[key] = value
		}
	}
	doc["@timestamp"] = iteration.EndTime.UTC().Format(time.RFC3339Nano)
	doc["run_id"] = l.RunID
	doc["uut"] = l.UUT
	doc["test_name"] = test.Name
	doc["case"] = test.Case
	doc["tags"] = test.Tags
	doc["iteration"] = iteration.Iteration
	doc["result"] = string(iteration.Outcome.Kind)
	doc["reason"] = iteration.Outcome.Reason
	doc["elapsed_sec"] = iteration.Duration.Seconds()
	doc["steps_total"] = len(iteration.Steps)
	failed := 0
	for _, step := range iteration.Steps {
		if step.Status.IsFailure() {
			failed++
		}
	}
	doc["steps_failed"] = failed
	if iteration.Cleanup != "" {
		doc["cleanup_error"] = iteration.Cleanup
	}
	return doc
}

// Popcorn posts one report for the whole run.
type Popcorn struct {
	URL     string
	Product string
	Client  *retryablehttp.Client
}

// NewPopcorn returns a Popcorn reporter.
func NewPopcorn(url, product string, logger *zap.Logger) *Popcorn {
	return &Popcorn{URL: url, Product: product, Client: NewHTTPClient(logger, 3)}
}

// PopcornReport is the document Popcorn accepts.
type PopcornReport struct {
	Product     string        `json:"product"`
	Build       string        `json:"build,omitempty"`
	Platform    string        `json:"platform,omitempty"`
	Environment string        `json:"environment,omitempty"`
	RunID       string        `json:"run_id"`
	Start       int64         `json:"start"`
	End         int64         `json:"end"`
	Result      string        `json:"result"`
	Tests       []PopcornTest `json:"tests"`
}

// PopcornTest is one test in a PopcornReport.
type PopcornTest struct {
	Name       string   `json:"name"`
	Result     string   `json:"result"`
	Error      string   `json:"error,omitempty"`
	Iterations int      `json:"iterations"`
	Elapsed    float64  `json:"elapsed_sec"`
	Tags       []string `json:"tags,omitempty"`
}

// Report posts the run.
func (p *Popcorn) Report(ctx context.Context, run *results.RunResult) error {
	return postJSON(ctx, p.Client, p.URL, BuildPopcornReport(p.Product, run))
}

// BuildPopcornReport converts a run into a Popcorn document.
func BuildPopcornReport(product string, run *results.RunResult) PopcornReport {
	report := PopcornReport{
		Product:     product,
		Build:       run.Firmware,
		Platform:    run.Platform,
		Environment: run.CloudEnv,
		RunID:       run.RunID,
		Start:       run.StartTime.Unix(),
		End:         run.EndTime.Unix(),
		Result:      "PASS",
	}
	if run.ExitCode() != 0 {
		report.Result = "FAIL"
	}
	for _, test := range run.Tests {
		report.Tests = append(report.Tests, PopcornTest{
			Name:       test.Name,
			Result:     string(test.Status),
			Error:      test.Reason,
			Iterations: len(test.Iterations),
			Elapsed:    test.Duration.Seconds(),
			Tags:       test.Tags,
		})
	}
	return report
}

// zapLeveled adapts a sugared zap logger to retryablehttp.LeveledLogger.
type zapLeveled struct {
	log *zap.SugaredLogger
}

func (z zapLeveled) Error(msg string, kv ...interface{}) { z.log.Errorw(msg, kv...) }
func (z zapLeveled) Info(msg string, kv ...interface{}) { z.log.Debugw(msg, kv...) }
func (z zapLeveled) Debug(msg string, kv ...interface{}) { z.log.Debugw(msg, kv...) }
func (z zapLeveled) Warn(msg string, kv ...interface{}) { z.log.Warnw(msg, kv...) }
