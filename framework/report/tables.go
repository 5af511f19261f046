package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/nasqa/uut-harness/framework/results"
)

// iterationTable lays out one row per iteration, with the result fields of
// every iteration as extra columns in first-seen order.
func iterationTable(run *results.RunResult) table.Writer {
	var fieldKeys []string
	seen := map[string]bool{}
	for _, test := range run.Tests {
		for _, iteration := range test.Iterations {
			if iteration.Fields == nil {
				continue
			}
			for _, key := range iteration.Fields.Keys() {
				if !seen[key] && !standardField(key) {
					seen[key] = true
					fieldKeys = append(fieldKeys, key)
				}
			}
		}
	}

	t := table.NewWriter()
	header := table.Row{"run_id", "test", "case", "platform", "iteration", "status", "reason", "start_time", "duration_sec", "steps", "cleanup_error"}
	for _, key := range fieldKeys {
		header = append(header, key)
	}
	t.AppendHeader(header)

	for _, test := range run.Tests {
		if len(test.Iterations) == 0 {
			row := table.Row{run.RunID, test.Name, test.Case, test.Platform, 0, test.Status, test.Reason,
				test.StartTime.Format(time.RFC3339), fmt.Sprintf("%.3f", test.Duration.Seconds()), 0, ""}
			for range fieldKeys {
				row = append(row, "")
			}
			t.AppendRow(row)
			continue
		}
		for _, iteration := range test.Iterations {
			row := table.Row{
				run.RunID,
				test.Name,
				test.Case,
				test.Platform,
				iteration.Iteration,
				iteration.Outcome.Kind,
				strings.ReplaceAll(iteration.Outcome.Reason, "\n", " | "),
				iteration.StartTime.Format(time.RFC3339),
				fmt.Sprintf("%.3f", iteration.Duration.Seconds()),
				len(iteration.Steps),
				iteration.Cleanup,
			}
			for _, key := range fieldKeys {
				value := ""
				if iteration.Fields != nil {
					if v, ok := iteration.Fields.Get(key); ok {
						value = fmt.Sprintf("%v", v)
					}
				}
				row = append(row, value)
			}
			t.AppendRow(row)
		}
	}
	return t
}

// The runner sets these on every iteration and they already have columns.
func standardField(key string) bool {
	switch key {
	case "test_name", "iteration", "platform", "result":
		return true
	}
	return false
}

// RenderCSV renders one CSV row per iteration.
func RenderCSV(run *results.RunResult) string {
	return iterationTable(run).RenderCSV() + "\n"
}

// RenderHTML renders a standalone HTML page with one row per iteration.
func RenderHTML(run *results.RunResult) string {
	t := iterationTable(run)
	t.SetTitle(fmt.Sprintf("Run %s", run.RunID))
	summary := run.Summarize()

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&sb, "<title>UUT run %s</title>\n", run.RunID)
	sb.WriteString("<style>table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:4px 8px}</style>\n")
	sb.WriteString("</head>\n<body>\n")
	fmt.Fprintf(&sb, "<h1>UUT %s (%s)</h1>\n", run.UUT, run.Platform)
	fmt.Fprintf(&sb, "<p>%d tests: %d passed, %d failed, %d skipped, %d errors in %s</p>\n",
		summary.Total, summary.Passed, summary.Failed, summary.Skipped, summary.Errored, summary.Elapsed.Round(time.Second))
	sb.WriteString(t.RenderHTML())
	sb.WriteString("\n</body>\n</html>\n")
	return sb.String()
}
