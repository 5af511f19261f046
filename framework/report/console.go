package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/nasqa/uut-harness/framework/results"
)

// Reporter receives the finished run.
type Reporter interface {
	Report(ctx context.Context, run *results.RunResult) error
}

// Console prints a result table and a PASS/FAIL banner.
type Console struct {
	Out io.Writer
	// Quiet prints the banner only.
	Quiet bool
	// NoColor disables ANSI colors regardless of the terminal.
	NoColor bool
}

// NewConsole returns a console reporter writing to stdout. mode is "table"
// (default) or "quiet".
func NewConsole(mode string) *Console {
	return &Console{Out: os.Stdout, Quiet: strings.EqualFold(mode, "quiet")}
}

// Report renders the run.
func (c *Console) Report(_ context.Context, run *results.RunResult) error {
	out := c.Out
	if out == nil {
		out = os.Stdout
	}
	if !c.Quiet {
		t := table.NewWriter()
		t.SetOutputMirror(out)
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"TEST", "CASE", "STATUS", "ITER", "DURATION", "REASON"})
		for _, test := range run.Tests {
			t.AppendRow(table.Row{
				test.Name,
				test.Case,
				c.status(test.Status),
				len(test.Iterations),
				test.Duration.Round(time.Millisecond),
				firstLine(test.Reason, 80),
			})
		}
		summary := run.Summarize()
		t.AppendFooter(table.Row{"", "", "TOTAL", summary.Total, summary.Elapsed.Round(time.Millisecond),
			fmt.Sprintf("%d passed, %d failed, %d skipped, %d errors", summary.Passed, summary.Failed, summary.Skipped, summary.Errored)})
		t.Render()
	}
	return c.banner(out, run)
}

func (c *Console) banner(out io.Writer, run *results.RunResult) error {
	pass := color.New(color.FgGreen, color.Bold)
	fail := color.New(color.FgRed, color.Bold)
	if c.NoColor {
		pass.DisableColor()
		fail.DisableColor()
	}
	summary := run.Summarize()
	var err error
	if run.ExitCode() == 0 {
		_, err = pass.Fprintf(out, "PASS %s: %d/%d tests passed (%d skipped)\n", run.RunID, summary.Passed, summary.Total, summary.Skipped)
	} else {
		_, err = fail.Fprintf(out, "FAIL %s: %d failed, %d errors of %d tests\n", run.RunID, summary.Failed, summary.Errored, summary.Total)
	}
	return err
}

func (c *Console) status(status results.Status) string {
	if c.NoColor {
		return string(status)
	}
	switch status {
	case results.StatusPassed:
		return text.FgGreen.Sprint(status)
	case results.StatusSkipped:
		return text.FgYellow.Sprint(status)
	default:
		return text.FgRed.Sprint(status)
	}
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > max {
		s = s[:max-3] + "..."
	}
	return s
}
