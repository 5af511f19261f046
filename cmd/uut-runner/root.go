package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const (
	exitOK     = 0
	exitFailed = 1
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// testsFailedError reports a run that finished with failed or errored tests.
// The run itself already reported the details.
type testsFailedError struct {
	failed int
	total  int
}

func (e *testsFailedError) Error() string {
	return fmt.Sprintf("%d of %d tests did not pass", e.failed, e.total)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "uut-runner",
		Short: "Run QA test plans against a NAS unit under test",
		Long: `uut-runner loads YAML test plans, runs their cases against one UUT over
adb, ssh, serial or REST, and writes results, metrics and reports for the run.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(`{{printf "uut-runner version %s\n" .Version}}`)
	root.AddCommand(newRunCmd(), newListCmd(), newVersionCmd())
	return root
}

func execute(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return exitOK
	}
	var failed *testsFailedError
	if !errors.As(err, &failed) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return exitFailed
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of uut-runner",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "uut-runner version %s\n", version)
		},
	}
}
