package main

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/nasqa/uut-harness/framework/config"
	"github.com/nasqa/uut-harness/framework/plan"
	"github.com/nasqa/uut-harness/framework/registry"
	"github.com/nasqa/uut-harness/pkg/cases"
)

func newListCmd() *cobra.Command {
	cfg := config.Default()
	var showCases bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the test plans under --plan_dir, or the registered cases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := registry.NewRegistry()
			cases.Register(reg)
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			if showCases {
				t.AppendHeader(table.Row{"CASE"})
				for _, name := range reg.Names() {
					t.AppendRow(table.Row{name})
				}
				t.Render()
				return nil
			}
			if err := cfg.Resolve(cmd.Flags()); err != nil {
				return err
			}
			plans, err := plan.LoadPlans(cfg.PlanDir)
			if err != nil {
				return err
			}
			t.AppendHeader(table.Row{"TEST", "CASE", "PLATFORMS", "REQUIRES", "TAGS", "LOOP", "SELECTED"})
			for _, p := range plans {
				t.AppendRow(table.Row{
					p.Metadata.Name,
					caseLabel(reg, p.Case),
					strings.Join(p.Platforms, ","),
					strings.Join(p.Requires, ","),
					strings.Join(p.Metadata.Tags, ","),
					p.Loop,
					selected(cfg, p),
				})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&showCases, "cases", false, "list registered cases instead of plans")
	cfg.BindFlags(cmd.Flags())
	return cmd
}

func caseLabel(reg *registry.Registry, name string) string {
	if reg.Has(name) {
		return name
	}
	return name + " (unknown)"
}

func selected(cfg *config.Config, p plan.TestPlan) bool {
	return p.MatchesTags(cfg.IncludeTags, cfg.ExcludeTags) && p.SupportsPlatform(cfg.Platform)
}
