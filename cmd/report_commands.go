package cmd

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/taar/callqa-pipeline/evaluation"
	"github.com/taar/callqa-pipeline/mistakes"
	"github.com/taar/callqa-pipeline/orchestrator"
	"github.com/taar/callqa-pipeline/report"
	"github.com/taar/callqa-pipeline/store"
)

const timeFormat = "2006-01-02 15:04"

func newResultsCommand(ctx *commandContext) *cobra.Command {
	var agent string
	var limit int

	cmd := &cobra.Command{
		Use:   "results",
		Short: "List stored analyses, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), func(st store.Store) error {
				list, err := st.List(cmd.Context(), store.Filter{Agent: agent, Limit: limit})
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No analyses stored")
					return nil
				}
				rows := make([][]string, 0, len(list))
				for _, a := range list {
					rows = append(rows, []string{
						a.ID,
						a.AgentName,
						a.CreatedAt.Local().Format(timeFormat),
						strconv.FormatFloat(report.KPIAverage(a.Evaluation), 'f', 1, 64),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Agent", "Created", "KPI"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&agent, "agent", "a", "", "Only this agent")
	cmd.Flags().IntVarP(&limit, "limit", "n", report.RecentLimit, "Maximum rows (0 for all)")
	return cmd
}

func newImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <analysis.json>...",
		Short: "Store analyses previously exported as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), func(st store.Store) error {
				for _, path := range args {
					a, err := orchestrator.LoadExport(path)
					if err != nil {
						return fmt.Errorf("load %s: %w", path, err)
					}
					if a.ID == "" {
						return fmt.Errorf("load %s: analysis has no id", path)
					}
					if err := st.Save(cmd.Context(), a); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Imported %s (%s)\n", a.ID, a.AgentName)
				}
				return nil
			})
		},
	}
}

func newMistakesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "mistakes <agent>",
		Short: "Show KPIs an agent failed on more than one call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), func(st store.Store) error {
				rep, err := mistakes.ForAgent(cmd.Context(), st, args[0])
				if err != nil {
					return err
				}
				if len(rep.RepeatedMistakes) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No repeated mistakes for %s\n", rep.Agent)
					return nil
				}

				kpis := make([]int, 0, len(rep.RepeatedMistakes))
				for k := range rep.RepeatedMistakes {
					kpis = append(kpis, k)
				}
				sort.Ints(kpis)

				rows := make([][]string, 0, len(kpis))
				for _, k := range kpis {
					desc := ""
					if evaluation.ValidKPI(k) {
						desc = evaluation.KPIs[k-1]
					}
					rows = append(rows, []string{strconv.Itoa(k), strconv.Itoa(rep.RepeatedMistakes[k]), desc})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Repeated mistakes for %s\n", rep.Agent)
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"KPI", "Count", "Description"},
					rows,
					[]columnAlignment{alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
}

func newLeaderboardCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "leaderboard",
		Short: "Rank agents by average KPI score",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), func(st store.Store) error {
				list, err := st.List(cmd.Context(), store.Filter{})
				if err != nil {
					return err
				}
				board := report.Leaderboard(list)
				if len(board) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No scored analyses")
					return nil
				}
				rows := make([][]string, 0, len(board))
				for i, e := range board {
					rows = append(rows, []string{
						strconv.Itoa(i + 1),
						e.AgentName,
						strconv.FormatFloat(e.AvgScore, 'f', 2, 64),
						strconv.Itoa(e.Calls),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"#", "Agent", "Avg score", "Calls"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignRight, alignRight},
				))
				return nil
			})
		},
	}
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show dashboard totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), func(st store.Store) error {
				list, err := st.List(cmd.Context(), store.Filter{})
				if err != nil {
					return err
				}
				s := report.Summarize(list)
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Metric", "Value"},
					[][]string{
						{"Analyses", strconv.Itoa(s.TotalAnalyses)},
						{"Agents", strconv.Itoa(s.TotalAgents)},
						{"Average KPI score", strconv.FormatFloat(s.AvgKPIScore, 'f', 2, 64)},
					},
					[]columnAlignment{alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}

func newAgentsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List agents with stored analyses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), func(st store.Store) error {
				agents, err := st.Agents(cmd.Context())
				if err != nil {
					return err
				}
				for _, a := range agents {
					fmt.Fprintln(cmd.OutOrStdout(), a)
				}
				return nil
			})
		},
	}
}
