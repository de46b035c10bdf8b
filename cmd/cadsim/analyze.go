package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/san-kum/cadsim/internal/analysis"
	"github.com/san-kum/cadsim/internal/automation"
	"github.com/san-kum/cadsim/internal/config"
	"github.com/san-kum/cadsim/internal/dynamo"
	"github.com/san-kum/cadsim/internal/optim"
	"github.com/san-kum/cadsim/internal/storage"
	"github.com/san-kum/cadsim/internal/viz"
)

func loadStored(ctx context.Context, id string) (*storage.ExperimentRecord, []dynamo.Snapshot, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer st.Close()

	rec, err := st.Load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	results, err := st.LoadResults(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return rec, results, nil
}

func printStats(results []dynamo.Snapshot) {
	for _, name := range viz.Variables(results) {
		stats := analysis.Aggregate(results, name)
		for _, g := range analysis.Groups(stats) {
			final := analysis.Final(stats[g])
			fmt.Printf("%s %s %s %s\n",
				viz.MetricLabel.Render(fmt.Sprintf("%-16s", name)),
				viz.Sparkline(analysis.Means(stats[g]), 32),
				viz.MetricValue.Render(fmt.Sprintf("%.4g ± %.2g", final.Mean, final.Std)),
				viz.Subtle.Render(fmt.Sprintf("%s, %d runs", g, final.N)))
		}
	}
}

func bestCmd() *cobra.Command {
	var (
		maximize bool
		top      int
	)
	cmd := &cobra.Command{
		Use:   "best [experiment_id] [variable]",
		Short: "rank the sweep subsets of a stored experiment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, results, err := loadStored(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			spaces := make([]dynamo.ParamSpace, len(rec.Simulations))
			for i, s := range rec.Simulations {
				spaces[i] = s.Params
			}
			obj := optim.Minimize
			if maximize {
				obj = optim.Maximize
			}

			ranked := optim.Rank(results, args[1], obj, spaces)
			if len(ranked) == 0 {
				return fmt.Errorf("experiment %s has no numeric values for %q", args[0], args[1])
			}
			for i, c := range ranked {
				if top > 0 && i >= top {
					break
				}
				fmt.Printf("%2d. %s %s %v\n", i+1,
					viz.MetricValue.Render(fmt.Sprintf("%.6g", c.Score)),
					viz.Subtle.Render(c.Group.String()),
					c.Params)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&maximize, "max", false, "rank the largest final value first")
	cmd.Flags().IntVar(&top, "top", 5, "number of subsets shown")
	return cmd
}

func scenarioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenario [file]",
		Short: "run the experiments of a scenario file in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := automation.LoadScenario(args[0])
			if err != nil {
				return err
			}
			if s.Name != "" {
				fmt.Println(viz.Title.Render(s.Name))
			}

			results, err := s.Run(cmd.Context(), func(ctx context.Context, f *config.ExperimentFile) (string, error) {
				return execute(ctx, f)
			})
			for _, r := range results {
				if r.Err != nil {
					fmt.Fprintf(os.Stderr, "%s %s\n", viz.StatusFailed.Render("✗"), r.Err)
					continue
				}
				fmt.Printf("%s %s %s\n", viz.StatusOK.Render("✓"), r.Step, viz.Subtle.Render(r.ID))
			}
			return err
		},
	}
}
