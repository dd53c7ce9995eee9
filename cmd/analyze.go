package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oblstat/crimestat-cli/internal/analysis"
	"github.com/oblstat/crimestat-cli/internal/artifact"
	"github.com/oblstat/crimestat-cli/internal/importance"
	"github.com/oblstat/crimestat-cli/internal/model"
	"github.com/oblstat/crimestat-cli/internal/rates"
	"github.com/oblstat/crimestat-cli/internal/store"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <crime-type>",
	Short: "Rank spending indicators by influence on a crime category",
	Long:  "Trains a random-forest regressor of selected spending indicators against the category's per-capita crime rate and persists the ranked result with rendered charts.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		crimeType, err := findCrimeType(ctx, st, args[0])
		if err != nil {
			return err
		}

		summary, err := newOrchestrator(st).Run(ctx, crimeType.ID)
		if err != nil {
			return eris.Wrapf(err, "analyze %q", crimeType.Name)
		}

		zap.L().Info("analysis complete",
			zap.String("crime_type", summary.CrimeType),
			zap.String("top_indicator", summary.Top),
			zap.Int("indicators", summary.IndicatorCount),
			zap.Int("years", summary.YearCount),
			zap.String("importance_plot", summary.ImportancePlot),
			zap.String("tree_plot", summary.TreePlot),
		)

		printSummary(summary)
		return nil
	},
}

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Show persisted analysis results",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		orch := newOrchestrator(st)

		if name, _ := cmd.Flags().GetString("crime-type"); name != "" {
			crimeType, err := findCrimeType(ctx, st, name)
			if err != nil {
				return err
			}
			summary, err := orch.LatestForCrimeType(ctx, crimeType.ID)
			if eris.Is(err, store.ErrNotFound) {
				fmt.Fprintf(os.Stderr, "No analysis results for %q.\n", crimeType.Name)
				return nil
			}
			if err != nil {
				return err
			}
			printSummary(summary)
			return nil
		}

		limit, _ := cmd.Flags().GetInt("limit")
		summaries, err := orch.LatestResults(ctx, limit)
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			fmt.Fprintln(os.Stderr, "No analysis results found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CRIME TYPE\tTOP INDICATOR\tINDICATORS\tIMPORTANCE PLOT")
		for _, s := range summaries {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.CrimeType, s.Top, s.IndicatorCount, s.ImportancePlot)
		}
		return w.Flush()
	},
}

func newOrchestrator(st store.Store) *analysis.Orchestrator {
	forest := importance.NewForest(importance.Config{
		Trees:          cfg.Analysis.Trees,
		MaxDepth:       cfg.Analysis.MaxDepth,
		MinSamplesLeaf: cfg.Analysis.MinSamplesLeaf,
		Seed:           cfg.Analysis.Seed,
	})
	artifacts := artifact.NewStore(cfg.Artifacts.Dir)
	return analysis.New(st, rates.New(st), forest, artifacts).WithMinYears(cfg.Analysis.MinYears)
}

// findCrimeType resolves a crime type by exact or normalized name.
func findCrimeType(ctx context.Context, st store.Store, name string) (*model.CrimeType, error) {
	types, err := st.ListCrimeTypes(ctx)
	if err != nil {
		return nil, err
	}

	want := model.NormalizeName(name)
	for i := range types {
		if types[i].Name == want {
			return &types[i], nil
		}
	}
	return nil, eris.Errorf("unknown crime type %q (see 'crimestat ingest reclassify')", name)
}

func printSummary(s *analysis.Summary) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Crime type:\t%s\n", s.CrimeType)
	fmt.Fprintf(w, "Top indicator:\t%s\n", s.Top)
	fmt.Fprintln(w, "RANK\tINDICATOR\tWEIGHT")
	for i, r := range s.Ranked {
		if r.Weight != nil {
			fmt.Fprintf(w, "%d\t%s\t%.4f\n", i+1, r.Name, *r.Weight)
		} else {
			fmt.Fprintf(w, "%d\t%s\t-\n", i+1, r.Name)
		}
	}
	_ = w.Flush()
}

func init() {
	resultsCmd.Flags().String("crime-type", "", "show the latest result for one crime type")
	resultsCmd.Flags().Int("limit", 10, "number of results to show")
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(resultsCmd)
}
