package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oblstat/crimestat-cli/internal/ingest"
)

var expensesCmd = &cobra.Command{
	Use:   "expenses",
	Short: "Budget spending data",
	Long:  "Import and inspect whole-jurisdiction budget spending by indicator and year.",
}

var expensesImportCmd = &cobra.Command{
	Use:   "import <workbook>",
	Short: "Import a budget spending workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		path, cleanup, err := resolveWorkbook(ctx, args[0])
		if err != nil {
			return err
		}
		defer cleanup()

		counts, err := ingest.New(st).IngestExpenses(ctx, path)
		if err != nil {
			return eris.Wrap(err, "import expenses")
		}

		zap.L().Info("expenses import complete",
			zap.Int("years", counts.Years),
			zap.Int("values", counts.Values),
		)
		return nil
	},
}

var indicatorsCmd = &cobra.Command{
	Use:   "indicators",
	Short: "Analysis indicator selection",
	Long:  "List spending indicators and choose which ones participate in importance analysis.",
}

var indicatorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List spending indicators and their selection flags",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		indicators, err := st.ListExpenseIndicators(ctx)
		if err != nil {
			return eris.Wrap(err, "list indicators")
		}
		if len(indicators) == 0 {
			fmt.Fprintln(os.Stderr, "No indicators found. Import a spending workbook first.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "INDICATOR\tSELECTED")
		for _, ind := range indicators {
			fmt.Fprintf(w, "%s\t%v\n", ind.Name, ind.Selected)
		}
		return w.Flush()
	},
}

var indicatorsSelectCmd = &cobra.Command{
	Use:   "select <name>",
	Short: "Include or exclude an indicator from analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		off, _ := cmd.Flags().GetBool("off")
		if err := st.SetIndicatorSelected(ctx, args[0], !off); err != nil {
			return eris.Wrapf(err, "select indicator %q", args[0])
		}

		zap.L().Info("indicator updated",
			zap.String("indicator", args[0]),
			zap.Bool("selected", !off),
		)
		return nil
	},
}

func init() {
	expensesCmd.AddCommand(expensesImportCmd)
	rootCmd.AddCommand(expensesCmd)

	indicatorsSelectCmd.Flags().Bool("off", false, "exclude the indicator instead of including it")
	indicatorsCmd.AddCommand(indicatorsListCmd)
	indicatorsCmd.AddCommand(indicatorsSelectCmd)
	rootCmd.AddCommand(indicatorsCmd)
}
