package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oblstat/crimestat-cli/internal/ingest"
	"github.com/oblstat/crimestat-cli/internal/model"
	"github.com/oblstat/crimestat-cli/internal/store"
)

var populationCmd = &cobra.Command{
	Use:   "population",
	Short: "District population data",
	Long:  "Import, set and list district population counts used as crime-rate denominators.",
}

var populationImportCmd = &cobra.Command{
	Use:   "import <workbook>",
	Short: "Import a population workbook",
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

		counts, err := ingest.New(st).IngestPopulation(ctx, path)
		if err != nil {
			return eris.Wrap(err, "import population")
		}

		zap.L().Info("population import complete",
			zap.Int("districts", counts.Districts),
			zap.Int("years", counts.Years),
			zap.Int("values", counts.Values),
		)
		return nil
	},
}

var populationSetCmd = &cobra.Command{
	Use:   "set <district> <year> <count>",
	Short: "Set the population of one district for one year",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		year, err := strconv.Atoi(args[1])
		if err != nil {
			return eris.Errorf("invalid year %q", args[1])
		}
		count, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil || count < 0 {
			return eris.Errorf("invalid population count %q", args[2])
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		err = st.WithTx(ctx, func(tx store.Store) error {
			district, _, err := tx.GetOrCreateDistrict(ctx, model.NormalizeName(args[0]))
			if err != nil {
				return err
			}
			yr, _, err := tx.GetOrCreateYear(ctx, year)
			if err != nil {
				return err
			}
			return tx.UpsertPopulation(ctx, model.Population{
				DistrictID: district.ID,
				YearID:     yr.ID,
				Value:      count,
			})
		})
		if err != nil {
			return eris.Wrap(err, "set population")
		}

		zap.L().Info("population set",
			zap.String("district", args[0]),
			zap.Int("year", year),
			zap.Int64("count", count),
		)
		return nil
	},
}

var populationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored population counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		onlyYear, _ := cmd.Flags().GetInt("year")

		districts, err := st.ListDistricts(ctx)
		if err != nil {
			return err
		}
		years, err := st.ListYears(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DISTRICT\tYEAR\tPOPULATION")
		rows := 0
		for _, d := range districts {
			for _, y := range years {
				if onlyYear != 0 && y.Year != onlyYear {
					continue
				}
				p, err := st.PopulationFor(ctx, d.ID, y.ID)
				if eris.Is(err, store.ErrNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%d\t%d\n", d.Name, y.Year, p.Value)
				rows++
			}
		}
		if rows == 0 {
			fmt.Fprintln(os.Stderr, "No population data found.")
			return nil
		}
		return w.Flush()
	},
}

func init() {
	populationListCmd.Flags().Int("year", 0, "only show the given year")
	populationCmd.AddCommand(populationImportCmd)
	populationCmd.AddCommand(populationSetCmd)
	populationCmd.AddCommand(populationListCmd)
	rootCmd.AddCommand(populationCmd)
}
