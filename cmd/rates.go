package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oblstat/crimestat-cli/internal/rates"
)

var ratesCmd = &cobra.Command{
	Use:   "rates",
	Short: "Per-capita crime rates",
	Long:  "Compute and inspect normalized per-capita crime rates by district and year.",
}

var ratesComputeCmd = &cobra.Command{
	Use:   "compute",
	Short: "Recompute crime rates from stored facts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		engine := rates.New(st)
		year, _ := cmd.Flags().GetInt("year")

		if year != 0 {
			normalized, err := engine.ComputeForYear(ctx, year)
			if err != nil {
				return eris.Wrapf(err, "compute rates for %d", year)
			}
			zap.L().Info("rates computed",
				zap.Int("year", year),
				zap.Int("districts", len(normalized)),
			)
			return nil
		}

		byYear, err := engine.ComputeForAllYears(ctx)
		if err != nil {
			return eris.Wrap(err, "compute rates")
		}
		zap.L().Info("rates computed", zap.Int("years", len(byYear)))
		return nil
	},
}

var ratesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show computed crime rates",
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
		districtName := make(map[int64]string, len(districts))
		for _, d := range districts {
			districtName[d.ID] = d.Name
		}

		years, err := st.ListYears(ctx)
		if err != nil {
			return err
		}
		yearValue := make(map[int64]int, len(years))
		for _, y := range years {
			yearValue[y.ID] = y.Year
		}

		stats, err := st.AllCrimeStatistics(ctx)
		if err != nil {
			return err
		}

		type row struct {
			district    string
			year        int
			total       float64
			population  int64
			coefficient float64
			normalized  float64
		}
		var rows []row
		for _, s := range stats {
			y := yearValue[s.YearID]
			if onlyYear != 0 && y != onlyYear {
				continue
			}
			rows = append(rows, row{
				district:    districtName[s.DistrictID],
				year:        y,
				total:       s.TotalCrimes,
				population:  s.Population,
				coefficient: s.Coefficient,
				normalized:  s.Normalized,
			})
		}
		if len(rows) == 0 {
			fmt.Fprintln(os.Stderr, "No computed rates found. Run 'crimestat rates compute' first.")
			return nil
		}

		sort.Slice(rows, func(i, j int) bool {
			if rows[i].year != rows[j].year {
				return rows[i].year < rows[j].year
			}
			return rows[i].district < rows[j].district
		})

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "YEAR\tDISTRICT\tCRIMES\tPOPULATION\tPER 100K\tINDEX")
		for _, r := range rows {
			fmt.Fprintf(w, "%d\t%s\t%.0f\t%d\t%.2f\t%.2f\n",
				r.year, r.district, r.total, r.population, r.coefficient, r.normalized)
		}
		return w.Flush()
	},
}

func init() {
	ratesComputeCmd.Flags().Int("year", 0, "recompute a single year")
	ratesShowCmd.Flags().Int("year", 0, "only show the given year")
	ratesCmd.AddCommand(ratesComputeCmd)
	ratesCmd.AddCommand(ratesShowCmd)
	rootCmd.AddCommand(ratesCmd)
}
