// Package rates computes the population-adjusted crime-risk index.
// Per-district crime sums are converted to a crimes-per-100k coefficient
// and min-max rescaled into the analytic band [2, 5].
package rates

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/oblstat/crimestat-cli/internal/model"
	"github.com/oblstat/crimestat-cli/internal/store"
)

const (
	// PerCapitaBase expresses coefficients as crimes per 100k residents.
	PerCapitaBase = 100000

	// BandMin and BandMax bound the normalized index.
	BandMin = 2.0
	BandMax = 5.0

	// BandMidpoint is assigned when every district has the same coefficient.
	BandMidpoint = 3.5
)

// Engine computes and persists crime statistics.
type Engine struct {
	store store.Store
	log   *zap.Logger
}

func New(st store.Store) *Engine {
	return &Engine{store: st, log: zap.L().Named("rates")}
}

// ComputeForYear computes the normalized index for every eligible district
// in a year and upserts CrimeStatistics rows. Districts without a
// population record for the year, or with a zero population, are excluded.
// An unknown year yields an empty result, not an error.
func (e *Engine) ComputeForYear(ctx context.Context, year int) (map[string]float64, error) {
	result := make(map[string]float64)
	err := e.store.WithTx(ctx, func(tx store.Store) error {
		yearRow, err := tx.YearByValue(ctx, year)
		if eris.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		districts, err := tx.ListDistricts(ctx)
		if err != nil {
			return err
		}

		type entry struct {
			district    model.District
			totalCrimes float64
			population  int64
			coefficient float64
		}
		var entries []entry
		for _, d := range districts {
			facts, err := tx.FactsByDistrictYear(ctx, d.ID, yearRow.ID)
			if err != nil {
				return err
			}
			total := sumFacts(facts)

			pop, err := tx.PopulationFor(ctx, d.ID, yearRow.ID)
			if eris.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if pop.Value == 0 {
				continue
			}

			entries = append(entries, entry{
				district:    d,
				totalCrimes: total,
				population:  pop.Value,
				coefficient: total / float64(pop.Value) * PerCapitaBase,
			})
		}
		if len(entries) == 0 {
			return nil
		}

		coefficients := make([]float64, len(entries))
		for i, en := range entries {
			coefficients[i] = en.coefficient
		}
		normalized := Normalize(coefficients)

		for i, en := range entries {
			err := tx.UpsertCrimeStatistics(ctx, model.CrimeStatistics{
				DistrictID:  en.district.ID,
				YearID:      yearRow.ID,
				TotalCrimes: en.totalCrimes,
				Population:  en.population,
				Coefficient: en.coefficient,
				Normalized:  normalized[i],
			})
			if err != nil {
				return err
			}
			result[en.district.Name] = normalized[i]
		}
		e.log.Info("computed crime rates", zap.Int("year", year), zap.Int("districts", len(entries)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ComputeForAllYears runs ComputeForYear for every known year.
func (e *Engine) ComputeForAllYears(ctx context.Context) (map[int]map[string]float64, error) {
	years, err := e.store.ListYears(ctx)
	if err != nil {
		return nil, err
	}
	results := make(map[int]map[string]float64, len(years))
	for _, y := range years {
		r, err := e.ComputeForYear(ctx, y.Year)
		if err != nil {
			return nil, eris.Wrapf(err, "year %d", y.Year)
		}
		results[y.Year] = r
	}
	return results, nil
}

// CategoryRates computes the raw per-100k coefficient restricted to one
// crime type, per district and year. The table feeds the importance
// analysis and is never persisted; CrimeStatistics holds only the
// all-categories index.
func (e *Engine) CategoryRates(ctx context.Context, crimeTypeID int64) (map[string]map[int]float64, error) {
	table := make(map[string]map[int]float64)

	districts, err := e.store.ListDistricts(ctx)
	if err != nil {
		return nil, err
	}
	years, err := e.store.ListYears(ctx)
	if err != nil {
		return nil, err
	}

	for _, d := range districts {
		for _, y := range years {
			facts, err := e.store.FactsByCrimeType(ctx, crimeTypeID, d.ID, y.ID)
			if err != nil {
				return nil, err
			}
			total := sumFacts(facts)

			pop, err := e.store.PopulationFor(ctx, d.ID, y.ID)
			if eris.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if pop.Value == 0 {
				continue
			}

			if table[d.Name] == nil {
				table[d.Name] = make(map[int]float64)
			}
			table[d.Name][y.Year] = total / float64(pop.Value) * PerCapitaBase
		}
	}
	return table, nil
}

// Normalize min-max rescales coefficients into [BandMin, BandMax], rounded
// to 2 decimal places. Identical coefficients all map to BandMidpoint.
func Normalize(coefficients []float64) []float64 {
	if len(coefficients) == 0 {
		return nil
	}
	min, max := coefficients[0], coefficients[0]
	for _, c := range coefficients[1:] {
		if c < min {
			min = c
		}
		if c > max {
			max = c
		}
	}

	out := make([]float64, len(coefficients))
	if min == max {
		for i := range out {
			out[i] = BandMidpoint
		}
		return out
	}
	for i, c := range coefficients {
		out[i] = round2((c-min)/(max-min)*(BandMax-BandMin) + BandMin)
	}
	return out
}

func sumFacts(facts []model.Fact) float64 {
	var total float64
	for _, f := range facts {
		if f.Value != nil {
			total += *f.Value
		}
	}
	return total
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
