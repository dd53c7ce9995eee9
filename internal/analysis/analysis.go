// Package analysis orchestrates the feature-importance run: it builds the
// crime-risk target series for one crime type, assembles the selected
// financial indicators into a predictor matrix, fits the importance model
// and persists the ranked outcome.
package analysis

import (
	"context"
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/oblstat/crimestat-cli/internal/artifact"
	"github.com/oblstat/crimestat-cli/internal/importance"
	"github.com/oblstat/crimestat-cli/internal/model"
	"github.com/oblstat/crimestat-cli/internal/rates"
	"github.com/oblstat/crimestat-cli/internal/store"
)

var (
	// ErrInsufficientData means the crime-risk series spans fewer than
	// two years, too little to support an importance analysis.
	ErrInsufficientData = eris.New("analysis: insufficient crime data")

	// ErrNoIndicators means no financial indicator is selected.
	ErrNoIndicators = eris.New("analysis: no indicators selected for analysis")
)

// RankedIndicator is one indicator with its importance weight. Weight is
// nil when only the persisted result is available, the rank order still
// holds.
type RankedIndicator struct {
	Name   string
	Weight *float64
}

// Summary is the outcome of one analysis run or a persisted result.
type Summary struct {
	CrimeType      string
	Ranked         []RankedIndicator
	Top            string
	ImportancePlot string
	TreePlot       string
	IndicatorCount int
	YearCount      int
}

// Orchestrator wires the engines together.
type Orchestrator struct {
	store     store.Store
	rates     *rates.Engine
	model     importance.Model
	artifacts *artifact.Store
	minYears  int
	log       *zap.Logger
}

func New(st store.Store, ratesEngine *rates.Engine, m importance.Model, artifacts *artifact.Store) *Orchestrator {
	return &Orchestrator{
		store:     st,
		rates:     ratesEngine,
		model:     m,
		artifacts: artifacts,
		minYears:  2,
		log:       zap.L().Named("analysis"),
	}
}

// WithMinYears raises the minimum number of target years required for a
// run. Values below 2 are ignored.
func (o *Orchestrator) WithMinYears(n int) *Orchestrator {
	if n >= 2 {
		o.minYears = n
	}
	return o
}

// Run executes a full analysis for one crime type. The model invocation is
// synchronous and honors ctx cancellation; the persisted row commits in
// its own transaction once artifacts are rendered.
func (o *Orchestrator) Run(ctx context.Context, crimeTypeID int64) (*Summary, error) {
	crimeType, err := o.store.CrimeTypeByID(ctx, crimeTypeID)
	if err != nil {
		return nil, err
	}

	target, years, err := o.targetSeries(ctx, crimeTypeID)
	if err != nil {
		return nil, err
	}

	indicators, err := o.indicatorSeries(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(indicators))
	for name := range indicators {
		names = append(names, name)
	}
	sort.Strings(names)

	matrix := make([][]float64, len(years))
	for i, year := range years {
		row := make([]float64, len(names))
		for j, name := range names {
			if v, ok := indicators[name][year]; ok {
				row[j] = v
			} else {
				row[j] = math.NaN()
			}
		}
		matrix[i] = row
	}

	weights, err := o.model.Fit(ctx, matrix, target, names)
	if err != nil {
		return nil, err
	}

	ranked := rankWeights(weights)
	top := ranked[0].Name

	chartWeights := make([]artifact.IndicatorWeight, len(ranked))
	for i, r := range ranked {
		chartWeights[i] = artifact.IndicatorWeight{Name: r.Name, Weight: *r.Weight}
	}
	importancePlot, err := o.artifacts.RenderImportanceChart(chartWeights)
	if err != nil {
		return nil, err
	}
	treePlot, err := o.artifacts.RenderTreeDiagram(o.model.ExampleTree())
	if err != nil {
		return nil, err
	}

	rankedNames := make([]string, len(ranked))
	for i, r := range ranked {
		rankedNames[i] = r.Name
	}
	err = o.store.WithTx(ctx, func(tx store.Store) error {
		_, err := tx.CreateAnalysisResult(ctx, model.AnalysisResult{
			CrimeTypeID:    crimeTypeID,
			Indicators:     rankedNames,
			ImportancePlot: importancePlot,
			TreePlot:       treePlot,
			TopIndicator:   top,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	o.log.Info("analysis complete",
		zap.String("crime_type", crimeType.Name),
		zap.String("top", top),
		zap.Int("indicators", len(names)),
		zap.Int("years", len(years)))

	return &Summary{
		CrimeType:      crimeType.Name,
		Ranked:         ranked,
		Top:            top,
		ImportancePlot: importancePlot,
		TreePlot:       treePlot,
		IndicatorCount: len(names),
		YearCount:      len(years),
	}, nil
}

// targetSeries collapses the category-scoped rate table to one crime-risk
// value per year by averaging across districts. Years come back sorted.
func (o *Orchestrator) targetSeries(ctx context.Context, crimeTypeID int64) ([]float64, []int, error) {
	table, err := o.rates.CategoryRates(ctx, crimeTypeID)
	if err != nil {
		return nil, nil, err
	}

	sums := make(map[int]float64)
	counts := make(map[int]int)
	for _, byYear := range table {
		for year, rate := range byYear {
			sums[year] += rate
			counts[year]++
		}
	}
	if len(sums) < o.minYears {
		return nil, nil, eris.Wrapf(ErrInsufficientData, "%d year(s) of data, need %d", len(sums), o.minYears)
	}

	years := make([]int, 0, len(sums))
	for year := range sums {
		years = append(years, year)
	}
	sort.Ints(years)

	target := make([]float64, len(years))
	for i, year := range years {
		target[i] = sums[year] / float64(counts[year])
	}
	return target, years, nil
}

// indicatorSeries groups selected expenses by name and averages duplicate
// amounts per year.
func (o *Orchestrator) indicatorSeries(ctx context.Context) (map[string]map[int]float64, error) {
	expenses, err := o.store.SelectedExpenses(ctx)
	if err != nil {
		return nil, err
	}
	if len(expenses) == 0 {
		return nil, ErrNoIndicators
	}

	yearRows, err := o.store.ListYears(ctx)
	if err != nil {
		return nil, err
	}
	yearByID := make(map[int64]int, len(yearRows))
	for _, y := range yearRows {
		yearByID[y.ID] = y.Year
	}

	type key struct {
		name string
		year int
	}
	sums := make(map[key]float64)
	counts := make(map[key]int)
	for _, e := range expenses {
		k := key{name: e.Name, year: yearByID[e.YearID]}
		sums[k] += e.Amount
		counts[k]++
	}

	out := make(map[string]map[int]float64)
	for k, sum := range sums {
		if out[k.name] == nil {
			out[k.name] = make(map[int]float64)
		}
		out[k.name][k.year] = sum / float64(counts[k])
	}
	return out, nil
}

// rankWeights orders indicators by weight descending, name ascending on
// ties so equal weights rank deterministically.
func rankWeights(weights map[string]float64) []RankedIndicator {
	ranked := make([]RankedIndicator, 0, len(weights))
	for name, w := range weights {
		v := w
		ranked = append(ranked, RankedIndicator{Name: name, Weight: &v})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if *ranked[i].Weight != *ranked[j].Weight {
			return *ranked[i].Weight > *ranked[j].Weight
		}
		return ranked[i].Name < ranked[j].Name
	})
	return ranked
}

// LatestForCrimeType returns the most recent persisted result for one
// crime type. Weights are unknown for persisted rows and stay nil.
func (o *Orchestrator) LatestForCrimeType(ctx context.Context, crimeTypeID int64) (*Summary, error) {
	ar, err := o.store.LatestAnalysisResult(ctx, crimeTypeID)
	if err != nil {
		return nil, err
	}
	return o.persistedSummary(ctx, ar)
}

// LatestResults returns up to limit persisted results, newest first.
func (o *Orchestrator) LatestResults(ctx context.Context, limit int) ([]Summary, error) {
	results, err := o.store.LatestAnalysisResults(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(results))
	for i := range results {
		s, err := o.persistedSummary(ctx, &results[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, nil
}

func (o *Orchestrator) persistedSummary(ctx context.Context, ar *model.AnalysisResult) (*Summary, error) {
	crimeType, err := o.store.CrimeTypeByID(ctx, ar.CrimeTypeID)
	if err != nil {
		return nil, err
	}
	ranked := make([]RankedIndicator, len(ar.Indicators))
	for i, name := range ar.Indicators {
		ranked[i] = RankedIndicator{Name: name}
	}
	return &Summary{
		CrimeType:      crimeType.Name,
		Ranked:         ranked,
		Top:            ar.TopIndicator,
		ImportancePlot: ar.ImportancePlot,
		TreePlot:       ar.TreePlot,
		IndicatorCount: len(ar.Indicators),
	}, nil
}
