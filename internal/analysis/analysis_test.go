package analysis

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oblstat/crimestat-cli/internal/artifact"
	"github.com/oblstat/crimestat-cli/internal/importance"
	"github.com/oblstat/crimestat-cli/internal/model"
	"github.com/oblstat/crimestat-cli/internal/rates"
	"github.com/oblstat/crimestat-cli/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newOrchestrator(t *testing.T, st store.Store) *Orchestrator {
	t.Helper()
	m := importance.NewForest(importance.Config{Trees: 20, Seed: 1})
	return New(st, rates.New(st), m, artifact.NewStore(t.TempDir()))
}

// seedAnalysisData builds a crime type with facts, populations and two
// financial indicators across the given years.
func seedAnalysisData(t *testing.T, st store.Store, years []int) int64 {
	t.Helper()
	ctx := context.Background()

	ct, _, err := st.GetOrCreateCrimeType(ctx, "По линии ОБЭП")
	require.NoError(t, err)
	f, _, err := st.GetOrCreateFeature(ctx, "Взятки")
	require.NoError(t, err)
	require.NoError(t, st.SetFeatureCrimeType(ctx, f.ID, ct.ID))

	d, _, err := st.GetOrCreateDistrict(ctx, "пункт Алга")
	require.NoError(t, err)
	whole, _, err := st.GetOrCreateDistrict(ctx, "Вся область")
	require.NoError(t, err)

	for i, year := range years {
		y, _, err := st.GetOrCreateYear(ctx, year)
		require.NoError(t, err)

		crimes := float64(10 * (i + 1))
		_, err = st.UpsertFact(ctx, model.Fact{FeatureID: f.ID, DistrictID: d.ID, YearID: y.ID, Value: &crimes})
		require.NoError(t, err)
		require.NoError(t, st.UpsertPopulation(ctx, model.Population{DistrictID: d.ID, YearID: y.ID, Value: 50000}))

		_, err = st.UpsertExpense(ctx, model.Expense{
			DistrictID: whole.ID, YearID: y.ID, Name: "Образование", Amount: float64(100 + 10*i), Selected: true,
		})
		require.NoError(t, err)
		_, err = st.UpsertExpense(ctx, model.Expense{
			DistrictID: whole.ID, YearID: y.ID, Name: "Медицина", Amount: 80, Selected: true,
		})
		require.NoError(t, err)
	}
	return ct.ID
}

func TestRun(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ctID := seedAnalysisData(t, st, []int{2018, 2019, 2020, 2021})

	summary, err := newOrchestrator(t, st).Run(ctx, ctID)
	require.NoError(t, err)

	assert.Equal(t, "По линии ОБЭП", summary.CrimeType)
	assert.Equal(t, 2, summary.IndicatorCount)
	assert.Equal(t, 4, summary.YearCount)
	require.Len(t, summary.Ranked, 2)
	assert.Equal(t, summary.Ranked[0].Name, summary.Top)

	var sum float64
	for _, r := range summary.Ranked {
		require.NotNil(t, r.Weight)
		assert.GreaterOrEqual(t, *r.Weight, 0.0)
		sum += *r.Weight
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	// Both artifacts were rendered.
	for _, p := range []string{summary.ImportancePlot, summary.TreePlot} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}

	// The run persisted one result with the ranked order and top.
	ar, err := st.LatestAnalysisResult(ctx, ctID)
	require.NoError(t, err)
	assert.Equal(t, summary.Top, ar.TopIndicator)
	require.Len(t, ar.Indicators, 2)
	assert.Equal(t, summary.Ranked[0].Name, ar.Indicators[0])
}

func TestRun_InsufficientYears(t *testing.T) {
	st := newTestStore(t)
	ctID := seedAnalysisData(t, st, []int{2020})

	_, err := newOrchestrator(t, st).Run(context.Background(), ctID)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInsufficientData))
}

func TestRun_NoIndicators(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ctID := seedAnalysisData(t, st, []int{2019, 2020, 2021})

	require.NoError(t, st.SetIndicatorSelected(ctx, "Образование", false))
	require.NoError(t, st.SetIndicatorSelected(ctx, "Медицина", false))

	_, err := newOrchestrator(t, st).Run(ctx, ctID)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNoIndicators))
}

func TestRun_UnknownCrimeType(t *testing.T) {
	st := newTestStore(t)

	_, err := newOrchestrator(t, st).Run(context.Background(), 9999)
	require.Error(t, err)
	assert.True(t, eris.Is(err, store.ErrNotFound))
}

func TestLatestForCrimeType_WeightsUnknown(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ctID := seedAnalysisData(t, st, []int{2018, 2019, 2020})

	o := newOrchestrator(t, st)
	ran, err := o.Run(ctx, ctID)
	require.NoError(t, err)

	latest, err := o.LatestForCrimeType(ctx, ctID)
	require.NoError(t, err)
	assert.Equal(t, ran.Top, latest.Top)
	require.Len(t, latest.Ranked, 2)
	// Order is authoritative, weights are not recomputed.
	assert.Equal(t, ran.Ranked[0].Name, latest.Ranked[0].Name)
	for _, r := range latest.Ranked {
		assert.Nil(t, r.Weight)
	}
}

func TestLatestForCrimeType_NotFound(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ct, _, err := st.GetOrCreateCrimeType(ctx, "Убийства")
	require.NoError(t, err)

	_, err = newOrchestrator(t, st).LatestForCrimeType(ctx, ct.ID)
	require.Error(t, err)
	assert.True(t, eris.Is(err, store.ErrNotFound))
}

func TestLatestResults(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ctID := seedAnalysisData(t, st, []int{2018, 2019, 2020})

	o := newOrchestrator(t, st)
	_, err := o.Run(ctx, ctID)
	require.NoError(t, err)
	_, err = o.Run(ctx, ctID)
	require.NoError(t, err)

	results, err := o.LatestResults(ctx, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "По линии ОБЭП", results[0].CrimeType)
}
