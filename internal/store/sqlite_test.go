package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oblstat/crimestat-cli/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// seedDistrictYear creates a district and year and returns their IDs.
func seedDistrictYear(t *testing.T, st *SQLiteStore, district string, year int) (int64, int64) {
	t.Helper()
	ctx := context.Background()
	d, _, err := st.GetOrCreateDistrict(ctx, district)
	require.NoError(t, err)
	y, _, err := st.GetOrCreateYear(ctx, year)
	require.NoError(t, err)
	return d.ID, y.ID
}

// --- get-or-create ---

func TestSQLite_GetOrCreateFeature(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	f, created, err := st.GetOrCreateFeature(ctx, "Кражи")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, f.ID)
	assert.Nil(t, f.CrimeTypeID)

	again, created, err := st.GetOrCreateFeature(ctx, "Кражи")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, f.ID, again.ID)
}

func TestSQLite_SetFeatureCrimeType(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	f, _, err := st.GetOrCreateFeature(ctx, "Взятки")
	require.NoError(t, err)
	ct, _, err := st.GetOrCreateCrimeType(ctx, "По линии ОБЭП")
	require.NoError(t, err)

	require.NoError(t, st.SetFeatureCrimeType(ctx, f.ID, ct.ID))

	features, err := st.ListFeatures(ctx)
	require.NoError(t, err)
	require.Len(t, features, 1)
	require.NotNil(t, features[0].CrimeTypeID)
	assert.Equal(t, ct.ID, *features[0].CrimeTypeID)

	missing, err := st.FeaturesWithoutCrimeType(ctx)
	require.NoError(t, err)
	assert.Empty(t, missing)

	err = st.SetFeatureCrimeType(ctx, 9999, ct.ID)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLite_GetOrCreateDistrictAndYear(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	d, created, err := st.GetOrCreateDistrict(ctx, "пункт Алга")
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = st.GetOrCreateDistrict(ctx, "пункт Алга")
	require.NoError(t, err)
	assert.False(t, created)

	y, created, err := st.GetOrCreateYear(ctx, 2020)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 2020, y.Year)

	got, err := st.DistrictByName(ctx, "пункт Алга")
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)

	_, err = st.DistrictByName(ctx, "нет такого")
	assert.True(t, eris.Is(err, ErrNotFound))

	_, err = st.YearByValue(ctx, 1999)
	assert.True(t, eris.Is(err, ErrNotFound))
}

// --- facts ---

func TestSQLite_CreateFact_Conflict(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	f, _, err := st.GetOrCreateFeature(ctx, "Кражи")
	require.NoError(t, err)
	dID, yID := seedDistrictYear(t, st, "пункт Алга", 2020)

	v1 := 120.0
	require.NoError(t, st.CreateFact(ctx, model.Fact{FeatureID: f.ID, DistrictID: dID, YearID: yID, Value: &v1}))

	v2 := 999.0
	err = st.CreateFact(ctx, model.Fact{FeatureID: f.ID, DistrictID: dID, YearID: yID, Value: &v2})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrConflict))

	// Existing row is unchanged after the rejected insert.
	facts, err := st.FactsByDistrictYear(ctx, dID, yID)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	require.NotNil(t, facts[0].Value)
	assert.Equal(t, 120.0, *facts[0].Value)
}

func TestSQLite_UpsertFact_Overwrites(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	f, _, err := st.GetOrCreateFeature(ctx, "Грабежи")
	require.NoError(t, err)
	dID, yID := seedDistrictYear(t, st, "пункт Бороды", 2021)

	v1 := 10.0
	created, err := st.UpsertFact(ctx, model.Fact{FeatureID: f.ID, DistrictID: dID, YearID: yID, Value: &v1})
	require.NoError(t, err)
	assert.True(t, created)

	v2 := 25.0
	created, err = st.UpsertFact(ctx, model.Fact{FeatureID: f.ID, DistrictID: dID, YearID: yID, Value: &v2})
	require.NoError(t, err)
	assert.False(t, created)

	facts, err := st.FactsByDistrictYear(ctx, dID, yID)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, 25.0, *facts[0].Value)
}

func TestSQLite_Fact_NullValueDistinctFromZero(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	f1, _, err := st.GetOrCreateFeature(ctx, "Кражи")
	require.NoError(t, err)
	f2, _, err := st.GetOrCreateFeature(ctx, "Грабежи")
	require.NoError(t, err)
	dID, yID := seedDistrictYear(t, st, "пункт Алга", 2020)

	zero := 0.0
	_, err = st.UpsertFact(ctx, model.Fact{FeatureID: f1.ID, DistrictID: dID, YearID: yID, Value: &zero})
	require.NoError(t, err)
	_, err = st.UpsertFact(ctx, model.Fact{FeatureID: f2.ID, DistrictID: dID, YearID: yID, Value: nil})
	require.NoError(t, err)

	facts, err := st.FactsByDistrictYear(ctx, dID, yID)
	require.NoError(t, err)
	require.Len(t, facts, 2)

	byFeature := map[int64]*float64{}
	for _, fact := range facts {
		byFeature[fact.FeatureID] = fact.Value
	}
	require.NotNil(t, byFeature[f1.ID])
	assert.Equal(t, 0.0, *byFeature[f1.ID])
	assert.Nil(t, byFeature[f2.ID])
}

func TestSQLite_FactsByCrimeType(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ct, _, err := st.GetOrCreateCrimeType(ctx, "По линии ОБЭП")
	require.NoError(t, err)
	inLine, _, err := st.GetOrCreateFeature(ctx, "Взятки")
	require.NoError(t, err)
	require.NoError(t, st.SetFeatureCrimeType(ctx, inLine.ID, ct.ID))
	outOfLine, _, err := st.GetOrCreateFeature(ctx, "Кражи")
	require.NoError(t, err)

	dID, yID := seedDistrictYear(t, st, "пункт Алга", 2020)
	v := 7.0
	_, err = st.UpsertFact(ctx, model.Fact{FeatureID: inLine.ID, DistrictID: dID, YearID: yID, Value: &v})
	require.NoError(t, err)
	_, err = st.UpsertFact(ctx, model.Fact{FeatureID: outOfLine.ID, DistrictID: dID, YearID: yID, Value: &v})
	require.NoError(t, err)

	facts, err := st.FactsByCrimeType(ctx, ct.ID, dID, yID)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, inLine.ID, facts[0].FeatureID)
}

// --- population ---

func TestSQLite_Population(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	dID, yID := seedDistrictYear(t, st, "пункт Алга", 2020)

	require.NoError(t, st.CreatePopulation(ctx, model.Population{DistrictID: dID, YearID: yID, Value: 50000}))

	err := st.CreatePopulation(ctx, model.Population{DistrictID: dID, YearID: yID, Value: 60000})
	assert.True(t, eris.Is(err, ErrConflict))

	p, err := st.PopulationFor(ctx, dID, yID)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), p.Value)

	require.NoError(t, st.UpsertPopulation(ctx, model.Population{DistrictID: dID, YearID: yID, Value: 61000}))
	p, err = st.PopulationFor(ctx, dID, yID)
	require.NoError(t, err)
	assert.Equal(t, int64(61000), p.Value)

	_, err = st.PopulationFor(ctx, dID, yID+1)
	assert.True(t, eris.Is(err, ErrNotFound))
}

// --- expenses ---

func TestSQLite_Expenses(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	dID, y2020 := seedDistrictYear(t, st, "Вся область", 2020)
	_, y2021 := seedDistrictYear(t, st, "Вся область", 2021)

	created, err := st.UpsertExpense(ctx, model.Expense{DistrictID: dID, YearID: y2020, Name: "Образование", Amount: 100, Selected: true})
	require.NoError(t, err)
	assert.True(t, created)
	_, err = st.UpsertExpense(ctx, model.Expense{DistrictID: dID, YearID: y2021, Name: "Образование", Amount: 120, Selected: true})
	require.NoError(t, err)
	_, err = st.UpsertExpense(ctx, model.Expense{DistrictID: dID, YearID: y2020, Name: "Медицина", Amount: 80, Selected: true})
	require.NoError(t, err)

	err = st.CreateExpense(ctx, model.Expense{DistrictID: dID, YearID: y2020, Name: "Медицина", Amount: 90, Selected: true})
	assert.True(t, eris.Is(err, ErrConflict))

	indicators, err := st.ListExpenseIndicators(ctx)
	require.NoError(t, err)
	require.Len(t, indicators, 2)
	assert.Equal(t, "Медицина", indicators[0].Name)
	assert.Equal(t, "Образование", indicators[1].Name)
	assert.True(t, indicators[0].Selected)

	require.NoError(t, st.SetIndicatorSelected(ctx, "Медицина", false))

	selected, err := st.SelectedExpenses(ctx)
	require.NoError(t, err)
	require.Len(t, selected, 2)
	for _, e := range selected {
		assert.Equal(t, "Образование", e.Name)
	}

	// Re-ingesting an amount must not reset the operator's deselection.
	_, err = st.UpsertExpense(ctx, model.Expense{DistrictID: dID, YearID: y2020, Name: "Медицина", Amount: 85, Selected: true})
	require.NoError(t, err)
	indicators, err = st.ListExpenseIndicators(ctx)
	require.NoError(t, err)
	assert.False(t, indicators[0].Selected)

	err = st.SetIndicatorSelected(ctx, "Несуществующий", true)
	assert.True(t, eris.Is(err, ErrNotFound))
}

// --- crime statistics ---

func TestSQLite_CrimeStatistics_UpsertOverwrites(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	dID, yID := seedDistrictYear(t, st, "пункт Алга", 2020)

	require.NoError(t, st.UpsertCrimeStatistics(ctx, model.CrimeStatistics{
		DistrictID: dID, YearID: yID, TotalCrimes: 120, Population: 50000, Coefficient: 240, Normalized: 5,
	}))
	require.NoError(t, st.UpsertCrimeStatistics(ctx, model.CrimeStatistics{
		DistrictID: dID, YearID: yID, TotalCrimes: 130, Population: 50000, Coefficient: 260, Normalized: 5,
	}))

	stats, err := st.CrimeStatisticsForYear(ctx, yID)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 130.0, stats[0].TotalCrimes)

	all, err := st.AllCrimeStatistics(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// --- analysis results ---

func TestSQLite_AnalysisResults_LatestByTimestamp(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ct, _, err := st.GetOrCreateCrimeType(ctx, "По линии ОБЭП")
	require.NoError(t, err)
	other, _, err := st.GetOrCreateCrimeType(ctx, "Убийства")
	require.NoError(t, err)

	first, err := st.CreateAnalysisResult(ctx, model.AnalysisResult{
		CrimeTypeID:    ct.ID,
		Indicators:     []string{"Образование", "Медицина"},
		ImportancePlot: "plots/a.html",
		TreePlot:       "plots/b.html",
		TopIndicator:   "Образование",
	})
	require.NoError(t, err)

	second, err := st.CreateAnalysisResult(ctx, model.AnalysisResult{
		CrimeTypeID:    ct.ID,
		Indicators:     []string{"Медицина", "Образование"},
		ImportancePlot: "plots/c.html",
		TreePlot:       "plots/d.html",
		TopIndicator:   "Медицина",
	})
	require.NoError(t, err)
	require.Greater(t, second.ID, first.ID)

	latest, err := st.LatestAnalysisResult(ctx, ct.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, []string{"Медицина", "Образование"}, latest.Indicators)
	assert.Equal(t, "Медицина", latest.TopIndicator)

	_, err = st.LatestAnalysisResult(ctx, other.ID)
	assert.True(t, eris.Is(err, ErrNotFound))

	all, err := st.LatestAnalysisResults(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
}

// --- transactions ---

func TestSQLite_WithTx_RollbackOnError(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	boom := eris.New("boom")
	err := st.WithTx(ctx, func(tx Store) error {
		if _, _, err := tx.GetOrCreateDistrict(ctx, "пункт Алга"); err != nil {
			return err
		}
		return boom
	})
	require.Error(t, err)
	assert.True(t, eris.Is(err, boom))

	districts, err := st.ListDistricts(ctx)
	require.NoError(t, err)
	assert.Empty(t, districts)
}

func TestSQLite_WithTx_Commits(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.WithTx(ctx, func(tx Store) error {
		_, _, err := tx.GetOrCreateDistrict(ctx, "пункт Алга")
		return err
	})
	require.NoError(t, err)

	districts, err := st.ListDistricts(ctx)
	require.NoError(t, err)
	require.Len(t, districts, 1)
	assert.Equal(t, "пункт Алга", districts[0].Name)
}
