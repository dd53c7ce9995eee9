package rates

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oblstat/crimestat-cli/internal/model"
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

// seedDistrict creates a district with one fact value and an optional
// population for the year.
func seedDistrict(t *testing.T, st store.Store, name string, yearID, featureID int64, crimes float64, population int64) int64 {
	t.Helper()
	ctx := context.Background()
	d, _, err := st.GetOrCreateDistrict(ctx, name)
	require.NoError(t, err)
	_, err = st.UpsertFact(ctx, model.Fact{FeatureID: featureID, DistrictID: d.ID, YearID: yearID, Value: &crimes})
	require.NoError(t, err)
	if population > 0 {
		require.NoError(t, st.UpsertPopulation(ctx, model.Population{DistrictID: d.ID, YearID: yearID, Value: population}))
	}
	return d.ID
}

func TestComputeForYear_EndToEnd(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	y, _, err := st.GetOrCreateYear(ctx, 2020)
	require.NoError(t, err)
	f, _, err := st.GetOrCreateFeature(ctx, "Кражи")
	require.NoError(t, err)

	// Sums {120, 80, 200} over populations {50000, 40000, 100000} give
	// coefficients {240, 200, 200}: the maximum maps to 5.00 and the two
	// tied minimums both map to 2.00.
	seedDistrict(t, st, "пункт Алга", y.ID, f.ID, 120, 50000)
	seedDistrict(t, st, "пункт Бороды", y.ID, f.ID, 80, 40000)
	seedDistrict(t, st, "пункт Весна", y.ID, f.ID, 200, 100000)

	result, err := New(st).ComputeForYear(ctx, 2020)
	require.NoError(t, err)
	require.Len(t, result, 3)
	assert.Equal(t, 5.00, result["пункт Алга"])
	assert.Equal(t, 2.00, result["пункт Бороды"])
	assert.Equal(t, 2.00, result["пункт Весна"])

	stats, err := st.CrimeStatisticsForYear(ctx, y.ID)
	require.NoError(t, err)
	require.Len(t, stats, 3)
	for _, s := range stats {
		assert.GreaterOrEqual(t, s.Normalized, 2.0)
		assert.LessOrEqual(t, s.Normalized, 5.0)
		assert.Positive(t, s.Coefficient)
	}
}

func TestComputeForYear_ExcludesWithoutPopulation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	y, _, err := st.GetOrCreateYear(ctx, 2020)
	require.NoError(t, err)
	f, _, err := st.GetOrCreateFeature(ctx, "Кражи")
	require.NoError(t, err)

	seedDistrict(t, st, "пункт Алга", y.ID, f.ID, 120, 50000)
	seedDistrict(t, st, "пункт Бороды", y.ID, f.ID, 80, 0) // no population row

	// A zero population row is excluded the same as a missing one.
	d, _, err := st.GetOrCreateDistrict(ctx, "пункт Весна")
	require.NoError(t, err)
	require.NoError(t, st.UpsertPopulation(ctx, model.Population{DistrictID: d.ID, YearID: y.ID, Value: 0}))

	result, err := New(st).ComputeForYear(ctx, 2020)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Contains(t, result, "пункт Алга")
}

func TestComputeForYear_DegenerateMidpoint(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	y, _, err := st.GetOrCreateYear(ctx, 2020)
	require.NoError(t, err)
	f, _, err := st.GetOrCreateFeature(ctx, "Кражи")
	require.NoError(t, err)

	// Identical coefficients: 100/50000 == 80/40000.
	seedDistrict(t, st, "пункт Алга", y.ID, f.ID, 100, 50000)
	seedDistrict(t, st, "пункт Бороды", y.ID, f.ID, 80, 40000)

	result, err := New(st).ComputeForYear(ctx, 2020)
	require.NoError(t, err)
	require.Len(t, result, 2)
	for _, v := range result {
		assert.Equal(t, 3.5, v)
	}
}

func TestComputeForYear_UnknownYear(t *testing.T) {
	st := newTestStore(t)

	result, err := New(st).ComputeForYear(context.Background(), 1995)
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestComputeForYear_Recompute(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	y, _, err := st.GetOrCreateYear(ctx, 2020)
	require.NoError(t, err)
	f, _, err := st.GetOrCreateFeature(ctx, "Кражи")
	require.NoError(t, err)
	dID := seedDistrict(t, st, "пункт Алга", y.ID, f.ID, 100, 50000)

	engine := New(st)
	_, err = engine.ComputeForYear(ctx, 2020)
	require.NoError(t, err)

	// Changed facts overwrite the derived row instead of appending.
	v := 300.0
	_, err = st.UpsertFact(ctx, model.Fact{FeatureID: f.ID, DistrictID: dID, YearID: y.ID, Value: &v})
	require.NoError(t, err)
	_, err = engine.ComputeForYear(ctx, 2020)
	require.NoError(t, err)

	stats, err := st.CrimeStatisticsForYear(ctx, y.ID)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 300.0, stats[0].TotalCrimes)
}

func TestComputeForAllYears(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	f, _, err := st.GetOrCreateFeature(ctx, "Кражи")
	require.NoError(t, err)
	for _, year := range []int{2019, 2020} {
		y, _, err := st.GetOrCreateYear(ctx, year)
		require.NoError(t, err)
		seedDistrict(t, st, "пункт Алга", y.ID, f.ID, 100, 50000)
	}

	results, err := New(st).ComputeForAllYears(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Contains(t, results, 2019)
	assert.Contains(t, results, 2020)
}

func TestCategoryRates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	y, _, err := st.GetOrCreateYear(ctx, 2020)
	require.NoError(t, err)
	ct, _, err := st.GetOrCreateCrimeType(ctx, "По линии ОБЭП")
	require.NoError(t, err)

	inLine, _, err := st.GetOrCreateFeature(ctx, "Взятки")
	require.NoError(t, err)
	require.NoError(t, st.SetFeatureCrimeType(ctx, inLine.ID, ct.ID))
	outOfLine, _, err := st.GetOrCreateFeature(ctx, "Кражи")
	require.NoError(t, err)

	d, _, err := st.GetOrCreateDistrict(ctx, "пункт Алга")
	require.NoError(t, err)
	v1, v2 := 50.0, 500.0
	_, err = st.UpsertFact(ctx, model.Fact{FeatureID: inLine.ID, DistrictID: d.ID, YearID: y.ID, Value: &v1})
	require.NoError(t, err)
	_, err = st.UpsertFact(ctx, model.Fact{FeatureID: outOfLine.ID, DistrictID: d.ID, YearID: y.ID, Value: &v2})
	require.NoError(t, err)
	require.NoError(t, st.UpsertPopulation(ctx, model.Population{DistrictID: d.ID, YearID: y.ID, Value: 100000}))

	table, err := New(st).CategoryRates(ctx, ct.ID)
	require.NoError(t, err)
	require.Contains(t, table, "пункт Алга")

	// Only the in-category feature counts: 50/100000*100000 = 50.
	assert.Equal(t, 50.0, table["пункт Алга"][2020])

	// Nothing was persisted to the all-categories derived table.
	stats, err := st.AllCrimeStatistics(ctx)
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want []float64
	}{
		{"empty", nil, nil},
		{"single", []float64{42}, []float64{3.5}},
		{"identical", []float64{7, 7, 7}, []float64{3.5, 3.5, 3.5}},
		{"spread", []float64{240, 200, 200}, []float64{5, 2, 2}},
		{"midrange", []float64{0, 50, 100}, []float64{2, 3.5, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}
