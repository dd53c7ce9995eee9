package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/oblstat/crimestat-cli/internal/model"
)

// ErrNotFound reports a lookup for a District, Year, CrimeType or other
// identity that does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrConflict reports an attempted duplicate natural-key insert. The
// existing row is left unchanged.
var ErrConflict = eris.New("store: integrity conflict")

// Indicator is a financial indicator name with its analysis-selection flag.
type Indicator struct {
	Name     string `json:"name"`
	Selected bool   `json:"selected"`
}

// Store is the persistence boundary for the entity graph. Queries are a
// closed set of named operations per entity; there is no generic
// predicate-injection API.
type Store interface {
	// Features
	GetOrCreateFeature(ctx context.Context, name string) (*model.Feature, bool, error)
	SetFeatureCrimeType(ctx context.Context, featureID, crimeTypeID int64) error
	ListFeatures(ctx context.Context) ([]model.Feature, error)
	FeaturesWithoutCrimeType(ctx context.Context) ([]model.Feature, error)

	// Districts
	GetOrCreateDistrict(ctx context.Context, name string) (*model.District, bool, error)
	DistrictByName(ctx context.Context, name string) (*model.District, error)
	ListDistricts(ctx context.Context) ([]model.District, error)

	// Years
	GetOrCreateYear(ctx context.Context, year int) (*model.Year, bool, error)
	YearByValue(ctx context.Context, year int) (*model.Year, error)
	ListYears(ctx context.Context) ([]model.Year, error)

	// Crime types
	GetOrCreateCrimeType(ctx context.Context, name string) (*model.CrimeType, bool, error)
	CrimeTypeByID(ctx context.Context, id int64) (*model.CrimeType, error)
	ListCrimeTypes(ctx context.Context) ([]model.CrimeType, error)

	// Documents
	CreateDocument(ctx context.Context, filename, path string, format model.WorkbookFormat) (*model.Document, error)

	// Facts. CreateFact fails with ErrConflict on a duplicate natural key;
	// UpsertFact overwrites the value and document link in place.
	CreateFact(ctx context.Context, f model.Fact) error
	UpsertFact(ctx context.Context, f model.Fact) (created bool, err error)
	FactsByDistrictYear(ctx context.Context, districtID, yearID int64) ([]model.Fact, error)
	FactsByCrimeType(ctx context.Context, crimeTypeID, districtID, yearID int64) ([]model.Fact, error)

	// Population
	CreatePopulation(ctx context.Context, p model.Population) error
	UpsertPopulation(ctx context.Context, p model.Population) error
	PopulationFor(ctx context.Context, districtID, yearID int64) (*model.Population, error)

	// Financial expenses
	CreateExpense(ctx context.Context, e model.Expense) error
	UpsertExpense(ctx context.Context, e model.Expense) (created bool, err error)
	SelectedExpenses(ctx context.Context) ([]model.Expense, error)
	ListExpenseIndicators(ctx context.Context) ([]Indicator, error)
	SetIndicatorSelected(ctx context.Context, name string, selected bool) error

	// Derived crime statistics
	UpsertCrimeStatistics(ctx context.Context, cs model.CrimeStatistics) error
	CrimeStatisticsForYear(ctx context.Context, yearID int64) ([]model.CrimeStatistics, error)
	AllCrimeStatistics(ctx context.Context) ([]model.CrimeStatistics, error)

	// Analysis results (append-only; latest by creation timestamp)
	CreateAnalysisResult(ctx context.Context, ar model.AnalysisResult) (*model.AnalysisResult, error)
	LatestAnalysisResult(ctx context.Context, crimeTypeID int64) (*model.AnalysisResult, error)
	LatestAnalysisResults(ctx context.Context, limit int) ([]model.AnalysisResult, error)

	// WithTx runs fn inside a single transaction. fn receives a Store bound
	// to the transaction; an error from fn rolls everything back.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
