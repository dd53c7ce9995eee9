package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/oblstat/crimestat-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store needs. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// pgQuerier is satisfied by Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool Pool
	q    pgQuerier
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	return &PostgresStore{pool: pool, q: pool}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS crime_types (
	id   BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS features (
	id            BIGSERIAL PRIMARY KEY,
	name          TEXT NOT NULL UNIQUE,
	crime_type_id BIGINT REFERENCES crime_types(id)
);

CREATE TABLE IF NOT EXISTS districts (
	id   BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS years (
	id   BIGSERIAL PRIMARY KEY,
	year INTEGER NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS documents (
	id         BIGSERIAL PRIMARY KEY,
	filename   TEXT NOT NULL,
	file_path  TEXT NOT NULL,
	format     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS facts (
	id          BIGSERIAL PRIMARY KEY,
	feature_id  BIGINT NOT NULL REFERENCES features(id),
	district_id BIGINT NOT NULL REFERENCES districts(id),
	year_id     BIGINT NOT NULL REFERENCES years(id),
	document_id BIGINT REFERENCES documents(id),
	value       DOUBLE PRECISION,
	UNIQUE(feature_id, district_id, year_id)
);

CREATE TABLE IF NOT EXISTS population (
	id          BIGSERIAL PRIMARY KEY,
	district_id BIGINT NOT NULL REFERENCES districts(id),
	year_id     BIGINT NOT NULL REFERENCES years(id),
	value       BIGINT NOT NULL,
	UNIQUE(district_id, year_id)
);

CREATE TABLE IF NOT EXISTS financial_expenses (
	id          BIGSERIAL PRIMARY KEY,
	district_id BIGINT NOT NULL REFERENCES districts(id),
	year_id     BIGINT NOT NULL REFERENCES years(id),
	name        TEXT NOT NULL,
	amount      DOUBLE PRECISION NOT NULL,
	selected    BOOLEAN NOT NULL DEFAULT TRUE,
	UNIQUE(district_id, year_id, name)
);

CREATE TABLE IF NOT EXISTS crime_statistics (
	id           BIGSERIAL PRIMARY KEY,
	district_id  BIGINT NOT NULL REFERENCES districts(id),
	year_id      BIGINT NOT NULL REFERENCES years(id),
	total_crimes DOUBLE PRECISION NOT NULL,
	population   BIGINT NOT NULL,
	coefficient  DOUBLE PRECISION NOT NULL,
	normalized   DOUBLE PRECISION NOT NULL,
	UNIQUE(district_id, year_id)
);

CREATE TABLE IF NOT EXISTS analysis_results (
	id              BIGSERIAL PRIMARY KEY,
	crime_type_id   BIGINT NOT NULL REFERENCES crime_types(id),
	indicators      TEXT NOT NULL,
	importance_plot TEXT NOT NULL,
	tree_plot       TEXT NOT NULL,
	top_indicator   TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_facts_district_year ON facts(district_id, year_id);
CREATE INDEX IF NOT EXISTS idx_facts_feature ON facts(feature_id);
CREATE INDEX IF NOT EXISTS idx_expenses_name ON financial_expenses(name);
CREATE INDEX IF NOT EXISTS idx_analysis_results_crime_type ON analysis_results(crime_type_id, created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.q.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if _, ok := s.q.(pgx.Tx); ok {
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&PostgresStore{pool: s.pool, q: tx}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit tx")
}

// --- Features ---

func (s *PostgresStore) GetOrCreateFeature(ctx context.Context, name string) (*model.Feature, bool, error) {
	var f model.Feature
	err := s.q.QueryRow(ctx,
		`SELECT id, name, crime_type_id FROM features WHERE name = $1`, name,
	).Scan(&f.ID, &f.Name, &f.CrimeTypeID)
	if err == nil {
		return &f, false, nil
	}
	if !eris.Is(err, pgx.ErrNoRows) {
		return nil, false, eris.Wrap(err, "postgres: get feature")
	}

	// ON CONFLICT DO NOTHING plus a re-read keeps a racing duplicate from
	// surfacing as an error here.
	err = s.q.QueryRow(ctx,
		`INSERT INTO features (name) VALUES ($1)
		 ON CONFLICT (name) DO NOTHING RETURNING id`, name,
	).Scan(&f.ID)
	if eris.Is(err, pgx.ErrNoRows) {
		err = s.q.QueryRow(ctx,
			`SELECT id, name, crime_type_id FROM features WHERE name = $1`, name,
		).Scan(&f.ID, &f.Name, &f.CrimeTypeID)
		if err != nil {
			return nil, false, eris.Wrap(err, "postgres: get feature after conflict")
		}
		return &f, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: insert feature %q", name)
	}
	f.Name = name
	return &f, true, nil
}

func (s *PostgresStore) SetFeatureCrimeType(ctx context.Context, featureID, crimeTypeID int64) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE features SET crime_type_id = $1 WHERE id = $2`, crimeTypeID, featureID)
	if err != nil {
		return eris.Wrapf(err, "postgres: set feature %d crime type", featureID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "feature %d", featureID)
	}
	return nil
}

func (s *PostgresStore) ListFeatures(ctx context.Context) ([]model.Feature, error) {
	return s.scanFeatures(ctx, `SELECT id, name, crime_type_id FROM features ORDER BY id`)
}

func (s *PostgresStore) FeaturesWithoutCrimeType(ctx context.Context) ([]model.Feature, error) {
	return s.scanFeatures(ctx,
		`SELECT id, name, crime_type_id FROM features WHERE crime_type_id IS NULL ORDER BY id`)
}

func (s *PostgresStore) scanFeatures(ctx context.Context, query string) ([]model.Feature, error) {
	rows, err := s.q.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list features")
	}
	defer rows.Close()

	var out []model.Feature
	for rows.Next() {
		var f model.Feature
		if err := rows.Scan(&f.ID, &f.Name, &f.CrimeTypeID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan feature")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate features")
}

// --- Districts ---

func (s *PostgresStore) GetOrCreateDistrict(ctx context.Context, name string) (*model.District, bool, error) {
	d, err := s.DistrictByName(ctx, name)
	if err == nil {
		return d, false, nil
	}
	if !eris.Is(err, ErrNotFound) {
		return nil, false, err
	}

	var id int64
	err = s.q.QueryRow(ctx,
		`INSERT INTO districts (name) VALUES ($1)
		 ON CONFLICT (name) DO NOTHING RETURNING id`, name,
	).Scan(&id)
	if eris.Is(err, pgx.ErrNoRows) {
		d, err := s.DistrictByName(ctx, name)
		return d, false, err
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: insert district %q", name)
	}
	return &model.District{ID: id, Name: name}, true, nil
}

func (s *PostgresStore) DistrictByName(ctx context.Context, name string) (*model.District, error) {
	var d model.District
	err := s.q.QueryRow(ctx,
		`SELECT id, name FROM districts WHERE name = $1`, name,
	).Scan(&d.ID, &d.Name)
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "district %q", name)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get district")
	}
	return &d, nil
}

func (s *PostgresStore) ListDistricts(ctx context.Context) ([]model.District, error) {
	rows, err := s.q.Query(ctx, `SELECT id, name FROM districts ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list districts")
	}
	defer rows.Close()

	var out []model.District
	for rows.Next() {
		var d model.District
		if err := rows.Scan(&d.ID, &d.Name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan district")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate districts")
}

// --- Years ---

func (s *PostgresStore) GetOrCreateYear(ctx context.Context, year int) (*model.Year, bool, error) {
	y, err := s.YearByValue(ctx, year)
	if err == nil {
		return y, false, nil
	}
	if !eris.Is(err, ErrNotFound) {
		return nil, false, err
	}

	var id int64
	err = s.q.QueryRow(ctx,
		`INSERT INTO years (year) VALUES ($1)
		 ON CONFLICT (year) DO NOTHING RETURNING id`, year,
	).Scan(&id)
	if eris.Is(err, pgx.ErrNoRows) {
		y, err := s.YearByValue(ctx, year)
		return y, false, err
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: insert year %d", year)
	}
	return &model.Year{ID: id, Year: year}, true, nil
}

func (s *PostgresStore) YearByValue(ctx context.Context, year int) (*model.Year, error) {
	var y model.Year
	err := s.q.QueryRow(ctx,
		`SELECT id, year FROM years WHERE year = $1`, year,
	).Scan(&y.ID, &y.Year)
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "year %d", year)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get year")
	}
	return &y, nil
}

func (s *PostgresStore) ListYears(ctx context.Context) ([]model.Year, error) {
	rows, err := s.q.Query(ctx, `SELECT id, year FROM years ORDER BY year`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list years")
	}
	defer rows.Close()

	var out []model.Year
	for rows.Next() {
		var y model.Year
		if err := rows.Scan(&y.ID, &y.Year); err != nil {
			return nil, eris.Wrap(err, "postgres: scan year")
		}
		out = append(out, y)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate years")
}

// --- Crime types ---

func (s *PostgresStore) GetOrCreateCrimeType(ctx context.Context, name string) (*model.CrimeType, bool, error) {
	var ct model.CrimeType
	err := s.q.QueryRow(ctx,
		`SELECT id, name FROM crime_types WHERE name = $1`, name,
	).Scan(&ct.ID, &ct.Name)
	if err == nil {
		return &ct, false, nil
	}
	if !eris.Is(err, pgx.ErrNoRows) {
		return nil, false, eris.Wrap(err, "postgres: get crime type")
	}

	err = s.q.QueryRow(ctx,
		`INSERT INTO crime_types (name) VALUES ($1)
		 ON CONFLICT (name) DO NOTHING RETURNING id`, name,
	).Scan(&ct.ID)
	if eris.Is(err, pgx.ErrNoRows) {
		err = s.q.QueryRow(ctx,
			`SELECT id, name FROM crime_types WHERE name = $1`, name,
		).Scan(&ct.ID, &ct.Name)
		if err != nil {
			return nil, false, eris.Wrap(err, "postgres: get crime type after conflict")
		}
		return &ct, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: insert crime type %q", name)
	}
	ct.Name = name
	return &ct, true, nil
}

func (s *PostgresStore) CrimeTypeByID(ctx context.Context, id int64) (*model.CrimeType, error) {
	var ct model.CrimeType
	err := s.q.QueryRow(ctx,
		`SELECT id, name FROM crime_types WHERE id = $1`, id,
	).Scan(&ct.ID, &ct.Name)
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "crime type %d", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get crime type")
	}
	return &ct, nil
}

func (s *PostgresStore) ListCrimeTypes(ctx context.Context) ([]model.CrimeType, error) {
	rows, err := s.q.Query(ctx, `SELECT id, name FROM crime_types ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list crime types")
	}
	defer rows.Close()

	var out []model.CrimeType
	for rows.Next() {
		var ct model.CrimeType
		if err := rows.Scan(&ct.ID, &ct.Name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan crime type")
		}
		out = append(out, ct)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate crime types")
}

// --- Documents ---

func (s *PostgresStore) CreateDocument(ctx context.Context, filename, path string, format model.WorkbookFormat) (*model.Document, error) {
	doc := model.Document{Filename: filename, FilePath: path, Format: format}
	err := s.q.QueryRow(ctx,
		`INSERT INTO documents (filename, file_path, format) VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		filename, path, string(format),
	).Scan(&doc.ID, &doc.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert document %q", filename)
	}
	return &doc, nil
}

// --- Facts ---

func (s *PostgresStore) CreateFact(ctx context.Context, f model.Fact) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO facts (feature_id, district_id, year_id, document_id, value)
		 VALUES ($1, $2, $3, $4, $5)`,
		f.FeatureID, f.DistrictID, f.YearID, f.DocumentID, f.Value,
	)
	if isPgUnique(err) {
		return eris.Wrapf(ErrConflict, "fact (%d, %d, %d)", f.FeatureID, f.DistrictID, f.YearID)
	}
	return eris.Wrap(err, "postgres: insert fact")
}

func (s *PostgresStore) UpsertFact(ctx context.Context, f model.Fact) (bool, error) {
	// xmax = 0 distinguishes a fresh insert from a conflict-update.
	var created bool
	err := s.q.QueryRow(ctx,
		`INSERT INTO facts (feature_id, district_id, year_id, document_id, value)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (feature_id, district_id, year_id)
		 DO UPDATE SET value = EXCLUDED.value, document_id = EXCLUDED.document_id
		 RETURNING (xmax = 0)`,
		f.FeatureID, f.DistrictID, f.YearID, f.DocumentID, f.Value,
	).Scan(&created)
	if err != nil {
		return false, eris.Wrap(err, "postgres: upsert fact")
	}
	return created, nil
}

func (s *PostgresStore) FactsByDistrictYear(ctx context.Context, districtID, yearID int64) ([]model.Fact, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, feature_id, district_id, year_id, document_id, value
		 FROM facts WHERE district_id = $1 AND year_id = $2`,
		districtID, yearID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: facts by district/year")
	}
	return scanPgFacts(rows)
}

func (s *PostgresStore) FactsByCrimeType(ctx context.Context, crimeTypeID, districtID, yearID int64) ([]model.Fact, error) {
	rows, err := s.q.Query(ctx,
		`SELECT f.id, f.feature_id, f.district_id, f.year_id, f.document_id, f.value
		 FROM facts f
		 JOIN features ft ON ft.id = f.feature_id
		 WHERE ft.crime_type_id = $1 AND f.district_id = $2 AND f.year_id = $3`,
		crimeTypeID, districtID, yearID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: facts by crime type")
	}
	return scanPgFacts(rows)
}

func scanPgFacts(rows pgx.Rows) ([]model.Fact, error) {
	defer rows.Close()

	var out []model.Fact
	for rows.Next() {
		var f model.Fact
		if err := rows.Scan(&f.ID, &f.FeatureID, &f.DistrictID, &f.YearID, &f.DocumentID, &f.Value); err != nil {
			return nil, eris.Wrap(err, "postgres: scan fact")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate facts")
}

// --- Population ---

func (s *PostgresStore) CreatePopulation(ctx context.Context, p model.Population) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO population (district_id, year_id, value) VALUES ($1, $2, $3)`,
		p.DistrictID, p.YearID, p.Value,
	)
	if isPgUnique(err) {
		return eris.Wrapf(ErrConflict, "population (%d, %d)", p.DistrictID, p.YearID)
	}
	return eris.Wrap(err, "postgres: insert population")
}

func (s *PostgresStore) UpsertPopulation(ctx context.Context, p model.Population) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO population (district_id, year_id, value) VALUES ($1, $2, $3)
		 ON CONFLICT (district_id, year_id) DO UPDATE SET value = EXCLUDED.value`,
		p.DistrictID, p.YearID, p.Value,
	)
	return eris.Wrap(err, "postgres: upsert population")
}

func (s *PostgresStore) PopulationFor(ctx context.Context, districtID, yearID int64) (*model.Population, error) {
	var p model.Population
	err := s.q.QueryRow(ctx,
		`SELECT id, district_id, year_id, value FROM population WHERE district_id = $1 AND year_id = $2`,
		districtID, yearID,
	).Scan(&p.ID, &p.DistrictID, &p.YearID, &p.Value)
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "population (%d, %d)", districtID, yearID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get population")
	}
	return &p, nil
}

// --- Financial expenses ---

func (s *PostgresStore) CreateExpense(ctx context.Context, e model.Expense) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO financial_expenses (district_id, year_id, name, amount, selected)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.DistrictID, e.YearID, e.Name, e.Amount, e.Selected,
	)
	if isPgUnique(err) {
		return eris.Wrapf(ErrConflict, "expense (%d, %d, %q)", e.DistrictID, e.YearID, e.Name)
	}
	return eris.Wrap(err, "postgres: insert expense")
}

func (s *PostgresStore) UpsertExpense(ctx context.Context, e model.Expense) (bool, error) {
	var created bool
	err := s.q.QueryRow(ctx,
		`INSERT INTO financial_expenses (district_id, year_id, name, amount, selected)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (district_id, year_id, name) DO UPDATE SET amount = EXCLUDED.amount
		 RETURNING (xmax = 0)`,
		e.DistrictID, e.YearID, e.Name, e.Amount, e.Selected,
	).Scan(&created)
	if err != nil {
		return false, eris.Wrap(err, "postgres: upsert expense")
	}
	return created, nil
}

func (s *PostgresStore) SelectedExpenses(ctx context.Context) ([]model.Expense, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, district_id, year_id, name, amount, selected
		 FROM financial_expenses WHERE selected`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: selected expenses")
	}
	defer rows.Close()

	var out []model.Expense
	for rows.Next() {
		var e model.Expense
		if err := rows.Scan(&e.ID, &e.DistrictID, &e.YearID, &e.Name, &e.Amount, &e.Selected); err != nil {
			return nil, eris.Wrap(err, "postgres: scan expense")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate expenses")
}

func (s *PostgresStore) ListExpenseIndicators(ctx context.Context) ([]Indicator, error) {
	rows, err := s.q.Query(ctx,
		`SELECT name, bool_and(selected) FROM financial_expenses GROUP BY name ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list indicators")
	}
	defer rows.Close()

	var out []Indicator
	for rows.Next() {
		var in Indicator
		if err := rows.Scan(&in.Name, &in.Selected); err != nil {
			return nil, eris.Wrap(err, "postgres: scan indicator")
		}
		out = append(out, in)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate indicators")
}

func (s *PostgresStore) SetIndicatorSelected(ctx context.Context, name string, selected bool) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE financial_expenses SET selected = $1 WHERE name = $2`, selected, name)
	if err != nil {
		return eris.Wrapf(err, "postgres: set indicator %q selected", name)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "indicator %q", name)
	}
	return nil
}

// --- Crime statistics ---

func (s *PostgresStore) UpsertCrimeStatistics(ctx context.Context, cs model.CrimeStatistics) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO crime_statistics (district_id, year_id, total_crimes, population, coefficient, normalized)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (district_id, year_id) DO UPDATE SET
			total_crimes = EXCLUDED.total_crimes,
			population   = EXCLUDED.population,
			coefficient  = EXCLUDED.coefficient,
			normalized   = EXCLUDED.normalized`,
		cs.DistrictID, cs.YearID, cs.TotalCrimes, cs.Population, cs.Coefficient, cs.Normalized,
	)
	return eris.Wrap(err, "postgres: upsert crime statistics")
}

func (s *PostgresStore) CrimeStatisticsForYear(ctx context.Context, yearID int64) ([]model.CrimeStatistics, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, district_id, year_id, total_crimes, population, coefficient, normalized
		 FROM crime_statistics WHERE year_id = $1`, yearID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: crime statistics for year")
	}
	return scanPgCrimeStatistics(rows)
}

func (s *PostgresStore) AllCrimeStatistics(ctx context.Context) ([]model.CrimeStatistics, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, district_id, year_id, total_crimes, population, coefficient, normalized
		 FROM crime_statistics`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: all crime statistics")
	}
	return scanPgCrimeStatistics(rows)
}

func scanPgCrimeStatistics(rows pgx.Rows) ([]model.CrimeStatistics, error) {
	defer rows.Close()

	var out []model.CrimeStatistics
	for rows.Next() {
		var cs model.CrimeStatistics
		if err := rows.Scan(&cs.ID, &cs.DistrictID, &cs.YearID, &cs.TotalCrimes, &cs.Population, &cs.Coefficient, &cs.Normalized); err != nil {
			return nil, eris.Wrap(err, "postgres: scan crime statistics")
		}
		out = append(out, cs)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate crime statistics")
}

// --- Analysis results ---

func (s *PostgresStore) CreateAnalysisResult(ctx context.Context, ar model.AnalysisResult) (*model.AnalysisResult, error) {
	err := s.q.QueryRow(ctx,
		`INSERT INTO analysis_results (crime_type_id, indicators, importance_plot, tree_plot, top_indicator)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		ar.CrimeTypeID, joinIndicators(ar.Indicators), ar.ImportancePlot, ar.TreePlot, ar.TopIndicator,
	).Scan(&ar.ID, &ar.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert analysis result")
	}
	return &ar, nil
}

func (s *PostgresStore) LatestAnalysisResult(ctx context.Context, crimeTypeID int64) (*model.AnalysisResult, error) {
	var ar model.AnalysisResult
	var indicators string
	err := s.q.QueryRow(ctx,
		`SELECT id, crime_type_id, indicators, importance_plot, tree_plot, top_indicator, created_at
		 FROM analysis_results WHERE crime_type_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT 1`, crimeTypeID,
	).Scan(&ar.ID, &ar.CrimeTypeID, &indicators, &ar.ImportancePlot, &ar.TreePlot, &ar.TopIndicator, &ar.CreatedAt)
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "analysis result for crime type %d", crimeTypeID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest analysis result")
	}
	ar.Indicators = splitIndicators(indicators)
	return &ar, nil
}

func (s *PostgresStore) LatestAnalysisResults(ctx context.Context, limit int) ([]model.AnalysisResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.q.Query(ctx,
		`SELECT id, crime_type_id, indicators, importance_plot, tree_plot, top_indicator, created_at
		 FROM analysis_results ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest analysis results")
	}
	defer rows.Close()

	var out []model.AnalysisResult
	for rows.Next() {
		var ar model.AnalysisResult
		var indicators string
		if err := rows.Scan(&ar.ID, &ar.CrimeTypeID, &indicators, &ar.ImportancePlot, &ar.TreePlot, &ar.TopIndicator, &ar.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan analysis result")
		}
		ar.Indicators = splitIndicators(indicators)
		out = append(out, ar)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate analysis results")
}

func isPgUnique(err error) bool {
	var pgErr *pgconn.PgError
	if eris.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
