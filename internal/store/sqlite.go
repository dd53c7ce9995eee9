package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/oblstat/crimestat-cli/internal/model"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
	q  queryer
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, q: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS crime_types (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS features (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	name          TEXT NOT NULL UNIQUE,
	crime_type_id INTEGER REFERENCES crime_types(id)
);

CREATE TABLE IF NOT EXISTS districts (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS years (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	year INTEGER NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS documents (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	filename   TEXT NOT NULL,
	file_path  TEXT NOT NULL,
	format     TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS facts (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	feature_id  INTEGER NOT NULL REFERENCES features(id),
	district_id INTEGER NOT NULL REFERENCES districts(id),
	year_id     INTEGER NOT NULL REFERENCES years(id),
	document_id INTEGER REFERENCES documents(id),
	value       REAL,
	UNIQUE(feature_id, district_id, year_id)
);

CREATE TABLE IF NOT EXISTS population (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	district_id INTEGER NOT NULL REFERENCES districts(id),
	year_id     INTEGER NOT NULL REFERENCES years(id),
	value       INTEGER NOT NULL,
	UNIQUE(district_id, year_id)
);

CREATE TABLE IF NOT EXISTS financial_expenses (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	district_id INTEGER NOT NULL REFERENCES districts(id),
	year_id     INTEGER NOT NULL REFERENCES years(id),
	name        TEXT NOT NULL,
	amount      REAL NOT NULL,
	selected    INTEGER NOT NULL DEFAULT 1,
	UNIQUE(district_id, year_id, name)
);

CREATE TABLE IF NOT EXISTS crime_statistics (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	district_id  INTEGER NOT NULL REFERENCES districts(id),
	year_id      INTEGER NOT NULL REFERENCES years(id),
	total_crimes REAL NOT NULL,
	population   INTEGER NOT NULL,
	coefficient  REAL NOT NULL,
	normalized   REAL NOT NULL,
	UNIQUE(district_id, year_id)
);

CREATE TABLE IF NOT EXISTS analysis_results (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	crime_type_id   INTEGER NOT NULL REFERENCES crime_types(id),
	indicators      TEXT NOT NULL,
	importance_plot TEXT NOT NULL,
	tree_plot       TEXT NOT NULL,
	top_indicator   TEXT NOT NULL,
	created_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_facts_district_year ON facts(district_id, year_id);
CREATE INDEX IF NOT EXISTS idx_facts_feature ON facts(feature_id);
CREATE INDEX IF NOT EXISTS idx_expenses_name ON financial_expenses(name);
CREATE INDEX IF NOT EXISTS idx_analysis_results_crime_type ON analysis_results(crime_type_id, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.q.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a single transaction. Calls on the Store passed to
// fn hit the transaction, not the base connection.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if _, ok := s.q.(*sql.Tx); ok {
		// Already inside a transaction; join it.
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}

	if err := fn(&SQLiteStore{db: s.db, q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return eris.Wrapf(err, "sqlite: rollback failed: %v", rbErr)
		}
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

// --- Features ---

func (s *SQLiteStore) GetOrCreateFeature(ctx context.Context, name string) (*model.Feature, bool, error) {
	f, err := s.featureByName(ctx, name)
	if err == nil {
		return f, false, nil
	}
	if !eris.Is(err, ErrNotFound) {
		return nil, false, err
	}

	res, err := s.q.ExecContext(ctx, `INSERT INTO features (name) VALUES (?)`, name)
	if err != nil {
		if isSQLiteUnique(err) {
			// Lost a race; the row exists now.
			f, err := s.featureByName(ctx, name)
			return f, false, err
		}
		return nil, false, eris.Wrapf(err, "sqlite: insert feature %q", name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: feature last insert id")
	}
	return &model.Feature{ID: id, Name: name}, true, nil
}

func (s *SQLiteStore) featureByName(ctx context.Context, name string) (*model.Feature, error) {
	var f model.Feature
	var ct sql.NullInt64
	err := s.q.QueryRowContext(ctx,
		`SELECT id, name, crime_type_id FROM features WHERE name = ?`, name,
	).Scan(&f.ID, &f.Name, &ct)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "feature %q", name)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get feature")
	}
	if ct.Valid {
		f.CrimeTypeID = &ct.Int64
	}
	return &f, nil
}

func (s *SQLiteStore) SetFeatureCrimeType(ctx context.Context, featureID, crimeTypeID int64) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE features SET crime_type_id = ? WHERE id = ?`, crimeTypeID, featureID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set feature %d crime type", featureID)
	}
	return checkRowsAffected(res, "feature", featureID)
}

func (s *SQLiteStore) ListFeatures(ctx context.Context) ([]model.Feature, error) {
	return s.scanFeatures(ctx, `SELECT id, name, crime_type_id FROM features ORDER BY id`)
}

func (s *SQLiteStore) FeaturesWithoutCrimeType(ctx context.Context) ([]model.Feature, error) {
	return s.scanFeatures(ctx,
		`SELECT id, name, crime_type_id FROM features WHERE crime_type_id IS NULL ORDER BY id`)
}

func (s *SQLiteStore) scanFeatures(ctx context.Context, query string) ([]model.Feature, error) {
	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list features")
	}
	defer rows.Close()

	var out []model.Feature
	for rows.Next() {
		var f model.Feature
		var ct sql.NullInt64
		if err := rows.Scan(&f.ID, &f.Name, &ct); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan feature")
		}
		if ct.Valid {
			f.CrimeTypeID = &ct.Int64
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate features")
}

// --- Districts ---

func (s *SQLiteStore) GetOrCreateDistrict(ctx context.Context, name string) (*model.District, bool, error) {
	d, err := s.DistrictByName(ctx, name)
	if err == nil {
		return d, false, nil
	}
	if !eris.Is(err, ErrNotFound) {
		return nil, false, err
	}

	res, err := s.q.ExecContext(ctx, `INSERT INTO districts (name) VALUES (?)`, name)
	if err != nil {
		if isSQLiteUnique(err) {
			d, err := s.DistrictByName(ctx, name)
			return d, false, err
		}
		return nil, false, eris.Wrapf(err, "sqlite: insert district %q", name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: district last insert id")
	}
	return &model.District{ID: id, Name: name}, true, nil
}

func (s *SQLiteStore) DistrictByName(ctx context.Context, name string) (*model.District, error) {
	var d model.District
	err := s.q.QueryRowContext(ctx,
		`SELECT id, name FROM districts WHERE name = ?`, name,
	).Scan(&d.ID, &d.Name)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "district %q", name)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get district")
	}
	return &d, nil
}

func (s *SQLiteStore) ListDistricts(ctx context.Context) ([]model.District, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, name FROM districts ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list districts")
	}
	defer rows.Close()

	var out []model.District
	for rows.Next() {
		var d model.District
		if err := rows.Scan(&d.ID, &d.Name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan district")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate districts")
}

// --- Years ---

func (s *SQLiteStore) GetOrCreateYear(ctx context.Context, year int) (*model.Year, bool, error) {
	y, err := s.YearByValue(ctx, year)
	if err == nil {
		return y, false, nil
	}
	if !eris.Is(err, ErrNotFound) {
		return nil, false, err
	}

	res, err := s.q.ExecContext(ctx, `INSERT INTO years (year) VALUES (?)`, year)
	if err != nil {
		if isSQLiteUnique(err) {
			y, err := s.YearByValue(ctx, year)
			return y, false, err
		}
		return nil, false, eris.Wrapf(err, "sqlite: insert year %d", year)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: year last insert id")
	}
	return &model.Year{ID: id, Year: year}, true, nil
}

func (s *SQLiteStore) YearByValue(ctx context.Context, year int) (*model.Year, error) {
	var y model.Year
	err := s.q.QueryRowContext(ctx,
		`SELECT id, year FROM years WHERE year = ?`, year,
	).Scan(&y.ID, &y.Year)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "year %d", year)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get year")
	}
	return &y, nil
}

func (s *SQLiteStore) ListYears(ctx context.Context) ([]model.Year, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, year FROM years ORDER BY year`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list years")
	}
	defer rows.Close()

	var out []model.Year
	for rows.Next() {
		var y model.Year
		if err := rows.Scan(&y.ID, &y.Year); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan year")
		}
		out = append(out, y)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate years")
}

// --- Crime types ---

func (s *SQLiteStore) GetOrCreateCrimeType(ctx context.Context, name string) (*model.CrimeType, bool, error) {
	var ct model.CrimeType
	err := s.q.QueryRowContext(ctx,
		`SELECT id, name FROM crime_types WHERE name = ?`, name,
	).Scan(&ct.ID, &ct.Name)
	if err == nil {
		return &ct, false, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, eris.Wrap(err, "sqlite: get crime type")
	}

	res, err := s.q.ExecContext(ctx, `INSERT INTO crime_types (name) VALUES (?)`, name)
	if err != nil {
		if isSQLiteUnique(err) {
			return s.getOrCreateCrimeTypeRetry(ctx, name)
		}
		return nil, false, eris.Wrapf(err, "sqlite: insert crime type %q", name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: crime type last insert id")
	}
	return &model.CrimeType{ID: id, Name: name}, true, nil
}

func (s *SQLiteStore) getOrCreateCrimeTypeRetry(ctx context.Context, name string) (*model.CrimeType, bool, error) {
	var ct model.CrimeType
	err := s.q.QueryRowContext(ctx,
		`SELECT id, name FROM crime_types WHERE name = ?`, name,
	).Scan(&ct.ID, &ct.Name)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: get crime type after conflict")
	}
	return &ct, false, nil
}

func (s *SQLiteStore) CrimeTypeByID(ctx context.Context, id int64) (*model.CrimeType, error) {
	var ct model.CrimeType
	err := s.q.QueryRowContext(ctx,
		`SELECT id, name FROM crime_types WHERE id = ?`, id,
	).Scan(&ct.ID, &ct.Name)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "crime type %d", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get crime type")
	}
	return &ct, nil
}

func (s *SQLiteStore) ListCrimeTypes(ctx context.Context) ([]model.CrimeType, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, name FROM crime_types ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list crime types")
	}
	defer rows.Close()

	var out []model.CrimeType
	for rows.Next() {
		var ct model.CrimeType
		if err := rows.Scan(&ct.ID, &ct.Name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan crime type")
		}
		out = append(out, ct)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate crime types")
}

// --- Documents ---

func (s *SQLiteStore) CreateDocument(ctx context.Context, filename, path string, format model.WorkbookFormat) (*model.Document, error) {
	now := time.Now().UTC()
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO documents (filename, file_path, format, created_at) VALUES (?, ?, ?, ?)`,
		filename, path, string(format), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert document %q", filename)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: document last insert id")
	}
	return &model.Document{ID: id, Filename: filename, FilePath: path, Format: format, CreatedAt: now}, nil
}

// --- Facts ---

func (s *SQLiteStore) CreateFact(ctx context.Context, f model.Fact) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO facts (feature_id, district_id, year_id, document_id, value) VALUES (?, ?, ?, ?, ?)`,
		f.FeatureID, f.DistrictID, f.YearID, nullInt64(f.DocumentID), nullFloat(f.Value),
	)
	if isSQLiteUnique(err) {
		return eris.Wrapf(ErrConflict, "fact (%d, %d, %d)", f.FeatureID, f.DistrictID, f.YearID)
	}
	return eris.Wrap(err, "sqlite: insert fact")
}

func (s *SQLiteStore) UpsertFact(ctx context.Context, f model.Fact) (bool, error) {
	var id int64
	err := s.q.QueryRowContext(ctx,
		`SELECT id FROM facts WHERE feature_id = ? AND district_id = ? AND year_id = ?`,
		f.FeatureID, f.DistrictID, f.YearID,
	).Scan(&id)
	if err != nil && err != sql.ErrNoRows {
		return false, eris.Wrap(err, "sqlite: get fact")
	}

	created := err == sql.ErrNoRows

	// The ON CONFLICT clause keeps the write atomic with respect to the
	// composite-key uniqueness check even if another writer races us.
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO facts (feature_id, district_id, year_id, document_id, value)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(feature_id, district_id, year_id)
		 DO UPDATE SET value = excluded.value, document_id = excluded.document_id`,
		f.FeatureID, f.DistrictID, f.YearID, nullInt64(f.DocumentID), nullFloat(f.Value),
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: upsert fact")
	}
	return created, nil
}

func (s *SQLiteStore) FactsByDistrictYear(ctx context.Context, districtID, yearID int64) ([]model.Fact, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, feature_id, district_id, year_id, document_id, value
		 FROM facts WHERE district_id = ? AND year_id = ?`,
		districtID, yearID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: facts by district/year")
	}
	return scanFacts(rows)
}

func (s *SQLiteStore) FactsByCrimeType(ctx context.Context, crimeTypeID, districtID, yearID int64) ([]model.Fact, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT f.id, f.feature_id, f.district_id, f.year_id, f.document_id, f.value
		 FROM facts f
		 JOIN features ft ON ft.id = f.feature_id
		 WHERE ft.crime_type_id = ? AND f.district_id = ? AND f.year_id = ?`,
		crimeTypeID, districtID, yearID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: facts by crime type")
	}
	return scanFacts(rows)
}

func scanFacts(rows *sql.Rows) ([]model.Fact, error) {
	defer rows.Close()

	var out []model.Fact
	for rows.Next() {
		var f model.Fact
		var doc sql.NullInt64
		var val sql.NullFloat64
		if err := rows.Scan(&f.ID, &f.FeatureID, &f.DistrictID, &f.YearID, &doc, &val); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fact")
		}
		if doc.Valid {
			f.DocumentID = &doc.Int64
		}
		if val.Valid {
			f.Value = &val.Float64
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate facts")
}

// --- Population ---

func (s *SQLiteStore) CreatePopulation(ctx context.Context, p model.Population) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO population (district_id, year_id, value) VALUES (?, ?, ?)`,
		p.DistrictID, p.YearID, p.Value,
	)
	if isSQLiteUnique(err) {
		return eris.Wrapf(ErrConflict, "population (%d, %d)", p.DistrictID, p.YearID)
	}
	return eris.Wrap(err, "sqlite: insert population")
}

func (s *SQLiteStore) UpsertPopulation(ctx context.Context, p model.Population) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO population (district_id, year_id, value) VALUES (?, ?, ?)
		 ON CONFLICT(district_id, year_id) DO UPDATE SET value = excluded.value`,
		p.DistrictID, p.YearID, p.Value,
	)
	return eris.Wrap(err, "sqlite: upsert population")
}

func (s *SQLiteStore) PopulationFor(ctx context.Context, districtID, yearID int64) (*model.Population, error) {
	var p model.Population
	err := s.q.QueryRowContext(ctx,
		`SELECT id, district_id, year_id, value FROM population WHERE district_id = ? AND year_id = ?`,
		districtID, yearID,
	).Scan(&p.ID, &p.DistrictID, &p.YearID, &p.Value)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "population (%d, %d)", districtID, yearID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get population")
	}
	return &p, nil
}

// --- Financial expenses ---

func (s *SQLiteStore) CreateExpense(ctx context.Context, e model.Expense) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO financial_expenses (district_id, year_id, name, amount, selected) VALUES (?, ?, ?, ?, ?)`,
		e.DistrictID, e.YearID, e.Name, e.Amount, boolToInt(e.Selected),
	)
	if isSQLiteUnique(err) {
		return eris.Wrapf(ErrConflict, "expense (%d, %d, %q)", e.DistrictID, e.YearID, e.Name)
	}
	return eris.Wrap(err, "sqlite: insert expense")
}

func (s *SQLiteStore) UpsertExpense(ctx context.Context, e model.Expense) (bool, error) {
	var id int64
	err := s.q.QueryRowContext(ctx,
		`SELECT id FROM financial_expenses WHERE district_id = ? AND year_id = ? AND name = ?`,
		e.DistrictID, e.YearID, e.Name,
	).Scan(&id)
	if err != nil && err != sql.ErrNoRows {
		return false, eris.Wrap(err, "sqlite: get expense")
	}
	created := err == sql.ErrNoRows

	// The selected flag is only seeded on first insert; re-ingestion must
	// not reset an operator's selection.
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO financial_expenses (district_id, year_id, name, amount, selected)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(district_id, year_id, name) DO UPDATE SET amount = excluded.amount`,
		e.DistrictID, e.YearID, e.Name, e.Amount, boolToInt(e.Selected),
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: upsert expense")
	}
	return created, nil
}

func (s *SQLiteStore) SelectedExpenses(ctx context.Context) ([]model.Expense, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, district_id, year_id, name, amount, selected
		 FROM financial_expenses WHERE selected = 1`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: selected expenses")
	}
	return scanExpenses(rows)
}

func scanExpenses(rows *sql.Rows) ([]model.Expense, error) {
	defer rows.Close()

	var out []model.Expense
	for rows.Next() {
		var e model.Expense
		var sel int
		if err := rows.Scan(&e.ID, &e.DistrictID, &e.YearID, &e.Name, &e.Amount, &sel); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan expense")
		}
		e.Selected = sel != 0
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate expenses")
}

func (s *SQLiteStore) ListExpenseIndicators(ctx context.Context) ([]Indicator, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT name, MIN(selected) FROM financial_expenses GROUP BY name ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list indicators")
	}
	defer rows.Close()

	var out []Indicator
	for rows.Next() {
		var in Indicator
		var sel int
		if err := rows.Scan(&in.Name, &sel); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan indicator")
		}
		in.Selected = sel != 0
		out = append(out, in)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate indicators")
}

func (s *SQLiteStore) SetIndicatorSelected(ctx context.Context, name string, selected bool) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE financial_expenses SET selected = ? WHERE name = ?`, boolToInt(selected), name)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set indicator %q selected", name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "indicator %q", name)
	}
	return nil
}

// --- Crime statistics ---

func (s *SQLiteStore) UpsertCrimeStatistics(ctx context.Context, cs model.CrimeStatistics) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO crime_statistics (district_id, year_id, total_crimes, population, coefficient, normalized)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(district_id, year_id) DO UPDATE SET
			total_crimes = excluded.total_crimes,
			population   = excluded.population,
			coefficient  = excluded.coefficient,
			normalized   = excluded.normalized`,
		cs.DistrictID, cs.YearID, cs.TotalCrimes, cs.Population, cs.Coefficient, cs.Normalized,
	)
	return eris.Wrap(err, "sqlite: upsert crime statistics")
}

func (s *SQLiteStore) CrimeStatisticsForYear(ctx context.Context, yearID int64) ([]model.CrimeStatistics, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, district_id, year_id, total_crimes, population, coefficient, normalized
		 FROM crime_statistics WHERE year_id = ?`, yearID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: crime statistics for year")
	}
	return scanCrimeStatistics(rows)
}

func (s *SQLiteStore) AllCrimeStatistics(ctx context.Context) ([]model.CrimeStatistics, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, district_id, year_id, total_crimes, population, coefficient, normalized
		 FROM crime_statistics`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: all crime statistics")
	}
	return scanCrimeStatistics(rows)
}

func scanCrimeStatistics(rows *sql.Rows) ([]model.CrimeStatistics, error) {
	defer rows.Close()

	var out []model.CrimeStatistics
	for rows.Next() {
		var cs model.CrimeStatistics
		if err := rows.Scan(&cs.ID, &cs.DistrictID, &cs.YearID, &cs.TotalCrimes, &cs.Population, &cs.Coefficient, &cs.Normalized); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan crime statistics")
		}
		out = append(out, cs)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate crime statistics")
}

// --- Analysis results ---

func (s *SQLiteStore) CreateAnalysisResult(ctx context.Context, ar model.AnalysisResult) (*model.AnalysisResult, error) {
	now := time.Now().UTC()
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO analysis_results (crime_type_id, indicators, importance_plot, tree_plot, top_indicator, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ar.CrimeTypeID, joinIndicators(ar.Indicators), ar.ImportancePlot, ar.TreePlot, ar.TopIndicator, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert analysis result")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: analysis result last insert id")
	}
	ar.ID = id
	ar.CreatedAt = now
	return &ar, nil
}

func (s *SQLiteStore) LatestAnalysisResult(ctx context.Context, crimeTypeID int64) (*model.AnalysisResult, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, crime_type_id, indicators, importance_plot, tree_plot, top_indicator, created_at
		 FROM analysis_results WHERE crime_type_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`, crimeTypeID)
	ar, err := scanAnalysisResult(row)
	if eris.Is(err, ErrNotFound) {
		return nil, eris.Wrapf(ErrNotFound, "analysis result for crime type %d", crimeTypeID)
	}
	return ar, err
}

func (s *SQLiteStore) LatestAnalysisResults(ctx context.Context, limit int) ([]model.AnalysisResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, crime_type_id, indicators, importance_plot, tree_plot, top_indicator, created_at
		 FROM analysis_results ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest analysis results")
	}
	defer rows.Close()

	var out []model.AnalysisResult
	for rows.Next() {
		ar, err := scanAnalysisResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ar)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate analysis results")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanAnalysisResult(row scannable) (*model.AnalysisResult, error) {
	var ar model.AnalysisResult
	var indicators string
	err := row.Scan(&ar.ID, &ar.CrimeTypeID, &indicators, &ar.ImportancePlot, &ar.TreePlot, &ar.TopIndicator, &ar.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "analysis result")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan analysis result")
	}
	ar.Indicators = splitIndicators(indicators)
	return &ar, nil
}

// --- helpers ---

func joinIndicators(names []string) string {
	return strings.Join(names, ",")
}

func splitIndicators(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func isSQLiteUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func checkRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %d", entity, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
