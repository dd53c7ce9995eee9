package model

import "time"

// WorkbookFormat tags the layout of an ingested workbook.
type WorkbookFormat string

const (
	// FormatFull is one sheet per year: district columns, indicator rows.
	FormatFull WorkbookFormat = "full"
	// FormatPart is one sheet per indicator: year columns, district rows.
	FormatPart WorkbookFormat = "part"
	// FormatFinance is the financial-expenses layout: indicator rows, year columns.
	FormatFinance WorkbookFormat = "finance"
)

// Feature is a named statistical indicator, optionally grouped under a
// CrimeType. Created on first encounter during ingestion, never deleted.
type Feature struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	CrimeTypeID *int64 `json:"crime_type_id,omitempty"`
}

// District is a named administrative unit.
type District struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Year is a calendar year.
type Year struct {
	ID   int64 `json:"id"`
	Year int   `json:"year"`
}

// CrimeType groups multiple Features into a crime category line.
type CrimeType struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Document is the provenance record for an ingested workbook.
type Document struct {
	ID        int64          `json:"id"`
	Filename  string         `json:"filename"`
	FilePath  string         `json:"file_path"`
	Format    WorkbookFormat `json:"format"`
	CreatedAt time.Time      `json:"created_at"`
}

// Fact is the value of one Feature for one District in one Year.
// Value is nil when the source cell was blank; a blank cell is not a zero.
// Natural key: (FeatureID, DistrictID, YearID).
type Fact struct {
	ID         int64    `json:"id"`
	FeatureID  int64    `json:"feature_id"`
	DistrictID int64    `json:"district_id"`
	YearID     int64    `json:"year_id"`
	DocumentID *int64   `json:"document_id,omitempty"`
	Value      *float64 `json:"value,omitempty"`
}

// Population is the population of one District in one Year.
// Natural key: (DistrictID, YearID).
type Population struct {
	ID         int64 `json:"id"`
	DistrictID int64 `json:"district_id"`
	YearID     int64 `json:"year_id"`
	Value      int64 `json:"value"`
}

// Expense is a named financial spending indicator for one District in one
// Year. Selected marks inclusion in the next importance-analysis run.
// Natural key: (DistrictID, YearID, Name).
type Expense struct {
	ID         int64   `json:"id"`
	DistrictID int64   `json:"district_id"`
	YearID     int64   `json:"year_id"`
	Name       string  `json:"name"`
	Amount     float64 `json:"amount"`
	Selected   bool    `json:"selected"`
}

// CrimeStatistics is the derived per-district/year crime-risk record.
// Coefficient is crimes per 100 000 residents at full precision; Normalized
// is the min-max rescaled index in [2,5], rounded to 2 decimal places.
// Natural key: (DistrictID, YearID); recomputation overwrites in place.
type CrimeStatistics struct {
	ID          int64   `json:"id"`
	DistrictID  int64   `json:"district_id"`
	YearID      int64   `json:"year_id"`
	TotalCrimes float64 `json:"total_crimes"`
	Population  int64   `json:"population"`
	Coefficient float64 `json:"coefficient"`
	Normalized  float64 `json:"normalized"`
}

// AnalysisResult is one completed importance-analysis run. Append-only;
// the latest row per crime type is selected by CreatedAt. Indicator
// importance weights are not persisted, only the ranked order.
type AnalysisResult struct {
	ID             int64     `json:"id"`
	CrimeTypeID    int64     `json:"crime_type_id"`
	Indicators     []string  `json:"indicators"` // ranked, most important first
	ImportancePlot string    `json:"importance_plot"`
	TreePlot       string    `json:"tree_plot"`
	TopIndicator   string    `json:"top_indicator"`
	CreatedAt      time.Time `json:"created_at"`
}
