// Package ingest loads spreadsheet-reported statistics into the store.
// Two layouts are supported: the full crime workbook (one sheet per year,
// district columns by indicator rows) and the financial expenses table
// (indicator rows by year columns).
package ingest

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/oblstat/crimestat-cli/internal/model"
	"github.com/oblstat/crimestat-cli/internal/store"
	"github.com/oblstat/crimestat-cli/internal/workbook"
)

// Counts reports what an ingestion run created. Re-running the same file
// yields all zeros except unchanged Values overwrites.
type Counts struct {
	Features  int
	Districts int
	Years     int
	Values    int
}

// indicatorHeaders are the accepted spellings for the feature column, in
// priority order.
var indicatorHeaders = []string{
	"Индикатор",
	"Показатель",
	"Признак",
	"Наименование",
	"Indicator",
	"Feature",
}

// excludedDistrictHeaders are column headers that are never districts.
var excludedDistrictHeaders = map[string]struct{}{
	"сумма":  {},
	"итого":  {},
	"всего":  {},
	"sum":    {},
	"total":  {},
	"№":      {},
	"n":      {},
}

// reservedRowLabels mark metadata rows, not facts.
var reservedRowLabels = map[string]struct{}{
	"сумма":         {},
	"итого":         {},
	"всего":         {},
	"население":     {},
	"нормированный": {},
	"sum":           {},
	"total":         {},
	"population":    {},
	"normalized":    {},
}

// Ingestor parses workbooks into the entity graph.
type Ingestor struct {
	store store.Store
	log   *zap.Logger
}

func New(st store.Store) *Ingestor {
	return &Ingestor{store: st, log: zap.L().Named("ingest")}
}

// IngestFull loads a full-format workbook: each sheet whose label parses as
// a year holds one district-by-indicator table. The whole run commits or
// rolls back as one transaction.
func (ing *Ingestor) IngestFull(ctx context.Context, path string, doc *model.Document) (Counts, error) {
	wb, err := workbook.Open(path)
	if err != nil {
		return Counts{}, err
	}

	var counts Counts
	err = ing.store.WithTx(ctx, func(tx store.Store) error {
		for _, sheetName := range wb.SheetNames() {
			year, ok := parseYearLabel(sheetName)
			if !ok {
				ing.log.Info("skipping sheet, label is not a year", zap.String("sheet", sheetName))
				continue
			}
			table, err := wb.Table(sheetName)
			if err != nil {
				return err
			}
			if err := ing.ingestYearTable(ctx, tx, table, year, doc, &counts); err != nil {
				return eris.Wrapf(err, "sheet %q", sheetName)
			}
		}
		return nil
	})
	if err != nil {
		return Counts{}, err
	}
	return counts, nil
}

func (ing *Ingestor) ingestYearTable(ctx context.Context, tx store.Store, table *workbook.Table, year int, doc *model.Document, counts *Counts) error {
	indicatorCol, ok := findIndicatorColumn(table.Headers)
	if !ok {
		ing.log.Info("skipping sheet, no indicator column",
			zap.String("sheet", table.Name), zap.Strings("headers", table.Headers))
		return nil
	}

	yearRow, created, err := tx.GetOrCreateYear(ctx, year)
	if err != nil {
		return err
	}
	if created {
		counts.Years++
	}

	type districtCol struct {
		header string
		id     int64
	}
	var districts []districtCol
	for _, h := range table.Headers {
		if h == indicatorCol || !isDistrictHeader(h) {
			continue
		}
		d, created, err := tx.GetOrCreateDistrict(ctx, model.NormalizeName(h))
		if err != nil {
			return err
		}
		if created {
			counts.Districts++
		}
		districts = append(districts, districtCol{header: h, id: d.ID})
	}

	var docID *int64
	if doc != nil {
		docID = &doc.ID
	}

	for _, row := range table.Rows {
		name := model.NormalizeName(row[indicatorCol].Text)
		if name == "" || isReservedLabel(name) {
			continue
		}
		feature, err := ing.ensureFeature(ctx, tx, name, counts)
		if err != nil {
			return err
		}
		for _, dc := range districts {
			cell := row[dc.header]
			created, err := tx.UpsertFact(ctx, model.Fact{
				FeatureID:  feature.ID,
				DistrictID: dc.id,
				YearID:     yearRow.ID,
				DocumentID: docID,
				Value:      cell.Float(),
			})
			if err != nil {
				return err
			}
			if created {
				counts.Values++
			}
		}
	}

	ing.log.Info("ingested year table", zap.Int("year", year), zap.Int("districts", len(districts)))
	return nil
}

// ensureFeature resolves a raw feature name: a "Category (Indicator)" name
// creates the crime type and stores the feature under the indicator part.
// A category seen for an existing uncategorized feature is backfilled, an
// already-set category is never overwritten.
func (ing *Ingestor) ensureFeature(ctx context.Context, tx store.Store, name string, counts *Counts) (*model.Feature, error) {
	category, indicator := model.ParseFeatureName(name)

	feature, created, err := tx.GetOrCreateFeature(ctx, indicator)
	if err != nil {
		return nil, err
	}
	if created {
		counts.Features++
	}

	if category != "" && feature.CrimeTypeID == nil {
		ct, _, err := tx.GetOrCreateCrimeType(ctx, category)
		if err != nil {
			return nil, err
		}
		if err := tx.SetFeatureCrimeType(ctx, feature.ID, ct.ID); err != nil {
			return nil, err
		}
		feature.CrimeTypeID = &ct.ID
	}
	return feature, nil
}

func findIndicatorColumn(headers []string) (string, bool) {
	for _, want := range indicatorHeaders {
		for _, h := range headers {
			if strings.EqualFold(model.NormalizeName(h), want) {
				return h, true
			}
		}
	}
	return "", false
}

func isDistrictHeader(h string) bool {
	h = model.NormalizeName(h)
	if h == "" {
		return false
	}
	_, excluded := excludedDistrictHeaders[strings.ToLower(h)]
	return !excluded
}

func isReservedLabel(name string) bool {
	_, reserved := reservedRowLabels[strings.ToLower(name)]
	return reserved
}

// parseYearLabel extracts a year from a sheet label. "2020" and labels
// such as "2020 год" both qualify.
func parseYearLabel(label string) (int, bool) {
	label = strings.TrimSpace(label)
	if y, err := strconv.Atoi(label); err == nil {
		return y, plausibleYear(y)
	}
	for _, tok := range strings.Fields(label) {
		if y, err := strconv.Atoi(tok); err == nil && plausibleYear(y) {
			return y, true
		}
	}
	return 0, false
}

func plausibleYear(y int) bool {
	return y >= 1900 && y <= 2200
}
