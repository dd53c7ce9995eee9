package ingest

import (
	"context"

	"go.uber.org/zap"

	"github.com/oblstat/crimestat-cli/internal/model"
	"github.com/oblstat/crimestat-cli/internal/store"
	"github.com/oblstat/crimestat-cli/internal/workbook"
)

// WholeJurisdictionDistrict is the synthetic district financial expenses
// attach to. Spending figures are reported region-wide, not per district.
const WholeJurisdictionDistrict = "Вся область"

// IngestExpenses loads a financial expenses table: indicator rows by year
// columns, first sheet. Each numeric cell becomes or updates an expense row
// for the whole-jurisdiction district. Newly introduced indicators are
// included in analysis by default; re-ingestion never flips an operator's
// selection.
func (ing *Ingestor) IngestExpenses(ctx context.Context, path string) (Counts, error) {
	wb, err := workbook.Open(path)
	if err != nil {
		return Counts{}, err
	}
	sheets := wb.SheetNames()
	if len(sheets) == 0 {
		return Counts{}, nil
	}
	table, err := wb.Table(sheets[0])
	if err != nil {
		return Counts{}, err
	}

	nameCol, yearCols := splitExpenseColumns(table.Headers)
	if nameCol == "" || len(yearCols) == 0 {
		ing.log.Info("skipping expenses sheet, no indicator or year columns",
			zap.String("sheet", table.Name), zap.Strings("headers", table.Headers))
		return Counts{}, nil
	}

	var counts Counts
	err = ing.store.WithTx(ctx, func(tx store.Store) error {
		district, created, err := tx.GetOrCreateDistrict(ctx, WholeJurisdictionDistrict)
		if err != nil {
			return err
		}
		if created {
			counts.Districts++
		}

		yearIDs := make(map[string]int64, len(yearCols))
		for header, year := range yearCols {
			y, created, err := tx.GetOrCreateYear(ctx, year)
			if err != nil {
				return err
			}
			if created {
				counts.Years++
			}
			yearIDs[header] = y.ID
		}

		for _, row := range table.Rows {
			name := model.NormalizeName(row[nameCol].Text)
			if name == "" || isReservedLabel(name) {
				continue
			}
			for header, yearID := range yearIDs {
				amount := row[header].Float()
				if amount == nil {
					continue
				}
				created, err := tx.UpsertExpense(ctx, model.Expense{
					DistrictID: district.ID,
					YearID:     yearID,
					Name:       name,
					Amount:     *amount,
					Selected:   true,
				})
				if err != nil {
					return err
				}
				if created {
					counts.Values++
				}
			}
		}
		return nil
	})
	if err != nil {
		return Counts{}, err
	}
	return counts, nil
}

// splitExpenseColumns classifies headers: columns whose header parses as a
// year carry amounts, the indicator-name column is matched by spelling with
// a fallback to the first non-year header.
func splitExpenseColumns(headers []string) (nameCol string, yearCols map[string]int) {
	yearCols = make(map[string]int)
	for _, h := range headers {
		if y, ok := parseYearLabel(h); ok {
			yearCols[h] = y
		}
	}
	if col, ok := findIndicatorColumn(headers); ok {
		return col, yearCols
	}
	for _, h := range headers {
		if _, isYear := yearCols[h]; !isYear && h != "" {
			return h, yearCols
		}
	}
	return "", yearCols
}
