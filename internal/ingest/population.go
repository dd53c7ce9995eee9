package ingest

import (
	"context"

	"go.uber.org/zap"

	"github.com/oblstat/crimestat-cli/internal/model"
	"github.com/oblstat/crimestat-cli/internal/store"
	"github.com/oblstat/crimestat-cli/internal/workbook"
)

// IngestPopulation loads a population table: district rows by year columns,
// first sheet. Blank cells are skipped, numeric cells upsert the district's
// population for that year.
func (ing *Ingestor) IngestPopulation(ctx context.Context, path string) (Counts, error) {
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
		ing.log.Info("skipping population sheet, no district or year columns",
			zap.String("sheet", table.Name), zap.Strings("headers", table.Headers))
		return Counts{}, nil
	}

	var counts Counts
	err = ing.store.WithTx(ctx, func(tx store.Store) error {
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
			district, created, err := tx.GetOrCreateDistrict(ctx, name)
			if err != nil {
				return err
			}
			if created {
				counts.Districts++
			}
			for header, yearID := range yearIDs {
				v := row[header].Float()
				if v == nil {
					continue
				}
				err := tx.UpsertPopulation(ctx, model.Population{
					DistrictID: district.ID,
					YearID:     yearID,
					Value:      int64(*v),
				})
				if err != nil {
					return err
				}
				counts.Values++
			}
		}
		return nil
	})
	if err != nil {
		return Counts{}, err
	}
	return counts, nil
}
