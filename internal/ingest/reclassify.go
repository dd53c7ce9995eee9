package ingest

import (
	"context"

	"go.uber.org/zap"

	"github.com/oblstat/crimestat-cli/internal/model"
	"github.com/oblstat/crimestat-cli/internal/store"
)

// ReclassifyCounts reports a reclassification pass.
type ReclassifyCounts struct {
	CrimeTypesCreated int
	FeaturesUpdated   int
}

// Reclassify walks features without a crime type and applies name
// decomposition to features ingested before categories existed. Features
// whose name has no parenthetical category stay untouched.
func (ing *Ingestor) Reclassify(ctx context.Context) (ReclassifyCounts, error) {
	var counts ReclassifyCounts
	err := ing.store.WithTx(ctx, func(tx store.Store) error {
		features, err := tx.FeaturesWithoutCrimeType(ctx)
		if err != nil {
			return err
		}
		for _, f := range features {
			category, _ := model.ParseFeatureName(f.Name)
			if category == "" {
				continue
			}
			ct, created, err := tx.GetOrCreateCrimeType(ctx, category)
			if err != nil {
				return err
			}
			if created {
				counts.CrimeTypesCreated++
			}
			if err := tx.SetFeatureCrimeType(ctx, f.ID, ct.ID); err != nil {
				return err
			}
			counts.FeaturesUpdated++
		}
		return nil
	})
	if err != nil {
		return ReclassifyCounts{}, err
	}
	ing.log.Info("reclassified features",
		zap.Int("crime_types_created", counts.CrimeTypesCreated),
		zap.Int("features_updated", counts.FeaturesUpdated))
	return counts, nil
}
