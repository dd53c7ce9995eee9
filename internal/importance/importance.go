// Package importance ranks named predictors by how much they explain a
// numeric target. The built-in model is a bagged ensemble of regression
// trees whose impurity decrease per predictor is aggregated into weights.
package importance

import (
	"context"
	"math"
	"math/rand"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Model is the importance capability the analysis orchestrator consumes.
// Fit takes a predictor matrix (rows = observations, columns align with
// names, NaN marks a missing cell) and an equal-length target vector, and
// returns non-negative per-name weights summing to 1. The same input and
// seed yield the same weights. ExampleTree exposes one trained tree for
// diagnostic rendering and is only valid after a successful Fit.
type Model interface {
	Fit(ctx context.Context, matrix [][]float64, target []float64, names []string) (map[string]float64, error)
	ExampleTree() *TreeNode
}

// Config tunes the forest.
type Config struct {
	Trees          int
	MaxDepth       int
	MinSamplesLeaf int
	Seed           int64
}

func (c Config) withDefaults() Config {
	if c.Trees <= 0 {
		c.Trees = 100
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 10
	}
	if c.MinSamplesLeaf <= 0 {
		c.MinSamplesLeaf = 1
	}
	return c
}

// Forest is a random-forest regressor implementing Model.
type Forest struct {
	cfg   Config
	names []string
	trees []*tree
	log   *zap.Logger
}

func NewForest(cfg Config) *Forest {
	return &Forest{cfg: cfg.withDefaults(), log: zap.L().Named("importance")}
}

// Fit trains the ensemble and returns normalized importance weights.
// Trees are trained in parallel; each tree seeds its own generator from
// the configured seed and its index, so the result does not depend on
// scheduling order.
func (f *Forest) Fit(ctx context.Context, matrix [][]float64, target []float64, names []string) (map[string]float64, error) {
	if len(matrix) == 0 {
		return nil, eris.New("importance: empty predictor matrix")
	}
	if len(matrix) != len(target) {
		return nil, eris.Errorf("importance: %d rows but %d target values", len(matrix), len(target))
	}
	if len(names) != len(matrix[0]) {
		return nil, eris.Errorf("importance: %d names but %d columns", len(names), len(matrix[0]))
	}
	if len(matrix) < 2 {
		return nil, eris.New("importance: need at least 2 observations")
	}

	X := imputeColumnMeans(matrix)
	f.names = names

	maxFeatures := int(math.Sqrt(float64(len(names))))
	if maxFeatures < 1 {
		maxFeatures = 1
	}

	f.trees = make([]*tree, f.cfg.Trees)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < f.cfg.Trees; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return eris.Wrap(err, "importance: training cancelled")
			}
			rng := rand.New(rand.NewSource(f.cfg.Seed + int64(i)))
			bootX, bootY := bootstrapSample(rng, X, target)
			f.trees[i] = growTree(rng, bootX, bootY, treeParams{
				maxDepth:       f.cfg.MaxDepth,
				minSamplesLeaf: f.cfg.MinSamplesLeaf,
				maxFeatures:    maxFeatures,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	weights := f.aggregateImportances()
	f.log.Debug("fitted forest",
		zap.Int("trees", f.cfg.Trees),
		zap.Int("observations", len(matrix)),
		zap.Int("predictors", len(names)))
	return weights, nil
}

// aggregateImportances sums impurity decrease per predictor over all trees
// and normalizes to 1. A forest that found no informative split (constant
// target) weights every predictor equally.
func (f *Forest) aggregateImportances() map[string]float64 {
	totals := make([]float64, len(f.names))
	for _, t := range f.trees {
		for i, v := range t.importances {
			totals[i] += v
		}
	}

	var sum float64
	for _, v := range totals {
		sum += v
	}

	weights := make(map[string]float64, len(f.names))
	if sum == 0 {
		for _, name := range f.names {
			weights[name] = 1 / float64(len(f.names))
		}
		return weights
	}
	for i, name := range f.names {
		weights[name] = totals[i] / sum
	}
	return weights
}

// ExampleTree returns the first tree of the ensemble as a renderable
// structure, or nil before Fit.
func (f *Forest) ExampleTree() *TreeNode {
	if len(f.trees) == 0 || f.trees[0] == nil {
		return nil
	}
	return exportNode(f.trees[0].root, f.names)
}

// Predict averages the trees' predictions for one observation. Exposed for
// diagnostics; the orchestrator only consumes weights.
func (f *Forest) Predict(x []float64) (float64, error) {
	if len(f.trees) == 0 {
		return 0, eris.New("importance: model not fitted")
	}
	var sum float64
	for _, t := range f.trees {
		sum += t.predict(x)
	}
	return sum / float64(len(f.trees)), nil
}

func bootstrapSample(rng *rand.Rand, X [][]float64, y []float64) ([][]float64, []float64) {
	n := len(X)
	bootX := make([][]float64, n)
	bootY := make([]float64, n)
	for i := 0; i < n; i++ {
		idx := rng.Intn(n)
		bootX[i] = X[idx]
		bootY[i] = y[idx]
	}
	return bootX, bootY
}

// imputeColumnMeans replaces NaN cells with their column mean. A column
// with no observed value at all becomes zero.
func imputeColumnMeans(matrix [][]float64) [][]float64 {
	if len(matrix) == 0 {
		return nil
	}
	cols := len(matrix[0])
	means := make([]float64, cols)
	for j := 0; j < cols; j++ {
		var sum float64
		var n int
		for i := range matrix {
			if !math.IsNaN(matrix[i][j]) {
				sum += matrix[i][j]
				n++
			}
		}
		if n > 0 {
			means[j] = sum / float64(n)
		}
	}

	out := make([][]float64, len(matrix))
	for i := range matrix {
		out[i] = make([]float64, cols)
		for j := 0; j < cols; j++ {
			if math.IsNaN(matrix[i][j]) {
				out[i][j] = means[j]
			} else {
				out[i][j] = matrix[i][j]
			}
		}
	}
	return out
}
