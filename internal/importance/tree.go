package importance

import (
	"math/rand"
	"sort"
)

type treeParams struct {
	maxDepth       int
	minSamplesLeaf int
	maxFeatures    int
}

// tree is one CART regression tree. importances accumulates the
// sample-weighted variance decrease per feature index.
type tree struct {
	root        *node
	importances []float64
}

type node struct {
	feature   int
	threshold float64
	value     float64
	samples   int
	left      *node
	right     *node
}

func (n *node) isLeaf() bool { return n.left == nil }

func growTree(rng *rand.Rand, X [][]float64, y []float64, params treeParams) *tree {
	t := &tree{importances: make([]float64, len(X[0]))}
	t.root = t.grow(rng, X, y, 0, params)
	return t
}

func (t *tree) grow(rng *rand.Rand, X [][]float64, y []float64, depth int, params treeParams) *node {
	n := &node{value: mean(y), samples: len(y)}
	if depth >= params.maxDepth || len(y) < 2*params.minSamplesLeaf || variance(y) == 0 {
		return n
	}

	feature, threshold, decrease, ok := bestSplit(rng, X, y, params)
	if !ok {
		return n
	}

	leftX, leftY, rightX, rightY := partition(X, y, feature, threshold)
	if len(leftY) < params.minSamplesLeaf || len(rightY) < params.minSamplesLeaf {
		return n
	}

	t.importances[feature] += decrease
	n.feature = feature
	n.threshold = threshold
	n.left = t.grow(rng, leftX, leftY, depth+1, params)
	n.right = t.grow(rng, rightX, rightY, depth+1, params)
	return n
}

// bestSplit scans a random feature subset for the threshold with the
// largest sample-weighted variance decrease.
func bestSplit(rng *rand.Rand, X [][]float64, y []float64, params treeParams) (feature int, threshold, decrease float64, ok bool) {
	features := make([]int, len(X[0]))
	for i := range features {
		features[i] = i
	}
	rng.Shuffle(len(features), func(i, j int) {
		features[i], features[j] = features[j], features[i]
	})
	if len(features) > params.maxFeatures {
		features = features[:params.maxFeatures]
	}

	parentImpurity := float64(len(y)) * variance(y)
	best := 0.0
	for _, f := range features {
		for _, th := range candidateThresholds(X, f) {
			_, leftY, _, rightY := partition(X, y, f, th)
			if len(leftY) == 0 || len(rightY) == 0 {
				continue
			}
			d := parentImpurity - float64(len(leftY))*variance(leftY) - float64(len(rightY))*variance(rightY)
			if d > best {
				best = d
				feature = f
				threshold = th
				ok = true
			}
		}
	}
	return feature, threshold, best, ok
}

// candidateThresholds are midpoints between consecutive distinct values of
// one feature column.
func candidateThresholds(X [][]float64, feature int) []float64 {
	values := make([]float64, 0, len(X))
	for _, row := range X {
		values = append(values, row[feature])
	}
	sort.Float64s(values)

	var out []float64
	for i := 1; i < len(values); i++ {
		if values[i] != values[i-1] {
			out = append(out, (values[i]+values[i-1])/2)
		}
	}
	return out
}

func partition(X [][]float64, y []float64, feature int, threshold float64) (leftX [][]float64, leftY []float64, rightX [][]float64, rightY []float64) {
	for i, row := range X {
		if row[feature] <= threshold {
			leftX = append(leftX, row)
			leftY = append(leftY, y[i])
		} else {
			rightX = append(rightX, row)
			rightY = append(rightY, y[i])
		}
	}
	return
}

func (t *tree) predict(x []float64) float64 {
	n := t.root
	for !n.isLeaf() {
		if x[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.value
}

func mean(y []float64) float64 {
	if len(y) == 0 {
		return 0
	}
	var sum float64
	for _, v := range y {
		sum += v
	}
	return sum / float64(len(y))
}

func variance(y []float64) float64 {
	if len(y) == 0 {
		return 0
	}
	m := mean(y)
	var sum float64
	for _, v := range y {
		sum += (v - m) * (v - m)
	}
	return sum / float64(len(y))
}

// TreeNode is the exported, renderable form of a trained tree. Split nodes
// carry the predictor name and threshold, leaves carry the predicted value.
type TreeNode struct {
	Feature   string
	Threshold float64
	Value     float64
	Samples   int
	Left      *TreeNode
	Right     *TreeNode
}

// IsLeaf reports whether the node has no children.
func (n *TreeNode) IsLeaf() bool { return n.Left == nil }

func exportNode(n *node, names []string) *TreeNode {
	if n == nil {
		return nil
	}
	out := &TreeNode{
		Threshold: n.threshold,
		Value:     n.value,
		Samples:   n.samples,
		Left:      exportNode(n.left, names),
		Right:     exportNode(n.right, names),
	}
	if !n.isLeaf() {
		out.Feature = names[n.feature]
	}
	return out
}
