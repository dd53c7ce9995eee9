// Package artifact renders analysis charts to HTML files under a
// configured directory and hands back their paths for persistence.
package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/oblstat/crimestat-cli/internal/importance"
)

// IndicatorWeight pairs an indicator name with its importance weight.
type IndicatorWeight struct {
	Name   string
	Weight float64
}

// Store writes rendered charts into one directory.
type Store struct {
	dir string
	log *zap.Logger
}

func NewStore(dir string) *Store {
	return &Store{dir: dir, log: zap.L().Named("artifact")}
}

// RenderImportanceChart writes a horizontal bar chart of importance
// weights, least important at the bottom, and returns the file path.
func (s *Store) RenderImportanceChart(weights []IndicatorWeight) (string, error) {
	sorted := make([]IndicatorWeight, len(weights))
	copy(sorted, weights)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Weight < sorted[j].Weight })

	names := make([]string, len(sorted))
	values := make([]opts.BarData, len(sorted))
	for i, w := range sorted {
		names[i] = w.Name
		values[i] = opts.BarData{Value: w.Weight}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Важность факторов, влияющих на уровень преступности"}),
	)
	bar.SetXAxis(names).AddSeries("Значимость", values)
	bar.XYReversal()

	return s.write(fmt.Sprintf("importance_%s.html", uuid.NewString()), bar)
}

// RenderTreeDiagram writes one decision tree of the ensemble as a tree
// chart and returns the file path.
func (s *Store) RenderTreeDiagram(root *importance.TreeNode) (string, error) {
	if root == nil {
		return "", eris.New("artifact: nil tree")
	}

	tree := charts.NewTree()
	tree.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Дерево решений (первое из ансамбля)"}),
	)
	tree.AddSeries("дерево", []opts.TreeData{*toTreeData(root)})

	return s.write(fmt.Sprintf("tree_%s.html", uuid.NewString()), tree)
}

type renderer interface {
	Render(w io.Writer) error
}

func (s *Store) write(filename string, chart renderer) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "artifact: create dir %s", s.dir)
	}
	path := filepath.Join(s.dir, filename)
	f, err := os.Create(path)
	if err != nil {
		return "", eris.Wrapf(err, "artifact: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	if err := chart.Render(f); err != nil {
		return "", eris.Wrapf(err, "artifact: render %s", path)
	}
	s.log.Info("rendered artifact", zap.String("path", path))
	return path, nil
}

func toTreeData(n *importance.TreeNode) *opts.TreeData {
	if n == nil {
		return nil
	}
	d := &opts.TreeData{}
	if n.IsLeaf() {
		d.Name = fmt.Sprintf("%.2f (n=%d)", n.Value, n.Samples)
		return d
	}
	d.Name = fmt.Sprintf("%s ≤ %.2f", n.Feature, n.Threshold)
	if left := toTreeData(n.Left); left != nil {
		d.Children = append(d.Children, left)
	}
	if right := toTreeData(n.Right); right != nil {
		d.Children = append(d.Children, right)
	}
	return d
}
