// Package geomap joins district boundary geometry with computed crime
// statistics and exports a GeoJSON FeatureCollection for map display.
package geomap

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/oblstat/crimestat-cli/internal/store"
)

// Exporter reads a boundary shapefile and writes GeoJSON enriched with
// per-year normalized crime indexes.
type Exporter struct {
	store store.Store
	log   *zap.Logger
}

func New(st store.Store) *Exporter {
	return &Exporter{store: st, log: zap.L().Named("geomap")}
}

// Export reads the shapefile, matches each shape's name attribute against
// stored districts and writes a FeatureCollection to outPath. Shapes whose
// name matches no district are skipped. Returns the number of exported
// features.
func (e *Exporter) Export(ctx context.Context, shapefilePath, nameField, outPath string) (int, error) {
	indexByDistrict, err := e.loadIndexes(ctx)
	if err != nil {
		return 0, err
	}

	reader, err := shp.Open(shapefilePath)
	if err != nil {
		return 0, eris.Wrapf(err, "geomap: open shapefile %s", shapefilePath)
	}
	defer func() { _ = reader.Close() }()

	nameIdx := -1
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), nameField) {
			nameIdx = i
			break
		}
	}
	if nameIdx < 0 {
		return 0, eris.Errorf("geomap: attribute field %q not found", nameField)
	}

	fc := &geojson.FeatureCollection{}
	for reader.Next() {
		_, shape := reader.Shape()
		name := strings.TrimRight(reader.Attribute(nameIdx), "\x00")
		name = strings.TrimSpace(name)

		districtName, rates, ok := matchDistrict(name, indexByDistrict)
		if !ok {
			e.log.Debug("no district for shape", zap.String("name", name))
			continue
		}

		g, err := shapeToGeom(shape)
		if err != nil {
			return 0, eris.Wrapf(err, "geomap: shape %q", name)
		}

		props := map[string]interface{}{"district": districtName}
		for year, normalized := range rates {
			props[fmt.Sprintf("index_%d", year)] = normalized
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			Geometry:   g,
			Properties: props,
		})
	}

	data, err := json.Marshal(fc)
	if err != nil {
		return 0, eris.Wrap(err, "geomap: marshal feature collection")
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return 0, eris.Wrapf(err, "geomap: write %s", outPath)
	}

	e.log.Info("exported map data", zap.Int("features", len(fc.Features)), zap.String("path", outPath))
	return len(fc.Features), nil
}

// loadIndexes builds district name -> year -> normalized index from the
// derived statistics table.
func (e *Exporter) loadIndexes(ctx context.Context) (map[string]map[int]float64, error) {
	districts, err := e.store.ListDistricts(ctx)
	if err != nil {
		return nil, err
	}
	districtName := make(map[int64]string, len(districts))
	for _, d := range districts {
		districtName[d.ID] = d.Name
	}

	years, err := e.store.ListYears(ctx)
	if err != nil {
		return nil, err
	}
	yearValue := make(map[int64]int, len(years))
	for _, y := range years {
		yearValue[y.ID] = y.Year
	}

	stats, err := e.store.AllCrimeStatistics(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]map[int]float64)
	for _, s := range stats {
		name := districtName[s.DistrictID]
		if out[name] == nil {
			out[name] = make(map[int]float64)
		}
		out[name][yearValue[s.YearID]] = s.Normalized
	}
	return out, nil
}

// matchDistrict finds the stored district whose name contains the shape
// name or vice versa, case-insensitive. Shapefiles often carry short forms
// ("Алга") of the official names ("пункт Алга").
func matchDistrict(shapeName string, indexes map[string]map[int]float64) (string, map[int]float64, bool) {
	if shapeName == "" {
		return "", nil, false
	}
	needle := strings.ToLower(shapeName)
	for districtName, rates := range indexes {
		n := strings.ToLower(districtName)
		if strings.Contains(n, needle) || strings.Contains(needle, n) {
			return districtName, rates, true
		}
	}
	return "", nil, false
}

// shapeToGeom converts a shapefile polygon into a go-geom MultiPolygon,
// one polygon per part.
func shapeToGeom(shape shp.Shape) (geom.T, error) {
	p, ok := shape.(*shp.Polygon)
	if !ok {
		return nil, eris.Errorf("unsupported shape type %T", shape)
	}
	if p.NumParts == 0 || len(p.Points) == 0 {
		return nil, eris.New("empty polygon")
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		ring := geom.NewLinearRingFlat(geom.XY, flat)
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(ring); err != nil {
			return nil, eris.Wrap(err, "polygon ring")
		}
		if err := mp.Push(poly); err != nil {
			return nil, eris.Wrap(err, "polygon part")
		}
	}

	return mp, nil
}
