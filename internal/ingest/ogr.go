package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"

	"leafprep/internal/logging"
)

// lonLat is WGS84 with longitude first, the axis order GeoJSON and Earth
// Engine expect.
const lonLat = "+proj=longlat +datum=WGS84 +no_defs"

var registerOnce sync.Once

// OGRReader reads vector layers through GDAL/OGR: file geodatabases,
// shapefiles and anything else OGR opens.
type OGRReader struct{}

// Read implements Reader. An empty layer name selects the first layer.
func (OGRReader) Read(ctx context.Context, path, layer string) (*Table, error) {
	registerOnce.Do(godal.RegisterAll)

	ds, err := godal.Open(path, godal.VectorOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer ds.Close()

	lyr, err := findLayer(ds, layer)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	dst, err := godal.NewSpatialRefFromProj4(lonLat)
	if err != nil {
		return nil, fmt.Errorf("failed to create WGS84 reference: %w", err)
	}
	defer dst.Close()
	reproject := true
	if src := lyr.SpatialRef(); src == nil {
		logging.Get(logging.CategoryIngest).Warn("Layer %s has no spatial reference, assuming lon/lat", lyr.Name())
		reproject = false
	}

	name := lyr.Name()
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	table := &Table{Name: name}
	columns := make(map[string]bool)
	skipped := 0

	lyr.ResetReading()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		feat := lyr.NextFeature()
		if feat == nil {
			break
		}
		row, ok, err := readFeature(feat, dst, reproject)
		feat.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if !ok {
			skipped++
			continue
		}
		for k := range row.Properties {
			columns[k] = true
		}
		table.Features = append(table.Features, row)
	}

	for c := range columns {
		table.Columns = append(table.Columns, c)
	}
	sort.Strings(table.Columns)
	logging.Ingest("Read %d feature(s) from %s (%d without geometry skipped)", len(table.Features), name, skipped)
	return table, nil
}

func findLayer(ds *godal.Dataset, name string) (godal.Layer, error) {
	layers := ds.Layers()
	if len(layers) == 0 {
		return godal.Layer{}, fmt.Errorf("no vector layers")
	}
	if name == "" {
		return layers[0], nil
	}
	var names []string
	for _, l := range layers {
		if l.Name() == name {
			return l, nil
		}
		names = append(names, l.Name())
	}
	return godal.Layer{}, fmt.Errorf("layer %q not found (have %s)", name, strings.Join(names, ", "))
}

// readFeature converts one OGR feature. ok is false for features without a
// geometry.
func readFeature(feat *godal.Feature, dst *godal.SpatialRef, reproject bool) (Feature, bool, error) {
	geom := feat.Geometry()
	if geom == nil {
		return Feature{}, false, nil
	}
	defer geom.Close()
	if reproject {
		if err := geom.Reproject(dst); err != nil {
			return Feature{}, false, fmt.Errorf("failed to reproject geometry: %w", err)
		}
	}
	gj, err := geom.GeoJSON()
	if err != nil {
		return Feature{}, false, fmt.Errorf("failed to encode geometry: %w", err)
	}
	if isNullGeometry(json.RawMessage(gj)) {
		return Feature{}, false, nil
	}
	flat, err := Flatten2D(json.RawMessage(gj))
	if err != nil {
		return Feature{}, false, err
	}

	props := make(map[string]interface{})
	for k, f := range feat.Fields() {
		props[k] = fieldValue(f)
	}
	return Feature{Properties: props, Geometry: flat}, true, nil
}

func fieldValue(f godal.Field) interface{} {
	switch f.Type() {
	case godal.FTInt, godal.FTInt64:
		return int64(f.Int())
	case godal.FTReal:
		return float64(f.Float())
	default:
		return f.String()
	}
}
