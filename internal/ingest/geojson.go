package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// GeoJSONReader reads a FeatureCollection file. Coordinates are assumed to be
// lon/lat WGS84 already, as RFC 7946 requires.
type GeoJSONReader struct{}

type geoJSONFile struct {
	Type     string `json:"type"`
	Features []struct {
		Type       string                 `json:"type"`
		Properties map[string]interface{} `json:"properties"`
		Geometry   json.RawMessage        `json:"geometry"`
	} `json:"features"`
}

// Read implements Reader. layer is ignored.
func (GeoJSONReader) Read(_ context.Context, path, _ string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var file geoJSONFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if file.Type != "FeatureCollection" {
		return nil, fmt.Errorf("%s: expected FeatureCollection, got %q", path, file.Type)
	}

	table := &Table{Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))}
	for i, f := range file.Features {
		if isNullGeometry(f.Geometry) {
			continue
		}
		geom, err := Flatten2D(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("%s: feature %d: %w", path, i, err)
		}
		props := f.Properties
		if props == nil {
			props = map[string]interface{}{}
		}
		table.Features = append(table.Features, Feature{Properties: props, Geometry: geom})
	}
	table.Columns = columnsFromFeatures(table.Features)
	return table, nil
}

func isNullGeometry(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

// Flatten2D drops Z and M values from every coordinate of a GeoJSON geometry.
func Flatten2D(raw json.RawMessage) (json.RawMessage, error) {
	var geom map[string]interface{}
	if err := json.Unmarshal(raw, &geom); err != nil {
		return nil, fmt.Errorf("invalid geometry: %w", err)
	}
	flattenGeometry(geom)
	return json.Marshal(geom)
}

func flattenGeometry(geom map[string]interface{}) {
	if coords, ok := geom["coordinates"]; ok {
		geom["coordinates"] = flattenCoords(coords)
	}
	if parts, ok := geom["geometries"].([]interface{}); ok {
		for _, p := range parts {
			if m, ok := p.(map[string]interface{}); ok {
				flattenGeometry(m)
			}
		}
	}
}

func flattenCoords(c interface{}) interface{} {
	list, ok := c.([]interface{})
	if !ok || len(list) == 0 {
		return c
	}
	if _, isPosition := list[0].(float64); isPosition {
		if len(list) > 2 {
			return list[:2]
		}
		return list
	}
	for i := range list {
		list[i] = flattenCoords(list[i])
	}
	return list
}
