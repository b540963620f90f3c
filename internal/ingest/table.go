// Package ingest reads local vector layers (file geodatabases, shapefiles and
// GeoJSON), cleans and filters their attribute tables, and uploads them as
// Earth Engine table assets.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"leafprep/internal/config"
)

// Feature is one row of a layer: its attributes and a lon/lat GeoJSON geometry.
type Feature struct {
	Properties map[string]interface{}
	Geometry   json.RawMessage
}

// Table is a layer read into memory. Columns keeps the attribute order of the
// source.
type Table struct {
	Name     string
	Columns  []string
	Features []Feature
}

// Reader reads one layer of a dataset.
type Reader interface {
	Read(ctx context.Context, path, layer string) (*Table, error)
}

// ReaderFor returns the reader for a source kind.
func ReaderFor(kind string) (Reader, error) {
	switch kind {
	case "gdb", "shp":
		return OGRReader{}, nil
	case "geojson":
		return GeoJSONReader{}, nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", kind)
	}
}

// Load reads the source layer and prepares it.
func Load(ctx context.Context, src config.SourceConfig) (*Table, error) {
	reader, err := ReaderFor(src.Kind)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", src.Name, err)
	}
	t, err := reader.Read(ctx, src.Path, src.Layer)
	if err != nil {
		return nil, err
	}
	if err := Prepare(t, src); err != nil {
		return nil, err
	}
	return t, nil
}

// Len returns the number of features.
func (t *Table) Len() int { return len(t.Features) }

// hasColumn reports whether name is a column.
func (t *Table) hasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// columnsFromFeatures derives a sorted column list when the source has no
// schema, as with GeoJSON.
func columnsFromFeatures(features []Feature) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, f := range features {
		for k := range f.Properties {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}
