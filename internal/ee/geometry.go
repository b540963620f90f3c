package ee

import (
	"encoding/json"
	"fmt"
)

// Geometry is a server-side geometry.
type Geometry struct {
	v *value
}

func (g Geometry) node() *value { return g.v }

// GeoJSON types accepted by GeometryFromGeoJSON.
var geometryConstructors = map[string]string{
	"Point":           "GeometryConstructors.Point",
	"MultiPoint":      "GeometryConstructors.MultiPoint",
	"LineString":      "GeometryConstructors.LineString",
	"MultiLineString": "GeometryConstructors.MultiLineString",
	"Polygon":         "GeometryConstructors.Polygon",
	"MultiPolygon":    "GeometryConstructors.MultiPolygon",
}

type geoJSONGeometry struct {
	Type        string            `json:"type"`
	Coordinates json.RawMessage   `json:"coordinates"`
	Geometries  []json.RawMessage `json:"geometries"`
}

// GeometryFromGeoJSON builds a geometry constructor call from a GeoJSON
// geometry object in lon/lat WGS84.
func GeometryFromGeoJSON(raw []byte) (Geometry, error) {
	var g geoJSONGeometry
	if err := json.Unmarshal(raw, &g); err != nil {
		return Geometry{}, fmt.Errorf("failed to parse GeoJSON geometry: %w", err)
	}

	if g.Type == "GeometryCollection" {
		parts := make([]*value, 0, len(g.Geometries))
		for i, child := range g.Geometries {
			part, err := GeometryFromGeoJSON(child)
			if err != nil {
				return Geometry{}, fmt.Errorf("geometry %d: %w", i, err)
			}
			parts = append(parts, part.v)
		}
		return Geometry{invoke("GeometryConstructors.MultiGeometry", map[string]*value{
			"geometries": array(parts),
		})}, nil
	}

	fn, ok := geometryConstructors[g.Type]
	if !ok {
		return Geometry{}, fmt.Errorf("unsupported geometry type %q", g.Type)
	}
	if len(g.Coordinates) == 0 || string(g.Coordinates) == "null" {
		return Geometry{}, fmt.Errorf("%s has no coordinates", g.Type)
	}
	return Geometry{invoke(fn, map[string]*value{
		"coordinates": constant(g.Coordinates),
	})}, nil
}

// Buffer grows the geometry by distance meters.
func (g Geometry) Buffer(distance, maxError float64) Geometry {
	args := map[string]*value{
		"geometry": g.v,
		"distance": constant(distance),
	}
	if maxError > 0 {
		args["maxError"] = constant(maxError)
	}
	return Geometry{invoke("Geometry.buffer", args)}
}

// Difference returns g minus other.
func (g Geometry) Difference(other Geometry, maxError float64) Geometry {
	args := map[string]*value{
		"left":  g.v,
		"right": other.v,
	}
	if maxError > 0 {
		args["maxError"] = constant(maxError)
	}
	return Geometry{invoke("Geometry.difference", args)}
}

// Area returns the geodesic area in square meters.
func (g Geometry) Area(maxError float64) Number {
	args := map[string]*value{"geometry": g.v}
	if maxError > 0 {
		args["maxError"] = constant(maxError)
	}
	return Number{invoke("Geometry.area", args)}
}

// Coordinates returns the coordinate list of the geometry.
func (g Geometry) Coordinates() List {
	return List{invoke("Geometry.coordinates", map[string]*value{
		"geometry": g.v,
	})}
}
