// Package recipes holds the server-side feature functions the pipeline maps
// over well collections: buffers, reference rings, intersection flags and the
// date and area properties the LEAF sampler reads.
package recipes

import (
	"time"

	"leafprep/internal/ee"
)

// Defaults used by the well pipeline, in meters.
const (
	DefaultBuffer          = 30
	DefaultInwardDilation  = -30
	DefaultReferenceOuter  = 90
	DefaultReferenceError  = 1
	DefaultRasterScale     = 10
	DefaultRasterMaxPixels = 1e8
)

// Property names written by the recipes.
const (
	PropertyEmptyBuffer = "empty_buffer"
	PropertyArea        = "area"
	PropertyRandom      = "random"
	PropertyTimeStart   = "system:time_start"
	PropertyTimeEnd     = "system:time_end"
)

// Buffer grows every feature by distance meters.
func Buffer(distance float64) func(ee.Feature) ee.Feature {
	return func(f ee.Feature) ee.Feature {
		return f.Buffer(distance, 0)
	}
}

// InwardDilation shrinks every feature by |distance| meters with a 1 m error
// margin.
func InwardDilation(distance float64) func(ee.Feature) ee.Feature {
	if distance > 0 {
		distance = -distance
	}
	return func(f ee.Feature) ee.Feature {
		return f.Buffer(distance, DefaultReferenceError)
	}
}

// ReferenceBuffer replaces each well with the ring between an inner buffer
// of inner meters and that buffer grown by outer meters. The carried
// properties are copied from the well; missing ones are skipped.
func ReferenceBuffer(inner, outer, maxError float64, carry []string) func(ee.Feature) ee.Feature {
	return func(f ee.Feature) ee.Feature {
		innerGeom := f.Buffer(inner, maxError).Geometry()
		ring := innerGeom.Buffer(outer, maxError).Difference(innerGeom, 0)
		if len(carry) == 0 {
			return ee.NewFeature(ring, nil)
		}
		return f.Copy(ring, carry)
	}
}

// CheckEmptyCoordinates sets empty_buffer to 1 when the geometry has no
// coordinates left, as happens after an inward dilation of a small polygon.
func CheckEmptyCoordinates(f ee.Feature) ee.Feature {
	isEmpty := f.Geometry().Coordinates().Size().Eq(0)
	return f.Set(PropertyEmptyBuffer, isEmpty)
}

// SetDates sets system:time_start to January 1 of the year stored in
// yearProperty and system:time_end to end.
func SetDates(yearProperty string, end time.Time) func(ee.Feature) ee.Feature {
	return func(f ee.Feature) ee.Feature {
		year := ee.NumberOf(f.Get(yearProperty)).Int()
		start := ee.DateFromYMD(year, 1, 1).Millis()
		stop := ee.DateFromYMD(end.Year(), int(end.Month()), end.Day()).Millis()
		return f.Set(PropertyTimeStart, start).Set(PropertyTimeEnd, stop)
	}
}

// SetArea stores the geodesic area in square meters.
func SetArea(f ee.Feature) ee.Feature {
	return f.Set(PropertyArea, f.Geometry().Area(0))
}

// FlagLayer is a collection wells are tested against.
type FlagLayer struct {
	Name       string
	Collection ee.FeatureCollection
	// Buffer adds an intersects_<name>_buffer flag against the layer grown
	// by this many meters. Zero disables it.
	Buffer float64
}

// FlagField is the property set when a well intersects the layer.
func FlagField(layer string) string { return "intersects_" + layer }

// BufferFlagField is the property set when a well intersects the buffered layer.
func BufferFlagField(layer string) string { return "intersects_" + layer + "_buffer" }

// FlagFields lists the properties IntersectionFlags sets for layers.
func FlagFields(layers []FlagLayer) []string {
	var out []string
	for _, l := range layers {
		out = append(out, FlagField(l.Name))
		if l.Buffer > 0 {
			out = append(out, BufferFlagField(l.Name))
		}
	}
	return out
}

// IntersectionFlags sets, for every well and layer, 1 when any layer feature
// intersects the well geometry and 0 otherwise.
func IntersectionFlags(wells ee.FeatureCollection, layers []FlagLayer) ee.FeatureCollection {
	buffered := make([]ee.FeatureCollection, len(layers))
	for i, l := range layers {
		if l.Buffer > 0 {
			buffered[i] = l.Collection.Map(Buffer(l.Buffer))
		}
	}
	return wells.Map(func(well ee.Feature) ee.Feature {
		geom := well.Geometry()
		out := well
		for i, l := range layers {
			out = out.Set(FlagField(l.Name), l.Collection.FilterBounds(geom).Size().Gt(0))
			if l.Buffer > 0 {
				out = out.Set(BufferFlagField(l.Name), buffered[i].FilterBounds(geom).Size().Gt(0))
			}
		}
		return out
	})
}

// RasterClassVectors turns the pixels of image equal to class into polygons
// labelled with label.
func RasterClassVectors(image ee.Image, class int, scale float64, label string) ee.FeatureCollection {
	if scale <= 0 {
		scale = DefaultRasterScale
	}
	mask := image.Eq(float64(class))
	return image.UpdateMask(mask).ReduceToVectors(ee.ReduceToVectorsOptions{
		GeometryType:  "polygon",
		Scale:         scale,
		MaxPixels:     DefaultRasterMaxPixels,
		BestEffort:    true,
		LabelProperty: label,
	})
}

// FilterUnflagged keeps features where every field is 0.
func FilterUnflagged(fc ee.FeatureCollection, fields []string) ee.FeatureCollection {
	filters := make([]ee.Filter, len(fields))
	for i, f := range fields {
		filters[i] = ee.Equals(f, 0)
	}
	if len(filters) == 1 {
		return fc.Filter(filters[0])
	}
	return fc.Filter(ee.And(filters...))
}

// RandomSample picks n features uniformly with a fixed seed.
func RandomSample(fc ee.FeatureCollection, n int, seed int64) ee.FeatureCollection {
	return fc.RandomColumn(PropertyRandom, seed).Sort(PropertyRandom, true).Limit(n)
}
