package ee

// Feature is a server-side feature: a geometry plus properties.
type Feature struct {
	v *value
}

func (f Feature) node() *value { return f.v }

// NewFeature builds a feature from a geometry and constant or computed properties.
func NewFeature(geometry Geometry, properties map[string]interface{}) Feature {
	entries := make(map[string]*value, len(properties))
	for k, p := range properties {
		entries[k] = argOf(p)
	}
	return Feature{invoke("Feature", map[string]*value{
		"geometry": geometry.v,
		"metadata": dict(entries),
	})}
}

// Buffer grows (or, for a negative distance, shrinks) the feature geometry in
// meters. A zero maxError leaves the server default.
func (f Feature) Buffer(distance, maxError float64) Feature {
	args := map[string]*value{
		"feature":  f.v,
		"distance": constant(distance),
	}
	if maxError > 0 {
		args["maxError"] = constant(maxError)
	}
	return Feature{invoke("Feature.buffer", args)}
}

// Geometry returns the feature geometry.
func (f Feature) Geometry() Geometry {
	return Geometry{invoke("Feature.geometry", map[string]*value{
		"feature": f.v,
	})}
}

// Set sets one property. val may be a Go constant or any Expr.
func (f Feature) Set(key string, val interface{}) Feature {
	return Feature{invoke("Element.set", map[string]*value{
		"object": f.v,
		"key":    constant(key),
		"value":  argOf(val),
	})}
}

// SetMulti sets several properties in one call.
func (f Feature) SetMulti(properties map[string]interface{}) Feature {
	entries := make(map[string]*value, len(properties))
	for k, p := range properties {
		entries[k] = argOf(p)
	}
	return Feature{invoke("Element.setMulti", map[string]*value{
		"object":     f.v,
		"properties": dict(entries),
	})}
}

// Get reads a property.
func (f Feature) Get(property string) Object {
	return Object{invoke("Element.get", map[string]*value{
		"object":   f.v,
		"property": constant(property),
	})}
}

// Copy returns a new feature with geometry g and the listed properties of f.
func (f Feature) Copy(g Geometry, properties []string) Feature {
	out := NewFeature(g, nil)
	return Feature{invoke("Element.copyProperties", map[string]*value{
		"destination": out.v,
		"source":      f.v,
		"properties":  constant(properties),
	})}
}
