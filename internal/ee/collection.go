package ee

// FeatureCollection is a server-side collection of features.
type FeatureCollection struct {
	v *value
}

func (c FeatureCollection) node() *value { return c.v }

// LoadTable references an existing table asset.
func LoadTable(id string) FeatureCollection {
	return FeatureCollection{invoke("Collection.loadTable", map[string]*value{
		"tableId": constant(id),
	})}
}

// FromFeatures builds a collection from features assembled on the client.
func FromFeatures(features []Feature) FeatureCollection {
	items := make([]*value, len(features))
	for i, f := range features {
		items[i] = f.v
	}
	return FeatureCollection{invoke("Collection", map[string]*value{
		"features": array(items),
	})}
}

// FromList builds a collection from a server-side list of features.
func FromList(l List) FeatureCollection {
	return FeatureCollection{invoke("Collection", map[string]*value{
		"features": l.v,
	})}
}

// Map applies fn to every feature on the server.
func (c FeatureCollection) Map(fn func(Feature) Feature) FeatureCollection {
	body := defineFunction(func(arg *value) *value {
		return fn(Feature{arg}).v
	})
	return FeatureCollection{invoke("Collection.map", map[string]*value{
		"collection":    c.v,
		"baseAlgorithm": body,
	})}
}

// Filter keeps the features matching f.
func (c FeatureCollection) Filter(f Filter) FeatureCollection {
	return FeatureCollection{invoke("Collection.filter", map[string]*value{
		"collection": c.v,
		"filter":     f.v,
	})}
}

// FilterBounds keeps the features intersecting geometry, which may be a
// Geometry, Feature or FeatureCollection.
func (c FeatureCollection) FilterBounds(geometry Expr) FeatureCollection {
	return c.Filter(Intersects(geometry, 0))
}

// Size counts the features.
func (c FeatureCollection) Size() Number {
	return Number{invoke("Collection.size", map[string]*value{
		"collection": c.v,
	})}
}

// Limit keeps the first n features.
func (c FeatureCollection) Limit(n int) FeatureCollection {
	return FeatureCollection{invoke("Collection.limit", map[string]*value{
		"collection": c.v,
		"limit":      constant(n),
	})}
}

// Sort orders the collection by a property.
func (c FeatureCollection) Sort(property string, ascending bool) FeatureCollection {
	return FeatureCollection{invoke("Collection.limit", map[string]*value{
		"collection": c.v,
		"key":        constant(property),
		"ascending":  constant(ascending),
	})}
}

// ToList returns count features starting at offset.
func (c FeatureCollection) ToList(count, offset int) List {
	args := map[string]*value{
		"collection": c.v,
		"count":      constant(count),
	}
	if offset > 0 {
		args["offset"] = constant(offset)
	}
	return List{invoke("Collection.toList", args)}
}

// RandomColumn adds a uniform [0,1) column seeded by seed.
func (c FeatureCollection) RandomColumn(column string, seed int64) FeatureCollection {
	return FeatureCollection{invoke("Collection.randomColumn", map[string]*value{
		"collection": c.v,
		"columnName": constant(column),
		"seed":       constant(seed),
	})}
}

// Merge concatenates two collections.
func (c FeatureCollection) Merge(other FeatureCollection) FeatureCollection {
	return FeatureCollection{invoke("Collection.merge", map[string]*value{
		"collection1": c.v,
		"collection2": other.v,
	})}
}

// MergeAll folds Merge over several collections. It panics on an empty slice.
func MergeAll(collections []FeatureCollection) FeatureCollection {
	out := collections[0]
	for _, c := range collections[1:] {
		out = out.Merge(c)
	}
	return out
}
