package ee

// Filter is a server-side predicate over features.
type Filter struct {
	v *value
}

func (f Filter) node() *value { return f.v }

// Intersects matches features whose geometry intersects geometry.
func Intersects(geometry Expr, maxError float64) Filter {
	args := map[string]*value{
		"leftField":  constant(".all"),
		"rightValue": geometry.node(),
	}
	if maxError > 0 {
		args["maxError"] = constant(maxError)
	}
	return Filter{invoke("Filter.intersects", args)}
}

// Equals matches features whose property equals val.
func Equals(property string, val interface{}) Filter {
	return Filter{invoke("Filter.equals", map[string]*value{
		"leftField":  constant(property),
		"rightValue": argOf(val),
	})}
}

// And matches features passing every filter.
func And(filters ...Filter) Filter {
	items := make([]*value, len(filters))
	for i, f := range filters {
		items[i] = f.v
	}
	return Filter{invoke("Filter.and", map[string]*value{
		"filters": array(items),
	})}
}
