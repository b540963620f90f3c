package ee

// Number is a server-side number.
type Number struct {
	v *value
}

func (n Number) node() *value { return n.v }

// NumberOf wraps an Object (for example a property read with Get) as a number.
func NumberOf(o Object) Number { return Number{o.v} }

func (n Number) binary(fn string, other interface{}) Number {
	return Number{invoke(fn, map[string]*value{
		"left":  n.v,
		"right": argOf(other),
	})}
}

// Gt is 1 when n > other, else 0.
func (n Number) Gt(other interface{}) Number { return n.binary("Number.gt", other) }

// Eq is 1 when n == other, else 0.
func (n Number) Eq(other interface{}) Number { return n.binary("Number.eq", other) }

// Int truncates to an integer.
func (n Number) Int() Number {
	return Number{invoke("Number.int", map[string]*value{"input": n.v})}
}

// Date is a server-side timestamp.
type Date struct {
	v *value
}

func (d Date) node() *value { return d.v }

// DateFromYMD builds a UTC date.
func DateFromYMD(year, month, day interface{}) Date {
	return Date{invoke("Date.fromYMD", map[string]*value{
		"year":  argOf(year),
		"month": argOf(month),
		"day":   argOf(day),
	})}
}

// Millis returns milliseconds since the epoch.
func (d Date) Millis() Number {
	return Number{invoke("Date.millis", map[string]*value{"date": d.v})}
}

// List is a server-side list.
type List struct {
	v *value
}

func (l List) node() *value { return l.v }

// Size returns the number of elements.
func (l List) Size() Number {
	return Number{invoke("List.size", map[string]*value{"list": l.v})}
}
