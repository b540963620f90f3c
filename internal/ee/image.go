package ee

// Image is a server-side raster.
type Image struct {
	v *value
}

func (i Image) node() *value { return i.v }

// LoadImage references an existing image asset.
func LoadImage(id string) Image {
	return Image{invoke("Image.load", map[string]*value{"id": constant(id)})}
}

// ConstantImage is an image with every pixel set to x.
func ConstantImage(x float64) Image {
	return Image{invoke("Image.constant", map[string]*value{"value": constant(x)})}
}

// Eq is 1 where the pixel equals x.
func (i Image) Eq(x float64) Image {
	return Image{invoke("Image.eq", map[string]*value{
		"image1": i.v,
		"image2": ConstantImage(x).v,
	})}
}

// UpdateMask masks out pixels where mask is zero.
func (i Image) UpdateMask(mask Image) Image {
	return Image{invoke("Image.updateMask", map[string]*value{
		"image": i.v,
		"mask":  mask.v,
	})}
}

// ReduceToVectorsOptions configures ReduceToVectors.
type ReduceToVectorsOptions struct {
	GeometryType  string // polygon by default
	Scale         float64
	MaxPixels     float64
	BestEffort    bool
	LabelProperty string
	Geometry      *Geometry // region; nil means the image footprint
}

// ReduceToVectors converts connected pixel regions into polygons.
func (i Image) ReduceToVectors(opts ReduceToVectorsOptions) FeatureCollection {
	geomType := opts.GeometryType
	if geomType == "" {
		geomType = "polygon"
	}
	args := map[string]*value{
		"image":        i.v,
		"geometryType": constant(geomType),
	}
	if opts.Scale > 0 {
		args["scale"] = constant(opts.Scale)
	}
	if opts.MaxPixels > 0 {
		args["maxPixels"] = constant(int64(opts.MaxPixels))
	}
	if opts.BestEffort {
		args["bestEffort"] = constant(true)
	}
	if opts.LabelProperty != "" {
		args["labelProperty"] = constant(opts.LabelProperty)
	}
	if opts.Geometry != nil {
		args["geometry"] = opts.Geometry.v
	}
	return FeatureCollection{invoke("Image.reduceToVectors", args)}
}
