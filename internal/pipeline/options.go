package pipeline

// DefaultMaxPixels matches the decompression bomb threshold common image
// libraries apply (twice 89,478,485 pixels).
const DefaultMaxPixels int64 = 2 * 89_478_485

// Ratio is a width:height aspect ratio.
type Ratio struct {
	W int
	H int
}

func (r Ratio) Float() float64 {
	return float64(r.W) / float64(r.H)
}

func (r Ratio) valid() bool {
	return r.W > 0 && r.H > 0
}

type Options struct {
	AspectRatio Ratio
	// Tolerance is the allowed absolute difference between the image's
	// width/height and AspectRatio before a crop is applied.
	Tolerance   float64
	LogoScale   float64
	LogoPadding int
	Quality     int
	// MaxPixels caps width*height as declared by the image header. Larger
	// inputs are rejected before any pixel buffer is allocated.
	MaxPixels int64
}

func DefaultOptions() Options {
	return Options{
		AspectRatio: Ratio{W: 4, H: 3},
		Tolerance:   0.01,
		LogoScale:   0.2,
		LogoPadding: 10,
		Quality:     85,
		MaxPixels:   DefaultMaxPixels,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if !o.AspectRatio.valid() {
		o.AspectRatio = def.AspectRatio
	}
	if o.Tolerance <= 0 {
		o.Tolerance = def.Tolerance
	}
	if o.LogoScale <= 0 || o.LogoScale > 1 {
		o.LogoScale = def.LogoScale
	}
	if o.LogoPadding < 0 {
		o.LogoPadding = def.LogoPadding
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = def.Quality
	}
	if o.MaxPixels <= 0 {
		o.MaxPixels = def.MaxPixels
	}
	return o
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
