// Package raster provides the dense multi-channel grid used for frames,
// coverage patterns and accumulators, plus conversion to and from images.
package raster

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// NumChannels is the number of colour channels carried by a Grid. Alpha is
// not stored: every grid is implicitly fully opaque.
const NumChannels = 3

// Channel indexes
const (
	Red = iota
	Green
	Blue
)

// MaxValue is the largest sample value of an 8-bit channel
const MaxValue = 255.0

// Grid is a width x height raster with one float64 plane per channel.
// Planes are gonum dense matrices indexed (row=y, col=x).
type Grid struct {
	width  int
	height int
	planes [NumChannels]*mat.Dense
}

// NewGrid allocates a zero-filled grid. It panics if either dimension is
// not positive, mirroring mat.NewDense.
func NewGrid(width, height int) *Grid {
	g := &Grid{width: width, height: height}
	for c := range g.planes {
		g.planes[c] = mat.NewDense(height, width, nil)
	}
	return g
}

// Width returns the number of columns
func (g *Grid) Width() int { return g.width }

// Height returns the number of rows
func (g *Grid) Height() int { return g.height }

// Bounds returns the grid extent as an image rectangle anchored at the origin
func (g *Grid) Bounds() image.Rectangle { return image.Rect(0, 0, g.width, g.height) }

// Plane returns the backing matrix of channel c
func (g *Grid) Plane(c int) *mat.Dense { return g.planes[c] }

// At returns the value of channel c at (x, y)
func (g *Grid) At(x, y, c int) float64 { return g.planes[c].At(y, x) }

// Set writes the value of channel c at (x, y)
func (g *Grid) Set(x, y, c int, v float64) { g.planes[c].Set(y, x, v) }

// Row returns a view of row y of channel c. Writes go to the grid.
func (g *Grid) Row(c, y int) []float64 { return g.planes[c].RawRowView(y) }

// SameShape reports whether o has the same dimensions as g
func (g *Grid) SameShape(o *Grid) bool {
	return g.width == o.width && g.height == o.height
}

// Zero resets every sample to 0
func (g *Grid) Zero() {
	for _, p := range g.planes {
		p.Zero()
	}
}

// Clone returns a deep copy
func (g *Grid) Clone() *Grid {
	out := &Grid{width: g.width, height: g.height}
	for c, p := range g.planes {
		out.planes[c] = mat.DenseCopyOf(p)
	}
	return out
}

// Add accumulates o into g element-wise
func (g *Grid) Add(o *Grid) error {
	if !g.SameShape(o) {
		return fmt.Errorf("grid shape mismatch: %dx%d vs %dx%d", g.width, g.height, o.width, o.height)
	}
	for c := range g.planes {
		g.planes[c].Add(g.planes[c], o.planes[c])
	}
	return nil
}

// MulElem multiplies g by o element-wise
func (g *Grid) MulElem(o *Grid) error {
	if !g.SameShape(o) {
		return fmt.Errorf("grid shape mismatch: %dx%d vs %dx%d", g.width, g.height, o.width, o.height)
	}
	for c := range g.planes {
		g.planes[c].MulElem(g.planes[c], o.planes[c])
	}
	return nil
}

// Scale multiplies every sample by f
func (g *Grid) Scale(f float64) {
	for _, p := range g.planes {
		p.Scale(f, p)
	}
}

// Sum returns the total over all sites and channels
func (g *Grid) Sum() float64 {
	total := 0.0
	for c := range g.planes {
		total += g.ChannelSum(c)
	}
	return total
}

// ChannelSum returns the total of one channel
func (g *Grid) ChannelSum(c int) float64 {
	total := 0.0
	for y := 0; y < g.height; y++ {
		total += floats.Sum(g.Row(c, y))
	}
	return total
}

// Mean returns the average over all sites and channels
func (g *Grid) Mean() float64 {
	return g.Sum() / float64(g.width*g.height*NumChannels)
}

// Values returns all samples of every channel in plane order
func (g *Grid) Values() []float64 {
	out := make([]float64, 0, g.width*g.height*NumChannels)
	for c := range g.planes {
		for y := 0; y < g.height; y++ {
			out = append(out, g.Row(c, y)...)
		}
	}
	return out
}

// EqualApprox reports whether every sample of g and o differs by at most tol
func (g *Grid) EqualApprox(o *Grid, tol float64) bool {
	if !g.SameShape(o) {
		return false
	}
	for c := range g.planes {
		if !mat.EqualApprox(g.planes[c], o.planes[c], tol) {
			return false
		}
	}
	return true
}

// FromImage converts an image into a grid of 8-bit channel values in [0, 255].
// Alpha is discarded.
func FromImage(img image.Image) *Grid {
	b := img.Bounds()
	g := NewGrid(b.Dx(), b.Dy())

	switch src := img.(type) {
	case *image.RGBA:
		for y := 0; y < g.height; y++ {
			for x := 0; x < g.width; x++ {
				i := src.PixOffset(b.Min.X+x, b.Min.Y+y)
				g.Set(x, y, Red, float64(src.Pix[i]))
				g.Set(x, y, Green, float64(src.Pix[i+1]))
				g.Set(x, y, Blue, float64(src.Pix[i+2]))
			}
		}
	case *image.NRGBA:
		for y := 0; y < g.height; y++ {
			for x := 0; x < g.width; x++ {
				i := src.PixOffset(b.Min.X+x, b.Min.Y+y)
				g.Set(x, y, Red, float64(src.Pix[i]))
				g.Set(x, y, Green, float64(src.Pix[i+1]))
				g.Set(x, y, Blue, float64(src.Pix[i+2]))
			}
		}
	default:
		for y := 0; y < g.height; y++ {
			for x := 0; x < g.width; x++ {
				c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
				g.Set(x, y, Red, float64(c.R))
				g.Set(x, y, Green, float64(c.G))
				g.Set(x, y, Blue, float64(c.B))
			}
		}
	}

	return g
}

// ToImage quantizes the grid to an opaque 8-bit RGBA image. Values are
// rounded to nearest and clamped to [0, 255].
func (g *Grid) ToImage() *image.RGBA {
	img := image.NewRGBA(g.Bounds())
	for y := 0; y < g.height; y++ {
		r, gr, b := g.Row(Red, y), g.Row(Green, y), g.Row(Blue, y)
		for x := 0; x < g.width; x++ {
			i := img.PixOffset(x, y)
			img.Pix[i] = Quantize(r[x])
			img.Pix[i+1] = Quantize(gr[x])
			img.Pix[i+2] = Quantize(b[x])
			img.Pix[i+3] = 0xff
		}
	}
	return img
}

// Clamp limits v to the valid channel range [0, 255]
func Clamp(v float64) float64 {
	return math.Max(0, math.Min(MaxValue, v))
}

// Quantize rounds v to the nearest 8-bit channel value after clamping
func Quantize(v float64) uint8 {
	if math.IsNaN(v) {
		return 0
	}
	return uint8(math.Round(Clamp(v)))
}
