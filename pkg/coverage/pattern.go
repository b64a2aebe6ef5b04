// Package coverage generates the sensor coverage masks that describe which
// channels were physically sampled at each site, before any frame shift.
package coverage

import (
	"fmt"
	"strings"

	"drizzlesim/pkg/raster"
)

// Scheme selects the sensor sampling layout
type Scheme string

const (
	// Bayer is an RGGB colour filter array: one live channel per site
	Bayer Scheme = "bayer"

	// DrizzleGrid keeps the 2x2 top-left sub-block of every 4x4 cell on
	// all channels and discards the rest
	DrizzleGrid Scheme = "drizzle-grid"

	// Full samples every channel at every site. Used for dense frames,
	// including demosaiced Bayer frames.
	Full Scheme = "full"
)

const (
	// DrizzleCellSize is the edge length of the repeating drizzle cell
	DrizzleCellSize = 4

	// DrizzleActiveSize is the edge length of the sampled block inside a cell
	DrizzleActiveSize = 2
)

// Schemes lists every supported scheme
var Schemes = []Scheme{Bayer, DrizzleGrid, Full}

// ParseScheme converts a configuration string into a Scheme
func ParseScheme(s string) (Scheme, error) {
	switch Scheme(strings.ToLower(strings.TrimSpace(s))) {
	case Bayer:
		return Bayer, nil
	case DrizzleGrid, "drizzle", "drizzlegrid":
		return DrizzleGrid, nil
	case Full, "dense":
		return Full, nil
	default:
		return "", fmt.Errorf("unknown coverage scheme %q (must be bayer, drizzle-grid or full)", s)
	}
}

func (s Scheme) String() string { return string(s) }

// Mosaiced reports whether frames of this scheme carry one channel per site
func (s Scheme) Mosaiced() bool { return s == Bayer }

// MasksFrames reports whether dense frames must be masked by the pattern at
// reference resolution before placement
func (s Scheme) MasksFrames() bool { return s == DrizzleGrid }

// FramePrefix is the file name prefix of frames captured with this scheme
func (s Scheme) FramePrefix() string {
	if s.Mosaiced() {
		return "bayered"
	}
	return "unbayered"
}

// PatternName is the file name used when the mask is exported
func (s Scheme) PatternName() string {
	switch s {
	case Bayer:
		return "bayerMatrix"
	case DrizzleGrid:
		return "drizzleGrid"
	default:
		return "fullMatrix"
	}
}

// PatternSize returns the resolution the mask is defined at. A Bayer mask
// has one entry per sensor site, so it lives at frame resolution and is
// upscaled by the resampler; the other masks live on the reference grid.
func (s Scheme) PatternSize(frameWidth, frameHeight, upscale int) (int, int) {
	if s == Bayer {
		return frameWidth, frameHeight
	}
	return frameWidth * upscale, frameHeight * upscale
}

// BayerChannel returns the live channel of an RGGB site
func BayerChannel(x, y int) int {
	evenRow := y%2 == 0
	evenCol := x%2 == 0
	switch {
	case evenRow && evenCol:
		return raster.Red
	case !evenRow && !evenCol:
		return raster.Blue
	default:
		return raster.Green
	}
}

// drizzleActive reports whether (x, y) falls in the sampled block of its cell
func drizzleActive(x, y int) bool {
	return x%DrizzleCellSize < DrizzleActiveSize && y%DrizzleCellSize < DrizzleActiveSize
}

// Generate builds the coverage mask for a scheme. Entries are 1 where a
// channel was sampled and 0 elsewhere. The result depends only on the
// arguments.
func Generate(width, height int, scheme Scheme) (*raster.Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid pattern size %dx%d", width, height)
	}

	mask := raster.NewGrid(width, height)
	switch scheme {
	case Bayer:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				mask.Set(x, y, BayerChannel(x, y), 1)
			}
		}

	case DrizzleGrid:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				if !drizzleActive(x, y) {
					continue
				}
				for c := 0; c < raster.NumChannels; c++ {
					mask.Set(x, y, c, 1)
				}
			}
		}

	case Full:
		for c := 0; c < raster.NumChannels; c++ {
			for y := 0; y < height; y++ {
				row := mask.Row(c, y)
				for x := range row {
					row[x] = 1
				}
			}
		}

	default:
		return nil, fmt.Errorf("unknown coverage scheme %q", scheme)
	}

	return mask, nil
}

// ActiveFraction is the share of site/channel pairs a mask samples
func ActiveFraction(mask *raster.Grid) float64 {
	return mask.Mean()
}

// Calibration derives the density constant K: the number of frames needed
// for one reference channel to be sampled at full density. It is the
// reciprocal of the active fraction (drizzle-grid 4, bayer 3, full 1).
// An empty mask yields 0.
func Calibration(mask *raster.Grid) float64 {
	f := ActiveFraction(mask)
	if f == 0 {
		return 0
	}
	return 1 / f
}

// Apply keeps only the sampled channels of frame, zeroing the rest in place.
// It is how a sensor with this mask sees a dense image.
func Apply(frame, mask *raster.Grid) error {
	if err := frame.MulElem(mask); err != nil {
		return fmt.Errorf("applying coverage mask: %w", err)
	}
	return nil
}

// ToImageGrid scales a 0/1 mask to 8-bit intensities for export
func ToImageGrid(mask *raster.Grid) *raster.Grid {
	out := mask.Clone()
	out.Scale(raster.MaxValue)
	return out
}
