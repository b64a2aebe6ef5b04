// Package demosaic fills in the missing colour samples of an RGGB mosaic
// by averaging same-channel neighbours.
package demosaic

import (
	"drizzlesim/pkg/coverage"
	"drizzlesim/pkg/raster"
)

// RowRunner splits row work across workers. *resample.Resampler satisfies it.
type RowRunner interface {
	ParallelRows(n int, fn func(start, end int))
}

// RGGB converts a mosaiced grid, where each site carries only the channel
// coverage.BayerChannel assigns to it, into a dense 3-channel grid.
//
// RGGB layout (row-major, 0-indexed):
//
//	(even row, even col) = R
//	(even row, odd  col) = G  (Gr)
//	(odd  row, even col) = G  (Gb)
//	(odd  row, odd  col) = B
//
// The live channel is kept as is. Missing green is the mean of the four
// N/E/S/W neighbours. At green sites red and blue come from the horizontal
// or vertical neighbour pair depending on row parity. At red and blue sites
// the opposite colour is the mean of the four diagonals. Neighbours outside
// the grid count as 0, so edge sites come out darker.
//
// rows may be nil, in which case the filter runs on the calling goroutine.
func RGGB(src *raster.Grid, rows RowRunner) *raster.Grid {
	width, height := src.Width(), src.Height()
	out := raster.NewGrid(width, height)

	px := func(x, y, c int) float64 {
		if x < 0 || y < 0 || x >= width || y >= height {
			return 0
		}
		return src.At(x, y, c)
	}
	cross := func(x, y, c int) float64 {
		return (px(x-1, y, c) + px(x+1, y, c) + px(x, y-1, c) + px(x, y+1, c)) / 4
	}
	diagonal := func(x, y, c int) float64 {
		return (px(x-1, y-1, c) + px(x+1, y-1, c) + px(x-1, y+1, c) + px(x+1, y+1, c)) / 4
	}
	horizontal := func(x, y, c int) float64 {
		return (px(x-1, y, c) + px(x+1, y, c)) / 2
	}
	vertical := func(x, y, c int) float64 {
		return (px(x, y-1, c) + px(x, y+1, c)) / 2
	}

	work := func(start, end int) {
		for y := start; y < end; y++ {
			evenRow := y%2 == 0
			rOut := out.Row(raster.Red, y)
			gOut := out.Row(raster.Green, y)
			bOut := out.Row(raster.Blue, y)

			for x := 0; x < width; x++ {
				var r, g, b float64

				switch coverage.BayerChannel(x, y) {
				case raster.Red:
					r = px(x, y, raster.Red)
					g = cross(x, y, raster.Green)
					b = diagonal(x, y, raster.Blue)

				case raster.Blue:
					r = diagonal(x, y, raster.Red)
					g = cross(x, y, raster.Green)
					b = px(x, y, raster.Blue)

				default:
					g = px(x, y, raster.Green)
					if evenRow {
						// Gr: red neighbours left/right, blue above/below
						r = horizontal(x, y, raster.Red)
						b = vertical(x, y, raster.Blue)
					} else {
						// Gb: red above/below, blue left/right
						r = vertical(x, y, raster.Red)
						b = horizontal(x, y, raster.Blue)
					}
				}

				rOut[x], gOut[x], bOut[x] = r, g, b
			}
		}
	}

	if rows == nil {
		work(0, height)
	} else {
		rows.ParallelRows(height, work)
	}
	return out
}
