// Package resample places frames and coverage masks onto the shared
// reference grid, undoing the jitter recorded for each exposure.
package resample

import (
	"math"

	"github.com/ajroetker/go-highway/hwy/contrib/workerpool"

	"drizzlesim/internal/models"
	"drizzlesim/pkg/raster"
)

// Resampler performs nearest-neighbour placement. The same instance is
// used for frame data and coverage masks so both are shifted identically.
//
// Rows of the destination are independent, so they are split across a
// worker pool. A Resampler must be closed when no longer needed.
type Resampler struct {
	pool *workerpool.Pool
}

// New creates a resampler backed by numWorkers goroutines. Values <= 1 run
// every placement on the calling goroutine.
func New(numWorkers int) *Resampler {
	r := &Resampler{}
	if numWorkers > 1 {
		r.pool = workerpool.New(numWorkers)
	}
	return r
}

// Close releases the worker pool
func (r *Resampler) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// ParallelRows runs fn over [0, n) rows, split across the pool when present
func (r *Resampler) ParallelRows(n int, fn func(start, end int)) {
	if r == nil || r.pool == nil {
		fn(0, n)
		return
	}
	r.pool.ParallelFor(n, fn)
}

// sourceIndex maps destination coordinate d to a source coordinate.
// The source is stretched over the destination extent with its origin
// moved to -offset, which is the centred placement translated by the
// negative of the recorded jitter. Returns -1 when the sample falls
// outside the source.
func sourceIndex(d int, offset float64, srcSize, dstSize int) int {
	s := int(math.Floor((float64(d) + 0.5 + offset) * float64(srcSize) / float64(dstSize)))
	if s < 0 || s >= srcSize {
		return -1
	}
	return s
}

// indexTable precomputes sourceIndex for every destination coordinate
func indexTable(offset float64, srcSize, dstSize int) []int {
	table := make([]int, dstSize)
	for d := range table {
		table[d] = sourceIndex(d, offset, srcSize, dstSize)
	}
	return table
}

// Place overwrites dst with src resampled onto dst's grid under transform
// t. Destination site (x, y) receives the source value at
// ((x + dx), (y + dy)) scaled by the source/destination size ratio, using
// point sampling. Sites whose sample falls outside the source are set to
// 0. Rotation is not applied.
func (r *Resampler) Place(dst, src *raster.Grid, t models.Transform) {
	cols := indexTable(t.DX, src.Width(), dst.Width())
	rows := indexTable(t.DY, src.Height(), dst.Height())

	r.ParallelRows(dst.Height(), func(start, end int) {
		for y := start; y < end; y++ {
			sy := rows[y]
			for c := 0; c < raster.NumChannels; c++ {
				out := dst.Row(c, y)
				if sy < 0 {
					clear(out)
					continue
				}
				in := src.Row(c, sy)
				for x, sx := range cols {
					if sx < 0 {
						out[x] = 0
					} else {
						out[x] = in[sx]
					}
				}
			}
		}
	})
}

// Resize returns src scaled to width x height with nearest-neighbour
// sampling and no offset
func (r *Resampler) Resize(src *raster.Grid, width, height int) *raster.Grid {
	if src.Width() == width && src.Height() == height {
		return src.Clone()
	}
	dst := raster.NewGrid(width, height)
	r.Place(dst, src, models.Transform{})
	return dst
}
