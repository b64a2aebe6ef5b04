package reconstruction

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/montanaflynn/stats"
	"github.com/samber/lo"

	"drizzlesim/internal/logging"
	"drizzlesim/internal/models"
	"drizzlesim/pkg/coverage"
	"drizzlesim/pkg/raster"
	"drizzlesim/pkg/resample"
)

// Accumulator is the signal/coverage pair of one reconstruction run. Both
// grids live on the reference grid and only ever grow by addition.
type Accumulator struct {
	// Signal is the sum of placed frame values per site and channel
	Signal *raster.Grid

	// Coverage is the sum of placed coverage masks per site and channel
	Coverage *raster.Grid

	// Frames is the number of frames folded in so far
	Frames int
}

// NewAccumulator allocates a zeroed accumulator pair
func NewAccumulator(width, height int) *Accumulator {
	return &Accumulator{
		Signal:   raster.NewGrid(width, height),
		Coverage: raster.NewGrid(width, height),
	}
}

// Fold adds one placed frame and its placed coverage mask
func (a *Accumulator) Fold(frame, mask *raster.Grid) error {
	if err := a.Signal.Add(frame); err != nil {
		return fmt.Errorf("folding signal: %w", err)
	}
	if err := a.Coverage.Add(mask); err != nil {
		return fmt.Errorf("folding coverage: %w", err)
	}
	a.Frames++
	return nil
}

// AverageCoverage is the mean coverage of a single frame over all sites and
// channels, or 0 before any frame has been folded
func (a *Accumulator) AverageCoverage() float64 {
	if a.Frames == 0 {
		return 0
	}
	return a.Coverage.Mean() / float64(a.Frames)
}

// Options select the behaviour of an Engine
type Options struct {
	// Scheme is the coverage scheme the frames were captured with
	Scheme coverage.Scheme

	// DensityWeighted divides by relative coverage instead of frame count
	DensityWeighted bool

	// Calibration overrides the density constant K when positive
	Calibration float64
}

// Engine registers frames onto the reference grid and folds them into the
// Accumulator it was given. One Engine serves exactly one run.
type Engine struct {
	opts        Options
	width       int
	height      int
	pattern     *raster.Grid
	calibration float64
	resampler   *resample.Resampler
	acc         *Accumulator

	// scratch grids reused across frames
	placedFrame *raster.Grid
	placedMask  *raster.Grid
}

// NewEngine prepares an engine that folds into acc, a fresh accumulator
// sized to the reference grid. pattern is the unshifted coverage mask of
// the scheme, at the resolution returned by Scheme.PatternSize. rs performs
// all placements; nil runs them on the calling goroutine.
func NewEngine(acc *Accumulator, pattern *raster.Grid, opts Options, rs *resample.Resampler) (*Engine, error) {
	if acc == nil || acc.Signal == nil || acc.Coverage == nil {
		return nil, invalidf("no accumulator")
	}
	if acc.Frames != 0 {
		return nil, invalidf("accumulator already holds %d frames", acc.Frames)
	}
	if !acc.Signal.SameShape(acc.Coverage) {
		return nil, invalidf("signal and coverage grids differ in size")
	}
	width, height := acc.Signal.Width(), acc.Signal.Height()
	if width <= 0 || height <= 0 {
		return nil, invalidf("reference grid %dx%d", width, height)
	}
	if pattern == nil {
		return nil, invalidf("no coverage pattern")
	}
	if opts.Scheme.MasksFrames() && (pattern.Width() != width || pattern.Height() != height) {
		return nil, invalidf("%s pattern is %dx%d, reference grid is %dx%d",
			opts.Scheme, pattern.Width(), pattern.Height(), width, height)
	}

	k := opts.Calibration
	if k <= 0 {
		k = coverage.Calibration(pattern)
	}

	return &Engine{
		opts:        opts,
		width:       width,
		height:      height,
		pattern:     pattern,
		calibration: k,
		resampler:   rs,
		acc:         acc,
		placedFrame: raster.NewGrid(width, height),
		placedMask:  raster.NewGrid(width, height),
	}, nil
}

// Calibration returns the density constant K in use
func (e *Engine) Calibration() float64 { return e.calibration }

// Accumulator exposes the accumulator pair for inspection
func (e *Engine) Accumulator() *Accumulator { return e.acc }

// Placed returns the most recently placed frame. It is overwritten by the
// next call to Fold.
func (e *Engine) Placed() *raster.Grid { return e.placedFrame }

// Fold registers one frame with its transform and adds it to the
// accumulator. Frames of a masking scheme are first upsampled to the
// reference grid and reduced to the sensor's sampled sub-region.
func (e *Engine) Fold(frame *raster.Grid, t models.Transform) error {
	if e.opts.Scheme.MasksFrames() {
		frame = e.resampler.Resize(frame, e.width, e.height)
		if err := coverage.Apply(frame, e.pattern); err != nil {
			return err
		}
	}

	e.resampler.Place(e.placedFrame, frame, t)
	e.resampler.Place(e.placedMask, e.pattern, t)

	if log := logging.Logger(); log.Enabled(context.Background(), slog.LevelDebug) {
		log.Debug("frame placed",
			"frame", e.acc.Frames,
			"dx", t.DX,
			"dy", t.DY,
			"coverage", coverage.ActiveFraction(e.placedMask))
	}

	return e.acc.Fold(e.placedFrame, e.placedMask)
}

// Normalize derives the reconstructed image from the accumulator.
//
// Density weighted:
//
//	out = clamp(signal / (coverage / averageCoverage / K), 0, 255)
//
// Plain average:
//
//	out = clamp(signal / frames, 0, 255)
//
// Schemes that mask frames multiply the plain average by K.
//
// Sites with zero coverage are 0 in both modes.
func (e *Engine) Normalize() (*raster.Grid, error) {
	if e.acc.Frames == 0 {
		return nil, invalidf("no frames were folded")
	}

	out := raster.NewGrid(e.width, e.height)
	frames := float64(e.acc.Frames)
	scale := 1 / frames
	if e.opts.Scheme.MasksFrames() && e.calibration > 0 {
		scale *= e.calibration
	}
	avg := e.acc.AverageCoverage()
	k := e.calibration

	if e.opts.DensityWeighted && (avg == 0 || k == 0) {
		logging.Logger().Warn("no coverage recorded, output is empty")
		return out, nil
	}

	e.resampler.ParallelRows(e.height, func(start, end int) {
		for y := start; y < end; y++ {
			for c := 0; c < raster.NumChannels; c++ {
				signal := e.acc.Signal.Row(c, y)
				cov := e.acc.Coverage.Row(c, y)
				dst := out.Row(c, y)

				for x := range dst {
					if cov[x] <= 0 {
						dst[x] = 0
						continue
					}
					if e.opts.DensityWeighted {
						dst[x] = raster.Clamp(signal[x] / (cov[x] / avg / k))
					} else {
						dst[x] = raster.Clamp(signal[x] * scale)
					}
				}
			}
		}
	})

	logging.Logger().Info("normalized",
		"frames", e.acc.Frames,
		"averageCoverage", avg,
		"calibration", k,
		"densityWeighted", e.opts.DensityWeighted)

	return out, nil
}

// Stats summarises the coverage distribution of the accumulator
func (e *Engine) Stats() models.RunStats {
	values := e.acc.Coverage.Values()

	rs := models.RunStats{
		Frames:            e.acc.Frames,
		Width:             e.width,
		Height:            e.height,
		AverageCoverage:   e.acc.AverageCoverage(),
		Calibration:       e.calibration,
		ZeroCoverageSites: lo.CountBy(values, func(v float64) bool { return v <= 0 }),
	}

	if median, err := stats.Median(values); err == nil {
		rs.CoverageMedian = median
	}
	if p95, err := stats.Percentile(values, 95); err == nil {
		rs.CoverageP95 = p95
	}
	return rs
}
