package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrLengthMismatch is returned when frames and transforms cannot be paired
// one to one.
var ErrLengthMismatch = errors.New("frame count does not match transform count")

// Transform is the sub-pixel offset applied to one simulated exposure
type Transform struct {
	// DX and DY are the planar jitter offsets in reference-grid units
	DX float64 `yaml:"dx" json:"dx"`
	DY float64 `yaml:"dy" json:"dy"`

	// Rotation is recorded in degrees but never applied during registration
	Rotation float64 `yaml:"rotation" json:"rotation"`
}

// Exposure pairs a frame on disk with the transform that produced it
type Exposure struct {
	// Index is the zero-based position of this exposure in the capture order
	Index int

	// Path is the location of the frame image
	Path string

	// Transform is the jitter recorded for this frame
	Transform Transform
}

// ExposureSequence is an ordered list of exposures. Construct it with
// NewExposureSequence so that every frame is guaranteed a transform.
type ExposureSequence struct {
	exposures []Exposure
}

// NewExposureSequence pairs frame paths with transforms by position.
func NewExposureSequence(paths []string, transforms []Transform) (ExposureSequence, error) {
	if len(paths) != len(transforms) {
		return ExposureSequence{}, fmt.Errorf("%w: %d frames, %d transforms",
			ErrLengthMismatch, len(paths), len(transforms))
	}

	exposures := make([]Exposure, len(paths))
	for i := range paths {
		exposures[i] = Exposure{
			Index:     i,
			Path:      paths[i],
			Transform: transforms[i],
		}
	}
	return ExposureSequence{exposures: exposures}, nil
}

// Len returns the number of exposures
func (s ExposureSequence) Len() int {
	return len(s.exposures)
}

// At returns the i-th exposure
func (s ExposureSequence) At(i int) Exposure {
	return s.exposures[i]
}

// Exposures returns a copy of the exposures in capture order
func (s ExposureSequence) Exposures() []Exposure {
	out := make([]Exposure, len(s.exposures))
	copy(out, s.exposures)
	return out
}

// Transforms returns the transforms in capture order
func (s ExposureSequence) Transforms() []Transform {
	out := make([]Transform, len(s.exposures))
	for i, e := range s.exposures {
		out[i] = e.Transform
	}
	return out
}

// RunStats summarises one reconstruction run
type RunStats struct {
	// Frames is the number of frames folded into the accumulator
	Frames int

	// Width and Height are the reference-grid dimensions
	Width  int
	Height int

	// AverageCoverage is the mean per-frame coverage over all sites and channels
	AverageCoverage float64

	// Calibration is the constant K used by density weighting
	Calibration float64

	// ZeroCoverageSites counts site/channel pairs no frame ever sampled
	ZeroCoverageSites int

	// CoverageMedian and CoverageP95 describe the distribution of summed coverage
	CoverageMedian float64
	CoverageP95    float64

	// Elapsed is the wall time of the run
	Elapsed time.Duration
}
