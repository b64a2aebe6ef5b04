// Package quality compares a reconstruction with a ground-truth image.
// Scores are observational and never feed back into reconstruction.
package quality

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"drizzlesim/pkg/raster"
	"drizzlesim/pkg/resample"
)

// WindowSize is the edge length of the blocks SSIM is computed over
const WindowSize = 8

// Metrics holds the similarity scores of one comparison
type Metrics struct {
	// RMSE (Root Mean Square Error) of luminance in [0, 1]. Lower is better.
	RMSE float64

	// PSNR in dB for a peak of 1. +Inf for identical images.
	PSNR float64

	// SSIM (Structural Similarity Index) averaged over WindowSize blocks.
	// Values range from -1 to 1, with 1 indicating identical structure.
	SSIM float64
}

func (m Metrics) String() string {
	return fmt.Sprintf("RMSE %.4f, PSNR %.2f dB, SSIM %.4f", m.RMSE, m.PSNR, m.SSIM)
}

// Score compares candidate against reference on luminance. The reference
// is resampled to the candidate's size with nearest-neighbour sampling
// when the two differ.
func Score(reference, candidate *raster.Grid) Metrics {
	if !reference.SameShape(candidate) {
		rs := resample.New(1)
		reference = rs.Resize(reference, candidate.Width(), candidate.Height())
		rs.Close()
	}

	ref := Luminance(reference)
	cand := Luminance(candidate)

	rmse := calculateRMSE(ref, cand)
	return Metrics{
		RMSE: rmse,
		PSNR: calculatePSNR(rmse),
		SSIM: calculateWindowedSSIM(ref, cand, candidate.Width(), candidate.Height()),
	}
}

// Luminance converts a grid to Rec. 601 luma in [0, 1], row-major
func Luminance(g *raster.Grid) []float64 {
	width, height := g.Width(), g.Height()
	out := make([]float64, 0, width*height)
	for y := 0; y < height; y++ {
		r, gr, b := g.Row(raster.Red, y), g.Row(raster.Green, y), g.Row(raster.Blue, y)
		for x := 0; x < width; x++ {
			l := (0.299*raster.Clamp(r[x]) + 0.587*raster.Clamp(gr[x]) + 0.114*raster.Clamp(b[x])) / raster.MaxValue
			out = append(out, l)
		}
	}
	return out
}

// calculateRMSE computes the root mean square error
func calculateRMSE(original, reconstructed []float64) float64 {
	n := len(original)
	if n != len(reconstructed) || n == 0 {
		return 0
	}
	return floats.Distance(original, reconstructed, 2) / math.Sqrt(float64(n))
}

// calculatePSNR converts an RMSE on a unit range to decibels
func calculatePSNR(rmse float64) float64 {
	if rmse == 0 {
		return math.Inf(1)
	}
	return 20 * math.Log10(1/rmse)
}

// calculateSSIM computes the Structural Similarity Index of one window
func calculateSSIM(original, reconstructed []float64) float64 {
	// Constants for SSIM calculation
	const L = 1.0 // Dynamic range
	const k1 = 0.01
	const k2 = 0.03

	c1 := (k1 * L) * (k1 * L)
	c2 := (k2 * L) * (k2 * L)

	n := len(original)
	if n != len(reconstructed) || n == 0 {
		return 0
	}

	// Single samples have no variance
	if n == 1 {
		muX, muY := original[0], reconstructed[0]
		return (2*muX*muY + c1) / (muX*muX + muY*muY + c1)
	}

	// Calculate means using Gonum
	muX := stat.Mean(original, nil)
	muY := stat.Mean(reconstructed, nil)

	// Calculate variances and covariance using Gonum
	sigmaX := stat.Variance(original, nil)
	sigmaY := stat.Variance(reconstructed, nil)
	sigmaXY := stat.Covariance(original, reconstructed, nil)

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)

	if den > 0 {
		return num / den
	}
	return 0
}

// calculateWindowedSSIM averages calculateSSIM over non-overlapping
// WindowSize blocks. Partial blocks at the right and bottom edges are
// included.
func calculateWindowedSSIM(original, reconstructed []float64, width, height int) float64 {
	if len(original) != width*height || len(reconstructed) != width*height || width*height == 0 {
		return 0
	}

	var scores []float64
	a := make([]float64, 0, WindowSize*WindowSize)
	b := make([]float64, 0, WindowSize*WindowSize)

	for y0 := 0; y0 < height; y0 += WindowSize {
		for x0 := 0; x0 < width; x0 += WindowSize {
			a, b = a[:0], b[:0]
			for y := y0; y < min(y0+WindowSize, height); y++ {
				row := y * width
				a = append(a, original[row+x0:row+min(x0+WindowSize, width)]...)
				b = append(b, reconstructed[row+x0:row+min(x0+WindowSize, width)]...)
			}
			scores = append(scores, calculateSSIM(a, b))
		}
	}

	return stat.Mean(scores, nil)
}
