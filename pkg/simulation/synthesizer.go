// Package simulation produces jittered low-resolution exposures of a source
// image, together with the transform log describing each jitter.
package simulation

import (
	"fmt"
	"image"
	"image/draw"
	"math/rand/v2"
	"path/filepath"

	"github.com/gogpu/gg"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"drizzlesim/internal/logging"
	"drizzlesim/internal/models"
	"drizzlesim/pkg/coverage"
	"drizzlesim/pkg/raster"
	"drizzlesim/pkg/translog"
)

// Params holds the synthesizer settings
type Params struct {
	// SourceImage is the scene being photographed
	SourceImage string

	// OutputDir receives the frames and the transform log
	OutputDir string

	// TransformLog is the transform log file name inside OutputDir
	TransformLog string

	// NumFrames is the number of exposures to produce
	NumFrames int

	// TargetWidth and TargetHeight are the frame (sensor) dimensions
	TargetWidth  int
	TargetHeight int

	// Upscale is the ratio between the reference grid and the frame size.
	// Jitter is applied on the reference grid.
	Upscale int

	// Jitter is the full width of the offset distribution in reference pixels
	Jitter float64

	// Seed fixes the offset sequence. Zero draws a random seed.
	Seed uint64

	// Backdrop paints the unshifted scene under the shifted one so the
	// uncovered border is not black
	Backdrop bool

	// Scheme selects whether frames are mosaiced (bayer) or kept dense
	Scheme coverage.Scheme

	// Format is the lossless frame encoding
	Format string
}

// Synthesizer renders a sequence of exposures:
// 1. The source is resized to the reference grid with cover fit
// 2. Each exposure is shifted by a random sub-pixel offset on the reference grid
// 3. The shifted scene is downsampled to the sensor resolution
// 4. Bayer sensors keep one channel per site
type Synthesizer struct {
	params     *Params
	rng        *rand.Rand
	mosaic     *raster.Grid
	transforms []models.Transform
}

// NewSynthesizer creates a synthesizer. The offset sequence is fully
// determined by params.Seed when it is non-zero.
func NewSynthesizer(params *Params) *Synthesizer {
	seed := params.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Synthesizer{
		params: params,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// ReferenceSize returns the dimensions of the reference grid
func (s *Synthesizer) ReferenceSize() (int, int) {
	return s.params.TargetWidth * s.params.Upscale, s.params.TargetHeight * s.params.Upscale
}

// Run renders every exposure, writes the frames as <prefix>_<n><ext> and
// finally writes the transform log with one record per frame in order
func (s *Synthesizer) Run() error {
	p := s.params
	log := logging.Logger()

	if p.NumFrames <= 0 || p.TargetWidth <= 0 || p.TargetHeight <= 0 || p.Upscale <= 0 {
		return fmt.Errorf("invalid simulation size: %d frames of %dx%d, upscale %d",
			p.NumFrames, p.TargetWidth, p.TargetHeight, p.Upscale)
	}
	ext, err := raster.Extension(p.Format)
	if err != nil {
		return err
	}

	src, err := raster.LoadImage(p.SourceImage)
	if err != nil {
		return fmt.Errorf("failed to load source image: %w", err)
	}

	refWidth, refHeight := s.ReferenceSize()
	ref := CoverResize(src, refWidth, refHeight)
	log.Info("source prepared", "path", p.SourceImage, "width", refWidth, "height", refHeight)

	s.transforms = make([]models.Transform, 0, p.NumFrames)
	for i := 0; i < p.NumFrames; i++ {
		t := s.drawTransform()

		frame, err := s.Capture(ref, t)
		if err != nil {
			return fmt.Errorf("failed to capture frame %d: %w", i+1, err)
		}

		path := filepath.Join(p.OutputDir, fmt.Sprintf("%s_%d%s", p.Scheme.FramePrefix(), i+1, ext))
		if err := raster.Save(path, frame); err != nil {
			return fmt.Errorf("failed to save frame %d: %w", i+1, err)
		}

		s.transforms = append(s.transforms, t)
		log.Debug("frame captured", "frame", i+1, "dx", t.DX, "dy", t.DY, "rotation", t.Rotation)
	}

	logPath := filepath.Join(p.OutputDir, p.TransformLog)
	if err := translog.Write(logPath, s.transforms); err != nil {
		return err
	}

	log.Info("simulation complete", "frames", p.NumFrames, "scheme", p.Scheme, "log", logPath)
	return nil
}

// GetTransforms returns the transforms of the last run in frame order
func (s *Synthesizer) GetTransforms() []models.Transform {
	out := make([]models.Transform, len(s.transforms))
	copy(out, s.transforms)
	return out
}

// drawTransform draws one offset uniformly from [-Jitter/2, Jitter/2) on
// each axis. The rotation is recorded but never rendered.
func (s *Synthesizer) drawTransform() models.Transform {
	return models.Transform{
		DX:       (s.rng.Float64() - 0.5) * s.params.Jitter,
		DY:       (s.rng.Float64() - 0.5) * s.params.Jitter,
		Rotation: float64(s.rng.IntN(360)),
	}
}

// Capture renders one exposure of ref, which must already be at reference
// resolution, shifted by t
func (s *Synthesizer) Capture(ref image.Image, t models.Transform) (*raster.Grid, error) {
	refWidth, refHeight := s.ReferenceSize()

	canvas := gg.NewContext(refWidth, refHeight)
	defer canvas.Close()

	canvas.ClearWithColor(gg.Black)
	if s.params.Backdrop {
		canvas.DrawImage(gg.ImageBufFromImage(ref), 0, 0)
	}

	high := toRGBA(canvas.Image())
	xdraw.BiLinear.Transform(high, jitterAffine(t), ref, ref.Bounds(), xdraw.Over, nil)

	low := image.NewRGBA(image.Rect(0, 0, s.params.TargetWidth, s.params.TargetHeight))
	xdraw.BiLinear.Scale(low, low.Bounds(), high, high.Bounds(), xdraw.Src, nil)

	frame := raster.FromImage(low)
	if s.params.Scheme.Mosaiced() {
		mask, err := s.mosaicMask()
		if err != nil {
			return nil, err
		}
		if err := coverage.Apply(frame, mask); err != nil {
			return nil, err
		}
	}
	return frame, nil
}

// jitterAffine maps source pixels to their shifted position on the
// reference grid. Only the translation is rendered.
func jitterAffine(t models.Transform) f64.Aff3 {
	m := gg.Translate(t.DX, t.DY)
	return f64.Aff3{m.A, m.B, m.C, m.D, m.E, m.F}
}

// mosaicMask returns the Bayer mask at sensor resolution, built once
func (s *Synthesizer) mosaicMask() (*raster.Grid, error) {
	if s.mosaic == nil {
		mask, err := coverage.Generate(s.params.TargetWidth, s.params.TargetHeight, coverage.Bayer)
		if err != nil {
			return nil, err
		}
		s.mosaic = mask
	}
	return s.mosaic, nil
}

// CoverResize scales src to exactly width x height, preserving its aspect
// ratio by cropping the excess around the centre
func CoverResize(src image.Image, width, height int) *image.RGBA {
	b := src.Bounds()
	scale := max(float64(width)/float64(b.Dx()), float64(height)/float64(b.Dy()))

	cropW := min(b.Dx(), int(float64(width)/scale+0.5))
	cropH := min(b.Dy(), int(float64(height)/scale+0.5))
	x0 := b.Min.X + (b.Dx()-cropW)/2
	y0 := b.Min.Y + (b.Dy()-cropH)/2
	crop := image.Rect(x0, y0, x0+cropW, y0+cropH)

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, xdraw.Src, nil)
	return dst
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	out := image.NewRGBA(img.Bounds())
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)
	return out
}
