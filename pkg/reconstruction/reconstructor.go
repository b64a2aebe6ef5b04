// Package reconstruction registers a sequence of jittered low-resolution
// frames onto a shared high-resolution reference grid and combines them
// into one image, correcting for uneven sampling density.
package reconstruction

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/lo"

	"drizzlesim/internal/logging"
	"drizzlesim/internal/models"
	"drizzlesim/pkg/coverage"
	"drizzlesim/pkg/demosaic"
	"drizzlesim/pkg/raster"
	"drizzlesim/pkg/resample"
	"drizzlesim/pkg/translog"
	"drizzlesim/pkg/visualization"
)

// Params holds the reconstruction parameters. These control where frames
// are read from, how they are combined and where results go.
type Params struct {
	// InputDir is the directory holding the frames and the transform log
	InputDir string

	// TransformLog is the transform log path. Relative paths are resolved
	// against InputDir.
	TransformLog string

	// FramePrefix is the frame file name prefix. Frames are named
	// <prefix>_<n><ext> with n starting at 1. Empty selects the scheme
	// default ("bayered" or "unbayered").
	FramePrefix string

	// Format is the frame encoding (png, tiff or bmp)
	Format string

	// NumFrames is the expected frame count. Zero takes the length of the
	// transform log; any other value must match it.
	NumFrames int

	// Upscale is the ratio between the reference grid and the frame size
	Upscale int

	// Scheme is the coverage scheme the frames were captured with
	Scheme coverage.Scheme

	// DensityWeighted selects density-weighted normalization over plain averaging
	DensityWeighted bool

	// Demosaic interpolates Bayer frames to full colour before registration.
	// Ignored for other schemes.
	Demosaic bool

	// Calibration overrides the density constant K when positive
	Calibration float64

	// NumCores is the number of workers used for row-parallel work
	NumCores int

	// OutputFile is where the reconstructed image is written. Empty skips writing.
	OutputFile string

	// SaveIntermediaryResults determines whether per-frame placements, the
	// coverage pattern and coverage heat-maps are written
	SaveIntermediaryResults bool

	// IntermediaryDir is the directory for intermediary results
	IntermediaryDir string
}

// Reconstructor runs one reconstruction:
// 1. Reading the transform log and pairing it with the frame files
// 2. Generating the coverage pattern for the scheme
// 3. Registering and folding every frame, one at a time
// 4. Normalizing the accumulator into the final image
// 5. Writing the result and any intermediary results
type Reconstructor struct {
	// params stores the reconstruction configuration
	params *Params

	// sequence pairs frames with transforms in capture order
	sequence models.ExposureSequence

	// scheme is the effective coverage scheme. A demosaiced Bayer run
	// becomes Full since every channel is then present at every site.
	scheme coverage.Scheme

	// demosaic is set when Bayer frames are interpolated before registration
	demosaic bool

	// prefix is the frame file name prefix in use
	prefix string

	// frameWidth and frameHeight are the dimensions shared by every frame
	frameWidth  int
	frameHeight int

	// result is the reconstructed image, nil until Process succeeds
	result *raster.Grid

	// stats describe the finished run
	stats models.RunStats
}

// NewReconstructor creates a new reconstructor instance with the provided parameters
func NewReconstructor(params *Params) *Reconstructor {
	return &Reconstructor{
		params: params,
	}
}

// Process runs the complete reconstruction pipeline. Every input is
// checked before any accumulation starts; a failure on any frame aborts
// the run.
func (r *Reconstructor) Process() error {
	start := time.Now()
	log := logging.Logger()

	if err := r.validate(); err != nil {
		return err
	}

	// Step 1: Pair frames with transforms
	log.Info("loading inputs", "dir", r.params.InputDir)
	if err := r.loadSequence(); err != nil {
		return err
	}

	// Step 2: Generate the coverage pattern
	upscale := r.params.Upscale
	refWidth, refHeight := r.frameWidth*upscale, r.frameHeight*upscale
	patWidth, patHeight := r.scheme.PatternSize(r.frameWidth, r.frameHeight, upscale)

	pattern, err := coverage.Generate(patWidth, patHeight, r.scheme)
	if err != nil {
		return fmt.Errorf("failed to generate coverage pattern: %w", err)
	}
	log.Info("coverage pattern generated",
		"scheme", r.scheme,
		"width", patWidth,
		"height", patHeight,
		"activeFraction", coverage.ActiveFraction(pattern))

	if r.params.SaveIntermediaryResults {
		name := r.scheme.PatternName() + ".png"
		if err := r.saveIntermediaryResult(name, coverage.ToImageGrid(pattern)); err != nil {
			log.Warn("failed to save coverage pattern", "err", err)
		}
	}

	// Step 3: Register and fold every frame
	rs := resample.New(r.params.NumCores)
	defer rs.Close()

	acc := NewAccumulator(refWidth, refHeight)
	engine, err := NewEngine(acc, pattern, Options{
		Scheme:          r.scheme,
		DensityWeighted: r.params.DensityWeighted,
		Calibration:     r.params.Calibration,
	}, rs)
	if err != nil {
		return err
	}

	log.Info("folding frames", "frames", r.sequence.Len(), "width", refWidth, "height", refHeight)
	for _, exposure := range r.sequence.Exposures() {
		frame, err := r.loadFrame(exposure, rs)
		if err != nil {
			return err
		}

		if err := engine.Fold(frame, exposure.Transform); err != nil {
			return fmt.Errorf("failed to fold frame %d: %w", exposure.Index+1, err)
		}

		if r.params.SaveIntermediaryResults {
			name := fmt.Sprintf("reconstructed_%d.png", exposure.Index+1)
			if err := r.saveIntermediaryResult(name, engine.Placed()); err != nil {
				log.Warn("failed to save placed frame", "frame", exposure.Index+1, "err", err)
			}
		}
	}

	// Step 4: Normalize
	result, err := engine.Normalize()
	if err != nil {
		return err
	}
	r.result = result

	if r.params.SaveIntermediaryResults {
		viewer := visualization.NewViewer(acc.Coverage, "coverage")
		if err := viewer.SaveChannelSequence(filepath.Join(r.params.IntermediaryDir, "coverage")); err != nil {
			log.Warn("failed to save coverage maps", "err", err)
		}
	}

	// Step 5: Write the result
	if r.params.OutputFile != "" {
		if err := raster.Save(r.params.OutputFile, result); err != nil {
			return fmt.Errorf("failed to save reconstruction: %w", err)
		}
		log.Info("reconstruction saved", "path", r.params.OutputFile)
	}

	r.stats = engine.Stats()
	r.stats.Elapsed = time.Since(start)
	return nil
}

// validate rejects parameters that cannot describe a run
func (r *Reconstructor) validate() error {
	p := r.params
	switch {
	case p.InputDir == "":
		return invalidf("no input directory")
	case p.Upscale <= 0:
		return invalidf("upscale factor %d", p.Upscale)
	case p.NumFrames < 0:
		return invalidf("frame count %d", p.NumFrames)
	case p.SaveIntermediaryResults && p.IntermediaryDir == "":
		return invalidf("no intermediary directory")
	}

	scheme, err := coverage.ParseScheme(string(p.Scheme))
	if err != nil {
		return &ReconstructionError{Kind: ErrInvalidParams, Err: err}
	}
	r.scheme = scheme
	r.demosaic = scheme == coverage.Bayer && p.Demosaic
	if r.demosaic {
		r.scheme = coverage.Full
	}

	r.prefix = p.FramePrefix
	if r.prefix == "" {
		r.prefix = scheme.FramePrefix()
	}

	if _, err := raster.Extension(p.Format); err != nil {
		return &ReconstructionError{Kind: ErrInvalidParams, Err: err}
	}
	return nil
}

// framePath returns the file of the i-th frame (zero-based)
func (r *Reconstructor) framePath(i int) string {
	ext, _ := raster.Extension(r.params.Format)
	return filepath.Join(r.params.InputDir, fmt.Sprintf("%s_%d%s", r.prefix, i+1, ext))
}

// discoverFrames returns the unbroken run of frames starting at frame 1
func (r *Reconstructor) discoverFrames() []string {
	var paths []string
	for i := 0; ; i++ {
		path := r.framePath(i)
		if _, err := os.Stat(path); err != nil {
			return paths
		}
		paths = append(paths, path)
	}
}

// loadSequence reads the transform log, checks that every frame exists and
// pairs them. It also records the frame dimensions from the first frame.
func (r *Reconstructor) loadSequence() error {
	logPath := r.params.TransformLog
	if logPath == "" {
		return missingInput(nil, "no transform log configured")
	}
	if !filepath.IsAbs(logPath) {
		logPath = filepath.Join(r.params.InputDir, logPath)
	}

	transforms, err := translog.Read(logPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return missingInput(err, "transform log %s", logPath)
		}
		return err
	}

	n := len(transforms)
	if r.params.NumFrames > 0 && r.params.NumFrames != n {
		return misaligned(nil, "%d frames expected, transform log has %d records", r.params.NumFrames, n)
	}
	if n == 0 {
		return invalidf("transform log %s is empty", logPath)
	}

	// Every logged frame must exist. Frames past the end of the log are a
	// length mismatch.
	missing := lo.Filter(lo.Times(n, r.framePath), func(path string, _ int) bool {
		_, err := os.Stat(path)
		return err != nil
	})
	if len(missing) > 0 {
		return missingInput(nil, "%d of %d logged frames, first %s", len(missing), n, missing[0])
	}
	paths := r.discoverFrames()

	sequence, err := models.NewExposureSequence(paths, transforms)
	if err != nil {
		return misaligned(err, "pairing frames with transforms")
	}
	r.sequence = sequence

	first, err := raster.LoadImage(paths[0])
	if err != nil {
		return fmt.Errorf("failed to load frame 1: %w", err)
	}
	r.frameWidth = first.Bounds().Dx()
	r.frameHeight = first.Bounds().Dy()
	return nil
}

// loadFrame reads one frame and prepares it for registration
func (r *Reconstructor) loadFrame(exposure models.Exposure, rs *resample.Resampler) (*raster.Grid, error) {
	frame, err := raster.Load(exposure.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load frame %d: %w", exposure.Index+1, err)
	}
	if frame.Width() != r.frameWidth || frame.Height() != r.frameHeight {
		return nil, invalidf("frame %d is %dx%d, expected %dx%d",
			exposure.Index+1, frame.Width(), frame.Height(), r.frameWidth, r.frameHeight)
	}

	if r.demosaic {
		frame = demosaic.RGGB(frame, rs)
	}
	return frame, nil
}

// GetResult returns the reconstructed image, or nil before Process succeeds
func (r *Reconstructor) GetResult() *raster.Grid {
	return r.result
}

// GetStats returns the statistics of the last successful run
func (r *Reconstructor) GetStats() models.RunStats {
	return r.stats
}

// saveIntermediaryResult writes a grid below the intermediary directory
func (r *Reconstructor) saveIntermediaryResult(name string, g *raster.Grid) error {
	// Skip if saving intermediary results is disabled
	if !r.params.SaveIntermediaryResults {
		return nil
	}
	return raster.Save(filepath.Join(r.params.IntermediaryDir, name), g)
}
