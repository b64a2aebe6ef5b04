package reconstruction

import (
	"errors"
	"math"
	"testing"

	"drizzlesim/internal/models"
	"drizzlesim/pkg/coverage"
	"drizzlesim/pkg/raster"
	"drizzlesim/pkg/resample"
)

// createTestGrid builds a grid whose channels are produced by value
func createTestGrid(width, height int, value func(x, y, c int) float64) *raster.Grid {
	g := raster.NewGrid(width, height)
	for c := 0; c < raster.NumChannels; c++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				g.Set(x, y, c, value(x, y, c))
			}
		}
	}
	return g
}

// flat returns a grid with every sample set to v
func flat(width, height int, v float64) *raster.Grid {
	return createTestGrid(width, height, func(x, y, c int) float64 { return v })
}

// newTestEngine builds an engine for frames of frameW x frameH
func newTestEngine(t *testing.T, frameW, frameH, upscale int, opts Options) *Engine {
	t.Helper()

	pw, ph := opts.Scheme.PatternSize(frameW, frameH, upscale)
	pattern, err := coverage.Generate(pw, ph, opts.Scheme)
	if err != nil {
		t.Fatalf("Failed to generate pattern: %v", err)
	}

	engine, err := NewEngine(NewAccumulator(frameW*upscale, frameH*upscale), pattern, opts, nil)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return engine
}

func TestAccumulationIsOrderIndependent(t *testing.T) {
	frames := []*raster.Grid{
		createTestGrid(4, 4, func(x, y, c int) float64 { return float64(10*x + y + c) }),
		createTestGrid(4, 4, func(x, y, c int) float64 { return float64(255 - 7*x*y) }),
		createTestGrid(4, 4, func(x, y, c int) float64 { return float64((x + 3*y + 5*c) % 200) }),
	}
	transforms := []models.Transform{
		{DX: 0.75, DY: -1.25},
		{DX: -3.5, DY: 2},
		{DX: 5.1, DY: 0.4, Rotation: 77},
	}

	for _, scheme := range coverage.Schemes {
		t.Run(scheme.String(), func(t *testing.T) {
			opts := Options{Scheme: scheme, DensityWeighted: true}
			forward := newTestEngine(t, 4, 4, 4, opts)
			backward := newTestEngine(t, 4, 4, 4, opts)

			for i := range frames {
				if err := forward.Fold(frames[i], transforms[i]); err != nil {
					t.Fatalf("Fold failed: %v", err)
				}
			}
			for i := len(frames) - 1; i >= 0; i-- {
				if err := backward.Fold(frames[i], transforms[i]); err != nil {
					t.Fatalf("Fold failed: %v", err)
				}
			}

			a, b := forward.Accumulator(), backward.Accumulator()
			if !a.Signal.EqualApprox(b.Signal, 1e-9) {
				t.Error("Signal depends on fold order")
			}
			if !a.Coverage.EqualApprox(b.Coverage, 1e-9) {
				t.Error("Coverage depends on fold order")
			}
		})
	}
}

func TestUniformCoverageReducesToAverage(t *testing.T) {
	engine := newTestEngine(t, 4, 4, 4, Options{Scheme: coverage.Full, DensityWeighted: true})

	for _, v := range []float64{30, 60, 120} {
		if err := engine.Fold(flat(4, 4, v), models.Transform{}); err != nil {
			t.Fatalf("Fold failed: %v", err)
		}
	}

	out, err := engine.Normalize()
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if !out.EqualApprox(flat(16, 16, 70), 1e-9) {
		t.Errorf("Expected plain average 70 everywhere, got %f at origin", out.At(0, 0, raster.Red))
	}
	if engine.Calibration() != 1 {
		t.Errorf("Expected K=1 for the full scheme, got %f", engine.Calibration())
	}
}

func TestDrizzleGridFlatField(t *testing.T) {
	engine := newTestEngine(t, 4, 4, 4, Options{Scheme: coverage.DrizzleGrid, DensityWeighted: true})

	// Four half-cell shifts visit every site of the interior exactly once
	offsets := []models.Transform{{DX: 0, DY: 0}, {DX: 2, DY: 0}, {DX: 0, DY: 2}, {DX: 2, DY: 2}}
	for _, tr := range offsets {
		if err := engine.Fold(flat(4, 4, 100), tr); err != nil {
			t.Fatalf("Fold failed: %v", err)
		}
	}

	out, err := engine.Normalize()
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	acc := engine.Accumulator()
	want := 100 * acc.AverageCoverage() * engine.Calibration()
	for y := 0; y < 14; y++ {
		for x := 0; x < 14; x++ {
			if acc.Coverage.At(x, y, raster.Green) != 1 {
				t.Fatalf("Interior site (%d,%d) coverage = %f, expected 1", x, y, acc.Coverage.At(x, y, raster.Green))
			}
			if got := out.At(x, y, raster.Green); math.Abs(got-want) > 1e-9 {
				t.Errorf("Interior site (%d,%d) = %f, expected %f", x, y, got, want)
			}
		}
	}
}

func TestZeroCoverageIsZero(t *testing.T) {
	for _, weighted := range []bool{true, false} {
		engine := newTestEngine(t, 4, 4, 4, Options{Scheme: coverage.DrizzleGrid, DensityWeighted: weighted})
		if err := engine.Fold(flat(4, 4, 200), models.Transform{}); err != nil {
			t.Fatalf("Fold failed: %v", err)
		}

		out, err := engine.Normalize()
		if err != nil {
			t.Fatalf("Normalize failed: %v", err)
		}

		cov := engine.Accumulator().Coverage
		for y := 0; y < 16; y++ {
			for x := 0; x < 16; x++ {
				v := out.At(x, y, raster.Blue)
				if math.IsNaN(v) || math.IsInf(v, 0) {
					t.Fatalf("Site (%d,%d) is not finite", x, y)
				}
				if cov.At(x, y, raster.Blue) == 0 && v != 0 {
					t.Errorf("weighted=%v: uncovered site (%d,%d) = %f, expected 0", weighted, x, y, v)
				}
				if cov.At(x, y, raster.Blue) > 0 && v == 0 {
					t.Errorf("weighted=%v: covered site (%d,%d) is 0", weighted, x, y)
				}
			}
		}
	}
}

func TestBayerCoverageShiftAndDoubling(t *testing.T) {
	first := newTestEngine(t, 2, 2, 4, Options{Scheme: coverage.Bayer, DensityWeighted: true})
	if err := first.Fold(flat(2, 2, 50), models.Transform{}); err != nil {
		t.Fatalf("Fold failed: %v", err)
	}
	single := first.Accumulator().Coverage.Clone()

	if err := first.Fold(flat(2, 2, 50), models.Transform{DX: 2}); err != nil {
		t.Fatalf("Fold failed: %v", err)
	}
	both := first.Accumulator().Coverage

	second := newTestEngine(t, 2, 2, 4, Options{Scheme: coverage.Bayer, DensityWeighted: true})
	if err := second.Fold(flat(2, 2, 50), models.Transform{DX: 2}); err != nil {
		t.Fatalf("Fold failed: %v", err)
	}
	shifted := second.Accumulator().Coverage

	doubled := 0
	for c := 0; c < raster.NumChannels; c++ {
		for y := 0; y < 8; y++ {
			for x := 0; x < 8; x++ {
				// The second mask is the first one moved by exactly 2 reference units
				want := 0.0
				if x+2 < 8 {
					want = single.At(x+2, y, c)
				}
				if got := shifted.At(x, y, c); got != want {
					t.Errorf("Shifted coverage at (%d,%d,%d) = %f, expected %f", x, y, c, got, want)
				}

				if single.At(x, y, c) == 1 && shifted.At(x, y, c) == 1 {
					doubled++
					if both.At(x, y, c) != 2 {
						t.Errorf("Site (%d,%d,%d) sampled twice has coverage %f", x, y, c, both.At(x, y, c))
					}
				}
			}
		}
	}
	if doubled == 0 {
		t.Error("Expected some sites to be sampled by both frames")
	}

	// Red on row 0: frame one covers columns 0-3, frame two columns 0-1
	expected := []float64{2, 2, 1, 1, 0, 0, 0, 0}
	for x, want := range expected {
		if got := both.At(x, 0, raster.Red); got != want {
			t.Errorf("Red coverage at column %d = %f, expected %f", x, got, want)
		}
	}
}

func TestNaiveAverage(t *testing.T) {
	engine := newTestEngine(t, 4, 4, 2, Options{Scheme: coverage.Full, DensityWeighted: false})
	for _, v := range []float64{100, 50} {
		if err := engine.Fold(flat(4, 4, v), models.Transform{}); err != nil {
			t.Fatalf("Fold failed: %v", err)
		}
	}

	out, err := engine.Normalize()
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if !out.EqualApprox(flat(8, 8, 75), 1e-9) {
		t.Errorf("Expected 75 everywhere, got %f", out.At(3, 3, raster.Green))
	}
}

func TestNaiveDrizzleGridFlatField(t *testing.T) {
	engine := newTestEngine(t, 4, 4, 4, Options{Scheme: coverage.DrizzleGrid, DensityWeighted: false})

	offsets := []models.Transform{{DX: 0, DY: 0}, {DX: 2, DY: 0}, {DX: 0, DY: 2}, {DX: 2, DY: 2}}
	for _, tr := range offsets {
		if err := engine.Fold(flat(4, 4, 100), tr); err != nil {
			t.Fatalf("Fold failed: %v", err)
		}
	}

	out, err := engine.Normalize()
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	// Each interior site is sampled once by four frames; scaling by K=4
	// restores the scene level
	for y := 0; y < 14; y++ {
		for x := 0; x < 14; x++ {
			for c := 0; c < raster.NumChannels; c++ {
				if got := out.At(x, y, c); math.Abs(got-100) > 1e-9 {
					t.Fatalf("Interior site (%d,%d,%d) = %f, expected 100", x, y, c, got)
				}
			}
		}
	}
}

func TestNormalizeClampsOutput(t *testing.T) {
	// K larger than the derived value pushes results past 255
	engine := newTestEngine(t, 2, 2, 2, Options{Scheme: coverage.Full, DensityWeighted: true, Calibration: 10})
	if err := engine.Fold(flat(2, 2, 200), models.Transform{}); err != nil {
		t.Fatalf("Fold failed: %v", err)
	}

	out, err := engine.Normalize()
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if out.At(1, 1, raster.Red) != raster.MaxValue {
		t.Errorf("Expected clamped value 255, got %f", out.At(1, 1, raster.Red))
	}
	if engine.Calibration() != 10 {
		t.Errorf("Expected calibration override 10, got %f", engine.Calibration())
	}
}

func TestNormalizeWithoutFrames(t *testing.T) {
	engine := newTestEngine(t, 2, 2, 2, Options{Scheme: coverage.Bayer, DensityWeighted: true})
	if _, err := engine.Normalize(); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("Expected ErrInvalidParams, got %v", err)
	}
}

func TestNewEngineRejectsMismatchedPattern(t *testing.T) {
	pattern, _ := coverage.Generate(4, 4, coverage.DrizzleGrid)
	_, err := NewEngine(NewAccumulator(16, 16), pattern, Options{Scheme: coverage.DrizzleGrid}, nil)
	if !errors.Is(err, ErrInvalidParams) {
		t.Errorf("Expected ErrInvalidParams, got %v", err)
	}
}

func TestNewEngineRequiresFreshAccumulator(t *testing.T) {
	pattern, _ := coverage.Generate(4, 4, coverage.Bayer)

	if _, err := NewEngine(nil, pattern, Options{Scheme: coverage.Bayer}, nil); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("Expected ErrInvalidParams for a nil accumulator, got %v", err)
	}

	used := NewAccumulator(16, 16)
	if err := used.Fold(flat(16, 16, 1), flat(16, 16, 1)); err != nil {
		t.Fatalf("Fold failed: %v", err)
	}
	if _, err := NewEngine(used, pattern, Options{Scheme: coverage.Bayer}, nil); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("Expected ErrInvalidParams for a used accumulator, got %v", err)
	}
}

func TestEngineFoldsIntoGivenAccumulator(t *testing.T) {
	pattern, _ := coverage.Generate(4, 4, coverage.Bayer)
	acc := NewAccumulator(16, 16)

	engine, err := NewEngine(acc, pattern, Options{Scheme: coverage.Bayer, DensityWeighted: true}, nil)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	if err := engine.Fold(flat(4, 4, 30), models.Transform{}); err != nil {
		t.Fatalf("Fold failed: %v", err)
	}

	if engine.Accumulator() != acc {
		t.Error("Engine does not expose the accumulator it was given")
	}
	if acc.Frames != 1 || acc.Coverage.Sum() != 16*16 {
		t.Errorf("Accumulator not updated: frames %d, coverage sum %f", acc.Frames, acc.Coverage.Sum())
	}
}

func TestParallelEngineMatchesSerial(t *testing.T) {
	frame := createTestGrid(8, 6, func(x, y, c int) float64 { return float64((x*29 + y*11 + c) % 256) })
	tr := models.Transform{DX: 1.7, DY: -2.2}
	opts := Options{Scheme: coverage.Bayer, DensityWeighted: true}

	pattern, _ := coverage.Generate(8, 6, coverage.Bayer)
	pool := resample.New(3)
	defer pool.Close()

	serial, err := NewEngine(NewAccumulator(32, 24), pattern, opts, nil)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	parallel, err := NewEngine(NewAccumulator(32, 24), pattern, opts, pool)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	for _, e := range []*Engine{serial, parallel} {
		if err := e.Fold(frame, tr); err != nil {
			t.Fatalf("Fold failed: %v", err)
		}
	}

	a, err := serial.Normalize()
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	b, err := parallel.Normalize()
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if !a.EqualApprox(b, 0) {
		t.Error("Parallel engine differs from serial engine")
	}
}

func TestEngineStats(t *testing.T) {
	engine := newTestEngine(t, 4, 4, 4, Options{Scheme: coverage.DrizzleGrid, DensityWeighted: true})
	if err := engine.Fold(flat(4, 4, 10), models.Transform{}); err != nil {
		t.Fatalf("Fold failed: %v", err)
	}

	stats := engine.Stats()
	if stats.Frames != 1 || stats.Width != 16 || stats.Height != 16 {
		t.Errorf("Unexpected run shape: %+v", stats)
	}
	// 4 of every 16 sites are sampled
	if stats.ZeroCoverageSites != 16*16*3*3/4 {
		t.Errorf("Expected %d zero-coverage sites, got %d", 16*16*3*3/4, stats.ZeroCoverageSites)
	}
	if math.Abs(stats.AverageCoverage-0.25) > 1e-12 {
		t.Errorf("Expected average coverage 0.25, got %f", stats.AverageCoverage)
	}
	if stats.CoverageMedian != 0 || stats.CoverageP95 != 1 {
		t.Errorf("Unexpected coverage distribution: median %f, p95 %f", stats.CoverageMedian, stats.CoverageP95)
	}
	if stats.Calibration != 4 {
		t.Errorf("Expected calibration 4, got %f", stats.Calibration)
	}
}
