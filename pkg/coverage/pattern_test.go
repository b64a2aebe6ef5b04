package coverage

import (
	"math"
	"testing"

	"drizzlesim/pkg/raster"
)

func TestParseScheme(t *testing.T) {
	tests := []struct {
		in      string
		want    Scheme
		wantErr bool
	}{
		{"bayer", Bayer, false},
		{"BAYER", Bayer, false},
		{"drizzle-grid", DrizzleGrid, false},
		{"drizzle", DrizzleGrid, false},
		{" full ", Full, false},
		{"xtrans", "", true},
	}

	for _, tt := range tests {
		got, err := ParseScheme(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseScheme(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseScheme(%q) = %q, expected %q", tt.in, got, tt.want)
		}
	}
}

func TestBayerPattern(t *testing.T) {
	mask, err := Generate(6, 4, Bayer)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	expected := map[[2]int]int{
		{0, 0}: raster.Red,
		{1, 0}: raster.Green,
		{0, 1}: raster.Green,
		{1, 1}: raster.Blue,
		{4, 2}: raster.Red,
		{5, 3}: raster.Blue,
	}

	for pos, live := range expected {
		for c := 0; c < raster.NumChannels; c++ {
			want := 0.0
			if c == live {
				want = 1
			}
			if got := mask.At(pos[0], pos[1], c); got != want {
				t.Errorf("Site %v channel %d: expected %f, got %f", pos, c, want, got)
			}
		}
	}

	// Exactly one live channel per site
	for y := 0; y < mask.Height(); y++ {
		for x := 0; x < mask.Width(); x++ {
			sum := mask.At(x, y, raster.Red) + mask.At(x, y, raster.Green) + mask.At(x, y, raster.Blue)
			if sum != 1 {
				t.Errorf("Site (%d,%d) has %f live channels", x, y, sum)
			}
		}
	}
}

func TestDrizzleGridPattern(t *testing.T) {
	mask, err := Generate(16, 8, DrizzleGrid)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	// Every 4x4 cell has exactly its 2x2 corner block sampled on all channels
	for cy := 0; cy < 8; cy += 4 {
		for cx := 0; cx < 16; cx += 4 {
			active := 0
			for y := cy; y < cy+4; y++ {
				for x := cx; x < cx+4; x++ {
					inBlock := x-cx < 2 && y-cy < 2
					for c := 0; c < raster.NumChannels; c++ {
						v := mask.At(x, y, c)
						if inBlock && v != 1 {
							t.Errorf("Site (%d,%d) channel %d should be active", x, y, c)
						}
						if !inBlock && v != 0 {
							t.Errorf("Site (%d,%d) channel %d should be inactive", x, y, c)
						}
					}
					if mask.At(x, y, raster.Red) > 0 {
						active++
					}
				}
			}
			if active != 4 {
				t.Errorf("Cell (%d,%d) has %d active sites, expected 4", cx, cy, active)
			}
		}
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	for _, scheme := range Schemes {
		a, err := Generate(12, 12, scheme)
		if err != nil {
			t.Fatalf("Generate(%s) failed: %v", scheme, err)
		}
		b, err := Generate(12, 12, scheme)
		if err != nil {
			t.Fatalf("Generate(%s) failed: %v", scheme, err)
		}
		if !a.EqualApprox(b, 0) {
			t.Errorf("Generate(%s) returned different masks for the same input", scheme)
		}
	}
}

func TestGenerateRejectsBadInput(t *testing.T) {
	if _, err := Generate(0, 4, Bayer); err == nil {
		t.Error("Expected error for zero width")
	}
	if _, err := Generate(4, 4, Scheme("hexagonal")); err == nil {
		t.Error("Expected error for unknown scheme")
	}
}

func TestCalibration(t *testing.T) {
	tests := []struct {
		scheme Scheme
		want   float64
	}{
		{Bayer, 3},
		{DrizzleGrid, 4},
		{Full, 1},
	}

	for _, tt := range tests {
		mask, err := Generate(8, 8, tt.scheme)
		if err != nil {
			t.Fatalf("Generate(%s) failed: %v", tt.scheme, err)
		}
		if got := Calibration(mask); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Calibration(%s) = %f, expected %f", tt.scheme, got, tt.want)
		}
	}

	if got := Calibration(raster.NewGrid(4, 4)); got != 0 {
		t.Errorf("Calibration of an empty mask = %f, expected 0", got)
	}
}

func TestPatternSize(t *testing.T) {
	if w, h := Bayer.PatternSize(256, 128, 4); w != 256 || h != 128 {
		t.Errorf("Bayer pattern size = %dx%d, expected 256x128", w, h)
	}
	if w, h := DrizzleGrid.PatternSize(256, 128, 4); w != 1024 || h != 512 {
		t.Errorf("Drizzle pattern size = %dx%d, expected 1024x512", w, h)
	}
}

func TestApply(t *testing.T) {
	frame := raster.NewGrid(2, 2)
	for c := 0; c < raster.NumChannels; c++ {
		for y := 0; y < 2; y++ {
			for x := 0; x < 2; x++ {
				frame.Set(x, y, c, 100)
			}
		}
	}
	mask, _ := Generate(2, 2, Bayer)

	if err := Apply(frame, mask); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if frame.At(0, 0, raster.Red) != 100 || frame.At(0, 0, raster.Green) != 0 {
		t.Errorf("Red site not mosaiced correctly")
	}
	if frame.At(1, 1, raster.Blue) != 100 || frame.At(1, 1, raster.Red) != 0 {
		t.Errorf("Blue site not mosaiced correctly")
	}
	if err := Apply(frame, raster.NewGrid(3, 3)); err == nil {
		t.Error("Expected error for mismatched mask")
	}
}

func TestToImageGrid(t *testing.T) {
	mask, _ := Generate(4, 4, DrizzleGrid)
	img := ToImageGrid(mask)
	if img.At(0, 0, raster.Green) != 255 || img.At(3, 3, raster.Green) != 0 {
		t.Errorf("Unexpected export intensities")
	}
	if mask.At(0, 0, raster.Green) != 1 {
		t.Errorf("ToImageGrid modified the mask")
	}
}
