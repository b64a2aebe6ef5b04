// Package visualization renders accumulator grids as grayscale heat-maps so
// sampling density can be inspected channel by channel.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"path/filepath"

	"drizzlesim/pkg/raster"
)

// channelNames maps channel selectors to raster channel indexes
var channelNames = map[string]int{
	"r": raster.Red, "R": raster.Red, "red": raster.Red,
	"g": raster.Green, "G": raster.Green, "green": raster.Green,
	"b": raster.Blue, "B": raster.Blue, "blue": raster.Blue,
}

// Viewer renders the channels of an unbounded grid such as a coverage or
// signal accumulator
type Viewer struct {
	// grid holds the values being rendered
	grid *raster.Grid

	// name prefixes the files written by SaveChannelSequence
	name string
}

// NewViewer creates a viewer over grid. name is used as the file prefix
// when the channels are written out, e.g. "coverage".
func NewViewer(grid *raster.Grid, name string) *Viewer {
	return &Viewer{
		grid: grid,
		name: name,
	}
}

// ExtractChannel renders one channel as a 16-bit grayscale image scaled so
// the channel maximum is white. An all-zero channel renders black.
func (v *Viewer) ExtractChannel(channel string) (image.Image, error) {
	c, ok := channelNames[channel]
	if !ok {
		return nil, fmt.Errorf("invalid channel: %s (must be r, g, or b)", channel)
	}

	width, height := v.grid.Width(), v.grid.Height()

	peak := 0.0
	for y := 0; y < height; y++ {
		for _, value := range v.grid.Row(c, y) {
			peak = math.Max(peak, value)
		}
	}

	img := image.NewGray16(image.Rect(0, 0, width, height))
	if peak == 0 {
		return img, nil
	}

	for y := 0; y < height; y++ {
		row := v.grid.Row(c, y)
		for x := 0; x < width; x++ {
			value := uint16(math.Max(0, math.Min(65535, math.Round(row[x]/peak*65535))))
			img.SetGray16(x, y, color.Gray16{Y: value})
		}
	}

	return img, nil
}

// SaveChannel writes an extracted channel image. The encoding follows the
// file extension.
func (v *Viewer) SaveChannel(img image.Image, filename string) error {
	return raster.SaveImage(filename, img)
}

// SaveChannelSequence writes every channel to outputDir as
// <name>_r.png, <name>_g.png and <name>_b.png
func (v *Viewer) SaveChannelSequence(outputDir string) error {
	for _, channel := range []string{"r", "g", "b"} {
		img, err := v.ExtractChannel(channel)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s.png", v.name, channel))
		if err := v.SaveChannel(img, filename); err != nil {
			return err
		}
	}

	return nil
}
