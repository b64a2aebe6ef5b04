// Package config provides configuration loading and management for drizzlesim.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"drizzlesim/pkg/coverage"
	"drizzlesim/pkg/raster"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Simulation parameters for the frame synthesizer
	Simulation struct {
		// NumFrames is the number of jittered exposures to produce
		NumFrames int `yaml:"numFrames"`

		// TargetWidth and TargetHeight are the frame (sensor) dimensions
		TargetWidth  int `yaml:"targetWidth"`
		TargetHeight int `yaml:"targetHeight"`

		// Upscale is the ratio between the reference grid and the frame size
		Upscale int `yaml:"upscale"`

		// Jitter is the full width of the uniform offset distribution in
		// reference pixels; offsets fall in [-Jitter/2, Jitter/2)
		Jitter float64 `yaml:"jitter"`

		// Seed fixes the offset sequence. Zero draws a fresh seed per run.
		Seed uint64 `yaml:"seed"`

		// Backdrop fills the area uncovered by the shifted image with the
		// unshifted image
		Backdrop bool `yaml:"backdrop"`
	} `yaml:"simulation"`

	// Reconstruction parameters
	Reconstruction struct {
		// Scheme is the coverage scheme: bayer, drizzle-grid or full
		Scheme string `yaml:"scheme"`

		// DensityWeighted normalizes by relative coverage instead of frame count
		DensityWeighted bool `yaml:"densityWeighted"`

		// Demosaic interpolates Bayer frames before registration
		Demosaic bool `yaml:"demosaic"`

		// Calibration overrides the density constant K; 0 derives it from the pattern
		Calibration float64 `yaml:"calibration"`

		// NumCores specifies how many CPU cores to use for row-parallel work
		NumCores int `yaml:"numCores"`
	} `yaml:"reconstruction"`

	// Output parameters
	Output struct {
		// SaveIntermediaryResults determines whether to save intermediary processing results
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// Format is the lossless frame encoding: png, tiff or bmp
		Format string `yaml:"format"`
	} `yaml:"output"`

	// File locations
	Paths struct {
		// InputDir holds simulated frames and the transform log
		InputDir string `yaml:"inputDir"`

		// OutputDir receives reconstructions and intermediary results
		OutputDir string `yaml:"outputDir"`

		// TransformLog is the log file name, relative to InputDir
		TransformLog string `yaml:"transformLog"`

		// FramePrefix overrides the frame name prefix; empty uses the scheme default
		FramePrefix string `yaml:"framePrefix"`

		// Result is the reconstructed image file name, relative to OutputDir
		Result string `yaml:"result"`

		// Reference is an optional ground-truth image for scoring
		Reference string `yaml:"reference"`
	} `yaml:"paths"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default simulation parameters
	cfg.Simulation.NumFrames = 32
	cfg.Simulation.TargetWidth = 256
	cfg.Simulation.TargetHeight = 256
	cfg.Simulation.Upscale = 4
	cfg.Simulation.Jitter = 40
	cfg.Simulation.Seed = 0
	cfg.Simulation.Backdrop = true

	// Set default reconstruction parameters
	cfg.Reconstruction.Scheme = string(coverage.Bayer)
	cfg.Reconstruction.DensityWeighted = true
	cfg.Reconstruction.Demosaic = false
	cfg.Reconstruction.Calibration = 0
	cfg.Reconstruction.NumCores = runtime.NumCPU() // Use all available cores by default

	// Set default output parameters
	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.Verbose = false
	cfg.Output.Format = "png"

	// Set default paths
	cfg.Paths.InputDir = "./output"
	cfg.Paths.OutputDir = "./reconstructions"
	cfg.Paths.TransformLog = "transforms.yaml"
	cfg.Paths.FramePrefix = ""
	cfg.Paths.Result = "reconstructed.png"
	cfg.Paths.Reference = ""

	return cfg
}

// Validate reports every setting that cannot describe a run
func (c *Config) Validate() error {
	var errs []error

	if c.Simulation.NumFrames <= 0 {
		errs = append(errs, fmt.Errorf("simulation.numFrames must be positive, got %d", c.Simulation.NumFrames))
	}
	if c.Simulation.TargetWidth <= 0 || c.Simulation.TargetHeight <= 0 {
		errs = append(errs, fmt.Errorf("simulation target size must be positive, got %dx%d",
			c.Simulation.TargetWidth, c.Simulation.TargetHeight))
	}
	if c.Simulation.Upscale <= 0 {
		errs = append(errs, fmt.Errorf("simulation.upscale must be positive, got %d", c.Simulation.Upscale))
	}
	if c.Simulation.Jitter < 0 {
		errs = append(errs, fmt.Errorf("simulation.jitter must not be negative, got %g", c.Simulation.Jitter))
	}
	if _, err := coverage.ParseScheme(c.Reconstruction.Scheme); err != nil {
		errs = append(errs, fmt.Errorf("reconstruction.scheme: %w", err))
	}
	if c.Reconstruction.Calibration < 0 {
		errs = append(errs, fmt.Errorf("reconstruction.calibration must not be negative, got %g", c.Reconstruction.Calibration))
	}
	if c.Reconstruction.NumCores <= 0 {
		errs = append(errs, fmt.Errorf("reconstruction.numCores must be positive, got %d", c.Reconstruction.NumCores))
	}
	if _, err := raster.Extension(c.Output.Format); err != nil {
		errs = append(errs, fmt.Errorf("output.format: %w", err))
	}
	if c.Paths.TransformLog == "" {
		errs = append(errs, errors.New("paths.transformLog must be set"))
	}

	return errors.Join(errs...)
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
