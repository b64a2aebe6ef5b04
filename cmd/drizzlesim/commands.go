package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"drizzlesim/internal/models"
	"drizzlesim/pkg/config"
	"drizzlesim/pkg/coverage"
	"drizzlesim/pkg/quality"
	"drizzlesim/pkg/raster"
	"drizzlesim/pkg/reconstruction"
	"drizzlesim/pkg/simulation"
)

func newSimulateCommand(a *app) *cobra.Command {
	var (
		frames    int
		seed      uint64
		jitter    float64
		scheme    string
		outputDir string
	)

	cmd := &cobra.Command{
		Use:   "simulate <source-image>",
		Short: "Render jittered low-resolution frames and their transform log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			flags := cmd.Flags()
			if flags.Changed("frames") {
				cfg.Simulation.NumFrames = frames
			}
			if flags.Changed("seed") {
				cfg.Simulation.Seed = seed
			}
			if flags.Changed("jitter") {
				cfg.Simulation.Jitter = jitter
			}
			if flags.Changed("scheme") {
				cfg.Reconstruction.Scheme = scheme
			}
			if flags.Changed("output-dir") {
				cfg.Paths.InputDir = outputDir
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			s, err := coverage.ParseScheme(cfg.Reconstruction.Scheme)
			if err != nil {
				return err
			}
			params := &simulation.Params{
				SourceImage:  args[0],
				OutputDir:    cfg.Paths.InputDir,
				TransformLog: cfg.Paths.TransformLog,
				NumFrames:    cfg.Simulation.NumFrames,
				TargetWidth:  cfg.Simulation.TargetWidth,
				TargetHeight: cfg.Simulation.TargetHeight,
				Upscale:      cfg.Simulation.Upscale,
				Jitter:       cfg.Simulation.Jitter,
				Seed:         cfg.Simulation.Seed,
				Backdrop:     cfg.Simulation.Backdrop,
				Scheme:       s,
				Format:       cfg.Output.Format,
			}

			start := time.Now()
			if err := simulation.NewSynthesizer(params).Run(); err != nil {
				return fmt.Errorf("simulation failed: %w", err)
			}

			fmt.Printf("Simulated %d %s frames of %dx%d in %.2f seconds\n",
				params.NumFrames, s, params.TargetWidth, params.TargetHeight, time.Since(start).Seconds())
			fmt.Printf("Frames and transform log written to: %s\n", params.OutputDir)
			return nil
		},
	}

	cmd.Flags().IntVarP(&frames, "frames", "n", 0, "Number of frames to render")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Random seed (0 draws a fresh seed)")
	cmd.Flags().Float64Var(&jitter, "jitter", 0, "Full width of the offset distribution in reference pixels")
	cmd.Flags().StringVar(&scheme, "scheme", "", "Coverage scheme: bayer, drizzle-grid or full")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Directory for frames and the transform log")
	return cmd
}

func newReconstructCommand(a *app) *cobra.Command {
	var (
		inputDir     string
		output       string
		scheme       string
		naive        bool
		demosaic     bool
		cores        int
		frames       int
		intermediary bool
	)

	cmd := &cobra.Command{
		Use:   "reconstruct",
		Short: "Stack a frame sequence onto the reference grid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			flags := cmd.Flags()
			if flags.Changed("input-dir") {
				cfg.Paths.InputDir = inputDir
			}
			if flags.Changed("scheme") {
				cfg.Reconstruction.Scheme = scheme
			}
			if flags.Changed("naive") {
				cfg.Reconstruction.DensityWeighted = !naive
			}
			if flags.Changed("demosaic") {
				cfg.Reconstruction.Demosaic = demosaic
			}
			if flags.Changed("cores") {
				cfg.Reconstruction.NumCores = cores
			}
			if flags.Changed("save-intermediary") {
				cfg.Output.SaveIntermediaryResults = intermediary
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			params, err := reconstructionParams(cfg)
			if err != nil {
				return err
			}
			if flags.Changed("output") {
				params.OutputFile = output
			}
			if flags.Changed("frames") {
				params.NumFrames = frames
			}

			r := reconstruction.NewReconstructor(params)
			if err := r.Process(); err != nil {
				return fmt.Errorf("reconstruction failed: %w", err)
			}

			printStats(r.GetStats(), params)

			if cfg.Paths.Reference != "" {
				ref, err := raster.Load(cfg.Paths.Reference)
				if err != nil {
					return fmt.Errorf("failed to load reference image: %w", err)
				}
				fmt.Printf("\nQuality against %s:\n", cfg.Paths.Reference)
				printMetrics(quality.Score(ref, r.GetResult()))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputDir, "input-dir", "i", "", "Directory containing frames and the transform log")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Reconstructed image path")
	cmd.Flags().StringVar(&scheme, "scheme", "", "Coverage scheme: bayer, drizzle-grid or full")
	cmd.Flags().BoolVar(&naive, "naive", false, "Average by frame count instead of density weighting")
	cmd.Flags().BoolVar(&demosaic, "demosaic", false, "Demosaic bayer frames before registration")
	cmd.Flags().IntVar(&cores, "cores", 0, "Number of CPU cores to use")
	cmd.Flags().IntVarP(&frames, "frames", "n", 0, "Expected frame count (0 takes the transform log length)")
	cmd.Flags().BoolVar(&intermediary, "save-intermediary", false, "Save per-frame placements and coverage maps")
	return cmd
}

// reconstructionParams maps the configuration onto reconstructor parameters
func reconstructionParams(cfg *config.Config) (*reconstruction.Params, error) {
	s, err := coverage.ParseScheme(cfg.Reconstruction.Scheme)
	if err != nil {
		return nil, err
	}
	return &reconstruction.Params{
		InputDir:                cfg.Paths.InputDir,
		TransformLog:            cfg.Paths.TransformLog,
		FramePrefix:             cfg.Paths.FramePrefix,
		Format:                  cfg.Output.Format,
		Upscale:                 cfg.Simulation.Upscale,
		Scheme:                  s,
		DensityWeighted:         cfg.Reconstruction.DensityWeighted,
		Demosaic:                cfg.Reconstruction.Demosaic,
		Calibration:             cfg.Reconstruction.Calibration,
		NumCores:                cfg.Reconstruction.NumCores,
		OutputFile:              filepath.Join(cfg.Paths.OutputDir, cfg.Paths.Result),
		SaveIntermediaryResults: cfg.Output.SaveIntermediaryResults,
		IntermediaryDir:         filepath.Join(cfg.Paths.OutputDir, "intermediary_results"),
	}, nil
}

func printStats(stats models.RunStats, params *reconstruction.Params) {
	fmt.Printf("\nReconstruction completed successfully in %.2f seconds!\n", stats.Elapsed.Seconds())
	if params.OutputFile != "" {
		fmt.Printf("Output image saved to: %s\n\n", params.OutputFile)
	}

	fmt.Printf("Coverage statistics:\n")
	fmt.Printf("====================\n")
	fmt.Printf("Frames:               %d\n", stats.Frames)
	fmt.Printf("Reference grid:       %d x %d\n", stats.Width, stats.Height)
	fmt.Printf("Average coverage:     %.4f\n", stats.AverageCoverage)
	fmt.Printf("Calibration (K):      %.2f\n", stats.Calibration)
	fmt.Printf("Coverage median:      %.2f\n", stats.CoverageMedian)
	fmt.Printf("Coverage p95:         %.2f\n", stats.CoverageP95)
	fmt.Printf("Uncovered samples:    %d\n", stats.ZeroCoverageSites)

	if params.SaveIntermediaryResults {
		fmt.Println("\nIntermediary results saved to:")
		fmt.Printf("%s\n", params.IntermediaryDir)
	}
}

func printMetrics(m quality.Metrics) {
	fmt.Printf("Root Mean Square Error (RMSE): %.6f\n", m.RMSE)
	fmt.Printf("Peak Signal-to-Noise (PSNR):   %.2f dB\n", m.PSNR)
	fmt.Printf("Structural Similarity (SSIM):  %.4f\n", m.SSIM)
}

func newPatternCommand(a *app) *cobra.Command {
	var (
		scheme string
		output string
	)

	cmd := &cobra.Command{
		Use:   "pattern",
		Short: "Export the coverage pattern of a scheme as an image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("scheme") {
				cfg.Reconstruction.Scheme = scheme
			}
			s, err := coverage.ParseScheme(cfg.Reconstruction.Scheme)
			if err != nil {
				return err
			}

			width, height := s.PatternSize(cfg.Simulation.TargetWidth, cfg.Simulation.TargetHeight, cfg.Simulation.Upscale)
			mask, err := coverage.Generate(width, height, s)
			if err != nil {
				return err
			}

			if output == "" {
				output = filepath.Join(cfg.Paths.OutputDir, s.PatternName()+".png")
			}
			if err := raster.Save(output, coverage.ToImageGrid(mask)); err != nil {
				return fmt.Errorf("failed to save pattern: %w", err)
			}

			fmt.Printf("%s pattern (%dx%d, active fraction %.3f, K %.2f) saved to: %s\n",
				s, width, height, coverage.ActiveFraction(mask), coverage.Calibration(mask), output)
			return nil
		},
	}

	cmd.Flags().StringVar(&scheme, "scheme", "", "Coverage scheme: bayer, drizzle-grid or full")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Image path (default <outputDir>/<pattern>.png)")
	return cmd
}

func newScoreCommand(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:   "score <reference-image> <candidate-image>",
		Short: "Compare a reconstruction with a ground-truth image",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			ref, err := raster.Load(args[0])
			if err != nil {
				return fmt.Errorf("failed to load reference image: %w", err)
			}
			candidate, err := raster.Load(args[1])
			if err != nil {
				return fmt.Errorf("failed to load candidate image: %w", err)
			}
			printMetrics(quality.Score(ref, candidate))
			return nil
		},
	}
}

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with default values",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := config.CreateDefaultConfigFile(a.configPath); err != nil {
				return err
			}
			fmt.Printf("Default configuration written to: %s\n", a.configPath)
			return nil
		},
	})
	return cmd
}
