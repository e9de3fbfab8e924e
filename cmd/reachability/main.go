package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jusunglee/reachability-go/internal/batch"
	"github.com/jusunglee/reachability-go/internal/config"
	"github.com/jusunglee/reachability-go/internal/points"
	"github.com/jusunglee/reachability-go/pkg/models"
	"github.com/jusunglee/reachability-go/pkg/reachability"
)

func main() {
	cfg := config.Load()

	var (
		entryPoints     = flag.String("entry-points", "", "GeoJSON file with the origin points (required)")
		baseURL         = flag.String("url", cfg.BaseURL, "Reachability API URL")
		travelModes     = flag.String("travel-modes", "", "Comma separated travel modes (walking,cycling,transit,driving); empty means all")
		radius          = flag.Int("radius", cfg.Radius, "Search radius in meters")
		maxTime         = flag.Int("max-time-threshold", cfg.MaxTimeThreshold, "Maximum travel time in minutes (API accepts up to 500)")
		prefix          = flag.String("prefix", cfg.Prefix, "Prefix for output file names")
		outputDir       = flag.String("output-dir", cfg.OutputDir, "Directory for output files")
		individual      = flag.Bool("individual-files", false, "Write one .geojson file per point instead of .acc_dump files")
		continueOnError = flag.Bool("continue-on-error", false, "Log failed batches and keep going")
		timeOfDay       = flag.String("time-of-day", "rushHour", "Transit/driving time of day (rushHour, midday)")
		timeProfile     = flag.String("time-profile", "fastest", "Transit/driving time profile (fastest, average, slowest)")
		pause           = flag.Duration("pause", cfg.Pause, "Pause between batches")
		timeout         = flag.Duration("timeout", cfg.RequestTimeout, "Per-request timeout (0 disables)")
	)
	flag.Parse()

	if *entryPoints == "" {
		slog.Error("Entry points file required (use -entry-points)")
		os.Exit(1)
	}

	opts, err := buildOptions(*travelModes, *timeOfDay, *timeProfile)
	if err != nil {
		slog.Error("Invalid arguments", "error", err)
		os.Exit(1)
	}
	opts.Radius = *radius
	opts.MaxTimeThreshold = *maxTime
	opts.Prefix = *prefix
	opts.OutputDir = *outputDir
	opts.Individual = *individual
	opts.ContinueOnError = *continueOnError
	opts.Pause = *pause

	pts, err := points.Load(*entryPoints)
	if err != nil {
		slog.Error("Failed to load entry points", "file", *entryPoints, "error", err)
		os.Exit(1)
	}

	client := reachability.NewClient(reachability.Config{
		BaseURL: *baseURL,
		APIKey:  cfg.APIKey,
		Timeout: *timeout,
	})

	driver, err := batch.NewDriver(client, opts)
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting reachability run",
		"points", len(pts), "modes", modeNames(opts.Modes), "url", *baseURL, "output", opts.OutputDir)

	summary, err := driver.Run(ctx, pts)
	if err != nil {
		slog.Error("Reachability run failed", "error", err, "batches", summary.Batches, "files", len(summary.Files))
		stop()
		os.Exit(1)
	}

	fmt.Printf("\nProcessed %d points in %d chunks (%d batches, %d failed)\n",
		len(pts), summary.Chunks, summary.Batches, summary.FailedBatches)
	for _, mode := range opts.Modes {
		fmt.Printf("  %-8s %d results\n", mode, summary.Written[mode])
	}
	fmt.Printf("Output directory: %s\n", opts.OutputDir)
}

func buildOptions(travelModes, timeOfDay, timeProfile string) (batch.Options, error) {
	opts := batch.DefaultOptions()

	if travelModes != "" {
		modes, err := models.ParseTravelModes(strings.Split(travelModes, ","))
		if err != nil {
			return opts, &batch.ConfigurationError{Field: "travel modes", Reason: err.Error()}
		}
		if len(modes) == 0 {
			return opts, &batch.ConfigurationError{Field: "travel modes", Reason: fmt.Sprintf("no travel mode in %q", travelModes)}
		}
		opts.Modes = modes
	}

	tod, err := models.ParseTimeOfDay(timeOfDay)
	if err != nil {
		return opts, &batch.ConfigurationError{Field: "time of day", Reason: err.Error()}
	}
	profile, err := models.ParseTimeProfile(timeProfile)
	if err != nil {
		return opts, &batch.ConfigurationError{Field: "time profile", Reason: err.Error()}
	}
	opts.Schedule = reachability.Schedule{TimeOfDay: tod, TimeProfile: profile}

	return opts, nil
}

func modeNames(modes []models.TravelMode) []string {
	names := make([]string, len(modes))
	for i, mode := range modes {
		names[i] = mode.String()
	}
	return names
}
