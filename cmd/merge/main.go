package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/jusunglee/reachability-go/internal/config"
	"github.com/jusunglee/reachability-go/internal/merge"
	"github.com/jusunglee/reachability-go/pkg/models"
)

func main() {
	cfg := config.Load()

	var (
		dir    = flag.String("dir", cfg.OutputDir, "Directory holding reachability output files")
		prefix = flag.String("prefix", cfg.Prefix, "Output file prefix used by the run")
		mode   = flag.String("travel-mode", "", "Travel mode to merge (walking, cycling, transit, driving)")
		out    = flag.String("out", "", "Destination GeoJSON file (default stdout)")
	)
	flag.Parse()

	travelMode, err := models.ParseTravelMode(*mode)
	if err != nil {
		slog.Error("Invalid travel mode", "error", err)
		os.Exit(1)
	}

	merged, stats, err := merge.Mode(*dir, *prefix, travelMode)
	if err != nil {
		slog.Error("Failed to merge reachability files", "dir", *dir, "error", err)
		os.Exit(1)
	}
	if stats.Truncated > 0 {
		slog.Warn("Skipped truncated trailing lines", "files", stats.Truncated)
	}

	body, err := merged.MarshalJSON()
	if err != nil {
		slog.Error("Failed to encode result", "error", err)
		os.Exit(1)
	}

	if *out == "" {
		os.Stdout.Write(body)
		os.Stdout.WriteString("\n")
	} else if err := os.WriteFile(*out, body, 0o644); err != nil {
		slog.Error("Failed to write result", "file", *out, "error", err)
		os.Exit(1)
	}

	slog.Info("Merged reachability files",
		"mode", travelMode.String(), "files", stats.Files, "features", stats.Features, "kept", stats.Kept)
}
