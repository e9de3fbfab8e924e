package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/jusunglee/reachability-go/internal/points"
	"github.com/jusunglee/reachability-go/internal/store"
	"github.com/jusunglee/reachability-go/pkg/models"
	"github.com/jusunglee/reachability-go/pkg/reachability"
)

// DefaultPause keeps the upstream API from answering 429 Too Many Requests
const DefaultPause = 5 * time.Second

// ConfigurationError is returned before any request is made when the run
// options are unusable
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Options configures a batch run
type Options struct {
	Modes            []models.TravelMode // empty means all four
	Radius           int                 // meters
	MaxTimeThreshold int                 // minutes
	WalkingSpeed     float64
	CyclingSpeed     float64
	Schedule         reachability.Schedule

	OutputDir  string
	Prefix     string
	Individual bool

	// ContinueOnError logs a failed batch and moves on instead of aborting
	ContinueOnError bool

	ChunkSize int
	Pause     time.Duration

	Logger *slog.Logger
}

// DefaultOptions mirror the command line defaults
func DefaultOptions() Options {
	return Options{
		Modes:            models.AllTravelModes,
		Radius:           20000,
		MaxTimeThreshold: 30,
		WalkingSpeed:     models.AverageWalkingSpeed,
		CyclingSpeed:     models.AverageCyclingSpeed,
		Schedule:         reachability.DefaultSchedule(),
		OutputDir:        filepath.Join(os.TempDir(), "reachability"),
		Prefix:           "reachability",
		ChunkSize:        points.ChunkSize,
		Pause:            DefaultPause,
	}
}

// Summary reports what a run produced
type Summary struct {
	Chunks        int
	Batches       int
	FailedBatches int
	Written       map[models.TravelMode]int
	Files         []string
}

// Driver fetches reachability for batches of points and writes the results
type Driver struct {
	fetcher reachability.Fetcher
	opts    Options
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewDriver validates opts and returns a driver using fetcher for requests
func NewDriver(fetcher reachability.Fetcher, opts Options) (*Driver, error) {
	if fetcher == nil {
		return nil, &ConfigurationError{Field: "fetcher", Reason: "must not be nil"}
	}

	if len(opts.Modes) == 0 {
		opts.Modes = models.AllTravelModes
	}
	modes, err := orderModes(opts.Modes)
	if err != nil {
		return nil, err
	}
	opts.Modes = modes

	if opts.OutputDir == "" {
		return nil, &ConfigurationError{Field: "output directory", Reason: "must not be empty"}
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = points.ChunkSize
	}
	if opts.Pause < 0 {
		return nil, &ConfigurationError{Field: "pause", Reason: "must not be negative"}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Driver{
		fetcher: fetcher,
		opts:    opts,
		logger:  logger,
		sleep:   sleepContext,
	}, nil
}

// Run processes pts chunk by chunk. Within a chunk every enabled mode is
// fetched concurrently for all points, written in point order, then the
// driver pauses before the next batch.
func (d *Driver) Run(ctx context.Context, pts []models.Point) (summary Summary, err error) {
	summary.Written = make(map[models.TravelMode]int)

	if err := ensureDir(d.opts.OutputDir); err != nil {
		return summary, err
	}

	out := store.NewStore(d.opts.OutputDir, d.opts.Prefix, d.opts.Individual)
	defer func() {
		if err := out.Close(); err != nil {
			d.logger.Error("Failed to close output files", "error", err)
		}
	}()

	if err := out.Open(d.opts.Modes); err != nil {
		return summary, err
	}

	chunks := points.Chunk(pts, d.opts.ChunkSize)
	summary.Chunks = len(chunks)

	defer func() {
		for _, mode := range d.opts.Modes {
			summary.Written[mode] = out.Written(mode)
		}
		summary.Files = out.Paths()
	}()

	for i, chunk := range chunks {
		for _, mode := range d.opts.Modes {
			summary.Batches++

			results, err := d.fetchBatch(ctx, mode, chunk)
			switch {
			case err != nil && (ctx.Err() != nil || !d.opts.ContinueOnError):
				return summary, errors.Wrapf(err, "chunk %d (%s)", i, mode)
			case err != nil:
				summary.FailedBatches++
				d.logger.Error("Batch failed, continuing",
					"chunk", i, "mode", mode.String(), "points", len(chunk), "error", err)
			default:
				// Write failures abort the run even with ContinueOnError
				if err := out.Write(mode, results); err != nil {
					return summary, errors.Wrapf(err, "chunk %d (%s)", i, mode)
				}
				d.logger.Info("Batch written",
					"chunk", i, "of", len(chunks), "mode", mode.String(), "points", len(chunk))
			}

			if err := d.sleep(ctx, d.opts.Pause); err != nil {
				return summary, err
			}
		}
	}

	return summary, nil
}

// fetchBatch fetches one mode for every point in chunk concurrently. The
// first failure cancels the rest and no results are returned.
func (d *Driver) fetchBatch(ctx context.Context, mode models.TravelMode, chunk []models.Point) ([]json.RawMessage, error) {
	results := make([]json.RawMessage, len(chunk))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range chunk {
		i, p := i, p
		req := d.request(mode, p)
		g.Go(func() error {
			result, err := d.fetcher.Fetch(gctx, req)
			if err != nil {
				return errors.Wrapf(err, "point %d", p.Index)
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (d *Driver) request(mode models.TravelMode, p models.Point) reachability.Request {
	o := d.opts
	switch mode {
	case models.Cycling:
		return reachability.NewCyclingRequest(p.Lat, p.Lon, o.Radius, o.WalkingSpeed, o.CyclingSpeed, o.MaxTimeThreshold)
	case models.Transit:
		return reachability.NewTransitRequest(p.Lat, p.Lon, o.Radius, o.WalkingSpeed, o.Schedule, o.MaxTimeThreshold)
	case models.Driving:
		return reachability.NewDrivingRequest(p.Lat, p.Lon, o.Radius, o.WalkingSpeed, o.Schedule, o.MaxTimeThreshold)
	default:
		return reachability.NewWalkingRequest(p.Lat, p.Lon, o.Radius, o.WalkingSpeed, o.MaxTimeThreshold)
	}
}

// orderModes validates modes and returns them in processing order
func orderModes(modes []models.TravelMode) ([]models.TravelMode, error) {
	enabled := make(map[models.TravelMode]bool)
	for _, mode := range modes {
		if !mode.Valid() {
			return nil, &ConfigurationError{Field: "travel mode", Reason: mode.String()}
		}
		enabled[mode] = true
	}

	ordered := make([]models.TravelMode, 0, len(enabled))
	for _, mode := range models.AllTravelModes {
		if enabled[mode] {
			ordered = append(ordered, mode)
		}
	}
	return ordered, nil
}

func ensureDir(dir string) error {
	info, err := os.Stat(dir)
	switch {
	case err == nil && !info.IsDir():
		return &ConfigurationError{Field: "output directory", Reason: dir + " exists and is not a directory"}
	case err == nil:
		return nil
	case !os.IsNotExist(err):
		return errors.Wrapf(err, "failed to stat %s", dir)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &ConfigurationError{Field: "output directory", Reason: err.Error()}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
