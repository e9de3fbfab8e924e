package batch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/jusunglee/reachability-go/pkg/models"
	"github.com/jusunglee/reachability-go/pkg/reachability"
)

// MockFetcher implements reachability.Fetcher for testing. Points are
// identified by their latitude, which the tests set to the point index.
type MockFetcher struct {
	mu      sync.Mutex
	calls   []reachability.Request
	fail    func(req reachability.Request) error
	respond func(req reachability.Request) reachability.Result
}

func (m *MockFetcher) Fetch(ctx context.Context, req reachability.Request) (reachability.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	// Later points finish first so completion order differs from input order
	select {
	case <-time.After(time.Duration(20-int(req.Lat)%20) * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if m.fail != nil {
		if err := m.fail(req); err != nil {
			return nil, err
		}
	}
	if m.respond != nil {
		return m.respond(req), nil
	}
	return mockResult(req), nil
}

func (m *MockFetcher) modeSequence() []models.TravelMode {
	m.mu.Lock()
	defer m.mu.Unlock()

	var seq []models.TravelMode
	for _, call := range m.calls {
		if len(seq) == 0 || seq[len(seq)-1] != call.Mode {
			seq = append(seq, call.Mode)
		}
	}
	return seq
}

func mockResult(req reachability.Request) reachability.Result {
	return reachability.Result(fmt.Sprintf(
		`{"type": "FeatureCollection", "features": [], "properties": {"mode": %q, "point": %d}}`,
		req.Mode, int(req.Lat)))
}

func makePoints(n int) []models.Point {
	pts := make([]models.Point, n)
	for i := range pts {
		pts[i] = models.Point{Index: i, Lat: float64(i), Lon: 25.7}
	}
	return pts
}

func testOptions(t *testing.T) Options {
	opts := DefaultOptions()
	opts.OutputDir = filepath.Join(t.TempDir(), "out")
	opts.Pause = 0
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return opts
}

func newTestDriver(t *testing.T, fetcher reachability.Fetcher, opts Options) (*Driver, *[]time.Duration) {
	t.Helper()
	d, err := NewDriver(fetcher, opts)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	var pauses []time.Duration
	d.sleep = func(ctx context.Context, pause time.Duration) error {
		pauses = append(pauses, pause)
		return ctx.Err()
	}
	return d, &pauses
}

func TestRunAggregateSingleMode(t *testing.T) {
	fetcher := &MockFetcher{}
	opts := testOptions(t)
	opts.Modes = []models.TravelMode{models.Walking}
	d, _ := newTestDriver(t, fetcher, opts)

	summary, err := d.Run(context.Background(), makePoints(7))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	files := filesWithExt(t, opts.OutputDir, ".acc_dump")
	if len(files) != 1 {
		t.Fatalf("Expected 1 aggregate file, got %d", len(files))
	}

	lines := readLines(t, files[0])
	if len(lines) != 7 {
		t.Fatalf("Expected 7 lines, got %d", len(lines))
	}
	for i, line := range lines {
		var doc struct {
			Properties struct {
				Mode  string `json:"mode"`
				Point int    `json:"point"`
			} `json:"properties"`
		}
		if err := json.Unmarshal([]byte(line), &doc); err != nil {
			t.Fatalf("Line %d is not valid JSON: %v", i, err)
		}
		if doc.Properties.Point != i {
			t.Errorf("Line %d holds point %d; output must follow input order", i, doc.Properties.Point)
		}
		if doc.Properties.Mode != "walking" {
			t.Errorf("Line %d has mode %s", i, doc.Properties.Mode)
		}
	}

	if summary.Chunks != 1 || summary.Batches != 1 || summary.Written[models.Walking] != 7 {
		t.Errorf("Unexpected summary %+v", summary)
	}
}

func TestRunRoundTrip(t *testing.T) {
	fetcher := &MockFetcher{}
	opts := testOptions(t)
	opts.Modes = []models.TravelMode{models.Transit}
	d, _ := newTestDriver(t, fetcher, opts)

	pts := makePoints(3)
	if _, err := d.Run(context.Background(), pts); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	files := filesWithExt(t, opts.OutputDir, ".acc_dump")
	lines := readLines(t, files[0])
	for i, line := range lines {
		req := d.request(models.Transit, pts[i])
		var want, got interface{}
		if err := json.Unmarshal(mockResult(req), &want); err != nil {
			t.Fatal(err)
		}
		if err := json.Unmarshal([]byte(line), &got); err != nil {
			t.Fatal(err)
		}
		wantJSON, _ := json.Marshal(want)
		gotJSON, _ := json.Marshal(got)
		if string(wantJSON) != string(gotJSON) {
			t.Errorf("Line %d: expected %s, got %s", i, wantJSON, gotJSON)
		}
	}
}

func TestRunCyclingOnlyCreatesOneFile(t *testing.T) {
	fetcher := &MockFetcher{}
	opts := testOptions(t)
	opts.Modes = []models.TravelMode{models.Cycling}
	d, _ := newTestDriver(t, fetcher, opts)

	if _, err := d.Run(context.Background(), makePoints(3)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	files := filesWithExt(t, opts.OutputDir, ".acc_dump")
	if len(files) != 1 {
		t.Fatalf("Expected exactly 1 aggregate file, got %d", len(files))
	}
	if !strings.HasPrefix(filepath.Base(files[0]), "reachability_cycling_") {
		t.Errorf("Unexpected file %s", files[0])
	}

	for _, call := range fetcher.calls {
		if call.Mode != models.Cycling {
			t.Errorf("Unexpected %s request", call.Mode)
		}
		if call.CyclingSpeed != models.AverageCyclingSpeed {
			t.Errorf("Expected cycling speed %v, got %v", models.AverageCyclingSpeed, call.CyclingSpeed)
		}
	}
}

func TestRunIndividualFiles(t *testing.T) {
	fetcher := &MockFetcher{}
	opts := testOptions(t)
	opts.Individual = true
	opts.Prefix = "pois"
	opts.Modes = []models.TravelMode{models.Driving, models.Walking}
	d, _ := newTestDriver(t, fetcher, opts)

	if _, err := d.Run(context.Background(), makePoints(3)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(filesWithExt(t, opts.OutputDir, ".acc_dump")) != 0 {
		t.Error("Individual mode must not create aggregate files")
	}

	files := filesWithExt(t, opts.OutputDir, ".geojson")
	if len(files) != 6 {
		t.Fatalf("Expected 3x2 files, got %d", len(files))
	}
	for _, file := range files {
		name := filepath.Base(file)
		if !strings.HasPrefix(name, "pois_walking_") && !strings.HasPrefix(name, "pois_driving_") {
			t.Errorf("Unexpected file %s", name)
		}
		data, err := os.ReadFile(file)
		if err != nil {
			t.Fatal(err)
		}
		dec := json.NewDecoder(strings.NewReader(string(data)))
		var doc interface{}
		if err := dec.Decode(&doc); err != nil {
			t.Fatalf("%s does not hold JSON: %v", name, err)
		}
		if dec.More() {
			t.Errorf("%s holds more than one document", name)
		}
	}
}

func TestRunOrderAndPauses(t *testing.T) {
	fetcher := &MockFetcher{}
	opts := testOptions(t)
	opts.Pause = DefaultPause
	d, pauses := newTestDriver(t, fetcher, opts)

	summary, err := d.Run(context.Background(), makePoints(25))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if summary.Chunks != 3 {
		t.Errorf("Expected 3 chunks, got %d", summary.Chunks)
	}
	if len(*pauses) != 12 {
		t.Errorf("Expected a pause after each of the 12 batches, got %d", len(*pauses))
	}
	for _, p := range *pauses {
		if p != DefaultPause {
			t.Errorf("Expected %v pause, got %v", DefaultPause, p)
		}
	}

	seq := fetcher.modeSequence()
	if len(seq) != 12 {
		t.Fatalf("Expected 12 batches, got %v", seq)
	}
	for i, mode := range seq {
		if mode != models.AllTravelModes[i%4] {
			t.Errorf("Batch %d: expected %s, got %s", i, models.AllTravelModes[i%4], mode)
		}
	}

	for _, mode := range models.AllTravelModes {
		if summary.Written[mode] != 25 {
			t.Errorf("Expected 25 %s results, got %d", mode, summary.Written[mode])
		}
	}
	if len(summary.Files) != 4 {
		t.Errorf("Expected 4 files, got %d", len(summary.Files))
	}
}

func transitFailure(req reachability.Request) error {
	if req.Mode == models.Transit && req.Lat == 1 {
		return &reachability.UpstreamError{Status: 429, Message: "Too Many Requests"}
	}
	return nil
}

func TestRunFailFast(t *testing.T) {
	fetcher := &MockFetcher{fail: transitFailure}
	opts := testOptions(t)
	d, _ := newTestDriver(t, fetcher, opts)

	summary, err := d.Run(context.Background(), makePoints(3))

	var upstream *reachability.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("Expected *UpstreamError, got %v", err)
	}
	if upstream.Status != 429 {
		t.Errorf("Expected status 429, got %d", upstream.Status)
	}

	if summary.Written[models.Walking] != 3 || summary.Written[models.Cycling] != 3 {
		t.Errorf("Completed batches should stay on disk: %+v", summary.Written)
	}
	if summary.Written[models.Transit] != 0 {
		t.Errorf("Failed batch must not be written, got %d", summary.Written[models.Transit])
	}

	for _, call := range fetcher.calls {
		if call.Mode == models.Driving {
			t.Fatal("Run should stop before the driving batch")
		}
	}

	counts := lineCountsByMode(t, opts.OutputDir)
	if counts["walking"] != 3 || counts["cycling"] != 3 || counts["transit"] != 0 || counts["driving"] != 0 {
		t.Errorf("Unexpected line counts %v", counts)
	}
}

func TestRunContinueOnError(t *testing.T) {
	fetcher := &MockFetcher{fail: transitFailure}
	opts := testOptions(t)
	opts.ContinueOnError = true
	d, _ := newTestDriver(t, fetcher, opts)

	summary, err := d.Run(context.Background(), makePoints(3))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if summary.FailedBatches != 1 {
		t.Errorf("Expected 1 failed batch, got %d", summary.FailedBatches)
	}

	counts := lineCountsByMode(t, opts.OutputDir)
	if counts["walking"] != 3 || counts["cycling"] != 3 || counts["transit"] != 0 || counts["driving"] != 3 {
		t.Errorf("Unexpected line counts %v", counts)
	}
}

func TestRunWriteFailureAbortsWithContinueOnError(t *testing.T) {
	fetcher := &MockFetcher{
		respond: func(req reachability.Request) reachability.Result {
			if req.Mode == models.Cycling && req.Lat == 1 {
				return reachability.Result(`{"type": "FeatureCollection", "feat`)
			}
			return mockResult(req)
		},
	}
	opts := testOptions(t)
	opts.Individual = true
	opts.ContinueOnError = true
	d, _ := newTestDriver(t, fetcher, opts)

	summary, err := d.Run(context.Background(), makePoints(3))
	if err == nil {
		t.Fatal("Expected write failure to abort the run")
	}
	if summary.FailedBatches != 0 {
		t.Errorf("Write failures are not counted as skipped batches, got %d", summary.FailedBatches)
	}

	for _, call := range fetcher.calls {
		if call.Mode == models.Transit || call.Mode == models.Driving {
			t.Fatalf("Run should stop after the cycling batch, saw %s", call.Mode)
		}
	}

	files := filesWithExt(t, opts.OutputDir, ".geojson")
	for _, file := range files {
		if strings.HasPrefix(filepath.Base(file), "reachability_cycling_") {
			t.Errorf("Failed batch left %s on disk", filepath.Base(file))
		}
	}
	if len(files) != 3 {
		t.Errorf("Expected only the 3 walking files, got %d", len(files))
	}
}

// barrierFetcher holds every call until the whole chunk is in flight, so it
// only completes when a batch is fetched concurrently
type barrierFetcher struct {
	mu       sync.Mutex
	total    int
	inFlight int
	peaks    map[int]int
	arrived  map[int]int
	ready    map[int]chan struct{}
}

func newBarrierFetcher(total int) *barrierFetcher {
	return &barrierFetcher{
		total:   total,
		peaks:   make(map[int]int),
		arrived: make(map[int]int),
		ready:   make(map[int]chan struct{}),
	}
}

func (b *barrierFetcher) Fetch(ctx context.Context, req reachability.Request) (reachability.Result, error) {
	chunk := int(req.Lat) / 10
	want := b.total - chunk*10
	if want > 10 {
		want = 10
	}

	b.mu.Lock()
	b.inFlight++
	if b.inFlight > b.peaks[chunk] {
		b.peaks[chunk] = b.inFlight
	}
	ready, ok := b.ready[chunk]
	if !ok {
		ready = make(chan struct{})
		b.ready[chunk] = ready
	}
	b.arrived[chunk]++
	if b.arrived[chunk] == want {
		close(ready)
	}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.inFlight--
		b.mu.Unlock()
	}()

	select {
	case <-ready:
		return mockResult(req), nil
	case <-time.After(5 * time.Second):
		return nil, errors.Errorf("point %d timed out waiting for the rest of chunk %d", int(req.Lat), chunk)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestRunBatchIsConcurrent(t *testing.T) {
	fetcher := newBarrierFetcher(13)
	opts := testOptions(t)
	opts.Modes = []models.TravelMode{models.Walking}
	d, _ := newTestDriver(t, fetcher, opts)

	summary, err := d.Run(context.Background(), makePoints(13))
	if err != nil {
		t.Fatalf("Batch was not fetched concurrently: %v", err)
	}

	if fetcher.peaks[0] != 10 {
		t.Errorf("Expected 10 requests in flight for the first chunk, got %d", fetcher.peaks[0])
	}
	if fetcher.peaks[1] != 3 {
		t.Errorf("Expected 3 requests in flight for the second chunk, got %d", fetcher.peaks[1])
	}
	if summary.Written[models.Walking] != 13 {
		t.Errorf("Expected 13 results, got %d", summary.Written[models.Walking])
	}
}

func TestRunCancelledDuringPause(t *testing.T) {
	fetcher := &MockFetcher{}
	opts := testOptions(t)
	d, _ := newTestDriver(t, fetcher, opts)

	ctx, cancel := context.WithCancel(context.Background())
	d.sleep = func(ctx context.Context, pause time.Duration) error {
		cancel()
		return sleepContext(ctx, time.Hour)
	}

	summary, err := d.Run(ctx, makePoints(12))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if summary.Batches != 1 {
		t.Errorf("Expected run to stop after the first batch, got %d", summary.Batches)
	}
}

func TestRunEmptyInput(t *testing.T) {
	fetcher := &MockFetcher{}
	opts := testOptions(t)
	d, pauses := newTestDriver(t, fetcher, opts)

	summary, err := d.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if summary.Chunks != 0 || len(fetcher.calls) != 0 || len(*pauses) != 0 {
		t.Errorf("Expected no work, got %+v", summary)
	}
	if len(filesWithExt(t, opts.OutputDir, ".acc_dump")) != 4 {
		t.Error("Aggregate files are created before any chunk is processed")
	}
}

func TestConfigurationErrors(t *testing.T) {
	t.Run("output path is a file", func(t *testing.T) {
		opts := testOptions(t)
		path := filepath.Join(t.TempDir(), "file")
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		opts.OutputDir = path

		fetcher := &MockFetcher{}
		d, _ := newTestDriver(t, fetcher, opts)
		_, err := d.Run(context.Background(), makePoints(2))

		var cfgErr *ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("Expected *ConfigurationError, got %v", err)
		}
		if len(fetcher.calls) != 0 {
			t.Error("No request may be made on configuration error")
		}
	})

	t.Run("invalid mode", func(t *testing.T) {
		opts := testOptions(t)
		opts.Modes = []models.TravelMode{models.Walking, models.TravelMode(7)}
		_, err := NewDriver(&MockFetcher{}, opts)
		var cfgErr *ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("Expected *ConfigurationError, got %v", err)
		}
	})

	t.Run("nil fetcher", func(t *testing.T) {
		if _, err := NewDriver(nil, testOptions(t)); err == nil {
			t.Error("Expected error for nil fetcher")
		}
	})
}

func TestNewDriverOrdersModes(t *testing.T) {
	opts := testOptions(t)
	opts.Modes = []models.TravelMode{models.Driving, models.Walking, models.Driving}
	d, err := NewDriver(&MockFetcher{}, opts)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(d.opts.Modes) != 2 || d.opts.Modes[0] != models.Walking || d.opts.Modes[1] != models.Driving {
		t.Errorf("Unexpected modes %v", d.opts.Modes)
	}

	opts.Modes = nil
	d, err = NewDriver(&MockFetcher{}, opts)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(d.opts.Modes) != 4 {
		t.Errorf("Expected all modes by default, got %v", d.opts.Modes)
	}
}

func filesWithExt(t *testing.T, dir, ext string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*"+ext))
	if err != nil {
		t.Fatal(err)
	}
	return matches
}

func lineCountsByMode(t *testing.T, dir string) map[string]int {
	t.Helper()
	counts := make(map[string]int)
	for _, file := range filesWithExt(t, dir, ".acc_dump") {
		mode := strings.Split(filepath.Base(file), "_")[1]
		counts[mode] = len(readLines(t, file))
	}
	return counts
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.Fatal(err)
	}
	return lines
}
