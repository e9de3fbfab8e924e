package merge

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	geojson "github.com/paulmach/go.geojson"
	"github.com/pkg/errors"

	"github.com/jusunglee/reachability-go/internal/store"
	"github.com/jusunglee/reachability-go/pkg/models"
)

// Property names read from reachability features
const (
	TravelTimeProperty = "travel_time"
	IDProperty         = "id"
)

// Stats describes what Mode read
type Stats struct {
	Files     int
	Documents int
	Features  int
	Kept      int
	Truncated int // trailing partial lines skipped
}

// Files lists the output files written for prefix and mode in dir, in both
// aggregate and individual layouts
func Files(dir, prefix string, mode models.TravelMode) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", dir)
	}

	head := prefix + "_" + mode.String() + "_"
	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, head) {
			continue
		}
		if ext := filepath.Ext(name); ext != store.AggregateExt && ext != store.IndividualExt {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// ReadFile reads every FeatureCollection in a JSON-Lines file. A final line
// without a newline that does not parse is treated as a truncated write and
// skipped; truncated reports whether that happened.
func ReadFile(path string) (collections []*geojson.FeatureCollection, truncated bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	for lineNo := 1; ; lineNo++ {
		line, readErr := reader.ReadBytes('\n')
		if readErr != nil && readErr != io.EOF {
			return nil, false, errors.Wrapf(readErr, "failed to read %s", path)
		}

		complete := readErr == nil
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			fc, parseErr := geojson.UnmarshalFeatureCollection(trimmed)
			switch {
			case parseErr == nil:
				collections = append(collections, fc)
			case !complete:
				truncated = true
			default:
				return nil, false, errors.Wrapf(parseErr, "%s:%d", path, lineNo)
			}
		}

		if !complete {
			return collections, truncated, nil
		}
	}
}

// Merge concatenates features, orders them by travel time and keeps the
// first (fastest) feature for each id. Features without an id are kept;
// features without a travel time sort last.
func Merge(collections []*geojson.FeatureCollection) *geojson.FeatureCollection {
	var features []*geojson.Feature
	for _, fc := range collections {
		if fc == nil {
			continue
		}
		for _, feature := range fc.Features {
			if feature != nil {
				features = append(features, feature)
			}
		}
	}

	sort.SliceStable(features, func(i, j int) bool {
		ti, okI := travelTime(features[i])
		tj, okJ := travelTime(features[j])
		if okI != okJ {
			return okI
		}
		return ti < tj
	})

	result := geojson.NewFeatureCollection()
	seen := make(map[string]bool)
	for _, feature := range features {
		if id, ok := featureID(feature); ok {
			if seen[id] {
				continue
			}
			seen[id] = true
		}
		result.AddFeature(feature)
	}
	return result
}

// Mode merges every output file for prefix and mode found in dir
func Mode(dir, prefix string, mode models.TravelMode) (*geojson.FeatureCollection, Stats, error) {
	var stats Stats

	files, err := Files(dir, prefix, mode)
	if err != nil {
		return nil, stats, err
	}

	var collections []*geojson.FeatureCollection
	for _, file := range files {
		fcs, truncated, err := ReadFile(file)
		if err != nil {
			return nil, stats, err
		}
		stats.Files++
		stats.Documents += len(fcs)
		if truncated {
			stats.Truncated++
		}
		for _, fc := range fcs {
			stats.Features += len(fc.Features)
		}
		collections = append(collections, fcs...)
	}

	merged := Merge(collections)
	stats.Kept = len(merged.Features)
	return merged, stats, nil
}

func travelTime(f *geojson.Feature) (float64, bool) {
	v, ok := f.Properties[TravelTimeProperty]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	}
	return 0, false
}

func featureID(f *geojson.Feature) (string, bool) {
	if v, ok := f.Properties[IDProperty]; ok && v != nil {
		return toString(v), true
	}
	if f.ID != nil {
		return toString(f.ID), true
	}
	return "", false
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
