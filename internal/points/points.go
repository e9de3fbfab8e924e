package points

import (
	"fmt"
	"os"

	geojson "github.com/paulmach/go.geojson"
	"github.com/pkg/errors"

	"github.com/jusunglee/reachability-go/pkg/models"
)

// ChunkSize is the number of points dispatched concurrently per batch
const ChunkSize = 10

// InputFormatError reports a malformed input feature collection
type InputFormatError struct {
	Index  int // -1 when the collection itself is malformed
	Reason string
}

func (e *InputFormatError) Error() string {
	if e.Index < 0 {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid input feature %d: %s", e.Index, e.Reason)
}

// Load reads a GeoJSON FeatureCollection of points from path
func Load(path string) ([]models.Point, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	pts, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load points from %s", path)
	}
	return pts, nil
}

// Parse decodes a FeatureCollection. Every feature must carry a Point
// geometry in lon/lat order; the first offending feature fails the parse.
func Parse(data []byte) ([]models.Point, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, &InputFormatError{Index: -1, Reason: err.Error()}
	}

	result := make([]models.Point, 0, len(fc.Features))
	for i, feature := range fc.Features {
		if feature == nil || feature.Geometry == nil {
			return nil, &InputFormatError{Index: i, Reason: "missing geometry"}
		}
		if !feature.Geometry.IsPoint() {
			return nil, &InputFormatError{Index: i, Reason: fmt.Sprintf("expected Point geometry, got %s", feature.Geometry.Type)}
		}
		if len(feature.Geometry.Point) < 2 {
			return nil, &InputFormatError{Index: i, Reason: "point has fewer than two coordinates"}
		}

		result = append(result, models.Point{
			Index:      i,
			Lon:        feature.Geometry.Point[0],
			Lat:        feature.Geometry.Point[1],
			Properties: feature.Properties,
		})
	}

	return result, nil
}

// Chunk splits pts into consecutive slices of at most size elements.
// Chunks share the backing array of pts.
func Chunk(pts []models.Point, size int) [][]models.Point {
	if size <= 0 {
		size = ChunkSize
	}

	chunks := make([][]models.Point, 0, (len(pts)+size-1)/size)
	for start := 0; start < len(pts); start += size {
		end := start + size
		if end > len(pts) {
			end = len(pts)
		}
		chunks = append(chunks, pts[start:end:end])
	}
	return chunks
}
