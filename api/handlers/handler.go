package handlers

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	geojson "github.com/paulmach/go.geojson"

	"github.com/jusunglee/reachability-go/pkg/models"
)

// metersPerDegree is the length of one degree of latitude
const metersPerDegree = 111320.0

// maxSteps bounds the grid to (2*maxSteps+1)^2 cells
const maxSteps = 25

// driving and transit speeds used by the stub, km/h
const (
	stubDrivingSpeed = 50.0
	stubTransitSpeed = 25.0
)

// Handler serves a local stand-in for the reachability API. Responses are
// grid cells around the origin annotated with an estimated travel time.
type Handler struct {
	apiKey   string
	cellSize float64 // meters
}

// NewHandler creates a stub handler. An empty apiKey accepts every request.
func NewHandler(apiKey string, cellSize float64) *Handler {
	if cellSize <= 0 {
		cellSize = 250
	}
	return &Handler{apiKey: apiKey, cellSize: cellSize}
}

// RegisterRoutes registers all routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/", h.handleIndex).Methods("GET")
	r.HandleFunc("/fi/reachability/travelTime/{mode}/1", h.handleTravelTime).Methods("GET")
}

// ErrorResponse mirrors the upstream error payload
type ErrorResponse struct {
	Detail string `json:"detail"`
}

type travelTimeQuery struct {
	mode             models.TravelMode
	lat, lon         float64
	radius           float64
	walkingSpeed     float64
	cyclingSpeed     float64
	maxTimeThreshold float64
	timeProfile      models.TimeProfile
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"title": "reachability stub",
		"usage": "/fi/reachability/travelTime/{walking|cycling|transit|driving}/1",
	}
	h.writeJSON(w, http.StatusOK, response)
}

func (h *Handler) handleTravelTime(w http.ResponseWriter, r *http.Request) {
	if h.apiKey != "" && r.Header.Get("ApiKey") != h.apiKey {
		h.writeError(w, "Invalid API key", http.StatusUnauthorized)
		return
	}

	mode, err := models.ParseTravelMode(mux.Vars(r)["mode"])
	if err != nil {
		h.writeError(w, err.Error(), http.StatusNotFound)
		return
	}

	q, err := parseQuery(r, mode)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	fc, err := h.isochrone(q)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	body, err := fc.MarshalJSON()
	if err != nil {
		h.writeError(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Write(body)
}

func parseQuery(r *http.Request, mode models.TravelMode) (travelTimeQuery, error) {
	values := r.URL.Query()
	q := travelTimeQuery{mode: mode, timeProfile: models.Fastest}

	required := []struct {
		name string
		dst  *float64
	}{
		{"latitude", &q.lat},
		{"longitude", &q.lon},
		{"radius", &q.radius},
		{"walkingSpeedKmph", &q.walkingSpeed},
		{"maxTimeThreshold", &q.maxTimeThreshold},
	}
	if mode == models.Cycling {
		required = append(required, struct {
			name string
			dst  *float64
		}{"cyclingSpeedKmph", &q.cyclingSpeed})
	}

	for _, p := range required {
		raw := values.Get(p.name)
		if raw == "" {
			return q, fmt.Errorf("Missing %s parameter", p.name)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return q, fmt.Errorf("Invalid %s parameter", p.name)
		}
		*p.dst = v
	}

	if q.lat < -90 || q.lat > 90 || q.lon < -180 || q.lon > 180 {
		return q, fmt.Errorf("Coordinates out of range")
	}
	if q.maxTimeThreshold <= 0 || q.maxTimeThreshold > 500 {
		return q, fmt.Errorf("maxTimeThreshold must be between 1 and 500")
	}

	if mode == models.Transit || mode == models.Driving {
		if _, err := models.ParseTimeOfDay(values.Get("timeOfDay")); err != nil {
			return q, err
		}
		if values.Get("targetType") != "origin" {
			return q, fmt.Errorf("Unsupported targetType %q", values.Get("targetType"))
		}
		profile, err := models.ParseTimeProfile(values.Get("timeProfile"))
		if err != nil {
			return q, err
		}
		q.timeProfile = profile
	}

	return q, nil
}

// speed returns the effective travel speed in km/h
func (q travelTimeQuery) speed() float64 {
	var speed float64
	switch q.mode {
	case models.Cycling:
		speed = q.cyclingSpeed
	case models.Transit:
		speed = stubTransitSpeed
	case models.Driving:
		speed = stubDrivingSpeed
	default:
		speed = q.walkingSpeed
	}

	switch q.timeProfile {
	case models.Average:
		speed *= 0.85
	case models.Slowest:
		speed *= 0.7
	}
	return speed
}

// isochrone builds the reachable grid cells. Cells are roughly cellSize
// meters wide, enlarged for long reaches. A cell is kept when its center is
// within radius and reachable within maxTimeThreshold at the effective speed;
// the origin's own cell is always kept.
func (h *Handler) isochrone(q travelTimeQuery) (*geojson.FeatureCollection, error) {
	speed := q.speed()
	if speed <= 0 {
		return nil, fmt.Errorf("speed must be positive")
	}

	reach := math.Min(q.radius, speed*1000/60*q.maxTimeThreshold)
	cell := h.cellSize
	if reach/cell > maxSteps {
		cell = reach / maxSteps
	}
	steps := int(math.Ceil(reach / cell))

	latStep := cell / metersPerDegree
	// Longitude spacing is fixed per whole degree of latitude so origins in
	// the same band share cell ids
	band := math.Floor(q.lat) + 0.5
	lonStep := cell / (metersPerDegree * math.Max(math.Cos(band*math.Pi/180), 1e-6))

	baseRow := int(math.Floor(q.lat / latStep))
	baseCol := int(math.Floor(q.lon / lonStep))

	fc := geojson.NewFeatureCollection()
	for dy := -steps; dy <= steps; dy++ {
		for dx := -steps; dx <= steps; dx++ {
			row, col := baseRow+dy, baseCol+dx
			minLat, minLon := float64(row)*latStep, float64(col)*lonStep

			centerLat := minLat + latStep/2
			centerLon := minLon + lonStep/2
			dist := haversine(q.lat, q.lon, centerLat, centerLon)
			if dist > reach && (dx != 0 || dy != 0) {
				continue
			}

			feature := geojson.NewPolygonFeature([][][]float64{{
				{minLon, minLat},
				{minLon + lonStep, minLat},
				{minLon + lonStep, minLat + latStep},
				{minLon, minLat + latStep},
				{minLon, minLat},
			}})
			id := fmt.Sprintf("%d_%d", row, col)
			feature.ID = id
			feature.SetProperty("id", id)
			feature.SetProperty("travel_time", math.Round(dist/(speed*1000/60)*10)/10)
			fc.AddFeature(feature)
		}
	}
	return fc, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, ErrorResponse{Detail: message})
}

// haversine returns the distance between two points in meters
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return R * c
}
