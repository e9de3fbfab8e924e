package reachability

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/jusunglee/reachability-go/pkg/models"
)

// APIKeyHeader carries the API token on every request
const APIKeyHeader = "ApiKey"

// targetType is fixed for schedule based modes
const targetType = "origin"

// Schedule holds the time parameters used by transit and driving
type Schedule struct {
	TimeOfDay   models.TimeOfDay
	TimeProfile models.TimeProfile
}

// DefaultSchedule is rush hour with the fastest profile
func DefaultSchedule() Schedule {
	return Schedule{TimeOfDay: models.RushHour, TimeProfile: models.Fastest}
}

// Request describes one reachability query. Fields that do not apply to
// Mode are ignored when building parameters.
type Request struct {
	Mode             models.TravelMode
	Lat              float64
	Lon              float64
	Radius           int // meters
	WalkingSpeed     float64
	CyclingSpeed     float64
	Schedule         Schedule
	MaxTimeThreshold int // minutes
}

func NewWalkingRequest(lat, lon float64, radius int, walkingSpeed float64, maxTimeThreshold int) Request {
	return Request{
		Mode:             models.Walking,
		Lat:              lat,
		Lon:              lon,
		Radius:           radius,
		WalkingSpeed:     walkingSpeed,
		MaxTimeThreshold: maxTimeThreshold,
	}
}

func NewCyclingRequest(lat, lon float64, radius int, walkingSpeed, cyclingSpeed float64, maxTimeThreshold int) Request {
	r := NewWalkingRequest(lat, lon, radius, walkingSpeed, maxTimeThreshold)
	r.Mode = models.Cycling
	r.CyclingSpeed = cyclingSpeed
	return r
}

func NewTransitRequest(lat, lon float64, radius int, walkingSpeed float64, schedule Schedule, maxTimeThreshold int) Request {
	r := NewWalkingRequest(lat, lon, radius, walkingSpeed, maxTimeThreshold)
	r.Mode = models.Transit
	r.Schedule = schedule
	return r
}

func NewDrivingRequest(lat, lon float64, radius int, walkingSpeed float64, schedule Schedule, maxTimeThreshold int) Request {
	r := NewTransitRequest(lat, lon, radius, walkingSpeed, schedule, maxTimeThreshold)
	r.Mode = models.Driving
	return r
}

// Path returns the endpoint path for the request's mode
func (r Request) Path() string {
	return fmt.Sprintf("/fi/reachability/travelTime/%s/1", r.Mode)
}

// Params builds the query string for the request's mode
func (r Request) Params() (url.Values, error) {
	if !r.Mode.Valid() {
		return nil, fmt.Errorf("invalid travel mode %d", int(r.Mode))
	}

	params := url.Values{}
	params.Set("latitude", formatFloat(r.Lat))
	params.Set("longitude", formatFloat(r.Lon))
	params.Set("radius", strconv.Itoa(r.Radius))
	params.Set("walkingSpeedKmph", formatFloat(r.WalkingSpeed))
	params.Set("maxTimeThreshold", strconv.Itoa(r.MaxTimeThreshold))

	switch r.Mode {
	case models.Cycling:
		params.Set("cyclingSpeedKmph", formatFloat(r.CyclingSpeed))
	case models.Transit, models.Driving:
		params.Set("timeOfDay", r.Schedule.TimeOfDay.String())
		params.Set("targetType", targetType)
		params.Set("timeProfile", r.Schedule.TimeProfile.String())
	}

	return params, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
