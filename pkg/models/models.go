package models

import (
	"fmt"
	"strings"
)

// TravelMode selects the reachability endpoint and its parameters
type TravelMode int

const (
	Walking TravelMode = iota
	Cycling
	Transit
	Driving
)

// AllTravelModes lists every mode in the order batches are processed
var AllTravelModes = []TravelMode{Walking, Cycling, Transit, Driving}

var travelModeTokens = map[TravelMode]string{
	Walking: "walking",
	Cycling: "cycling",
	Transit: "transit",
	Driving: "driving",
}

func (m TravelMode) String() string {
	if s, ok := travelModeTokens[m]; ok {
		return s
	}
	return fmt.Sprintf("TravelMode(%d)", int(m))
}

// Valid reports whether m is one of the four known modes
func (m TravelMode) Valid() bool {
	_, ok := travelModeTokens[m]
	return ok
}

// ParseTravelMode converts a token such as "cycling" to a TravelMode
func ParseTravelMode(s string) (TravelMode, error) {
	token := strings.ToLower(strings.TrimSpace(s))
	for mode, t := range travelModeTokens {
		if t == token {
			return mode, nil
		}
	}
	return 0, fmt.Errorf("unknown travel mode %q (expected walking, cycling, transit or driving)", s)
}

// ParseTravelModes parses a list of tokens, dropping duplicates and returning
// the modes in processing order
func ParseTravelModes(tokens []string) ([]TravelMode, error) {
	seen := make(map[TravelMode]bool)
	for _, token := range tokens {
		if strings.TrimSpace(token) == "" {
			continue
		}
		mode, err := ParseTravelMode(token)
		if err != nil {
			return nil, err
		}
		seen[mode] = true
	}

	modes := make([]TravelMode, 0, len(seen))
	for _, mode := range AllTravelModes {
		if seen[mode] {
			modes = append(modes, mode)
		}
	}
	return modes, nil
}

// TimeOfDay is the departure window used by transit and driving
type TimeOfDay int

const (
	RushHour TimeOfDay = iota
	Midday
)

func (t TimeOfDay) String() string {
	switch t {
	case RushHour:
		return "rushHour"
	case Midday:
		return "midday"
	}
	return fmt.Sprintf("TimeOfDay(%d)", int(t))
}

// ParseTimeOfDay accepts the canonical tokens "rushHour" and "midday"
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	switch strings.ToLower(s) {
	case "rushhour":
		return RushHour, nil
	case "midday":
		return Midday, nil
	}
	return 0, fmt.Errorf("unknown time of day %q", s)
}

// TimeProfile selects which travel time statistic the API reports
type TimeProfile int

const (
	Fastest TimeProfile = iota
	Average
	Slowest
)

func (p TimeProfile) String() string {
	switch p {
	case Fastest:
		return "fastest"
	case Average:
		return "average"
	case Slowest:
		return "slowest"
	}
	return fmt.Sprintf("TimeProfile(%d)", int(p))
}

// ParseTimeProfile accepts "fastest", "average" or "slowest"
func ParseTimeProfile(s string) (TimeProfile, error) {
	switch strings.ToLower(s) {
	case "fastest":
		return Fastest, nil
	case "average":
		return Average, nil
	case "slowest":
		return Slowest, nil
	}
	return 0, fmt.Errorf("unknown time profile %q", s)
}

// Speeds in km/h
const (
	AverageWalkingSpeed = 4.4

	MinimumCyclingSpeed = 1.0
	SlowCyclingSpeed    = 12.0
	AverageCyclingSpeed = 16.0
	FastCyclingSpeed    = 19.0
)

// Point is an origin read from the input feature collection.
// Index is the feature's position in the input.
type Point struct {
	Index      int                    `json:"index"`
	Lat        float64                `json:"lat"`
	Lon        float64                `json:"lon"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}
