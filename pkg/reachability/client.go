package reachability

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Result is the raw JSON document returned by the API for one point and mode
type Result = json.RawMessage

// Fetcher abstracts the reachability API so the batch driver can be tested
// without a live server
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Result, error)
}

// Config holds configuration for the reachability client
// APIKey is sent as-is; an empty key is only rejected by the upstream API
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080",
		Timeout: 2 * time.Minute,
	}
}

// Client performs single GET requests against the reachability API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a client from config. A zero Timeout disables the
// per-request timeout.
func NewClient(config Config) *Client {
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Endpoint returns the full URL for a travel mode
func (c *Client) Endpoint(req Request) string {
	return c.baseURL + req.Path()
}

// Fetch issues one GET for req. Non-200 responses become *UpstreamError,
// transport and decoding failures become *UnavailableError. No retries.
func (c *Client) Fetch(ctx context.Context, req Request) (Result, error) {
	params, err := req.Params()
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint(req), nil)
	if err != nil {
		return nil, unavailable(errors.Wrap(err, "failed to create request"))
	}
	httpReq.URL.RawQuery = params.Encode()
	httpReq.Header.Set(APIKeyHeader, c.apiKey)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, unavailable(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, unavailable(errors.Wrap(err, "failed to read response"))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{
			Status:  resp.StatusCode,
			Message: errorDetail(body),
		}
	}

	if !json.Valid(body) {
		return nil, unavailable(errors.New("response is not valid JSON"))
	}

	return Result(body), nil
}

// FetchWalking fetches the walking isochrone for one origin
func (c *Client) FetchWalking(ctx context.Context, lat, lon float64, radius int, walkingSpeed float64, maxTimeThreshold int) (Result, error) {
	return c.Fetch(ctx, NewWalkingRequest(lat, lon, radius, walkingSpeed, maxTimeThreshold))
}

// FetchCycling fetches the cycling isochrone for one origin
func (c *Client) FetchCycling(ctx context.Context, lat, lon float64, radius int, walkingSpeed, cyclingSpeed float64, maxTimeThreshold int) (Result, error) {
	return c.Fetch(ctx, NewCyclingRequest(lat, lon, radius, walkingSpeed, cyclingSpeed, maxTimeThreshold))
}

// FetchTransit fetches the public transport isochrone for one origin
func (c *Client) FetchTransit(ctx context.Context, lat, lon float64, radius int, walkingSpeed float64, schedule Schedule, maxTimeThreshold int) (Result, error) {
	return c.Fetch(ctx, NewTransitRequest(lat, lon, radius, walkingSpeed, schedule, maxTimeThreshold))
}

// FetchDriving fetches the driving isochrone for one origin
func (c *Client) FetchDriving(ctx context.Context, lat, lon float64, radius int, walkingSpeed float64, schedule Schedule, maxTimeThreshold int) (Result, error) {
	return c.Fetch(ctx, NewDrivingRequest(lat, lon, radius, walkingSpeed, schedule, maxTimeThreshold))
}

// errorDetail extracts the "detail" field of an error payload, falling back
// to the raw body text
func errorDetail(body []byte) string {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err == nil {
		if raw, ok := payload["detail"]; ok {
			var detail string
			if err := json.Unmarshal(raw, &detail); err == nil {
				return detail
			}
			return string(raw)
		}
	}
	return string(body)
}
