// Package meteo fetches location forecasts from the MET Norway
// Locationforecast API. The planner's risk engine consumes it for daily
// mean temperatures; cloud coverage is exposed for diagnostics.
//
// The API requires an identifying User-Agent; requests without one are
// rejected.
package meteo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultBaseURL = "https://api.met.no/weatherapi/locationforecast/2.0"

// Client talks to the Locationforecast API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
}

// NewClient builds a Client identifying itself with userAgent.
func NewClient(userAgent string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		userAgent:  userAgent,
	}
}

// SetBaseURL overrides the API endpoint, used by tests.
func (c *Client) SetBaseURL(baseURL string) { c.baseURL = baseURL }

// GetCompact retrieves the compact forecast for a location.
func (c *Client) GetCompact(ctx context.Context, loc Location) (*LocationForecast, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}

	reqURL, err := c.buildURL("compact", loc)
	if err != nil {
		return nil, fmt.Errorf("build forecast URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build forecast request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch forecast: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	var forecast LocationForecast
	if err := json.NewDecoder(resp.Body).Decode(&forecast); err != nil {
		return nil, fmt.Errorf("decode forecast: %w", err)
	}
	return &forecast, nil
}

func (c *Client) buildURL(endpoint string, loc Location) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	u.Path = fmt.Sprintf("%s/%s", u.Path, endpoint)

	query := u.Query()
	query.Set("lat", strconv.FormatFloat(loc.Latitude, 'f', -1, 64))
	query.Set("lon", strconv.FormatFloat(loc.Longitude, 'f', -1, 64))
	if loc.Altitude != nil {
		query.Set("altitude", strconv.Itoa(*loc.Altitude))
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// Location is a forecast request's coordinates.
type Location struct {
	Latitude  float64
	Longitude float64
	Altitude  *int
}

// Validate rejects coordinates outside the WGS84 range.
func (loc Location) Validate() error {
	if loc.Latitude < -90 || loc.Latitude > 90 {
		return fmt.Errorf("latitude must be between -90 and 90, got %f", loc.Latitude)
	}
	if loc.Longitude < -180 || loc.Longitude > 180 {
		return fmt.Errorf("longitude must be between -180 and 180, got %f", loc.Longitude)
	}
	return nil
}
