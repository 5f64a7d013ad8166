// Package routing implements the external routing-provider client. The
// default backend speaks the OSRM HTTP API; anything returning distance and
// duration for a coordinate pair can stand in behind the same interface.
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/emsgo/dispatch/core/geo"
	corerouting "github.com/emsgo/dispatch/core/routing"
)

// OSRMClient queries an OSRM "route" endpoint.
type OSRMClient struct {
	baseURL string
	client  *http.Client
}

// NewOSRMClient creates a client for the given OSRM base URL, e.g.
// "http://router.project-osrm.org". A non-positive timeout defaults to 5s.
func NewOSRMClient(baseURL string, timeout time.Duration) *OSRMClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &OSRMClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Distance float64 `json:"distance"` // meters
		Duration float64 `json:"duration"` // seconds
		Geometry string  `json:"geometry"`
	} `json:"routes"`
}

// Route implements corerouting.Provider.
func (c *OSRMClient) Route(ctx context.Context, origin, dest geo.Point) (corerouting.Route, error) {
	url := fmt.Sprintf("%s/route/v1/driving/%f,%f;%f,%f?overview=simplified",
		c.baseURL, origin.Lon, origin.Lat, dest.Lon, dest.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return corerouting.Route{}, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return corerouting.Route{}, corerouting.ErrUnavailable(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return corerouting.Route{}, corerouting.ErrUnavailable(fmt.Errorf("status %d", resp.StatusCode))
	}
	var body osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return corerouting.Route{}, corerouting.ErrUnavailable(err)
	}
	if body.Code != "Ok" || len(body.Routes) == 0 {
		return corerouting.Route{}, corerouting.ErrUnavailable(fmt.Errorf("no route (code %s)", body.Code))
	}
	r := body.Routes[0]
	return corerouting.Route{
		DistanceKm:      r.Distance / 1000,
		DurationMinutes: r.Duration / 60,
		Polyline:        r.Geometry,
	}, nil
}
