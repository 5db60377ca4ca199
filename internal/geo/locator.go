package geo

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

// StaticLocator reports a fixed position, for agents mounted in a known classroom.
type StaticLocator struct {
	Coords Coordinates
}

func (l StaticLocator) CurrentPosition(ctx context.Context, _ Options) (Coordinates, error) {
	if err := ctx.Err(); err != nil {
		return Coordinates{}, err
	}
	return l.Coords, nil
}

// HTTPLocator asks a device location service for a fix.
type HTTPLocator struct {
	URL  string
	HTTP *http.Client
}

// NewHTTPLocator creates a locator for the given service URL.
func NewHTTPLocator(rawURL string) *HTTPLocator {
	return &HTTPLocator{
		URL:  rawURL,
		HTTP: &http.Client{Timeout: 30 * time.Second},
	}
}

func (l *HTTPLocator) CurrentPosition(ctx context.Context, opts Options) (Coordinates, error) {
	u, err := url.Parse(l.URL)
	if err != nil {
		return Coordinates{}, &PositionError{Code: CodePositionUnavailable, Message: err.Error()}
	}
	q := u.Query()
	q.Set("high_accuracy", strconv.FormatBool(opts.HighAccuracy))
	q.Set("maximum_age_ms", strconv.FormatInt(opts.MaximumAge.Milliseconds(), 10))
	if opts.Timeout > 0 {
		q.Set("timeout_ms", strconv.FormatInt(opts.Timeout.Milliseconds(), 10))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Coordinates{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.HTTP.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Coordinates{}, ctx.Err()
		}
		return Coordinates{}, &PositionError{Code: CodePositionUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Coordinates{}, &PositionError{Code: CodePermissionDenied, Message: "location permission denied"}
	case resp.StatusCode == http.StatusGatewayTimeout || resp.StatusCode == http.StatusRequestTimeout:
		return Coordinates{}, &PositionError{Code: CodeTimeout, Message: "location service timed out"}
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Coordinates{}, &PositionError{Code: CodePositionUnavailable, Message: fmt.Sprintf("%s: %s", resp.Status, string(body))}
	}

	var out struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Accuracy  float64  `json:"accuracy"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Coordinates{}, &PositionError{Code: CodePositionUnavailable, Message: "failed to decode position: " + err.Error()}
	}
	if out.Latitude == nil || out.Longitude == nil {
		return Coordinates{}, &PositionError{Code: CodePositionUnavailable, Message: "position incomplete"}
	}
	return Coordinates{Latitude: *out.Latitude, Longitude: *out.Longitude, Accuracy: out.Accuracy}, nil
}
