// Package geo obtains device coordinates for an attendance attempt.
package geo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultTimeout bounds a single position request.
const DefaultTimeout = 10 * time.Second

// Coordinates is one position fix.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

// Validate rejects non-finite values and checks latitude and longitude ranges.
func (c Coordinates) Validate() error {
	for _, v := range []float64{c.Latitude, c.Longitude, c.Accuracy} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("coordinate %v is not a finite number", v)
		}
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range", c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range", c.Longitude)
	}
	return nil
}

// Reason classifies why no position could be obtained.
type Reason int

const (
	ReasonUnavailable Reason = iota
	ReasonPermissionDenied
	ReasonTimeout
)

func (r Reason) String() string {
	switch r {
	case ReasonPermissionDenied:
		return "permission_denied"
	case ReasonTimeout:
		return "timeout"
	default:
		return "unavailable"
	}
}

func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Reason) UnmarshalText(b []byte) error {
	switch string(b) {
	case "permission_denied":
		*r = ReasonPermissionDenied
	case "timeout":
		*r = ReasonTimeout
	case "unavailable", "":
		*r = ReasonUnavailable
	default:
		return fmt.Errorf("unknown geo reason %q", string(b))
	}
	return nil
}

// Error is returned by Probe.Locate for every failure.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "geolocation " + e.Reason.String()
	}
	return fmt.Sprintf("geolocation %s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ReasonOf extracts the classified reason from err, defaulting to ReasonUnavailable.
func ReasonOf(err error) Reason {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Reason
	}
	var pe *PositionError
	if errors.As(err, &pe) {
		return pe.Reason()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return ReasonUnavailable
}

// Native position error codes as reported by platform location services.
const (
	CodePermissionDenied    = 1
	CodePositionUnavailable = 2
	CodeTimeout             = 3
)

// PositionError is the platform-level failure a Locator reports.
type PositionError struct {
	Code    int
	Message string
}

func (e *PositionError) Error() string {
	return fmt.Sprintf("position error %d: %s", e.Code, e.Message)
}

// Reason maps the native code onto a Reason.
func (e *PositionError) Reason() Reason {
	switch e.Code {
	case CodePermissionDenied:
		return ReasonPermissionDenied
	case CodeTimeout:
		return ReasonTimeout
	default:
		return ReasonUnavailable
	}
}
