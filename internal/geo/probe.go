package geo

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"qrattend/internal/logger"
)

// Options are passed to the platform location service on every request.
type Options struct {
	HighAccuracy bool
	MaximumAge   time.Duration
	Timeout      time.Duration
}

// Locator is a platform location service.
type Locator interface {
	CurrentPosition(ctx context.Context, opts Options) (Coordinates, error)
}

// Probe requests one fresh position per call with a bounded wait.
type Probe struct {
	locator Locator
	timeout time.Duration
	log     zerolog.Logger
}

// NewProbe wraps a Locator. A non-positive timeout selects DefaultTimeout.
func NewProbe(locator Locator, timeout time.Duration) *Probe {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Probe{locator: locator, timeout: timeout, log: logger.Component("geo")}
}

// Locate returns the current coordinates or an *Error. Fixes are never reused across calls.
func (p *Probe) Locate(ctx context.Context) (Coordinates, error) {
	if p.locator == nil {
		return Coordinates{}, &Error{Reason: ReasonUnavailable, Err: errors.New("no location service configured")}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type result struct {
		coords Coordinates
		err    error
	}
	done := make(chan result, 1)
	opts := Options{HighAccuracy: true, MaximumAge: 0, Timeout: p.timeout}
	go func() {
		c, err := p.locator.CurrentPosition(ctx, opts)
		done <- result{coords: c, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			ge := &Error{Reason: ReasonOf(r.err), Err: r.err}
			p.log.Debug().Err(r.err).Str("reason", ge.Reason.String()).Msg("position request failed")
			return Coordinates{}, ge
		}
		if err := r.coords.Validate(); err != nil {
			return Coordinates{}, &Error{Reason: ReasonUnavailable, Err: err}
		}
		return r.coords, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Coordinates{}, &Error{Reason: ReasonTimeout, Err: ctx.Err()}
		}
		return Coordinates{}, &Error{Reason: ReasonUnavailable, Err: ctx.Err()}
	}
}
