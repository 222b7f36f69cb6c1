// Package geo resolves a client's current position the way a browser
// geolocation call does: a single attempt bounded by a timeout, accepting
// cached fixes up to a maximum age.
package geo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

var (
	ErrUnavailable = errors.New("location unavailable")
	ErrStale       = errors.New("location fix too old")
)

// UnavailableMessage is shown when a manual location refresh fails.
const UnavailableMessage = "Unable to get location. Please check your browser settings."

type Options struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration
}

func DefaultOptions() Options {
	return Options{
		HighAccuracy: true,
		Timeout:      10 * time.Second,
		MaximumAge:   5 * time.Minute,
	}
}

// DefaultLocation is used when an alert has to be sent without a fix.
var DefaultLocation = models.Location{Latitude: 40.7128, Longitude: -74.0060}

type Fix struct {
	Location  models.Location
	Timestamp time.Time
	Accuracy  float64 // metres, 0 when unknown
}

type Locator interface {
	Locate(ctx context.Context, opts Options) (Fix, error)
}

type LocatorFunc func(ctx context.Context, opts Options) (Fix, error)

func (f LocatorFunc) Locate(ctx context.Context, opts Options) (Fix, error) {
	return f(ctx, opts)
}

// Device serves the fix reported by the caller's device, if any. A nil fix
// means the device has no geolocation capability.
func Device(fix *Fix) Locator {
	return LocatorFunc(func(ctx context.Context, opts Options) (Fix, error) {
		if fix == nil {
			return Fix{}, fmt.Errorf("%w: device reported no position", ErrUnavailable)
		}
		if err := checkFix(*fix, opts, time.Now()); err != nil {
			return Fix{}, err
		}
		return *fix, nil
	})
}

// checkFix rejects out-of-range coordinates, the (0,0) "no location"
// sentinel and fixes older than the maximum age.
func checkFix(fix Fix, opts Options, now time.Time) error {
	if !fix.Location.InRange() {
		return fmt.Errorf("%w: coordinates out of range", ErrUnavailable)
	}
	if !fix.Location.Valid() {
		return fmt.Errorf("%w: (0,0) is not a position", ErrUnavailable)
	}
	return checkAge(fix, opts, now)
}

func checkAge(fix Fix, opts Options, now time.Time) error {
	if opts.MaximumAge > 0 && !fix.Timestamp.IsZero() && now.Sub(fix.Timestamp) > opts.MaximumAge {
		return fmt.Errorf("%w: fix is %s old", ErrStale, now.Sub(fix.Timestamp).Round(time.Second))
	}
	return nil
}

// Chain tries each locator in turn and returns the first fix.
type Chain []Locator

func (c Chain) Locate(ctx context.Context, opts Options) (Fix, error) {
	errs := []error{ErrUnavailable}
	for _, l := range c {
		if l == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Fix{}, errors.Join(append(errs, err)...)
		}
		fix, err := l.Locate(ctx, opts)
		if err == nil {
			return fix, nil
		}
		errs = append(errs, err)
	}
	return Fix{}, errors.Join(errs...)
}

type Resolver struct {
	Options  Options
	Fallback models.Location
}

func NewResolver(opts Options, fallback models.Location) *Resolver {
	return &Resolver{Options: opts, Fallback: fallback}
}

// Current performs one bounded lookup. Failures are returned to the caller.
func (r *Resolver) Current(ctx context.Context, l Locator) (models.Location, error) {
	if l == nil {
		return models.Location{}, fmt.Errorf("%w: geolocation not supported", ErrUnavailable)
	}
	if r.Options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Options.Timeout)
		defer cancel()
	}

	type result struct {
		fix Fix
		err error
	}
	done := make(chan result, 1)
	go func() {
		fix, err := l.Locate(ctx, r.Options)
		done <- result{fix, err}
	}()

	select {
	case <-ctx.Done():
		return models.Location{}, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	case res := <-done:
		if res.err != nil {
			if !errors.Is(res.err, ErrUnavailable) {
				res.err = fmt.Errorf("%w: %w", ErrUnavailable, res.err)
			}
			return models.Location{}, res.err
		}
		return res.fix.Location, nil
	}
}

// BestEffort never fails: when no fix can be obtained it returns the
// fallback location and reports false.
func (r *Resolver) BestEffort(ctx context.Context, l Locator) (models.Location, bool) {
	loc, err := r.Current(ctx, l)
	if err != nil {
		slog.Warn("geolocation failed, using default location", "error", err,
			"lat", r.Fallback.Latitude, "lng", r.Fallback.Longitude)
		return r.Fallback, false
	}
	return loc, true
}
