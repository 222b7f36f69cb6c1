package geo

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/oschwald/geoip2-golang"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

// Coarser IP fixes are refused when high accuracy is requested.
const highAccuracyRadiusKm = 100

// GeoIPLocator estimates a position from the caller's IP address using a
// MaxMind City database. It is the last resort before the fallback location.
type GeoIPLocator struct {
	reader *geoip2.Reader
}

func OpenGeoIP(path string) (*GeoIPLocator, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	return &GeoIPLocator{reader: reader}, nil
}

func (g *GeoIPLocator) For(ip string) Locator {
	return LocatorFunc(func(ctx context.Context, opts Options) (Fix, error) {
		addr := net.ParseIP(ip)
		if addr == nil {
			return Fix{}, fmt.Errorf("%w: bad address %q", ErrUnavailable, ip)
		}
		record, err := g.reader.City(addr)
		if err != nil {
			return Fix{}, fmt.Errorf("%w: geoip lookup: %v", ErrUnavailable, err)
		}
		return ipFix(record.Location.Latitude, record.Location.Longitude, record.Location.AccuracyRadius, opts)
	})
}

func ipFix(lat, lng float64, radiusKm uint16, opts Options) (Fix, error) {
	loc := models.Location{Latitude: lat, Longitude: lng}
	if !loc.Valid() {
		return Fix{}, fmt.Errorf("%w: no position for address", ErrUnavailable)
	}
	if opts.HighAccuracy && radiusKm > highAccuracyRadiusKm {
		return Fix{}, fmt.Errorf("%w: ip position accurate to %d km only", ErrUnavailable, radiusKm)
	}
	return Fix{
		Location:  loc,
		Timestamp: time.Now(),
		Accuracy:  float64(radiusKm) * 1000,
	}, nil
}

func (g *GeoIPLocator) Close() error {
	return g.reader.Close()
}
