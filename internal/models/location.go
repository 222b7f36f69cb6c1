package models

import "fmt"

type Location struct {
	Latitude  float64
	Longitude float64
}

// Valid reports whether l is a real coordinate pair. A nil location and the
// (0,0) sentinel both mean "no location".
func (l *Location) Valid() bool {
	if l == nil {
		return false
	}
	return l.Latitude != 0 || l.Longitude != 0
}

func (l Location) InRange() bool {
	return l.Latitude >= -90 && l.Latitude <= 90 && l.Longitude >= -180 && l.Longitude <= 180
}

func (l Location) String() string {
	return fmt.Sprintf("Lat: %.4f, Lng: %.4f", l.Latitude, l.Longitude)
}

// LocationFromColumns builds a client location from two nullable columns.
// Missing values and the (0,0) sentinel yield nil.
func LocationFromColumns(lat, lng *float64) *Location {
	if lat == nil || lng == nil {
		return nil
	}
	l := &Location{Latitude: *lat, Longitude: *lng}
	if !l.Valid() {
		return nil
	}
	return l
}
