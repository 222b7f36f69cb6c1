package api

import (
	"github.com/mr1hm/go-emergency-alerts/internal/store"
)

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

func point(lat, lng float64) Geometry {
	return Geometry{Type: "Point", Coordinates: []float64{lng, lat}}
}

// clientFeatures skips clients without a real location.
func clientFeatures(clients []store.ClientView) []Feature {
	features := make([]Feature, 0, len(clients))

	for _, c := range clients {
		if !c.HasLocation() {
			continue
		}
		features = append(features, Feature{
			Type:     "Feature",
			Geometry: point(c.Location.Latitude, c.Location.Longitude),
			Properties: map[string]any{
				"kind":          "client",
				"id":            c.ID,
				"name":          c.Name,
				"status":        c.Status,
				"phone":         c.Phone,
				"phone_uri":     c.PhoneURI,
				"active_alerts": c.ActiveAlerts,
				"updated_at":    c.UpdatedAt,
			},
		})
	}

	return features
}

func alertFeatures(alerts []store.AlertView) []Feature {
	features := make([]Feature, 0, len(alerts))

	for _, a := range alerts {
		if !a.Location.Valid() {
			continue
		}
		features = append(features, Feature{
			Type:     "Feature",
			Geometry: point(a.Location.Latitude, a.Location.Longitude),
			Properties: map[string]any{
				"kind":        "alert",
				"id":          a.ID,
				"type":        a.Type,
				"status":      a.Status,
				"message":     a.Message,
				"client_id":   a.ClientID,
				"client_name": a.ClientName,
				"created_at":  a.CreatedAt,
			},
		})
	}

	return features
}

func toGeoJSON(groups ...[]Feature) FeatureCollection {
	features := []Feature{}
	for _, g := range groups {
		features = append(features, g...)
	}

	return FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}
