package api

import (
	"github.com/golang/geo/s2"

	"github.com/communitysafe/alerthub/internal/models"
)

const earthRadiusKM = 6371.0

// distanceKM returns the great-circle distance between two points.
func distanceKM(a, b models.Coordinates) float64 {
	p := s2.LatLngFromDegrees(a.Latitude, a.Longitude)
	q := s2.LatLngFromDegrees(b.Latitude, b.Longitude)
	return p.Distance(q).Radians() * earthRadiusKM
}

// withinRadius filters earthquake alerts to those within radiusKM of
// center. Earthquake alerts always carry coordinates; anything else is
// dropped.
func withinRadius(alerts []models.Alert, center models.Coordinates, radiusKM float64) []models.Alert {
	out := make([]models.Alert, 0, len(alerts))
	for _, a := range alerts {
		if a.Earthquake == nil {
			continue
		}
		if distanceKM(center, a.Earthquake.Coordinates) <= radiusKM {
			out = append(out, a)
		}
	}
	return out
}
