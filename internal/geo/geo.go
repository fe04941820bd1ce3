// Package geo provides the small set of spherical-geometry helpers the
// hub needs to validate node coordinates and report distances between
// them: latitude/longitude validation, great-circle distance, and DMS
// formatting for the operator-facing node list.
package geo

import (
	"fmt"
	"math"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"

	fgerrors "github.com/foresthq/guardian/internal/errors"
)

// EarthRadiusMeters is the mean radius used for great-circle distance.
const EarthRadiusMeters = 6371008.8

// ValidateLatLng rejects coordinates outside the valid WGS84 range. A
// node reporting (0, 0) is allowed: some sensors genuinely sit near
// Null Island, and the hub has no way to distinguish that from an
// unset GPS fix, so callers needing that distinction must do it
// themselves.
func ValidateLatLng(lat, lng float64) error {
	if lat < -90 || lat > 90 {
		return fgerrors.Newf("latitude out of range: %f", lat).
			Component("geo").Category(fgerrors.CategoryValidation).Build()
	}
	if lng < -180 || lng > 180 {
		return fgerrors.Newf("longitude out of range: %f", lng).
			Component("geo").Category(fgerrors.CategoryValidation).Build()
	}
	return nil
}

// DistanceMeters returns the great-circle distance between two
// lat/lng points, via s2's angle-based LatLng distance.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	a := s2.LatLngFromDegrees(lat1, lng1)
	b := s2.LatLngFromDegrees(lat2, lng2)
	angle := a.Distance(b)
	return float64(angle) * EarthRadiusMeters
}

// FormatDMS renders a decimal-degree coordinate as
// degrees-minutes-seconds with a hemisphere letter, e.g.
// 12°34'56.7"N, for the hub's operator-facing node list.
func FormatDMS(value float64, positiveHemisphere, negativeHemisphere string) string {
	hemisphere := positiveHemisphere
	abs := value
	if value < 0 {
		hemisphere = negativeHemisphere
		abs = -value
	}
	degrees := math.Floor(abs)
	minutesFull := (abs - degrees) * 60
	minutes := math.Floor(minutesFull)
	seconds := (minutesFull - minutes) * 60
	return fmt.Sprintf("%d°%d'%.1f\"%s", int(degrees), int(minutes), seconds, hemisphere)
}

// FormatLatLngDMS formats a full coordinate pair as "lat, lng" DMS.
func FormatLatLngDMS(lat, lng float64) string {
	return fmt.Sprintf("%s, %s", FormatDMS(lat, "N", "S"), FormatDMS(lng, "E", "W"))
}

// BearingDegrees returns the initial compass bearing, in degrees from
// true north, from point a to point b.
func BearingDegrees(lat1, lng1, lat2, lng2 float64) float64 {
	lat1Rad := s1.Angle(lat1 * math.Pi / 180)
	lat2Rad := s1.Angle(lat2 * math.Pi / 180)
	dLng := s1.Angle((lng2 - lng1) * math.Pi / 180)

	y := math.Sin(float64(dLng)) * math.Cos(float64(lat2Rad))
	x := math.Cos(float64(lat1Rad))*math.Sin(float64(lat2Rad)) -
		math.Sin(float64(lat1Rad))*math.Cos(float64(lat2Rad))*math.Cos(float64(dLng))
	bearing := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(bearing+360, 360)
}
