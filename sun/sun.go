// Package sun wraps solar-geometry calculations for the site's
// location: the planner's naive PV fallback uses Daylight to zero out
// nighttime slots.
package sun

import (
	"math"
	"time"

	"github.com/sixdouglas/suncalc"
)

// ElevationDegrees returns the sun's altitude above the horizon at t,
// in degrees; negative below the horizon.
func ElevationDegrees(t time.Time, lat, lon float64) float64 {
	pos := suncalc.GetPosition(t, lat, lon)
	return pos.Altitude * 180 / math.Pi
}

// ElevationFactor returns sin(altitude) clamped to [0,1]: 0 while the
// sun is below the horizon, approaching 1 toward solar noon. Daylight is
// built on it; the naive PV fallback does not use it as a weight.
func ElevationFactor(t time.Time, lat, lon float64) float64 {
	pos := suncalc.GetPosition(t, lat, lon)
	f := math.Sin(pos.Altitude)
	if f < 0 {
		return 0
	}
	return f
}

// Daylight reports whether the sun is above the horizon at t.
func Daylight(t time.Time, lat, lon float64) bool {
	return ElevationFactor(t, lat, lon) > 0
}

// SunriseSunset returns the day's sunrise and sunset instants for the
// given location.
func SunriseSunset(date time.Time, lat, lon float64) (sunrise, sunset time.Time) {
	times := suncalc.GetTimes(date, lat, lon)
	return times[suncalc.Sunrise].Value, times[suncalc.Sunset].Value
}
