package transform

import (
	"math"
	"time"
)

// J2000.0 (2000-01-01T12:00:00) as a Julian Date and in Unix seconds.
const (
	jdJ2000   = 2451545.0
	unixJ2000 = 946728000
)

const secondsPerDay = 86400.0

// daysSinceJ2000 keeps the offset small so sub-second precision survives.
func daysSinceJ2000(t time.Time) float64 {
	sec := t.Unix() - unixJ2000
	return (float64(sec) + float64(t.Nanosecond())/1e9) / secondsPerDay
}

// JulianDate returns the Julian Date of t, treating UTC as UT1.
func JulianDate(t time.Time) float64 {
	return jdJ2000 + daysSinceJ2000(t)
}

// GMST returns Greenwich mean sidereal time in radians, IAU-82 model.
func GMST(t time.Time) float64 {
	c := daysSinceJ2000(t) / 36525.0 // Julian centuries

	// Seconds of time; 876600 h per century plus the secular drift.
	sec := 67310.54841 + (876600*3600+8640184.812866)*c + 0.093104*c*c - 6.2e-6*c*c*c

	sec = math.Mod(sec, secondsPerDay)
	if sec < 0 {
		sec += secondsPerDay
	}
	return 2 * math.Pi * sec / secondsPerDay
}
