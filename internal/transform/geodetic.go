// Package transform converts SGP4 output between reference frames.
//
// Positions come out of the propagator in an Earth-Centered Inertial frame
// (TEME, treated as ECI here). Geodetic coordinates are derived by rotating
// into the Earth-fixed frame with GMST and then solving for WGS-84 latitude
// iteratively. Polar motion and the equation of the equinoxes are ignored,
// which keeps the error well under a kilometre for catalog display.
//
// Reference: Vallado, "Fundamentals of Astrodynamics and Applications", Ch. 3.
package transform

import (
	"math"
	"time"
)

// WGS-84 ellipsoid.
const (
	EarthRadiusKm = 6378.137
	flattening    = 1.0 / 298.257223563
	e2            = flattening * (2 - flattening)
)

// Plausible orbital radius bounds in km.
const (
	MinOrbitRadiusKm = 6200.0
	MaxOrbitRadiusKm = 500000.0
)

// Vector3 is a cartesian vector in km (or km/s).
type Vector3 struct {
	X, Y, Z float64
}

// Norm returns the vector magnitude.
func (v Vector3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Finite reports whether every component is neither NaN nor Inf.
func (v Vector3) Finite() bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Geodetic is a WGS-84 position.
type Geodetic struct {
	LatitudeDeg  float64
	LongitudeDeg float64 // (-180, 180]
	HeightKm     float64
}

// ECIToECEF rotates an inertial position about Z by the GMST angle (radians).
//
//	r_ECEF = R3(θ) * r_ECI
func ECIToECEF(eci Vector3, gmst float64) Vector3 {
	cosG := math.Cos(gmst)
	sinG := math.Sin(gmst)
	return Vector3{
		X: eci.X*cosG + eci.Y*sinG,
		Y: -eci.X*sinG + eci.Y*cosG,
		Z: eci.Z,
	}
}

// ECEFToGeodetic solves for WGS-84 latitude, longitude and height above the
// ellipsoid. Latitude converges in a handful of iterations for orbital radii.
func ECEFToGeodetic(ecef Vector3) Geodetic {
	p := math.Hypot(ecef.X, ecef.Y)
	lon := math.Atan2(ecef.Y, ecef.X)
	lat := math.Atan2(ecef.Z, p)

	var c float64
	for i := 0; i < 20; i++ {
		sinLat := math.Sin(lat)
		c = 1 / math.Sqrt(1-e2*sinLat*sinLat)
		next := math.Atan2(ecef.Z+EarthRadiusKm*c*e2*sinLat, p)
		if math.Abs(next-lat) < 1e-12 {
			lat = next
			break
		}
		lat = next
	}

	var height float64
	if cosLat := math.Cos(lat); math.Abs(cosLat) > 1e-10 {
		height = p/cosLat - EarthRadiusKm*c
	} else {
		// Over a pole the horizontal distance is zero.
		height = math.Abs(ecef.Z) - EarthRadiusKm*math.Sqrt(1-e2)
	}

	return Geodetic{
		LatitudeDeg:  lat * 180 / math.Pi,
		LongitudeDeg: NormalizeLongitude(lon * 180 / math.Pi),
		HeightKm:     height,
	}
}

// ECIToGeodetic converts an inertial position to geodetic using a precomputed GMST.
func ECIToGeodetic(eci Vector3, gmst float64) Geodetic {
	return ECEFToGeodetic(ECIToECEF(eci, gmst))
}

// ECIToGeodeticAt converts an inertial position at the given UTC instant.
func ECIToGeodeticAt(eci Vector3, t time.Time) Geodetic {
	return ECIToGeodetic(eci, GMST(t))
}

// NormalizeLongitude wraps degrees into (-180, 180].
func NormalizeLongitude(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg <= -180 {
		deg += 360
	} else if deg > 180 {
		deg -= 360
	}
	return deg
}

// ValidateECI reports whether an inertial position is finite and within the
// plausible band for an Earth-orbiting object.
func ValidateECI(pos Vector3) bool {
	if !pos.Finite() {
		return false
	}
	mag := pos.Norm()
	return mag >= MinOrbitRadiusKm && mag <= MaxOrbitRadiusKm
}
