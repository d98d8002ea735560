package propagation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
	"github.com/star/orbitstream/internal/transform"
)

// SGP4 library: github.com/joshuaferrara/go-satellite (pure Go, WGS-84 constants,
// SDP4 deep-space branch for periods over 225 minutes).
//
// Propagate() takes Satellite by value, so SGP4 error codes set during
// propagation are not visible here. Failures are detected from the output:
// NaN/Inf components or a radius outside the plausible orbital band.

// SGP4Propagator wraps an initialized go-satellite model for one object.
type SGP4Propagator struct {
	sat     satellite.Satellite
	noradID int
}

// NewSGP4Propagator initializes an SGP4 model from TLE lines.
//
// The lines are validated column by column first because go-satellite calls
// log.Fatal on anything it cannot parse.
func NewSGP4Propagator(line1, line2 string, noradID int) (*SGP4Propagator, error) {
	line1 = strings.TrimRight(line1, "\r\n ")
	line2 = strings.TrimRight(line2, "\r\n ")
	if err := validateTLELines(line1, line2); err != nil {
		return nil, failf(noradID, "invalid TLE: %v", err)
	}

	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, failf(noradID, "sgp4 init code=%d %s", sat.Error, sat.ErrorStr)
	}
	return &SGP4Propagator{sat: sat, noradID: noradID}, nil
}

// tleColumns mirrors the exact column expressions go-satellite parses, so
// anything that would make the library exit is rejected here instead.
var tleColumns = []struct {
	name  string
	isInt bool
	value func(line1, line2 string) string
}{
	{"satellite number", true, func(l1, _ string) string { return strings.TrimSpace(l1[2:7]) }},
	{"epoch year", true, func(l1, _ string) string { return l1[18:20] }},
	{"epoch day", false, func(l1, _ string) string { return l1[20:32] }},
	{"mean motion dot", false, func(l1, _ string) string { return strings.Replace(l1[33:43], " ", "", 2) }},
	{"mean motion ddot", false, func(l1, _ string) string {
		return strings.Replace(l1[44:45]+"."+l1[45:50]+"e"+l1[50:52], " ", "", 2)
	}},
	{"bstar", false, func(l1, _ string) string {
		return strings.Replace(l1[53:54]+"."+l1[54:59]+"e"+l1[59:61], " ", "", 2)
	}},
	{"inclination", false, func(_, l2 string) string { return strings.Replace(l2[8:16], " ", "", 2) }},
	{"right ascension", false, func(_, l2 string) string { return strings.Replace(l2[17:25], " ", "", 2) }},
	{"eccentricity", false, func(_, l2 string) string { return "." + l2[26:33] }},
	{"argument of perigee", false, func(_, l2 string) string { return strings.Replace(l2[34:42], " ", "", 2) }},
	{"mean anomaly", false, func(_, l2 string) string { return strings.Replace(l2[43:51], " ", "", 2) }},
	{"mean motion", false, func(_, l2 string) string { return strings.Replace(l2[52:63], " ", "", 2) }},
}

// validateTLELines checks length, line numbers and every parsed column.
func validateTLELines(line1, line2 string) error {
	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}

	for _, col := range tleColumns {
		raw := col.value(line1, line2)
		var err error
		if col.isInt {
			_, err = strconv.Atoi(raw)
		} else {
			_, err = strconv.ParseFloat(raw, 64)
		}
		if err != nil {
			return fmt.Errorf("%s %q is not numeric", col.name, raw)
		}
	}

	if strings.TrimSpace(line1[2:7]) != strings.TrimSpace(line2[2:7]) {
		return fmt.Errorf("catalog number mismatch between lines")
	}
	return nil
}

// Propagate computes the state at t. Sub-second precision is dropped because
// the library takes whole seconds; sidereal time uses the same truncated instant.
func (p *SGP4Propagator) Propagate(t time.Time) (Result, error) {
	t = t.UTC().Truncate(time.Second)
	return p.propagateWithGMST(t, transform.GMST(t))
}

func (p *SGP4Propagator) propagateWithGMST(t time.Time, gmst float64) (Result, error) {
	pos, vel := satellite.Propagate(p.sat, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())

	eci := transform.Vector3{X: pos.X, Y: pos.Y, Z: pos.Z}
	if !eci.Finite() {
		return Result{}, failf(p.noradID, "output is NaN/Inf")
	}
	if !transform.ValidateECI(eci) {
		return Result{}, failf(p.noradID, "unreasonable position magnitude %.1f km", eci.Norm())
	}

	geo := transform.ECIToGeodetic(eci, gmst)
	return Result{
		PositionECI:  eci,
		VelocityECI:  transform.Vector3{X: vel.X, Y: vel.Y, Z: vel.Z},
		LatitudeDeg:  geo.LatitudeDeg,
		LongitudeDeg: geo.LongitudeDeg,
		HeightKm:     geo.HeightKm,
	}, nil
}

// Propagate parses an element-set pair and propagates it to instant.
// Any failure is a *Failure wrapping ErrPropagation.
func Propagate(line1, line2 string, instant time.Time) (Result, error) {
	id, _ := strconv.Atoi(strings.TrimSpace(safeSlice(line1, 2, 7)))
	prop, err := NewSGP4Propagator(line1, line2, id)
	if err != nil {
		return Result{}, err
	}
	return prop.Propagate(instant)
}

func safeSlice(s string, start, end int) string {
	if len(s) < end {
		return ""
	}
	return s[start:end]
}
