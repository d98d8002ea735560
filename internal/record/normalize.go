package record

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/star/orbitstream/internal/propagation"
	"github.com/star/orbitstream/internal/tle"
)

// ErrNormalization marks a row that cannot be turned into a record.
var ErrNormalization = errors.New("record normalization failed")

// unknown fills absent descriptive strings.
const unknown = "Unknown"

// FieldError names the required field that failed to parse.
type FieldError struct {
	CatalogNumber string
	Field         string
	Value         string
}

func (e *FieldError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("catalog %s: required field %s is missing", e.CatalogNumber, e.Field)
	}
	return fmt.Sprintf("catalog %s: field %s has invalid value %q", e.CatalogNumber, e.Field, e.Value)
}

func (e *FieldError) Unwrap() error { return ErrNormalization }

// fieldParser collects the first failure so Normalize reads as a flat list.
type fieldParser struct {
	id  string
	err *FieldError
}

func (p *fieldParser) fail(field, value string) {
	if p.err == nil {
		p.err = &FieldError{CatalogNumber: p.id, Field: field, Value: value}
	}
}

func (p *fieldParser) requiredInt(field, raw string) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		p.fail(field, raw)
	}
	return v
}

func (p *fieldParser) requiredFloat(field, raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		p.fail(field, raw)
		return 0
	}
	return v
}

func optionalInt(raw string) int {
	raw = strings.TrimSpace(raw)
	if v, err := strconv.Atoi(raw); err == nil {
		return v
	}
	// Some catalogs send integral columns as "12.0".
	if f, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return int(f)
	}
	return 0
}

func optionalFloat(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return unknown
	}
	return s
}

// CatalogNumber parses the row's key.
func CatalogNumber(row tle.RawElementRow) (int, error) {
	p := fieldParser{id: row.CatalogNumber}
	id := p.requiredInt("catalogNumber", row.CatalogNumber)
	if p.err != nil {
		return 0, p.err
	}
	return id, nil
}

// Normalize converts a raw row and its propagated state into a record.
// A missing or unparseable required field returns a *FieldError.
func Normalize(row tle.RawElementRow, p propagation.Result) (SatelliteVector, error) {
	fp := fieldParser{id: row.CatalogNumber}

	v := SatelliteVector{
		Name:               row.Name,
		IntlDesignator:     row.IntlDesignator,
		CatalogNumber:      fp.requiredInt("catalogNumber", row.CatalogNumber),
		Type:               row.Type,
		ClassificationType: row.ClassificationType,
		Eccentricity:       fp.requiredFloat("eccentricity", row.Eccentricity),
		Inclination:        fp.requiredFloat("inclination", row.Inclination),
		RightAscension:     fp.requiredFloat("rightAscension", row.RightAscension),
		ArgPericenter:      fp.requiredFloat("argPericenter", row.ArgPericenter),
		MeanAnomaly:        fp.requiredFloat("meanAnomaly", row.MeanAnomaly),
		MeanMotion:         fp.requiredFloat("meanMotion", row.MeanMotion),
		MeanMotionDot:      fp.requiredFloat("meanMotionDot", row.MeanMotionDot),
		MeanMotionDotDot:   fp.requiredFloat("meanMotionDotDot", row.MeanMotionDotDot),
		BStar:              fp.requiredFloat("bStar", row.BStar),
		RevolutionsAtEpoch: fp.requiredInt("revolutionsAtEpoch", row.RevolutionsAtEpoch),
		ElementSetNumber:   fp.requiredInt("elementSetNumber", row.ElementSetNumber),
		EphemerisType:      fp.requiredInt("ephemerisType", row.EphemerisType),
		Comment:            row.Comment,
		Originator:         row.Originator,
		Ordinal:            optionalInt(row.Ordinal),
		File:               fp.requiredInt("file", row.File),
		TLE:                []string{row.TLE[0], row.TLE[1], row.TLE[2]},
		OrbitalPeriod:      optionalFloat(row.OrbitalPeriod),
		Apogee:             optionalFloat(row.Apogee),
		Perigee:            optionalFloat(row.Perigee),
		CountryCode:        orUnknown(row.CountryCode),
		RCSSize:            orUnknown(row.RCSSize),
		LaunchSiteCode:     orUnknown(row.LaunchSiteCode),
	}

	epoch, err := tle.ParseEpoch(row.Epoch)
	if err != nil {
		fp.fail("epoch", row.Epoch)
	}
	if fp.err != nil {
		return SatelliteVector{}, fp.err
	}
	v.Epoch = epoch.UnixMilli()

	v.ApplyPosition(p)
	return v, nil
}

// ApplyPosition overwrites the computed coordinates.
func (v *SatelliteVector) ApplyPosition(p propagation.Result) {
	v.Position = Position{X: p.PositionECI.X, Y: p.PositionECI.Y, Z: p.PositionECI.Z}
	v.Latitude = p.LatitudeDeg
	v.Longitude = p.LongitudeDeg
	v.Height = p.HeightKm
}
