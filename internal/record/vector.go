// Package record turns raw catalog rows into typed, positioned records.
package record

import "github.com/star/orbitstream/internal/tle"

// Position is an ECI position in kilometres.
type Position struct {
	X float64 `json:"x" avro:"x"`
	Y float64 `json:"y" avro:"y"`
	Z float64 `json:"z" avro:"z"`
}

// SatelliteVector is the normalized record that is published. Field names
// follow the outgoing Avro schema.
type SatelliteVector struct {
	Name               string   `json:"name" avro:"name"`
	IntlDesignator     string   `json:"intlDesignator" avro:"intlDesignator"`
	CatalogNumber      int      `json:"catalogNumber" avro:"catalogNumber"`
	Type               string   `json:"type" avro:"type"`
	ClassificationType string   `json:"classificationType" avro:"classificationType"`
	Epoch              int64    `json:"epoch" avro:"epoch"`
	Eccentricity       float64  `json:"eccentricity" avro:"eccentricity"`
	Inclination        float64  `json:"inclination" avro:"inclination"`
	RightAscension     float64  `json:"rightAscension" avro:"rightAscension"`
	ArgPericenter      float64  `json:"argPericenter" avro:"argPericenter"`
	MeanAnomaly        float64  `json:"meanAnomaly" avro:"meanAnomaly"`
	MeanMotion         float64  `json:"meanMotion" avro:"meanMotion"`
	MeanMotionDot      float64  `json:"meanMotionDot" avro:"meanMotionDot"`
	MeanMotionDotDot   float64  `json:"meanMotionDotDot" avro:"meanMotionDotDot"`
	BStar              float64  `json:"bStar" avro:"bStar"`
	RevolutionsAtEpoch int      `json:"revolutionsAtEpoch" avro:"revolutionsAtEpoch"`
	ElementSetNumber   int      `json:"elementSetNumber" avro:"elementSetNumber"`
	EphemerisType      int      `json:"ephemerisType" avro:"ephemerisType"`
	Comment            string   `json:"comment" avro:"comment"`
	Originator         string   `json:"originator" avro:"originator"`
	Ordinal            int      `json:"ordinal" avro:"ordinal"`
	File               int      `json:"file" avro:"file"`
	TLE                []string `json:"tle" avro:"tle"`
	OrbitalPeriod      float64  `json:"orbitalPeriod" avro:"orbitalPeriod"`
	Apogee             float64  `json:"apogee" avro:"apogee"`
	Perigee            float64  `json:"perigee" avro:"perigee"`
	Latitude           float64  `json:"latitude" avro:"latitude"`
	Longitude          float64  `json:"longitude" avro:"longitude"`
	Position           Position `json:"position" avro:"position"`
	Height             float64  `json:"height" avro:"height"`
	CountryCode        string   `json:"countryCode" avro:"countryCode"`
	RCSSize            string   `json:"rcsSize" avro:"rcsSize"`
	LaunchSiteCode     string   `json:"launchSiteCode" avro:"launchSiteCode"`

	// Dirty is set when a fetch wrote the record after the previous flush.
	Dirty bool `json:"dirty" avro:"dirty"`
	// LastUpdated is the merge time in Unix milliseconds.
	LastUpdated int64 `json:"lastUpdated" avro:"lastUpdated"`
}

// Entry pairs a raw row with its normalized record. The row is kept so the
// record can be re-propagated at a later instant.
type Entry struct {
	Row    tle.RawElementRow
	Vector SatelliteVector
}

// CatalogNumber returns the entry's key.
func (e Entry) CatalogNumber() int {
	return e.Vector.CatalogNumber
}

// clone returns a copy that shares no slices with v.
func (v SatelliteVector) clone() SatelliteVector {
	if v.TLE != nil {
		v.TLE = append([]string(nil), v.TLE...)
	}
	return v
}

// Clone returns a deep copy of the entry.
func (e Entry) Clone() Entry {
	e.Vector = e.Vector.clone()
	return e
}
