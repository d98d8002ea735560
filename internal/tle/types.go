package tle

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrFetch marks a failed catalog query. Fetch errors are recoverable: the
// next cycle retries with the same window policy.
var ErrFetch = errors.New("catalog fetch failed")

// RawElementRow is one catalog entry exactly as the provider returned it.
// Every field is kept as a string; typing happens in the record package.
type RawElementRow struct {
	Name               string    `json:"OBJECT_NAME"`
	IntlDesignator     string    `json:"OBJECT_ID"`
	CatalogNumber      string    `json:"NORAD_CAT_ID"`
	Type               string    `json:"OBJECT_TYPE"`
	ClassificationType string    `json:"CLASSIFICATION_TYPE"`
	Epoch              string    `json:"EPOCH"`
	Eccentricity       string    `json:"ECCENTRICITY"`
	Inclination        string    `json:"INCLINATION"`
	RightAscension     string    `json:"RA_OF_ASC_NODE"`
	ArgPericenter      string    `json:"ARG_OF_PERICENTER"`
	MeanAnomaly        string    `json:"MEAN_ANOMALY"`
	MeanMotion         string    `json:"MEAN_MOTION"`
	MeanMotionDot      string    `json:"MEAN_MOTION_DOT"`
	MeanMotionDotDot   string    `json:"MEAN_MOTION_DDOT"`
	BStar              string    `json:"BSTAR"`
	RevolutionsAtEpoch string    `json:"REV_AT_EPOCH"`
	ElementSetNumber   string    `json:"ELEMENT_SET_NO"`
	EphemerisType      string    `json:"EPHEMERIS_TYPE"`
	Comment            string    `json:"COMMENT"`
	Originator         string    `json:"ORIGINATOR"`
	Ordinal            string    `json:"ORDINAL"`
	File               string    `json:"FILE"`
	TLE                [3]string `json:"-"`
	OrbitalPeriod      string    `json:"PERIOD"`
	Apogee             string    `json:"APOAPSIS"`
	Perigee            string    `json:"PERIAPSIS"`
	CountryCode        string    `json:"COUNTRY_CODE"`
	RCSSize            string    `json:"RCS_SIZE"`
	LaunchSiteCode     string    `json:"SITE"`
}

// Line1 returns the first element-set line.
func (r RawElementRow) Line1() string { return r.TLE[1] }

// Line2 returns the second element-set line.
func (r RawElementRow) Line2() string { return r.TLE[2] }

// Filter describes which catalog entries a query returns.
type Filter struct {
	// EpochLookback keeps entries whose epoch is newer than now minus this.
	EpochLookback time.Duration
	// IncludeDecayed also returns objects that have re-entered.
	IncludeDecayed bool
	// ExcludeObjectType drops entries of this OBJECT_TYPE ("TBA" by default).
	ExcludeObjectType string
	// OrderBy is the sort column.
	OrderBy string
}

// DefaultFilter returns the standard query for the given lookback window.
func DefaultFilter(lookback time.Duration) Filter {
	return Filter{
		EpochLookback:     lookback,
		ExcludeObjectType: "TBA",
		OrderBy:           "NORAD_CAT_ID",
	}
}

// Path renders the filter as a Space-Track REST predicate path.
// The epoch predicate is expressed in days, as the provider expects.
func (f Filter) Path() string {
	var b strings.Builder
	b.WriteString("/basicspacedata/query/class/gp")
	if !f.IncludeDecayed {
		b.WriteString("/DECAYED/0")
	}
	if f.EpochLookback > 0 {
		days := strconv.FormatFloat(f.EpochLookback.Hours()/24, 'f', -1, 64)
		b.WriteString("/EPOCH/>now-" + days)
	}
	if f.ExcludeObjectType != "" {
		b.WriteString("/OBJECT_TYPE/<>" + f.ExcludeObjectType)
	}
	if f.OrderBy != "" {
		b.WriteString("/orderby/" + f.OrderBy)
	}
	b.WriteString("/format/json")
	return b.String()
}
