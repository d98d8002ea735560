package tle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// rowFields maps provider column names onto RawElementRow fields.
// Alternative names cover older catalog classes.
var rowFields = []struct {
	keys  []string
	field func(*RawElementRow) *string
}{
	{[]string{"OBJECT_NAME", "SATNAME"}, func(r *RawElementRow) *string { return &r.Name }},
	{[]string{"OBJECT_ID", "INTLDES"}, func(r *RawElementRow) *string { return &r.IntlDesignator }},
	{[]string{"NORAD_CAT_ID"}, func(r *RawElementRow) *string { return &r.CatalogNumber }},
	{[]string{"OBJECT_TYPE"}, func(r *RawElementRow) *string { return &r.Type }},
	{[]string{"CLASSIFICATION_TYPE"}, func(r *RawElementRow) *string { return &r.ClassificationType }},
	{[]string{"EPOCH"}, func(r *RawElementRow) *string { return &r.Epoch }},
	{[]string{"ECCENTRICITY"}, func(r *RawElementRow) *string { return &r.Eccentricity }},
	{[]string{"INCLINATION"}, func(r *RawElementRow) *string { return &r.Inclination }},
	{[]string{"RA_OF_ASC_NODE"}, func(r *RawElementRow) *string { return &r.RightAscension }},
	{[]string{"ARG_OF_PERICENTER"}, func(r *RawElementRow) *string { return &r.ArgPericenter }},
	{[]string{"MEAN_ANOMALY"}, func(r *RawElementRow) *string { return &r.MeanAnomaly }},
	{[]string{"MEAN_MOTION"}, func(r *RawElementRow) *string { return &r.MeanMotion }},
	{[]string{"MEAN_MOTION_DOT"}, func(r *RawElementRow) *string { return &r.MeanMotionDot }},
	{[]string{"MEAN_MOTION_DDOT"}, func(r *RawElementRow) *string { return &r.MeanMotionDotDot }},
	{[]string{"BSTAR"}, func(r *RawElementRow) *string { return &r.BStar }},
	{[]string{"REV_AT_EPOCH"}, func(r *RawElementRow) *string { return &r.RevolutionsAtEpoch }},
	{[]string{"ELEMENT_SET_NO"}, func(r *RawElementRow) *string { return &r.ElementSetNumber }},
	{[]string{"EPHEMERIS_TYPE"}, func(r *RawElementRow) *string { return &r.EphemerisType }},
	{[]string{"COMMENT"}, func(r *RawElementRow) *string { return &r.Comment }},
	{[]string{"ORIGINATOR"}, func(r *RawElementRow) *string { return &r.Originator }},
	{[]string{"ORDINAL"}, func(r *RawElementRow) *string { return &r.Ordinal }},
	{[]string{"FILE"}, func(r *RawElementRow) *string { return &r.File }},
	{[]string{"TLE_LINE0"}, func(r *RawElementRow) *string { return &r.TLE[0] }},
	{[]string{"TLE_LINE1"}, func(r *RawElementRow) *string { return &r.TLE[1] }},
	{[]string{"TLE_LINE2"}, func(r *RawElementRow) *string { return &r.TLE[2] }},
	{[]string{"PERIOD"}, func(r *RawElementRow) *string { return &r.OrbitalPeriod }},
	{[]string{"APOAPSIS", "APOGEE"}, func(r *RawElementRow) *string { return &r.Apogee }},
	{[]string{"PERIAPSIS", "PERIGEE"}, func(r *RawElementRow) *string { return &r.Perigee }},
	{[]string{"COUNTRY_CODE", "COUNTRY"}, func(r *RawElementRow) *string { return &r.CountryCode }},
	{[]string{"RCS_SIZE"}, func(r *RawElementRow) *string { return &r.RCSSize }},
	{[]string{"SITE", "LAUNCH_SITE"}, func(r *RawElementRow) *string { return &r.LaunchSiteCode }},
}

// ParseRows decodes a provider JSON array into rows. Values may arrive as
// strings, numbers or null; all are kept in their textual form and null
// becomes the empty string.
func ParseRows(data []byte) ([]RawElementRow, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding catalog payload: %w", err)
	}

	rows := make([]RawElementRow, 0, len(raw))
	for _, m := range raw {
		var row RawElementRow
		for _, f := range rowFields {
			*f.field(&row) = lookup(m, f.keys...)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func lookup(m map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch val := v.(type) {
		case string:
			s = val
		case json.Number:
			s = val.String()
		case bool:
			s = strconv.FormatBool(val)
		default:
			s = fmt.Sprint(val)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

var epochLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseEpoch parses a provider epoch. Timestamps without a zone are UTC.
// A two-line-element epoch (YYDDD.DDDDDDDD) is accepted as a fallback.
func ParseEpoch(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty epoch")
	}
	for _, layout := range epochLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return parseTLEEpoch(s)
}

// parseTLEEpoch converts a TLE epoch string in YYDDD.DDDDDDDD format to time.Time.
// Year 00-56 → 2000s, 57-99 → 1900s.
func parseTLEEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch string too short: %q", s)
	}

	yearStr := s[:2]
	dayStr := s[2:]

	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch year %q: %w", yearStr, err)
	}

	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}

	dayOfYear, err := strconv.ParseFloat(dayStr, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch day %q: %w", dayStr, err)
	}
	if dayOfYear < 1 || dayOfYear >= 367 {
		return time.Time{}, fmt.Errorf("epoch day %q out of range", dayStr)
	}

	// dayOfYear is 1-based: day 1 = Jan 1.
	t := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return t.Add(time.Duration((dayOfYear - 1) * float64(24*time.Hour))), nil
}
