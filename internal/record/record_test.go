package record

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/star/orbitstream/internal/propagation"
	"github.com/star/orbitstream/internal/tle"
	"github.com/star/orbitstream/internal/transform"
)

var testEpoch = time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func issRow() tle.RawElementRow {
	return tle.RawElementRow{
		Name:               "ISS (ZARYA)",
		IntlDesignator:     "1998-067A",
		CatalogNumber:      "25544",
		Type:               "PAYLOAD",
		ClassificationType: "U",
		Epoch:              "2024-04-09T12:00:00.000000",
		Eccentricity:       "0.0001",
		Inclination:        "51.64",
		RightAscension:     "100.0",
		ArgPericenter:      "0.0",
		MeanAnomaly:        "0.0",
		MeanMotion:         "15.5",
		MeanMotionDot:      "0.00016717",
		MeanMotionDotDot:   "0",
		BStar:              "0.0001027",
		RevolutionsAtEpoch: "0",
		ElementSetNumber:   "900",
		EphemerisType:      "0",
		Comment:            "GENERATED VIA SPACE-TRACK.ORG API",
		Originator:         "18 SPCS",
		File:               "4212345",
		TLE: [3]string{
			"0 ISS (ZARYA)",
			"1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9005",
			"2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    09",
		},
		OrbitalPeriod:  "92.9",
		Apogee:         "421.0",
		Perigee:        "419.7",
		CountryCode:    "ISS",
		RCSSize:        "LARGE",
		LaunchSiteCode: "TTMTR",
	}
}

func starlinkRow() tle.RawElementRow {
	row := issRow()
	row.Name = "STARLINK-1007"
	row.CatalogNumber = "44713"
	row.TLE = [3]string{
		"0 STARLINK-1007",
		"1 44713U 19074A   24100.50000000  .00001000  00000-0  10000-4 0  9995",
		"2 44713  53.0000 200.0000 0001500  90.0000 270.0000 15.06000000    05",
	}
	return row
}

// decayedRow has a mean motion that places the orbit below the surface.
func decayedRow() tle.RawElementRow {
	row := issRow()
	row.Name = "DECAYED DEBRIS"
	row.CatalogNumber = "99001"
	row.TLE = [3]string{
		"0 DECAYED DEBRIS",
		"1 99001U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9005",
		"2 99001  51.6400 100.0000 0001000   0.0000   0.0000 20.00000000    09",
	}
	return row
}

func TestNormalizeTypes(t *testing.T) {
	res := propagation.Result{
		PositionECI:  transform.Vector3{X: 1, Y: 2, Z: 3},
		LatitudeDeg:  10,
		LongitudeDeg: -20,
		HeightKm:     420,
	}

	v, err := Normalize(issRow(), res)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if v.CatalogNumber != 25544 || v.File != 4212345 || v.ElementSetNumber != 900 {
		t.Errorf("integer fields: %+v", v)
	}
	if v.Epoch != time.Date(2024, 4, 9, 12, 0, 0, 0, time.UTC).UnixMilli() {
		t.Errorf("epoch = %d", v.Epoch)
	}
	if v.MeanMotion != 15.5 || v.BStar != 0.0001027 {
		t.Errorf("float fields: meanMotion=%v bStar=%v", v.MeanMotion, v.BStar)
	}
	if v.Position != (Position{X: 1, Y: 2, Z: 3}) || v.Latitude != 10 || v.Longitude != -20 || v.Height != 420 {
		t.Errorf("position not applied: %+v", v)
	}
	if len(v.TLE) != 3 || v.TLE[0] != "0 ISS (ZARYA)" {
		t.Errorf("tle triplet: %v", v.TLE)
	}
	if v.Dirty || v.LastUpdated != 0 {
		t.Error("normalization must not set catalog bookkeeping")
	}
}

func TestNormalizeDefaults(t *testing.T) {
	row := issRow()
	row.Ordinal = ""
	row.OrbitalPeriod = ""
	row.Apogee = "n/a"
	row.Perigee = ""
	row.CountryCode = ""
	row.RCSSize = "  "
	row.LaunchSiteCode = ""

	v, err := Normalize(row, propagation.Result{})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if v.Ordinal != 0 {
		t.Errorf("ordinal = %d, want 0", v.Ordinal)
	}
	if v.OrbitalPeriod != 0 || v.Apogee != 0 || v.Perigee != 0 {
		t.Errorf("optional floats = %v %v %v, want 0", v.OrbitalPeriod, v.Apogee, v.Perigee)
	}
	for name, got := range map[string]string{
		"countryCode":    v.CountryCode,
		"rcsSize":        v.RCSSize,
		"launchSiteCode": v.LaunchSiteCode,
	} {
		if got != "Unknown" {
			t.Errorf("%s = %q, want Unknown", name, got)
		}
	}

	row.Ordinal = "7"
	if v, _ := Normalize(row, propagation.Result{}); v.Ordinal != 7 {
		t.Errorf("ordinal = %d, want 7", v.Ordinal)
	}
}

func TestNormalizeRequiredFields(t *testing.T) {
	tests := []struct {
		field  string
		mutate func(*tle.RawElementRow)
	}{
		{"catalogNumber", func(r *tle.RawElementRow) { r.CatalogNumber = "" }},
		{"revolutionsAtEpoch", func(r *tle.RawElementRow) { r.RevolutionsAtEpoch = "x" }},
		{"elementSetNumber", func(r *tle.RawElementRow) { r.ElementSetNumber = "" }},
		{"ephemerisType", func(r *tle.RawElementRow) { r.EphemerisType = "" }},
		{"file", func(r *tle.RawElementRow) { r.File = "" }},
		{"eccentricity", func(r *tle.RawElementRow) { r.Eccentricity = "" }},
		{"inclination", func(r *tle.RawElementRow) { r.Inclination = "abc" }},
		{"meanMotion", func(r *tle.RawElementRow) { r.MeanMotion = "NaN" }},
		{"bStar", func(r *tle.RawElementRow) { r.BStar = "" }},
		{"epoch", func(r *tle.RawElementRow) { r.Epoch = "" }},
		{"epoch", func(r *tle.RawElementRow) { r.Epoch = "not a date" }},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			row := issRow()
			tt.mutate(&row)

			_, err := Normalize(row, propagation.Result{})
			if !errors.Is(err, ErrNormalization) {
				t.Fatalf("expected ErrNormalization, got %v", err)
			}
			var fe *FieldError
			if !errors.As(err, &fe) {
				t.Fatalf("expected *FieldError, got %T", err)
			}
			if fe.Field != tt.field {
				t.Errorf("field = %s, want %s", fe.Field, tt.field)
			}
		})
	}
}

func TestBuilderSkipsFailures(t *testing.T) {
	prop := propagation.NewPropagator(propagation.PropConfig{Workers: 2}, testLogger())
	b := NewBuilder(prop, testLogger())

	bad := starlinkRow()
	bad.MeanMotion = ""

	rows := []tle.RawElementRow{starlinkRow(), decayedRow(), bad, issRow()}
	entries, stats := b.Build(context.Background(), rows, testEpoch)

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	// Input order survives.
	if entries[0].CatalogNumber() != 44713 || entries[1].CatalogNumber() != 25544 {
		t.Errorf("order = [%d %d], want [44713 25544]", entries[0].CatalogNumber(), entries[1].CatalogNumber())
	}
	want := BuildStats{Input: 4, Built: 2, NormalizationFailed: 1, PropagationFailed: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}

	for _, e := range entries {
		r := e.Vector.Position
		if r == (Position{}) {
			t.Errorf("catalog %d has no position", e.CatalogNumber())
		}
		if e.Vector.Longitude <= -180 || e.Vector.Longitude > 180 {
			t.Errorf("catalog %d longitude %v out of range", e.CatalogNumber(), e.Vector.Longitude)
		}
	}
}

func TestBuilderRefresh(t *testing.T) {
	prop := propagation.NewPropagator(propagation.PropConfig{Workers: 2}, testLogger())
	b := NewBuilder(prop, testLogger())

	entries, _ := b.Build(context.Background(), []tle.RawElementRow{issRow()}, testEpoch)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entries[0].Vector.Dirty = true
	entries[0].Vector.LastUpdated = 42
	before := entries[0].Vector.Position

	refreshed, stats := b.Refresh(context.Background(), entries, testEpoch.Add(10*time.Minute))
	if stats.Built != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	got := refreshed[0].Vector
	if got.Position == before {
		t.Error("position did not move after 10 minutes")
	}
	if !got.Dirty || got.LastUpdated != 42 {
		t.Errorf("bookkeeping lost: dirty=%v lastUpdated=%d", got.Dirty, got.LastUpdated)
	}
	if entries[0].Vector.Position != before {
		t.Error("Refresh mutated its input")
	}
}
