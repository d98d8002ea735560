package propagation

import (
	"errors"
	"fmt"

	"github.com/star/orbitstream/internal/transform"
)

// ErrPropagation is the sentinel wrapped by every per-record propagation failure.
var ErrPropagation = errors.New("propagation failed")

// Failure describes why a single element set could not be propagated.
// The caller drops the record and carries on with its siblings.
type Failure struct {
	NORADID int
	Reason  string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("propagation failed for NORAD %d: %s", f.NORADID, f.Reason)
}

func (f *Failure) Unwrap() error { return ErrPropagation }

func failf(noradID int, format string, args ...any) *Failure {
	return &Failure{NORADID: noradID, Reason: fmt.Sprintf(format, args...)}
}

// Result is the state of one object at the requested instant.
type Result struct {
	PositionECI  transform.Vector3 // km
	VelocityECI  transform.Vector3 // km/s
	LatitudeDeg  float64
	LongitudeDeg float64
	HeightKm     float64
}

// Job is one element set to propagate.
type Job struct {
	NORADID int
	Line1   string
	Line2   string
}

// Outcome pairs a job with its result. Exactly one of Result and Err is meaningful.
type Outcome struct {
	NORADID int
	Result  Result
	Err     error
}

// PropConfig holds propagation configuration.
type PropConfig struct {
	Workers int // Worker pool size (default: runtime.NumCPU())
}
