package stamps

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"

	"github.com/dpup/journey.ersn.net/server/internal/lib/geo"
	"github.com/dpup/journey.ersn.net/server/internal/lib/journey"
)

var (
	// ErrNotEligible is returned when collecting a landmark that is still locked
	ErrNotEligible = journey.NewError("landmark is not eligible for collection", codes.FailedPrecondition)

	// ErrUnknownLandmark is returned for landmark ids the gate does not track
	ErrUnknownLandmark = journey.NewError("unknown landmark", codes.NotFound)
)

// State is a landmark's collection state within one session. States only
// move forward: Locked, Eligible, Collected.
type State int

const (
	Locked State = iota
	Eligible
	Collected
)

func (s State) String() string {
	switch s {
	case Locked:
		return "locked"
	case Eligible:
		return "eligible"
	case Collected:
		return "collected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON snapshots
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config holds the eligibility thresholds
type Config struct {
	// CaptureRadiusMeters is the maximum distance between the live fix and the landmark
	CaptureRadiusMeters float64 `yaml:"capture_radius_meters"`

	// ProgressToleranceMeters is how far short of the landmark's offset progress may be
	ProgressToleranceMeters float64 `yaml:"progress_tolerance_meters"`

	// AllowProgressOnly permits unlocking on progress alone when there is no live fix
	AllowProgressOnly bool `yaml:"allow_progress_only"`
}

// DefaultConfig returns the thresholds used when none are configured
func DefaultConfig() Config {
	return Config{
		CaptureRadiusMeters:     30,
		ProgressToleranceMeters: 25,
		AllowProgressOnly:       true,
	}
}

// Tracked is a landmark with its resolved arc-length offset
type Tracked struct {
	Landmark     journey.Landmark `json:"landmark"`
	OffsetMeters float64          `json:"offset_meters"`
}

// Observation is the input of one evaluation tick
type Observation struct {
	// LiveFix is nil when no GPS fix is available
	LiveFix        *geo.Point
	ProgressMeters float64
}

// Transition records a landmark changing state
type Transition struct {
	LandmarkID string `json:"landmark_id"`
	From       State  `json:"from"`
	To         State  `json:"to"`
}

// Status is a landmark's current state, as listed by Gate.Snapshot
type Status struct {
	Tracked
	State State `json:"state"`
}

// Check identifies one of the two eligibility conditions
type Check int

const (
	CheckNone Check = iota
	CheckProximity
	CheckProgress
)

// CheckFor maps a backend rejection reason onto the eligibility condition it
// corresponds to
func CheckFor(reason journey.RejectionReason) Check {
	switch reason {
	case journey.ReasonTooFar:
		return CheckProximity
	case journey.ReasonInsufficientProgress:
		return CheckProgress
	default:
		return CheckNone
	}
}

// RejectedError is returned when the backend refuses a collection
type RejectedError struct {
	LandmarkID string
	Reason     journey.RejectionReason
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("stamp collection rejected for landmark %s", e.LandmarkID)
	}
	return fmt.Sprintf("stamp collection rejected for landmark %s: %s", e.LandmarkID, e.Reason)
}

// Code implements journey.Coded
func (e *RejectedError) Code() codes.Code {
	return codes.FailedPrecondition
}

// Check returns the eligibility condition the backend considered unmet
func (e *RejectedError) Check() Check {
	return CheckFor(e.Reason)
}

// IsRejected reports whether err is a collection rejection and returns it
func IsRejected(err error) (*RejectedError, bool) {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected, true
	}
	return nil, false
}
