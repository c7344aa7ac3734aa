package journey

import (
	"github.com/dpup/journey.ersn.net/server/internal/lib/geo"
)

// SessionID is the backend's opaque identifier for a progress session
type SessionID string

// Landmark is a collectible stamp location along a journey's route
type Landmark struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Position geo.Point `json:"position"`

	// DistanceFromStartMeters is nil when the backend did not supply an
	// arc-length offset and it has to be projected locally
	DistanceFromStartMeters *float64 `json:"distance_from_start_meters,omitempty"`
}

// ProgressState is the server-side record of a user's advancement on a journey.
// Percent and ProgressMeters are independent sources and may disagree.
type ProgressState struct {
	SessionID            SessionID `json:"session_id"`
	Percent              *float64  `json:"percent,omitempty"`
	ProgressMeters       *float64  `json:"progress_meters,omitempty"`
	RunningTogetherCount int       `json:"running_together_count"`
}

// RejectionReason explains why the backend refused a stamp collection
type RejectionReason string

const (
	ReasonTooFar               RejectionReason = "too_far"
	ReasonInsufficientProgress RejectionReason = "insufficient_progress"
	ReasonAlreadyCollected     RejectionReason = "already_collected"
)

// CollectRequest is sent to the stamp collection endpoint
type CollectRequest struct {
	SessionID      SessionID  `json:"session_id"`
	LandmarkID     string     `json:"landmark_id"`
	LiveCoordinate *geo.Point `json:"live_coordinate,omitempty"`
	IdempotencyKey string     `json:"-"`
}

// CollectOutcome is the backend's verdict on a collection request
type CollectOutcome struct {
	Collected bool            `json:"collected"`
	Reason    RejectionReason `json:"reason,omitempty"`
}

// Float returns a pointer to v, for optional numeric fields
func Float(v float64) *float64 {
	return &v
}
