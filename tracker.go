package parkour

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// ProgressKind classifies a position update.
type ProgressKind uint8

const (
	NoChange ProgressKind = iota
	Advanced
	Fell
)

// String returns the string representation of the kind.
func (k ProgressKind) String() string {
	switch k {
	case NoChange:
		return "NoChange"
	case Advanced:
		return "Advanced"
	case Fell:
		return "Fell"
	default:
		return "Unknown"
	}
}

// ProgressEvent is the outcome of a position update.
type ProgressEvent struct {
	Kind ProgressKind
	// Distance is the new distance for Advanced events.
	Distance int
}

// Tracker classifies player movement against a session. It never mutates
// the session or the world.
type Tracker struct {
	failFloorY float64
}

// NewTracker creates a tracker that reports a fall below failFloorY.
func NewTracker(failFloorY int) *Tracker {
	return &Tracker{failFloorY: float64(failFloorY)}
}

// Classify returns the event caused by the player moving to pos. A fall wins
// over an advance made in the same update. Advances are capped at the
// session's frontier.
func (t *Tracker) Classify(s Session, pos mgl64.Vec3) ProgressEvent {
	if pos.Y() < t.failFloorY {
		return ProgressEvent{Kind: Fell}
	}
	d := min(int(math.Floor(pos.X())), s.FrontierX)
	if d > s.CurrentDistance {
		return ProgressEvent{Kind: Advanced, Distance: d}
	}
	return ProgressEvent{Kind: NoChange}
}
