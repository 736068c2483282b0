// Package playback implements the authoritative playback state transitions.
// Every mutation recomputes the position from the prior record and re-anchors
// at the mutation instant, so the stored record is internally consistent at
// the moment it is written.
package playback

import (
	"errors"
	"math"
	"time"

	"github.com/syncwatch/syncwatch/internal/models"
)

// Action identifies a playback intent.
type Action string

const (
	ActionPlay  Action = "play"
	ActionPause Action = "pause"
	ActionSeek  Action = "seek"
)

// Intent is a validated playback mutation request.
type Intent struct {
	Action    Action
	TargetSec float64 // seek only
}

// ErrMalformed marks an intent that cannot be applied.
var ErrMalformed = errors.New("malformed playback intent")

// Apply transitions a playback record per the intent at instant now.
// The prior record's extrapolated position is captured before the anchor
// moves, so pausing after N seconds of playing lands at position+N.
func Apply(prev models.PlaybackState, in Intent, now time.Time) (models.PlaybackState, error) {
	next := prev
	next.AnchorTime = now
	if next.Rate <= 0 {
		next.Rate = 1
	}

	switch in.Action {
	case ActionPlay:
		next.IsPlaying = true
		next.PositionSec = prev.ExpectedPosition(now)
	case ActionPause:
		next.IsPlaying = false
		next.PositionSec = prev.ExpectedPosition(now)
	case ActionSeek:
		if math.IsNaN(in.TargetSec) || math.IsInf(in.TargetSec, 0) {
			return prev, ErrMalformed
		}
		next.PositionSec = math.Max(0, in.TargetSec)
	default:
		return prev, ErrMalformed
	}

	return next, nil
}

// NewState returns the initial record for a freshly created session.
func NewState(now time.Time) models.PlaybackState {
	return models.PlaybackState{
		IsPlaying:   false,
		PositionSec: 0,
		Rate:        1,
		AnchorTime:  now,
	}
}
