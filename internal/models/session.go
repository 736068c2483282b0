package models

import (
	"time"

	"github.com/google/uuid"
)

// Permissions holds per-session control settings.
type Permissions struct {
	AllowParticipantControl bool `json:"allowParticipantControl"`
}

// Session represents a watch session. The join code maps 1:1 to the session
// and never changes once assigned.
type Session struct {
	ID          uuid.UUID   `json:"id"`
	JoinCode    string      `json:"joinCode"`
	HostUserID  string      `json:"hostUserId"`
	MediaRef    string      `json:"mediaRef"`
	Permissions Permissions `json:"permissions"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// PlaybackState is the authoritative playback record for a session.
// PositionSec was exactly correct at AnchorTime; consumers extrapolate
// forward from there, the extrapolated value is never written back.
type PlaybackState struct {
	IsPlaying   bool      `json:"isPlaying"`
	PositionSec float64   `json:"positionSec"`
	Rate        float64   `json:"rate"`
	AnchorTime  time.Time `json:"anchorTime"`
}

// ExpectedPosition returns the playback position the record implies at now.
func (s PlaybackState) ExpectedPosition(now time.Time) float64 {
	if !s.IsPlaying {
		return s.PositionSec
	}
	rate := s.Rate
	if rate == 0 {
		rate = 1
	}
	elapsed := now.Sub(s.AnchorTime).Seconds()
	pos := s.PositionSec + elapsed*rate
	if pos < 0 {
		return 0
	}
	return pos
}
