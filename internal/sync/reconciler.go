// Package sync implements the client-side reconciliation engine: it turns
// noisy, delayed playback snapshots into smooth local playback by estimating
// the server clock offset, classifying drift and steering the local player
// with either a seek or an imperceptible rate nudge.
package sync

import (
	"context"
	"math"
	gosync "sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/syncwatch/syncwatch/internal/protocol"
)

// Config holds the reconciliation tunables. None of them is part of the wire
// protocol; two clients with different tuning still converge.
type Config struct {
	// Alpha is the clock-offset EMA smoothing factor.
	Alpha float64
	// PendingWindow is how long an optimistic play/pause suppresses
	// contradicting snapshots.
	PendingWindow time.Duration
	// SeekThrottle is the minimum wall-clock gap between issued seeks.
	SeekThrottle time.Duration
	// Interval is the local reconciliation cadence between snapshots.
	Interval time.Duration

	// PausedDriftThreshold is the seek threshold while the authoritative
	// state is paused.
	PausedDriftThreshold float64
	// Fine thresholds apply when the player supports the nudge rate pair;
	// coarse thresholds apply otherwise.
	FineSeekThreshold       float64
	FineHardSeekThreshold   float64
	CoarseSeekThreshold     float64
	CoarseHardSeekThreshold float64
	// RateNudgeBand is the drift magnitude below which no correction runs
	// and above which a rate nudge starts.
	RateNudgeBand float64
	// RateUp and RateDown are the fine rates used to catch up or fall back.
	RateUp   float64
	RateDown float64
	// EndedSlack treats an ended player as converged when the target is
	// within this many seconds of the known duration.
	EndedSlack float64
}

// DefaultConfig returns the stock reconciliation tuning.
func DefaultConfig() Config {
	return Config{
		Alpha:                   0.1,
		PendingWindow:           5 * time.Second,
		SeekThrottle:            900 * time.Millisecond,
		Interval:                time.Second,
		PausedDriftThreshold:    0.35,
		FineSeekThreshold:       0.6,
		FineHardSeekThreshold:   2.5,
		CoarseSeekThreshold:     1.2,
		CoarseHardSeekThreshold: 4.0,
		RateNudgeBand:           0.15,
		RateUp:                  1.05,
		RateDown:                0.95,
		EndedSlack:              0.25,
	}
}

type pendingCommand struct {
	action protocol.CommandAction
	expiry time.Time
}

// Reconciler drives one local player toward the authoritative timeline.
// It is single-writer: Run, OnSnapshot and NoteCommand may be called from
// different goroutines but each reconciliation pass runs alone.
type Reconciler struct {
	mu       gosync.Mutex
	player   Player
	clock    clockwork.Clock
	cfg      Config
	offset   float64 // estimated serverTime - localTime, milliseconds
	lastSeek time.Time
	pending  *pendingCommand
	last     *protocol.PlaybackSnapshot
}

// NewReconciler creates a reconciler for the given player.
func NewReconciler(player Player, clock clockwork.Clock, cfg Config) *Reconciler {
	return &Reconciler{
		player: player,
		clock:  clock,
		cfg:    cfg,
	}
}

// ClockOffset returns the current server-minus-local clock estimate.
func (r *Reconciler) ClockOffset() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Duration(r.offset * float64(time.Millisecond))
}

// NoteCommand records an optimistic play/pause the client just issued, so
// stale snapshots that predate it do not fight the user. Seeks need no
// window; they are idempotent on arrival.
func (r *Reconciler) NoteCommand(action protocol.CommandAction) {
	if action != protocol.ActionPlay && action != protocol.ActionPause {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = &pendingCommand{
		action: action,
		expiry: r.clock.Now().Add(r.cfg.PendingWindow),
	}
}

// OnSnapshot folds a received authoritative snapshot into the clock-offset
// estimate and reconciles against it.
func (r *Reconciler) OnSnapshot(s protocol.PlaybackSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	estimate := float64(s.ServerTimeMs - r.clock.Now().UnixMilli())
	r.observeOffsetLocked(estimate)

	// A snapshot that already reflects the optimistic command confirms it.
	if r.pending != nil {
		if (r.pending.action == protocol.ActionPlay && s.IsPlaying) ||
			(r.pending.action == protocol.ActionPause && !s.IsPlaying) {
			r.pending = nil
		}
	}

	r.last = &s
	r.reconcileLocked(s)
}

// ObservePong folds a sync/pong round trip into the clock-offset estimate.
// The server timestamp is taken to correspond to the round trip's midpoint.
func (r *Reconciler) ObservePong(clientSendMs, serverTimeMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	nowMs := r.clock.Now().UnixMilli()
	midpoint := float64(clientSendMs+nowMs) / 2
	r.observeOffsetLocked(float64(serverTimeMs) - midpoint)
}

func (r *Reconciler) observeOffsetLocked(estimateMs float64) {
	r.offset = (1-r.cfg.Alpha)*r.offset + r.cfg.Alpha*estimateMs
}

// Tick reconciles against the last received snapshot. It is the timer-driven
// half of the loop, keeping an idle player converged between pushes.
func (r *Reconciler) Tick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return
	}
	r.reconcileLocked(*r.last)
}

// Run ticks the reconciler until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.Tick()
		}
	}
}

// Target returns the expected authoritative position right now, per the last
// snapshot and the current clock-offset estimate.
func (r *Reconciler) Target() (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return 0, false
	}
	return r.targetLocked(*r.last, r.clock.Now()), true
}

func (r *Reconciler) targetLocked(s protocol.PlaybackSnapshot, now time.Time) float64 {
	target := s.PositionSec
	if s.IsPlaying {
		rate := s.Rate
		if rate == 0 {
			rate = 1
		}
		serverNowMs := float64(now.UnixMilli()) + r.offset
		elapsedSec := (serverNowMs - float64(s.ServerTimeMs)) / 1000
		target += elapsedSec * rate
	}
	if target < 0 {
		target = 0
	}
	if duration := r.player.Duration(); duration > 0 && target > duration {
		target = duration
	}
	return target
}

func (r *Reconciler) reconcileLocked(s protocol.PlaybackSnapshot) {
	now := r.clock.Now()

	if r.pending != nil && !now.Before(r.pending.expiry) {
		r.pending = nil
	}
	// Trust the optimistic intent until the server catches up or the
	// window expires.
	if r.pending != nil {
		if (r.pending.action == protocol.ActionPlay && !s.IsPlaying) ||
			(r.pending.action == protocol.ActionPause && s.IsPlaying) {
			return
		}
	}

	target := r.targetLocked(s, now)
	actual := r.player.CurrentTime()
	drift := target - actual
	duration := r.player.Duration()
	playerState := r.player.State()
	canNudge := r.canNudgeRate()

	// An ended player at the end of the media is converged, not drifted.
	if playerState == StateEnded && s.IsPlaying && duration > 0 && target >= duration-r.cfg.EndedSlack {
		r.setRate(1, canNudge)
		return
	}

	if !s.IsPlaying {
		if playerState != StatePaused && playerState != StateEnded {
			r.player.Pause()
		}
		if math.Abs(drift) > r.cfg.PausedDriftThreshold {
			r.seek(target, now)
		}
		r.setRate(1, canNudge)
		return
	}

	if playerState != StatePlaying && playerState != StateBuffering {
		r.player.Play()
	}

	seekThreshold := r.cfg.CoarseSeekThreshold
	hardSeekThreshold := r.cfg.CoarseHardSeekThreshold
	if canNudge {
		seekThreshold = r.cfg.FineSeekThreshold
		hardSeekThreshold = r.cfg.FineHardSeekThreshold
	}
	buffering := playerState == StateBuffering
	unstarted := playerState == StateUnstarted || playerState == StateCued

	switch {
	case math.Abs(drift) > hardSeekThreshold:
		r.seek(target, now)
		r.setRate(1, canNudge)
	case !buffering && !unstarted && math.Abs(drift) > seekThreshold:
		r.seek(target, now)
		r.setRate(1, canNudge)
	case !buffering && canNudge && math.Abs(drift) > r.cfg.RateNudgeBand:
		// Behind the timeline means catching up, ahead means easing off.
		if drift > 0 {
			r.player.SetRate(r.cfg.RateUp)
		} else {
			r.player.SetRate(r.cfg.RateDown)
		}
	default:
		r.setRate(1, canNudge)
	}
}

// seek issues at most one player seek per throttle window; drift estimates
// are noisy right after a seek and chasing them oscillates.
func (r *Reconciler) seek(target float64, now time.Time) {
	if !r.lastSeek.IsZero() && now.Sub(r.lastSeek) <= r.cfg.SeekThrottle {
		return
	}
	r.lastSeek = now
	r.player.SeekTo(math.Max(0, target))
	log.Debug().Float64("target_sec", target).Msg("reconciler seek")
}

func (r *Reconciler) setRate(rate float64, canNudge bool) {
	if !canNudge {
		return
	}
	r.player.SetRate(rate)
}

// canNudgeRate reports whether the player supports both fine rates; nudging
// with only one of the pair would correct drift in a single direction.
func (r *Reconciler) canNudgeRate() bool {
	var up, down bool
	for _, rate := range r.player.AvailableRates() {
		if rate == r.cfg.RateUp {
			up = true
		}
		if rate == r.cfg.RateDown {
			down = true
		}
	}
	return up && down
}
