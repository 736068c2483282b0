package sync

import (
	"math"
	gosync "sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// PlayerState mirrors the coarse lifecycle of an embedded video player.
type PlayerState int

const (
	StateUnstarted PlayerState = iota
	StateCued
	StatePlaying
	StatePaused
	StateBuffering
	StateEnded
)

// Player is the local video player the reconciler steers. Implementations
// must not block; commands are fire-and-forget.
type Player interface {
	State() PlayerState
	// CurrentTime returns the actual playback position in seconds.
	CurrentTime() float64
	// Duration returns the media length in seconds, or 0 when unknown.
	Duration() float64
	Play()
	Pause()
	SeekTo(sec float64)
	SetRate(rate float64)
	// AvailableRates lists the playback rates the player supports.
	AvailableRates() []float64
}

// SimulatedPlayer is a Player backed by a clock instead of real media. The
// headless agent uses it to participate in a room without a renderer.
type SimulatedPlayer struct {
	mu        gosync.Mutex
	clock     clockwork.Clock
	state     PlayerState
	position  float64
	rate      float64
	duration  float64
	rates     []float64
	updatedAt time.Time
}

// NewSimulatedPlayer creates an unstarted simulated player. A duration of 0
// means unbounded media.
func NewSimulatedPlayer(clock clockwork.Clock, duration float64) *SimulatedPlayer {
	return &SimulatedPlayer{
		clock:     clock,
		state:     StateUnstarted,
		rate:      1,
		duration:  duration,
		rates:     []float64{0.25, 0.5, 0.75, 0.95, 1, 1.05, 1.25, 1.5, 2},
		updatedAt: clock.Now(),
	}
}

// advanceLocked rolls the position forward to now.
func (p *SimulatedPlayer) advanceLocked() {
	now := p.clock.Now()
	if p.state == StatePlaying {
		p.position += now.Sub(p.updatedAt).Seconds() * p.rate
		if p.duration > 0 && p.position >= p.duration {
			p.position = p.duration
			p.state = StateEnded
		}
	}
	p.updatedAt = now
}

func (p *SimulatedPlayer) State() PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	return p.state
}

func (p *SimulatedPlayer) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	return p.position
}

func (p *SimulatedPlayer) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

func (p *SimulatedPlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	if p.state != StateEnded || p.duration == 0 {
		p.state = StatePlaying
	}
}

func (p *SimulatedPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	if p.state != StateEnded {
		p.state = StatePaused
	}
}

func (p *SimulatedPlayer) SeekTo(sec float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	p.position = math.Max(0, sec)
	if p.duration > 0 && p.position < p.duration && p.state == StateEnded {
		p.state = StatePaused
	}
}

func (p *SimulatedPlayer) SetRate(rate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	if rate > 0 {
		p.rate = rate
	}
}

// Rate returns the current playback rate.
func (p *SimulatedPlayer) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

func (p *SimulatedPlayer) AvailableRates() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	rates := make([]float64, len(p.rates))
	copy(rates, p.rates)
	return rates
}
