package room

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/syncwatch/syncwatch/internal/models"
	"github.com/syncwatch/syncwatch/internal/playback"
)

// joinCodeAttempts bounds collision retries during session creation.
const joinCodeAttempts = 16

// Registry creates and resolves rooms by session id or join code. Rooms are
// independent; the registry only guards the lookup maps.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Room
	byCode map[string]*Room

	clock   clockwork.Clock
	cfg     Config
	persist PersistFunc
	onEvent EventFunc
}

// Option configures a Registry.
type Option func(*Registry)

// WithPersist wires a best-effort persistence hook into every room.
func WithPersist(fn PersistFunc) Option {
	return func(reg *Registry) { reg.persist = fn }
}

// WithEventHook wires a fan-out observer (the relay bridge) into every room.
func WithEventHook(fn EventFunc) Option {
	return func(reg *Registry) { reg.onEvent = fn }
}

// NewRegistry creates a session registry.
func NewRegistry(clock clockwork.Clock, cfg Config, opts ...Option) *Registry {
	reg := &Registry{
		byID:   make(map[string]*Room),
		byCode: make(map[string]*Room),
		clock:  clock,
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(reg)
	}
	return reg
}

// CreateSession creates a session hosted by hostUserID and returns its room.
// The join code is unique among live sessions and immutable afterwards.
func (reg *Registry) CreateSession(hostUserID, mediaRef string) (*Room, error) {
	now := reg.clock.Now()
	session := models.Session{
		ID:         uuid.New(),
		HostUserID: hostUserID,
		MediaRef:   mediaRef,
		Permissions: models.Permissions{
			AllowParticipantControl: true,
		},
		CreatedAt: now,
	}

	reg.mu.Lock()
	var code string
	for i := 0; i < joinCodeAttempts; i++ {
		candidate, err := newJoinCode()
		if err != nil {
			reg.mu.Unlock()
			return nil, fmt.Errorf("generate join code: %w", err)
		}
		if _, taken := reg.byCode[candidate]; !taken {
			code = candidate
			break
		}
	}
	if code == "" {
		reg.mu.Unlock()
		return nil, fmt.Errorf("could not allocate a unique join code after %d attempts", joinCodeAttempts)
	}
	session.JoinCode = code

	r := newRoom(session, playback.NewState(now), reg.clock, reg.cfg, reg.persist, reg.onEvent)
	reg.byID[session.ID.String()] = r
	reg.byCode[code] = r
	reg.mu.Unlock()

	if reg.persist != nil {
		reg.persist(session, r.State())
	}

	log.Info().
		Str("session_id", session.ID.String()).
		Str("join_code", code).
		Str("host_user_id", hostUserID).
		Msg("session created")
	return r, nil
}

// Resolve looks a room up by session id or join code (case-insensitive).
func (reg *Registry) Resolve(identifier string) (*Room, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrNotFound
	}

	reg.mu.RLock()
	defer reg.mu.RUnlock()

	if r, ok := reg.byID[identifier]; ok {
		return r, nil
	}
	if r, ok := reg.byCode[strings.ToUpper(identifier)]; ok {
		return r, nil
	}
	return nil, ErrNotFound
}

// SetPermissions toggles participant control on a session. Only the host may
// do this; anyone else gets ErrForbidden.
func (reg *Registry) SetPermissions(sessionID string, allow bool, requestedBy string) error {
	r, err := reg.Resolve(sessionID)
	if err != nil {
		return err
	}
	return r.SetPermissions(allow, requestedBy)
}

// Len reports the number of live sessions.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.byID)
}

// RunReaper drops rooms that have sat empty longer than the idle TTL, so
// abandoned sessions do not grow memory unboundedly. It blocks until ctx is
// cancelled.
func (reg *Registry) RunReaper(ctx context.Context) {
	ticker := reg.clock.NewTicker(reg.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			reg.reapIdle()
		}
	}
}

func (reg *Registry) reapIdle() {
	now := reg.clock.Now()

	reg.mu.Lock()
	var reaped []*Room
	for id, r := range reg.byID {
		if idle := r.EmptyFor(now); idle >= reg.cfg.IdleTTL {
			delete(reg.byID, id)
			delete(reg.byCode, r.Session().JoinCode)
			reaped = append(reaped, r)
		}
	}
	reg.mu.Unlock()

	for _, r := range reaped {
		session := r.Session()
		log.Info().
			Str("session_id", session.ID.String()).
			Str("join_code", session.JoinCode).
			Msg("reaped idle session")
	}
}
