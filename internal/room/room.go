// Package room owns the per-session authoritative state: the playback record,
// presence, and the set of connected members. All mutation for one session
// goes through its Room, which serializes the command path and the periodic
// broadcaster against the same record. Sessions are independent of each other.
package room

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/syncwatch/syncwatch/internal/models"
	"github.com/syncwatch/syncwatch/internal/playback"
	"github.com/syncwatch/syncwatch/internal/protocol"
)

// Sink receives outbound frames for one member connection. Send must not
// block; it reports whether the frame was queued so the room can log drops
// without stalling delivery to other members.
type Sink interface {
	Send(frame []byte) bool
}

// Member is one connected viewer of a room.
type Member struct {
	userID      string
	displayName string
	sink        Sink
}

// UserID returns the member's user id.
func (m *Member) UserID() string { return m.userID }

// PersistFunc receives the session and playback record after each mutation.
// Implementations must not block; persistence is best-effort and never gates
// the in-memory record.
type PersistFunc func(session models.Session, state models.PlaybackState)

// EventFunc observes every frame a room fans out, used by the relay bridge.
type EventFunc func(sessionID string, frame []byte)

// Config holds room timing parameters.
type Config struct {
	// BroadcastInterval is the periodic playback/state push cadence.
	BroadcastInterval time.Duration
	// IdleTTL is how long a room may sit with zero members before the
	// registry reaps it.
	IdleTTL time.Duration
	// ReapInterval is how often the registry checks for idle rooms.
	ReapInterval time.Duration
}

// DefaultConfig returns the production timing parameters.
func DefaultConfig() Config {
	return Config{
		BroadcastInterval: 500 * time.Millisecond,
		IdleTTL:           2 * time.Hour,
		ReapInterval:      time.Minute,
	}
}

// Room is the single-writer owner of one session's state.
type Room struct {
	mu       sync.Mutex
	session  models.Session
	state    models.PlaybackState
	presence map[string]models.PresenceEntry
	members  map[*Member]struct{}

	// emptySince is the instant the last member left; zero while occupied.
	emptySince time.Time

	// stopBroadcast is non-nil while the periodic broadcaster runs.
	stopBroadcast chan struct{}

	clock   clockwork.Clock
	cfg     Config
	persist PersistFunc
	onEvent EventFunc
}

func newRoom(session models.Session, state models.PlaybackState, clock clockwork.Clock, cfg Config, persist PersistFunc, onEvent EventFunc) *Room {
	return &Room{
		session:    session,
		state:      state,
		presence:   make(map[string]models.PresenceEntry),
		members:    make(map[*Member]struct{}),
		emptySince: clock.Now(),
		clock:      clock,
		cfg:        cfg,
		persist:    persist,
		onEvent:    onEvent,
	}
}

// Session returns a copy of the session record.
func (r *Room) Session() models.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// State returns a copy of the authoritative playback record.
func (r *Room) State() models.PlaybackState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// PlaybackSnapshot returns the extrapolated wire view of the record at now.
func (r *Room) PlaybackSnapshot() protocol.PlaybackSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playbackSnapshotLocked()
}

func (r *Room) playbackSnapshotLocked() protocol.PlaybackSnapshot {
	now := r.clock.Now()
	return protocol.PlaybackSnapshot{
		IsPlaying:    r.state.IsPlaying,
		PositionSec:  r.state.ExpectedPosition(now),
		Rate:         r.state.Rate,
		ServerTimeMs: now.UnixMilli(),
	}
}

func (r *Room) presenceListLocked() []models.PresenceEntry {
	list := make([]models.PresenceEntry, 0, len(r.presence))
	for _, entry := range r.presence {
		list = append(list, entry)
	}
	return list
}

func (r *Room) roomSnapshotLocked() protocol.RoomSnapshot {
	return protocol.RoomSnapshot{
		SessionID:   r.session.ID.String(),
		JoinCode:    r.session.JoinCode,
		HostUserID:  r.session.HostUserID,
		MediaRef:    r.session.MediaRef,
		Permissions: r.session.Permissions,
		Presence:    r.presenceListLocked(),
		Playback:    r.playbackSnapshotLocked(),
	}
}

// Snapshot returns the full room view as sent on join.
func (r *Room) Snapshot() protocol.RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roomSnapshotLocked()
}

// Join registers a member connection, marks it present, pushes the room
// snapshot to it and announces the new presence list to everyone.
func (r *Room) Join(userID, displayName, avatarURL string, sink Sink) *Member {
	m := &Member{userID: userID, displayName: displayName, sink: sink}

	r.mu.Lock()
	r.members[m] = struct{}{}
	r.emptySince = time.Time{}
	r.presence[userID] = models.PresenceEntry{
		UserID:      userID,
		DisplayName: displayName,
		AvatarURL:   avatarURL,
		Status:      models.PresenceInRoom,
		UpdatedMs:   r.clock.Now().UnixMilli(),
	}
	if r.stopBroadcast == nil {
		stop := make(chan struct{})
		r.stopBroadcast = stop
		go r.broadcastLoop(stop)
	}
	snapshot := r.roomSnapshotLocked()
	presence := r.presenceListLocked()
	r.mu.Unlock()

	if frame, err := protocol.Encode(protocol.KindRoomSnapshot, snapshot); err == nil {
		sink.Send(frame)
	}
	r.broadcastPayload(protocol.KindPresenceUpdate, presence)

	log.Debug().
		Str("session_id", snapshot.SessionID).
		Str("user_id", userID).
		Msg("member joined room")
	return m
}

// Leave removes a member connection. The presence entry is demoted to online
// rather than deleted, so reconnects keep their attribution; the registry
// reaper prunes it together with the idle room.
func (r *Room) Leave(m *Member) {
	r.mu.Lock()
	if _, ok := r.members[m]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.members, m)

	stillConnected := false
	for other := range r.members {
		if other.userID == m.userID {
			stillConnected = true
			break
		}
	}
	if !stillConnected {
		if entry, ok := r.presence[m.userID]; ok {
			entry.Status = models.PresenceOnline
			entry.IsTyping = false
			entry.UpdatedMs = r.clock.Now().UnixMilli()
			r.presence[m.userID] = entry
		}
	}

	if len(r.members) == 0 {
		r.emptySince = r.clock.Now()
		if r.stopBroadcast != nil {
			close(r.stopBroadcast)
			r.stopBroadcast = nil
		}
	}
	presence := r.presenceListLocked()
	sessionID := r.session.ID.String()
	r.mu.Unlock()

	r.broadcastPayload(protocol.KindPresenceUpdate, presence)
	log.Debug().
		Str("session_id", sessionID).
		Str("user_id", m.userID).
		Msg("member left room")
}

// Track upserts member attributes (typing indicator) and announces the
// updated presence list.
func (r *Room) Track(userID string, isTyping bool) {
	r.mu.Lock()
	entry, ok := r.presence[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	entry.IsTyping = isTyping
	entry.UpdatedMs = r.clock.Now().UnixMilli()
	r.presence[userID] = entry
	presence := r.presenceListLocked()
	r.mu.Unlock()

	r.broadcastPayload(protocol.KindPresenceUpdate, presence)
}

// Heartbeat bumps a member's presence timestamp without announcing anything.
// The gateway calls it on every sync ping.
func (r *Room) Heartbeat(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.presence[userID]
	if !ok {
		return
	}
	entry.UpdatedMs = r.clock.Now().UnixMilli()
	r.presence[userID] = entry
}

// HandleCommand authorizes and applies a playback command from userID.
// Unauthorized and malformed commands are dropped without reply; the sender's
// optimistic UI reconciles on the next snapshot.
func (r *Room) HandleCommand(userID string, cmd protocol.Command) {
	r.mu.Lock()
	isHost := r.session.HostUserID == userID

	if cmd.Action == protocol.ActionSetPermissions {
		if !isHost {
			r.mu.Unlock()
			log.Debug().
				Str("session_id", r.session.ID.String()).
				Str("user_id", userID).
				Msg("dropped setPermissions from non-host")
			return
		}
		r.session.Permissions.AllowParticipantControl = cmd.AllowParticipantControl
	} else {
		if !isHost && !r.session.Permissions.AllowParticipantControl {
			sessionID := r.session.ID.String()
			r.mu.Unlock()
			log.Debug().
				Str("session_id", sessionID).
				Str("user_id", userID).
				Str("action", string(cmd.Action)).
				Msg("dropped command while participant control is locked")
			return
		}

		intent := playback.Intent{TargetSec: cmd.PositionSec}
		switch cmd.Action {
		case protocol.ActionPlay:
			intent.Action = playback.ActionPlay
		case protocol.ActionPause:
			intent.Action = playback.ActionPause
		case protocol.ActionSeek:
			intent.Action = playback.ActionSeek
		default:
			r.mu.Unlock()
			return
		}

		next, err := playback.Apply(r.state, intent, r.clock.Now())
		if err != nil {
			r.mu.Unlock()
			log.Debug().Str("user_id", userID).Err(err).Msg("dropped malformed playback command")
			return
		}
		r.state = next
	}

	session := r.session
	state := r.state
	snapshot := r.roomSnapshotLocked()
	r.mu.Unlock()

	if r.persist != nil {
		r.persist(session, state)
	}
	r.broadcastPayload(protocol.KindRoomSnapshot, snapshot)

	log.Info().
		Str("session_id", session.ID.String()).
		Str("user_id", userID).
		Str("action", string(cmd.Action)).
		Bool("is_playing", state.IsPlaying).
		Float64("position_sec", state.PositionSec).
		Msg("playback command applied")
}

// SetPermissions is the control-plane form of the host-only permission
// toggle; unlike the channel command it surfaces ErrForbidden.
func (r *Room) SetPermissions(allow bool, requestedBy string) error {
	r.mu.Lock()
	if r.session.HostUserID != requestedBy {
		r.mu.Unlock()
		return ErrForbidden
	}
	r.session.Permissions.AllowParticipantControl = allow
	session := r.session
	state := r.state
	snapshot := r.roomSnapshotLocked()
	r.mu.Unlock()

	if r.persist != nil {
		r.persist(session, state)
	}
	r.broadcastPayload(protocol.KindRoomSnapshot, snapshot)
	return nil
}

// Chat broadcasts a chat line stamped with the current extrapolated video
// time. Messages are pass-through only; nothing is stored.
func (r *Room) Chat(userID, text string) {
	if text == "" {
		return
	}

	r.mu.Lock()
	displayName := "Unknown"
	if entry, ok := r.presence[userID]; ok {
		displayName = entry.DisplayName
	}
	now := r.clock.Now()
	msg := protocol.ChatMessage{
		ID:           uuid.New().String(),
		UserID:       userID,
		Username:     displayName,
		Text:         text,
		VideoTimeSec: r.state.ExpectedPosition(now),
		CreatedAtMs:  now.UnixMilli(),
	}
	r.mu.Unlock()

	r.broadcastPayload(protocol.KindChatMessage, msg)
}

// ForwardFrame fans a relay-delivered frame out to local members without
// touching the authoritative record.
func (r *Room) ForwardFrame(frame []byte) {
	r.deliver(frame, false)
}

// MemberCount reports the number of open connections.
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// EmptyFor reports how long the room has had zero members; zero while occupied.
func (r *Room) EmptyFor(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.members) > 0 || r.emptySince.IsZero() {
		return 0
	}
	return now.Sub(r.emptySince)
}

// broadcastLoop pushes the extrapolated playback state to members on a fixed
// cadence so viewers who missed an event push stay converged. It runs only
// while the room has members.
func (r *Room) broadcastLoop(stop chan struct{}) {
	ticker := r.clock.NewTicker(r.cfg.BroadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			r.broadcastPayload(protocol.KindPlaybackState, r.PlaybackSnapshot())
		}
	}
}

func (r *Room) broadcastPayload(kind protocol.Kind, payload any) {
	frame, err := protocol.Encode(kind, payload)
	if err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Msg("failed to encode broadcast frame")
		return
	}
	r.deliver(frame, true)
}

// deliver sends one frame to every member, fire-and-forget. A member whose
// send buffer is full is skipped; its connection's own keepalive handling
// decides when to tear it down.
func (r *Room) deliver(frame []byte, relay bool) {
	r.mu.Lock()
	targets := make([]*Member, 0, len(r.members))
	for m := range r.members {
		targets = append(targets, m)
	}
	sessionID := r.session.ID.String()
	r.mu.Unlock()

	for _, m := range targets {
		if !m.sink.Send(frame) {
			log.Warn().
				Str("session_id", sessionID).
				Str("user_id", m.userID).
				Msg("member send buffer full, dropping frame")
		}
	}

	if relay && r.onEvent != nil {
		r.onEvent(sessionID, frame)
	}
}
