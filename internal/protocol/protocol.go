// Package protocol defines the room channel wire format. Messages are decoded
// once at the boundary into a closed set of typed values; anything that does
// not parse into one of these kinds is dropped by the caller.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/syncwatch/syncwatch/internal/models"
)

// Kind identifies a room channel message type.
type Kind string

const (
	KindRoomSnapshot    Kind = "room/snapshot"
	KindPlaybackState   Kind = "playback/state"
	KindPlaybackCommand Kind = "playback/command"
	KindPresenceUpdate  Kind = "presence/update"
	KindPresenceTrack   Kind = "presence/track"
	KindSyncPing        Kind = "sync/ping"
	KindSyncPong        Kind = "sync/pong"
	KindChatSend        Kind = "chat/send"
	KindChatMessage     Kind = "chat/message"
)

// Envelope is the outer frame of every room channel message.
type Envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// CommandAction identifies a playback command.
type CommandAction string

const (
	ActionPlay           CommandAction = "play"
	ActionPause          CommandAction = "pause"
	ActionSeek           CommandAction = "seek"
	ActionSetPermissions CommandAction = "setPermissions"
)

// PlaybackSnapshot is the extrapolated state fanned out to members.
type PlaybackSnapshot struct {
	IsPlaying    bool    `json:"isPlaying"`
	PositionSec  float64 `json:"positionSec"`
	Rate         float64 `json:"rate"`
	ServerTimeMs int64   `json:"serverTimeMs"`
}

// RoomSnapshot is the full room view sent on join and after every command.
type RoomSnapshot struct {
	SessionID   string                 `json:"sessionId"`
	JoinCode    string                 `json:"joinCode"`
	HostUserID  string                 `json:"hostUserId"`
	MediaRef    string                 `json:"mediaRef"`
	Permissions models.Permissions     `json:"permissions"`
	Presence    []models.PresenceEntry `json:"presence"`
	Playback    PlaybackSnapshot       `json:"playback"`
}

// ChatMessage is a broadcast chat line stamped with the video time.
type ChatMessage struct {
	ID           string  `json:"id"`
	UserID       string  `json:"userId"`
	Username     string  `json:"username"`
	Text         string  `json:"text"`
	VideoTimeSec float64 `json:"videoTimeSec"`
	CreatedAtMs  int64   `json:"createdAtMs"`
}

// Pong answers a sync/ping with the server clock.
type Pong struct {
	ClientSendMs int64 `json:"clientSendMs"`
	ServerTimeMs int64 `json:"serverTimeMs"`
}

// ClientMessage is the closed union of messages a client may send.
type ClientMessage interface {
	isClientMessage()
}

// Command asks the server to mutate playback or permissions.
type Command struct {
	Action                  CommandAction
	PositionSec             float64
	AllowParticipantControl bool
}

// Ping requests a sync/pong carrying the server clock.
type Ping struct {
	ClientSendMs int64
}

// ChatSend submits a chat line for broadcast.
type ChatSend struct {
	Text string
}

// PresenceTrack updates the sender's presence attributes.
type PresenceTrack struct {
	IsTyping bool
}

func (Command) isClientMessage()       {}
func (Ping) isClientMessage()          {}
func (ChatSend) isClientMessage()      {}
func (PresenceTrack) isClientMessage() {}

type commandPayload struct {
	Action                  CommandAction `json:"action"`
	PositionSec             *float64      `json:"positionSec,omitempty"`
	AllowParticipantControl *bool         `json:"allowParticipantControl,omitempty"`
}

type pingPayload struct {
	ClientSendMs int64 `json:"clientSendMs"`
}

type chatSendPayload struct {
	Text string `json:"text"`
}

type presenceTrackPayload struct {
	IsTyping bool `json:"isTyping"`
}

// DecodeClient parses a raw inbound frame into a typed client message.
// Unknown kinds and malformed payloads return an error; callers drop them
// without replying.
func DecodeClient(raw []byte) (ClientMessage, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case KindPlaybackCommand:
		var p commandPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode command: %w", err)
		}
		cmd := Command{Action: p.Action}
		switch p.Action {
		case ActionPlay, ActionPause:
		case ActionSeek:
			if p.PositionSec == nil {
				return nil, fmt.Errorf("seek command without positionSec")
			}
			cmd.PositionSec = *p.PositionSec
		case ActionSetPermissions:
			if p.AllowParticipantControl == nil {
				return nil, fmt.Errorf("setPermissions command without allowParticipantControl")
			}
			cmd.AllowParticipantControl = *p.AllowParticipantControl
		default:
			return nil, fmt.Errorf("unknown command action %q", p.Action)
		}
		return cmd, nil

	case KindSyncPing:
		var p pingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode ping: %w", err)
		}
		return Ping{ClientSendMs: p.ClientSendMs}, nil

	case KindChatSend:
		var p chatSendPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode chat send: %w", err)
		}
		return ChatSend{Text: p.Text}, nil

	case KindPresenceTrack:
		var p presenceTrackPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode presence track: %w", err)
		}
		return PresenceTrack{IsTyping: p.IsTyping}, nil

	default:
		return nil, fmt.Errorf("unknown message kind %q", env.Type)
	}
}

// Encode wraps a payload in an envelope and marshals the whole frame.
func Encode(kind Kind, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return json.Marshal(Envelope{Type: kind, Payload: body})
}

// EncodeCommand builds a playback/command frame as a client sends it.
func EncodeCommand(cmd Command) ([]byte, error) {
	p := commandPayload{Action: cmd.Action}
	switch cmd.Action {
	case ActionSeek:
		v := cmd.PositionSec
		p.PositionSec = &v
	case ActionSetPermissions:
		v := cmd.AllowParticipantControl
		p.AllowParticipantControl = &v
	}
	return Encode(KindPlaybackCommand, p)
}

// EncodePing builds a sync/ping frame.
func EncodePing(clientSendMs int64) ([]byte, error) {
	return Encode(KindSyncPing, pingPayload{ClientSendMs: clientSendMs})
}

// EncodeChatSend builds a chat/send frame.
func EncodeChatSend(text string) ([]byte, error) {
	return Encode(KindChatSend, chatSendPayload{Text: text})
}

// EncodePresenceTrack builds a presence/track frame.
func EncodePresenceTrack(isTyping bool) ([]byte, error) {
	return Encode(KindPresenceTrack, presenceTrackPayload{IsTyping: isTyping})
}
