package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeClientCommands(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Command
	}{
		{
			name: "play",
			raw:  `{"type":"playback/command","payload":{"action":"play"}}`,
			want: Command{Action: ActionPlay},
		},
		{
			name: "pause",
			raw:  `{"type":"playback/command","payload":{"action":"pause"}}`,
			want: Command{Action: ActionPause},
		},
		{
			name: "seek",
			raw:  `{"type":"playback/command","payload":{"action":"seek","positionSec":42.5}}`,
			want: Command{Action: ActionSeek, PositionSec: 42.5},
		},
		{
			name: "setPermissions",
			raw:  `{"type":"playback/command","payload":{"action":"setPermissions","allowParticipantControl":false}}`,
			want: Command{Action: ActionSetPermissions},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeClient([]byte(tt.raw))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			cmd, ok := msg.(Command)
			if !ok {
				t.Fatalf("expected Command, got %T", msg)
			}
			if cmd != tt.want {
				t.Fatalf("got %+v, want %+v", cmd, tt.want)
			}
		})
	}
}

func TestDecodeClientRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"type":"playback/command","payload":{"action":"rewind"}}`,
		`{"type":"playback/command","payload":{"action":"seek"}}`,
		`{"type":"playback/command","payload":{"action":"setPermissions"}}`,
		`{"type":"room/open","payload":{}}`,
		`{"type":"playback/command","payload":"nope"}`,
	} {
		if _, err := DecodeClient([]byte(raw)); err == nil {
			t.Errorf("expected decode error for %s", raw)
		}
	}
}

func TestDecodeClientPingAndChat(t *testing.T) {
	msg, err := DecodeClient([]byte(`{"type":"sync/ping","payload":{"clientSendMs":1234}}`))
	if err != nil {
		t.Fatalf("decode ping: %v", err)
	}
	if ping, ok := msg.(Ping); !ok || ping.ClientSendMs != 1234 {
		t.Fatalf("unexpected ping: %+v", msg)
	}

	msg, err = DecodeClient([]byte(`{"type":"chat/send","payload":{"text":"hi"}}`))
	if err != nil {
		t.Fatalf("decode chat: %v", err)
	}
	if chat, ok := msg.(ChatSend); !ok || chat.Text != "hi" {
		t.Fatalf("unexpected chat: %+v", msg)
	}

	msg, err = DecodeClient([]byte(`{"type":"presence/track","payload":{"isTyping":true}}`))
	if err != nil {
		t.Fatalf("decode presence track: %v", err)
	}
	if track, ok := msg.(PresenceTrack); !ok || !track.IsTyping {
		t.Fatalf("unexpected presence track: %+v", msg)
	}
}

func TestEncodeCommandRoundTrip(t *testing.T) {
	raw, err := EncodeCommand(Command{Action: ActionSeek, PositionSec: 99})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg, err := DecodeClient(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	cmd := msg.(Command)
	if cmd.Action != ActionSeek || cmd.PositionSec != 99 {
		t.Fatalf("round trip mismatch: %+v", cmd)
	}
}

func TestEncodeEnvelopeShape(t *testing.T) {
	raw, err := Encode(KindPlaybackState, PlaybackSnapshot{IsPlaying: true, PositionSec: 12, Rate: 1, ServerTimeMs: 5})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != KindPlaybackState {
		t.Fatalf("wrong kind: %s", env.Type)
	}
	var p PlaybackSnapshot
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if !p.IsPlaying || p.PositionSec != 12 {
		t.Fatalf("payload mismatch: %+v", p)
	}
}
