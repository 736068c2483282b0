package gateway

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/syncwatch/syncwatch/internal/auth"
	"github.com/syncwatch/syncwatch/internal/protocol"
	"github.com/syncwatch/syncwatch/internal/room"
)

func newTestGateway(t *testing.T) (*httptest.Server, *room.Registry, *auth.JWT, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	jwt := auth.NewJWT("test-secret")
	registry := room.NewRegistry(clock, room.DefaultConfig())
	mgr := NewManager(registry, jwt, clock, DefaultConfig())

	srv := httptest.NewServer(mgr)
	t.Cleanup(srv.Close)
	return srv, registry, jwt, clock
}

func dial(t *testing.T, srv *httptest.Server, sessionID, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?sessionId=" + sessionID + "&token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func issueToken(t *testing.T, jwt *auth.JWT, userID, name string) string {
	t.Helper()
	token, err := jwt.Issue(auth.Identity{UserID: userID, DisplayName: name}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

// readKind reads frames until one of the wanted kind arrives.
func readKind(t *testing.T, conn *websocket.Conn, kind protocol.Kind) json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s frame: %v", kind, err)
		}
		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("unparseable frame: %v", err)
		}
		if env.Type == kind {
			return env.Payload
		}
	}
}

func TestConnectDeliversRoomSnapshot(t *testing.T) {
	srv, registry, jwt, _ := newTestGateway(t)
	created, err := registry.CreateSession("host", "dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	sessionID := created.Session().ID.String()

	conn := dial(t, srv, sessionID, issueToken(t, jwt, "host", "Host"))

	var snap protocol.RoomSnapshot
	if err := json.Unmarshal(readKind(t, conn, protocol.KindRoomSnapshot), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.SessionID != sessionID {
		t.Fatalf("snapshot session %q, want %q", snap.SessionID, sessionID)
	}
	if snap.MediaRef != "dQw4w9WgXcQ" {
		t.Fatalf("snapshot mediaRef = %q", snap.MediaRef)
	}
	if snap.Playback.IsPlaying {
		t.Fatal("fresh session should be paused")
	}
}

func TestCommandRoundTrip(t *testing.T) {
	srv, registry, jwt, _ := newTestGateway(t)
	created, err := registry.CreateSession("host", "dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	sessionID := created.Session().ID.String()

	conn := dial(t, srv, sessionID, issueToken(t, jwt, "host", "Host"))
	readKind(t, conn, protocol.KindRoomSnapshot)

	frame, err := protocol.EncodeCommand(protocol.Command{Action: protocol.ActionSeek, PositionSec: 42})
	if err != nil {
		t.Fatalf("encode command: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("send command: %v", err)
	}

	var snap protocol.RoomSnapshot
	if err := json.Unmarshal(readKind(t, conn, protocol.KindRoomSnapshot), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Playback.PositionSec != 42 {
		t.Fatalf("position after seek = %v, want 42", snap.Playback.PositionSec)
	}
}

func TestPingAnswersWithServerClock(t *testing.T) {
	srv, registry, jwt, clock := newTestGateway(t)
	created, err := registry.CreateSession("host", "dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	conn := dial(t, srv, created.Session().ID.String(), issueToken(t, jwt, "host", "Host"))
	readKind(t, conn, protocol.KindRoomSnapshot)

	frame, err := protocol.EncodePing(12345)
	if err != nil {
		t.Fatalf("encode ping: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("send ping: %v", err)
	}

	var pong protocol.Pong
	if err := json.Unmarshal(readKind(t, conn, protocol.KindSyncPong), &pong); err != nil {
		t.Fatalf("decode pong: %v", err)
	}
	if pong.ClientSendMs != 12345 {
		t.Fatalf("pong echoes %d, want 12345", pong.ClientSendMs)
	}
	if pong.ServerTimeMs != clock.Now().UnixMilli() {
		t.Fatalf("pong server time %d, want %d", pong.ServerTimeMs, clock.Now().UnixMilli())
	}
}

func TestInvalidTokenClosedWithPolicyViolation(t *testing.T) {
	srv, registry, _, _ := newTestGateway(t)
	created, err := registry.CreateSession("host", "dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	conn := dial(t, srv, created.Session().ID.String(), "garbage")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != websocket.ClosePolicyViolation {
		t.Fatalf("read after bad token = %v, want close %d", err, websocket.ClosePolicyViolation)
	}
}

func TestUnknownSessionClosedWithPolicyViolation(t *testing.T) {
	srv, _, jwt, _ := newTestGateway(t)

	conn := dial(t, srv, "no-such-session", issueToken(t, jwt, "host", "Host"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != websocket.ClosePolicyViolation {
		t.Fatalf("read for unknown session = %v, want close %d", err, websocket.ClosePolicyViolation)
	}
}

func TestLockedParticipantCommandIsDropped(t *testing.T) {
	srv, registry, jwt, _ := newTestGateway(t)
	created, err := registry.CreateSession("host", "dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	sessionID := created.Session().ID.String()
	if err := created.SetPermissions(false, "host"); err != nil {
		t.Fatalf("lock room: %v", err)
	}

	viewer := dial(t, srv, sessionID, issueToken(t, jwt, "viewer", "Viewer"))
	readKind(t, viewer, protocol.KindRoomSnapshot)

	frame, err := protocol.EncodeCommand(protocol.Command{Action: protocol.ActionSeek, PositionSec: 99})
	if err != nil {
		t.Fatalf("encode command: %v", err)
	}
	if err := viewer.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("send command: %v", err)
	}

	// The command must not mutate the record; a chat frame flushes the pipe
	// so we know the command has been processed.
	chat, err := protocol.EncodeChatSend("hello")
	if err != nil {
		t.Fatalf("encode chat: %v", err)
	}
	if err := viewer.WriteMessage(websocket.TextMessage, chat); err != nil {
		t.Fatalf("send chat: %v", err)
	}
	readKind(t, viewer, protocol.KindChatMessage)

	if got := created.State().PositionSec; got != 0 {
		t.Fatalf("position after dropped seek = %v, want 0", got)
	}
}
