package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	gosync "sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/syncwatch/syncwatch/internal/models"
	"github.com/syncwatch/syncwatch/internal/protocol"
)

// ClientConfig tunes the room client.
type ClientConfig struct {
	// PingInterval is the sync/ping cadence.
	PingInterval time.Duration
	// OnSnapshot observes full room snapshots (permissions, presence).
	OnSnapshot func(protocol.RoomSnapshot)
	// OnPresence observes presence list updates.
	OnPresence func([]models.PresenceEntry)
	// OnChat observes broadcast chat messages.
	OnChat func(protocol.ChatMessage)
}

// DefaultClientConfig returns the stock client tuning.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval: 5 * time.Second,
	}
}

// Client is a headless room member: it maintains the channel connection,
// feeds inbound state into a Reconciler and sends optimistic commands.
type Client struct {
	conn    *websocket.Conn
	rec     *Reconciler
	clock   clockwork.Clock
	cfg     ClientConfig
	writeMu gosync.Mutex
}

// DialRoom connects to the room channel for sessionID, authenticating with
// token. wsURL is the channel endpoint, e.g. ws://host:8091/ws.
func DialRoom(ctx context.Context, wsURL, sessionID, token string, rec *Reconciler, clock clockwork.Clock, cfg ClientConfig) (*Client, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse channel url: %w", err)
	}
	q := u.Query()
	q.Set("sessionId", sessionID)
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial room channel: %w", err)
	}

	return &Client{
		conn:  conn,
		rec:   rec,
		clock: clock,
		cfg:   cfg,
	}, nil
}

// Run pumps the connection until ctx is cancelled or the socket drops. The
// reconciler's own timer loop runs alongside the read loop; both stop before
// Run returns, so no reconciliation step survives teardown.
func (c *Client) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg gosync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.rec.Run(runCtx)
	}()
	go func() {
		defer wg.Done()
		c.pingLoop(runCtx)
	}()

	// Unblock the read loop when ctx is cancelled.
	go func() {
		<-runCtx.Done()
		c.conn.Close()
	}()

	err := c.readLoop()
	cancel()
	wg.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *Client) readLoop() error {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("room channel closed: %w", err)
		}

		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Debug().Err(err).Msg("dropped unparseable server frame")
			continue
		}
		c.handleEnvelope(env)
	}
}

func (c *Client) handleEnvelope(env protocol.Envelope) {
	switch env.Type {
	case protocol.KindRoomSnapshot:
		var snap protocol.RoomSnapshot
		if err := json.Unmarshal(env.Payload, &snap); err != nil {
			log.Debug().Err(err).Msg("bad room snapshot payload")
			return
		}
		c.rec.OnSnapshot(snap.Playback)
		if c.cfg.OnSnapshot != nil {
			c.cfg.OnSnapshot(snap)
		}
	case protocol.KindPlaybackState:
		var state protocol.PlaybackSnapshot
		if err := json.Unmarshal(env.Payload, &state); err != nil {
			log.Debug().Err(err).Msg("bad playback state payload")
			return
		}
		c.rec.OnSnapshot(state)
	case protocol.KindSyncPong:
		var pong protocol.Pong
		if err := json.Unmarshal(env.Payload, &pong); err != nil {
			log.Debug().Err(err).Msg("bad pong payload")
			return
		}
		c.rec.ObservePong(pong.ClientSendMs, pong.ServerTimeMs)
	case protocol.KindPresenceUpdate:
		if c.cfg.OnPresence == nil {
			return
		}
		var presence []models.PresenceEntry
		if err := json.Unmarshal(env.Payload, &presence); err != nil {
			log.Debug().Err(err).Msg("bad presence payload")
			return
		}
		c.cfg.OnPresence(presence)
	case protocol.KindChatMessage:
		if c.cfg.OnChat == nil {
			return
		}
		var msg protocol.ChatMessage
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			log.Debug().Err(err).Msg("bad chat payload")
			return
		}
		c.cfg.OnChat(msg)
	default:
		log.Debug().Str("kind", string(env.Type)).Msg("ignoring unknown server frame")
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := c.clock.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			frame, err := protocol.EncodePing(c.clock.Now().UnixMilli())
			if err != nil {
				continue
			}
			if err := c.write(frame); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) sendCommand(cmd protocol.Command) error {
	frame, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	return c.write(frame)
}

// Play issues an optimistic play command.
func (c *Client) Play() error {
	c.rec.NoteCommand(protocol.ActionPlay)
	return c.sendCommand(protocol.Command{Action: protocol.ActionPlay})
}

// Pause issues an optimistic pause command.
func (c *Client) Pause() error {
	c.rec.NoteCommand(protocol.ActionPause)
	return c.sendCommand(protocol.Command{Action: protocol.ActionPause})
}

// Seek asks the room to jump to sec. Seeks carry no optimistic window; the
// server's applied result is idempotent to re-apply locally.
func (c *Client) Seek(sec float64) error {
	return c.sendCommand(protocol.Command{Action: protocol.ActionSeek, PositionSec: sec})
}

// SetPermissions toggles participant control (host only; the server drops it
// silently otherwise).
func (c *Client) SetPermissions(allow bool) error {
	return c.sendCommand(protocol.Command{Action: protocol.ActionSetPermissions, AllowParticipantControl: allow})
}

// SetTyping announces the typing indicator.
func (c *Client) SetTyping(isTyping bool) error {
	frame, err := protocol.EncodePresenceTrack(isTyping)
	if err != nil {
		return err
	}
	return c.write(frame)
}

// Chat sends a chat line.
func (c *Client) Chat(text string) error {
	frame, err := protocol.EncodeChatSend(text)
	if err != nil {
		return err
	}
	return c.write(frame)
}

// Close tears the connection down.
func (c *Client) Close() error {
	return c.conn.Close()
}
