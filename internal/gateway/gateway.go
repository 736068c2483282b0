// Package gateway terminates room channel websocket connections. It is the
// boundary where raw frames become typed protocol messages and where connect
// time auth happens; everything stateful lives in the room package.
package gateway

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/syncwatch/syncwatch/internal/auth"
	"github.com/syncwatch/syncwatch/internal/protocol"
	"github.com/syncwatch/syncwatch/internal/room"
)

// Config holds websocket connection tuning.
type Config struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConfig returns default websocket configuration.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// Manager upgrades HTTP requests to room channel connections.
type Manager struct {
	registry *room.Registry
	verifier auth.Verifier
	upgrader websocket.Upgrader
	clock    clockwork.Clock
	cfg      Config
}

// NewManager creates a websocket gateway over the session registry.
func NewManager(registry *room.Registry, verifier auth.Verifier, clock clockwork.Clock, cfg Config) *Manager {
	return &Manager{
		registry: registry,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
		clock: clock,
		cfg:   cfg,
	}
}

// Connection lifecycle states.
const (
	stateConnecting int32 = iota
	stateJoined
	stateClosed
)

// Connection is one member's room channel socket. It implements room.Sink;
// Send never blocks the broadcasting room.
type Connection struct {
	id        string
	identity  auth.Identity
	room      *room.Room
	member    *room.Member
	conn      *websocket.Conn
	send      chan []byte
	quit      chan struct{}
	state     atomic.Int32
	closeOnce sync.Once
	mgr       *Manager
}

// Send queues a frame for delivery, reporting false if the connection is
// closed or its buffer is full.
func (c *Connection) Send(frame []byte) bool {
	if c.state.Load() == stateClosed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// ServeHTTP upgrades the request and joins the caller to its room. The
// connection is accepted first so policy failures can be answered with a
// proper close code, matching how clients distinguish rejection from
// transport loss.
func (g *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	sessionID := r.URL.Query().Get("sessionId")
	token := r.URL.Query().Get("token")
	if sessionID == "" || token == "" {
		closePolicyViolation(conn, "missing sessionId or token")
		return
	}

	identity, err := g.verifier.Verify(token)
	if err != nil {
		closePolicyViolation(conn, "invalid token")
		return
	}

	rm, err := g.registry.Resolve(sessionID)
	if err != nil {
		closePolicyViolation(conn, "session not found")
		return
	}

	c := &Connection{
		id:       uuid.New().String(),
		identity: identity,
		room:     rm,
		conn:     conn,
		send:     make(chan []byte, g.cfg.SendBuffer),
		quit:     make(chan struct{}),
		mgr:      g,
	}

	// writePump must be draining before Join pushes the room snapshot.
	go c.writePump()
	c.member = rm.Join(identity.UserID, identity.DisplayName, identity.AvatarURL, c)
	c.state.Store(stateJoined)
	go c.readPump()

	log.Info().
		Str("connection_id", c.id).
		Str("user_id", identity.UserID).
		Str("session_id", rm.Session().ID.String()).
		Msg("room channel connected")
}

func closePolicyViolation(conn *websocket.Conn, reason string) {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
	conn.Close()
}

// teardown transitions the connection to Closed exactly once, detaching it
// from the room before the socket goes away.
func (c *Connection) teardown() {
	c.closeOnce.Do(func() {
		c.state.Store(stateClosed)
		if c.member != nil {
			c.room.Leave(c.member)
		}
		close(c.quit)
		c.conn.Close()
		log.Debug().
			Str("connection_id", c.id).
			Str("user_id", c.identity.UserID).
			Msg("room channel disconnected")
	})
}

// readPump reads inbound frames, decodes them once at the boundary and
// dispatches typed messages into the room.
func (c *Connection) readPump() {
	defer c.teardown()

	c.conn.SetReadLimit(c.mgr.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.mgr.cfg.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.mgr.cfg.ReadTimeout))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("connection_id", c.id).Msg("unexpected websocket close")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.mgr.cfg.ReadTimeout))

		if c.state.Load() != stateJoined {
			continue
		}
		c.handleFrame(raw)
	}
}

func (c *Connection) handleFrame(raw []byte) {
	msg, err := protocol.DecodeClient(raw)
	if err != nil {
		// Malformed frames are dropped without a reply.
		log.Debug().Err(err).Str("connection_id", c.id).Msg("dropped unparseable frame")
		return
	}

	switch m := msg.(type) {
	case protocol.Ping:
		c.room.Heartbeat(c.identity.UserID)
		pong, err := protocol.Encode(protocol.KindSyncPong, protocol.Pong{
			ClientSendMs: m.ClientSendMs,
			ServerTimeMs: c.mgr.clock.Now().UnixMilli(),
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to encode pong")
			return
		}
		c.Send(pong)
	case protocol.Command:
		c.room.HandleCommand(c.identity.UserID, m)
	case protocol.ChatSend:
		c.room.Chat(c.identity.UserID, m.Text)
	case protocol.PresenceTrack:
		c.room.Track(c.identity.UserID, m.IsTyping)
	}
}

// writePump serializes all writes to the socket and keeps the connection
// alive with pings.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.mgr.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.teardown()
	}()

	for {
		select {
		case <-c.quit:
			return
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.mgr.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug().Err(err).Str("connection_id", c.id).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.mgr.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
