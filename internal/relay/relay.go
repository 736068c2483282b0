// Package relay bridges room fan-out across instances over NATS. Each
// instance publishes the frames its rooms broadcast and forwards frames
// published by other instances to its own local members. Frames are
// ephemeral; a viewer that missed one converges on the next periodic push.
package relay

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/syncwatch/syncwatch/internal/room"
)

const (
	subjectPrefix = "room.events"
	originHeader  = "Origin-Instance"
	sessionHeader = "Session-ID"
)

// Config holds the NATS connection settings.
type Config struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns the stock relay settings.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Relay publishes local room frames and forwards remote ones.
type Relay struct {
	nc       *nats.Conn
	registry *room.Registry
	sub      *nats.Subscription

	// instanceID tags published frames so this instance skips its own.
	instanceID string
}

// New connects to NATS and subscribes to the room event subjects. Wire the
// returned relay's Publish into the registry event hook.
func New(cfg Config, registry *room.Registry) (*Relay, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	r := &Relay{
		nc:         nc,
		registry:   registry,
		instanceID: uuid.New().String(),
	}

	sub, err := nc.Subscribe(subjectPrefix+".>", r.handleMsg)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe to room events: %w", err)
	}
	r.sub = sub

	log.Info().
		Str("url", cfg.URL).
		Str("instance_id", r.instanceID).
		Msg("room event relay connected")
	return r, nil
}

// Publish ships a room frame to the other instances. It satisfies the
// registry event hook and must not block the broadcasting room, so publish
// failures are logged and dropped.
func (r *Relay) Publish(sessionID string, frame []byte) {
	msg := &nats.Msg{
		Subject: fmt.Sprintf("%s.%s", subjectPrefix, sessionID),
		Data:    frame,
		Header: nats.Header{
			originHeader:  []string{r.instanceID},
			sessionHeader: []string{sessionID},
		},
	}
	if err := r.nc.PublishMsg(msg); err != nil {
		log.Warn().
			Err(err).
			Str("session_id", sessionID).
			Msg("failed to publish room frame")
	}
}

func (r *Relay) handleMsg(msg *nats.Msg) {
	if msg.Header.Get(originHeader) == r.instanceID {
		return
	}

	sessionID := msg.Header.Get(sessionHeader)
	if sessionID == "" {
		sessionID = strings.TrimPrefix(msg.Subject, subjectPrefix+".")
	}

	target, err := r.registry.Resolve(sessionID)
	if err != nil {
		// No local members for this session on this instance.
		return
	}
	target.ForwardFrame(msg.Data)

	log.Debug().
		Str("session_id", sessionID).
		Int("bytes", len(msg.Data)).
		Msg("forwarded relayed room frame")
}

// Close drains the subscription and closes the connection. Draining gives
// in-flight frames a bounded chance to forward before teardown.
func (r *Relay) Close() {
	if r.sub != nil {
		if err := r.sub.Drain(); err != nil {
			log.Warn().Err(err).Msg("failed to drain relay subscription")
		}
	}
	if err := r.nc.Drain(); err != nil {
		r.nc.Close()
	}
}
