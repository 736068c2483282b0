// syncwatch-agent is a headless room member: it joins a session, keeps a
// simulated player converged on the room timeline and logs what it observes.
// Useful for soak testing rooms and for smoke checking a deployment.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/syncwatch/syncwatch/internal/protocol"
	"github.com/syncwatch/syncwatch/internal/sync"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var (
		serverURL = flag.String("server", "http://localhost:8080", "control plane base URL")
		wsURL     = flag.String("ws", "ws://localhost:8080/ws", "room channel endpoint")
		code      = flag.String("code", "", "join code or session id")
		name      = flag.String("name", "agent", "display name")
		duration  = flag.Float64("duration", 0, "simulated media duration in seconds, 0 for unbounded")
	)
	flag.Parse()

	if *code == "" {
		log.Fatal().Msg("-code is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	token, userID, err := guestToken(ctx, *serverURL, *name)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to get guest token")
	}

	sessionID, err := resolveSession(ctx, *serverURL, token, *code)
	if err != nil {
		log.Fatal().Err(err).Str("code", *code).Msg("failed to resolve session")
	}
	log.Info().
		Str("session_id", sessionID).
		Str("user_id", userID).
		Msg("joining room")

	clock := clockwork.NewRealClock()
	player := sync.NewSimulatedPlayer(clock, *duration)
	rec := sync.NewReconciler(player, clock, sync.DefaultConfig())

	cfg := sync.DefaultClientConfig()
	cfg.OnChat = func(msg protocol.ChatMessage) {
		log.Info().
			Str("from", msg.Username).
			Float64("video_time_sec", msg.VideoTimeSec).
			Msg(msg.Text)
	}

	client, err := sync.DialRoom(ctx, *wsURL, sessionID, token, rec, clock, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to join room channel")
	}
	defer client.Close()

	go reportLoop(ctx, clock, player, rec)

	if err := client.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("room channel lost")
	}
	log.Info().Msg("agent stopped")
}

// reportLoop logs the local player position and drift once per interval.
func reportLoop(ctx context.Context, clock clockwork.Clock, player *sync.SimulatedPlayer, rec *sync.Reconciler) {
	ticker := clock.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			target, ok := rec.Target()
			event := log.Info().
				Float64("position_sec", player.CurrentTime()).
				Float64("rate", player.Rate())
			if ok {
				event = event.Float64("drift_sec", player.CurrentTime()-target)
			}
			event.Msg("player status")
		}
	}
}

func guestToken(ctx context.Context, serverURL, name string) (token, userID string, err error) {
	var resp struct {
		Token  string `json:"token"`
		UserID string `json:"userId"`
	}
	if err := postJSON(ctx, serverURL+"/api/auth/guest", "", map[string]string{"displayName": name}, &resp); err != nil {
		return "", "", err
	}
	return resp.Token, resp.UserID, nil
}

func resolveSession(ctx context.Context, serverURL, token, code string) (string, error) {
	var resp struct {
		SessionID string `json:"sessionId"`
	}
	if err := postJSON(ctx, serverURL+"/api/sessions/join", token, map[string]string{"code": code}, &resp); err != nil {
		return "", err
	}
	return resp.SessionID, nil
}

func postJSON(ctx context.Context, url, token string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
