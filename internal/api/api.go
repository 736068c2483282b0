// Package api exposes the HTTP control plane: session creation and lookup,
// guest identity, and health. The room channel itself lives in the gateway;
// these endpoints only bootstrap it.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/syncwatch/syncwatch/internal/auth"
	"github.com/syncwatch/syncwatch/internal/protocol"
	"github.com/syncwatch/syncwatch/internal/room"
)

// guestTokenTTL is how long an issued guest credential stays valid.
const guestTokenTTL = 24 * time.Hour

// Handler serves the control plane endpoints.
type Handler struct {
	registry *room.Registry
	verifier auth.Verifier
	issuer   *auth.JWT
}

// NewHandler creates the control plane handler. issuer may be nil, which
// disables the guest endpoint.
func NewHandler(registry *room.Registry, verifier auth.Verifier, issuer *auth.JWT) *Handler {
	return &Handler{
		registry: registry,
		verifier: verifier,
		issuer:   issuer,
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/sessions", h.handleCreateSession)
	mux.HandleFunc("/api/sessions/join", h.handleJoinSession)
	mux.HandleFunc("/api/sessions/", h.handleGetSession)
	mux.HandleFunc("/api/auth/guest", h.handleGuest)
	mux.HandleFunc("/api/health", h.handleHealth)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// authenticate extracts and verifies the bearer token.
func (h *Handler) authenticate(r *http.Request) (auth.Identity, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return auth.Identity{}, false
	}
	id, err := h.verifier.Verify(token)
	if err != nil {
		return auth.Identity{}, false
	}
	return id, true
}

type createSessionRequest struct {
	MediaURL string `json:"mediaUrl"`
}

type sessionResponse struct {
	SessionID string                `json:"sessionId"`
	JoinCode  string                `json:"joinCode"`
	Snapshot  protocol.RoomSnapshot `json:"snapshot"`
}

// handleCreateSession handles POST /api/sessions.
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	identity, ok := h.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid or missing token")
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	mediaRef, err := ExtractVideoID(req.MediaURL)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unrecognized media url")
		return
	}

	created, err := h.registry.CreateSession(identity.UserID, mediaRef)
	if err != nil {
		log.Error().Err(err).Msg("failed to create session")
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	session := created.Session()
	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID: session.ID.String(),
		JoinCode:  session.JoinCode,
		Snapshot:  created.Snapshot(),
	})
}

type joinSessionRequest struct {
	Code string `json:"code"`
}

// handleJoinSession handles POST /api/sessions/join. It resolves a join code
// to a session; actually entering the room happens over the channel.
func (h *Handler) handleJoinSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := h.authenticate(r); !ok {
		writeError(w, http.StatusUnauthorized, "invalid or missing token")
		return
	}

	var req joinSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resolved, err := h.registry.Resolve(req.Code)
	if err != nil {
		if errors.Is(err, room.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		log.Error().Err(err).Msg("failed to resolve session")
		writeError(w, http.StatusInternalServerError, "failed to resolve session")
		return
	}

	session := resolved.Session()
	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID: session.ID.String(),
		JoinCode:  session.JoinCode,
		Snapshot:  resolved.Snapshot(),
	})
}

// handleGetSession handles GET /api/sessions/{id}. The snapshot carries the
// extrapolated playback position at response time.
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := h.authenticate(r); !ok {
		writeError(w, http.StatusUnauthorized, "invalid or missing token")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "session id is required")
		return
	}

	resolved, err := h.registry.Resolve(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, resolved.Snapshot())
}

type guestRequest struct {
	DisplayName string `json:"displayName"`
}

type guestResponse struct {
	Token       string `json:"token"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// handleGuest handles POST /api/auth/guest, minting a throwaway identity for
// viewers without an account.
func (h *Handler) handleGuest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.issuer == nil {
		writeError(w, http.StatusNotFound, "guest access is disabled")
		return
	}

	var req guestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		name = "Guest"
	}

	identity := auth.Identity{
		UserID:      "guest-" + uuid.New().String(),
		DisplayName: name,
	}
	token, err := h.issuer.Issue(identity, guestTokenTTL)
	if err != nil {
		log.Error().Err(err).Msg("failed to issue guest token")
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, guestResponse{
		Token:       token,
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
	})
}

// handleHealth handles GET /api/health.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": h.registry.Len(),
	})
}
