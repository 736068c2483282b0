package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/syncwatch/syncwatch/internal/models"
)

type recordingStore struct {
	mu        sync.Mutex
	sessions  int
	playbacks int
	failures  int
	closed    bool
}

func (s *recordingStore) SaveSession(_ context.Context, _ models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("boom")
	}
	s.sessions++
	return nil
}

func (s *recordingStore) SavePlayback(_ context.Context, _ models.Session, _ models.PlaybackState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("boom")
	}
	s.playbacks++
	return nil
}

func (s *recordingStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *recordingStore) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions, s.playbacks
}

func testSession() models.Session {
	return models.Session{ID: uuid.New(), JoinCode: "AB23CD", HostUserID: "h", MediaRef: "v1", CreatedAt: time.Now()}
}

func TestWriterDrainsQueue(t *testing.T) {
	rec := &recordingStore{}
	w := NewWriter(rec, 16)

	session := testSession()
	w.EnqueueSession(session)
	w.EnqueuePlayback(session, models.PlaybackState{Rate: 1})
	w.EnqueuePlayback(session, models.PlaybackState{Rate: 1, IsPlaying: true})
	w.Close()

	sessions, playbacks := rec.counts()
	if sessions != 1 || playbacks != 2 {
		t.Fatalf("got %d session and %d playback writes, want 1 and 2", sessions, playbacks)
	}
	if !rec.closed {
		t.Fatal("store not closed")
	}
}

func TestWriterSurvivesStoreFailure(t *testing.T) {
	rec := &recordingStore{failures: 1}
	w := NewWriter(rec, 16)

	// The first write fails; it must not wedge the worker.
	session := testSession()
	w.EnqueuePlayback(session, models.PlaybackState{Rate: 1})
	w.EnqueuePlayback(session, models.PlaybackState{Rate: 1})
	w.Close()

	_, playbacks := rec.counts()
	if playbacks != 1 {
		t.Fatalf("got %d playback writes after failure, want 1", playbacks)
	}
}
