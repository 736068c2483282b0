package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/syncwatch/syncwatch/internal/models"
)

// writeTimeout bounds a single background write.
const writeTimeout = 5 * time.Second

type writeJob struct {
	session models.Session
	state   models.PlaybackState
	// sessionOnly marks a freshly created session with no state change.
	sessionOnly bool
}

// Writer decouples rooms from storage latency: Enqueue never blocks, a
// background worker drains the queue, and overflow drops the oldest intent
// for a session since the next write carries the newest record anyway.
type Writer struct {
	store Store
	jobs  chan writeJob
	wg    sync.WaitGroup
}

// NewWriter starts a background writer over the store.
func NewWriter(store Store, queueSize int) *Writer {
	w := &Writer{
		store: store,
		jobs:  make(chan writeJob, queueSize),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// EnqueueSession queues a session record write.
func (w *Writer) EnqueueSession(session models.Session) {
	w.enqueue(writeJob{session: session, sessionOnly: true})
}

// EnqueuePlayback queues a playback record write.
func (w *Writer) EnqueuePlayback(session models.Session, state models.PlaybackState) {
	w.enqueue(writeJob{session: session, state: state})
}

func (w *Writer) enqueue(job writeJob) {
	select {
	case w.jobs <- job:
	default:
		log.Warn().
			Str("session_id", job.session.ID.String()).
			Msg("store write queue full, dropping write")
	}
}

func (w *Writer) run() {
	defer w.wg.Done()
	for job := range w.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		var err error
		if job.sessionOnly {
			err = w.store.SaveSession(ctx, job.session)
		} else {
			err = w.store.SavePlayback(ctx, job.session, job.state)
		}
		cancel()
		if err != nil {
			log.Error().
				Err(err).
				Str("session_id", job.session.ID.String()).
				Msg("store write failed")
		}
	}
}

// Close drains outstanding writes and releases the store.
func (w *Writer) Close() {
	close(w.jobs)
	w.wg.Wait()
	w.store.Close()
}
