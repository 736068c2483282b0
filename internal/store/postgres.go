package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/syncwatch/syncwatch/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id UUID PRIMARY KEY,
	join_code TEXT NOT NULL UNIQUE,
	host_user_id TEXT NOT NULL,
	media_ref TEXT NOT NULL,
	allow_participant_control BOOLEAN NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS session_playback (
	session_id UUID PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
	is_playing BOOLEAN NOT NULL,
	position_sec DOUBLE PRECISION NOT NULL,
	rate DOUBLE PRECISION NOT NULL,
	anchor_time TIMESTAMPTZ NOT NULL
);
`

// Postgres persists sessions and playback records through a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn, verifies the connection and bootstraps the
// schema.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 4
	}
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = 5 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// SaveSession upserts the session record.
func (p *Postgres) SaveSession(ctx context.Context, session models.Session) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO sessions (id, join_code, host_user_id, media_ref, allow_participant_control, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			allow_participant_control = EXCLUDED.allow_participant_control`,
		session.ID, session.JoinCode, session.HostUserID, session.MediaRef,
		session.Permissions.AllowParticipantControl, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// SavePlayback upserts both the session (permissions may have changed) and
// its playback record.
func (p *Postgres) SavePlayback(ctx context.Context, session models.Session, state models.PlaybackState) error {
	if err := p.SaveSession(ctx, session); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO session_playback (session_id, is_playing, position_sec, rate, anchor_time)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE SET
			is_playing = EXCLUDED.is_playing,
			position_sec = EXCLUDED.position_sec,
			rate = EXCLUDED.rate,
			anchor_time = EXCLUDED.anchor_time`,
		session.ID, state.IsPlaying, state.PositionSec, state.Rate, state.AnchorTime,
	)
	if err != nil {
		return fmt.Errorf("save playback: %w", err)
	}
	return nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
