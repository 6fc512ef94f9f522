package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"classquiz-service/internal/domain"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Persistence is the Postgres implementation of app.Persistence.
type Persistence struct {
	pool *pgxpool.Pool
}

func NewPersistence(pool *pgxpool.Pool) *Persistence {
	return &Persistence{pool: pool}
}

func (p *Persistence) FindSession(ctx context.Context, code string) (domain.SessionRecord, error) {
	var record domain.SessionRecord
	err := p.pool.QueryRow(ctx,
		`SELECT code, status FROM quiz_sessions WHERE code=$1`, code,
	).Scan(&record.Code, &record.Status)
	if err != nil {
		return domain.SessionRecord{}, fmt.Errorf("find session: %w", err)
	}
	return record, nil
}

func (p *Persistence) UpdateSessionStatus(ctx context.Context, code, status string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO quiz_sessions (code, status, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (code) DO UPDATE SET status=EXCLUDED.status, updated_at=now()`,
		code, status)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	return nil
}

func (p *Persistence) UpsertScore(ctx context.Context, code, participantID string, score int) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO session_scores (code, participant_id, score, updated_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (code, participant_id) DO UPDATE SET score=EXCLUDED.score, updated_at=now()`,
		code, participantID, score)
	if err != nil {
		return fmt.Errorf("upsert score: %w", err)
	}
	return nil
}

func (p *Persistence) SaveLeaderboard(ctx context.Context, code string, entries []domain.LeaderboardEntry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal leaderboard: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`UPDATE quiz_sessions SET leaderboard=$2::jsonb, updated_at=now() WHERE code=$1`,
		code, raw)
	if err != nil {
		return fmt.Errorf("save leaderboard: %w", err)
	}
	return nil
}
