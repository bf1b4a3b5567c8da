// Package store persists rounds and bets to Postgres at every state
// transition, so auditors can reconstruct history and re-run verification
// long after the in-memory engine has moved on.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"crashpoint/internal/game"
)

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// SaveRound upserts the round's full record, including the seed. The seed
// column is server-side only; exposure policy is the API layer's concern.
func (p *Postgres) SaveRound(ctx context.Context, r *game.Round) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO rounds (
			id, server_seed, commitment_hash, client_seed, nonce,
			crash_multiplier, status, created_at, started_at, ended_at,
			total_bets, total_pool
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at,
			total_bets = EXCLUDED.total_bets,
			total_pool = EXCLUDED.total_pool`,
		r.ID, r.ServerSeed, r.CommitmentHash, r.ClientSeed, r.Nonce,
		r.CrashMultiplier, string(r.Status), r.CreatedAt,
		nullTime(r.StartedAt), nullTime(r.EndedAt),
		r.TotalBets, r.TotalPool,
	)
	if err != nil {
		return fmt.Errorf("store: save round %s: %w", r.ID, err)
	}
	return nil
}

func (p *Postgres) SaveBet(ctx context.Context, b *game.Bet) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO bets (
			id, user_id, round_id, amount, auto_cashout, status,
			cashout_multiplier, payout, placed_at, cashed_out_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			cashout_multiplier = EXCLUDED.cashout_multiplier,
			payout = EXCLUDED.payout,
			cashed_out_at = EXCLUDED.cashed_out_at`,
		b.ID, b.UserID, b.RoundID, b.Amount, b.AutoCashout, string(b.Status),
		b.CashoutMultiplier, b.Payout, b.PlacedAt, nullTime(b.CashedOutAt),
	)
	if err != nil {
		return fmt.Errorf("store: save bet %s: %w", b.ID, err)
	}
	return nil
}

// GetRound loads a round record for verification replay.
func (p *Postgres) GetRound(ctx context.Context, roundID string) (*game.Round, error) {
	var (
		r                  game.Round
		status             string
		startedAt, endedAt *time.Time
	)
	err := p.pool.QueryRow(ctx, `
		SELECT id, server_seed, commitment_hash, client_seed, nonce,
		       crash_multiplier, status, created_at, started_at, ended_at,
		       total_bets, total_pool
		FROM rounds WHERE id = $1`, roundID,
	).Scan(
		&r.ID, &r.ServerSeed, &r.CommitmentHash, &r.ClientSeed, &r.Nonce,
		&r.CrashMultiplier, &status, &r.CreatedAt, &startedAt, &endedAt,
		&r.TotalBets, &r.TotalPool,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, game.ErrRoundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get round %s: %w", roundID, err)
	}
	r.Status = game.RoundStatus(status)
	if startedAt != nil {
		r.StartedAt = *startedAt
	}
	if endedAt != nil {
		r.EndedAt = *endedAt
	}
	return &r, nil
}

// Health reports pool statistics for the health endpoint.
func (p *Postgres) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	stats := make(map[string]string)
	if err := p.pool.Ping(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("postgres down: %v", err)
		return stats
	}
	stats["status"] = "up"
	s := p.pool.Stat()
	stats["total_conns"] = fmt.Sprintf("%d", s.TotalConns())
	stats["idle_conns"] = fmt.Sprintf("%d", s.IdleConns())
	stats["acquired_conns"] = fmt.Sprintf("%d", s.AcquiredConns())
	return stats
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
