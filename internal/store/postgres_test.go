package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"crashpoint/internal/database"
	"crashpoint/internal/game"
)

var dsn string

func TestMain(m *testing.M) {
	if os.Getenv("SKIP_INTEGRATION") != "" {
		os.Exit(0)
	}
	if os.Getenv("CI") == "" && !isDockerAvailable() {
		os.Exit(0)
	}

	teardown, err := startContainerAndMigrate()
	if err != nil {
		os.Exit(0)
	}

	code := m.Run()

	if teardown != nil {
		teardown(context.Background())
	}
	os.Exit(code)
}

func startContainerAndMigrate() (func(context.Context, ...testcontainers.TerminateOption) error, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dbContainer, err := postgres.Run(
		ctx,
		"postgres:latest",
		postgres.WithDatabase("crashpoint_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, err
	}

	dsn, err = dbContainer.ConnectionString(context.Background(), "sslmode=disable")
	if err != nil {
		return dbContainer.Terminate, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return dbContainer.Terminate, err
	}
	defer db.Close()
	if err := database.RunMigrations(db, "../../migrations"); err != nil {
		return dbContainer.Terminate, err
	}
	return dbContainer.Terminate, nil
}

func isDockerAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()

	_, err = provider.DaemonHost(ctx)
	return err == nil
}

func newStore(t *testing.T) *Postgres {
	t.Helper()
	p, err := NewPostgres(context.Background(), dsn)
	if err != nil {
		t.Fatalf("NewPostgres() error: %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

func sampleRound() *game.Round {
	return &game.Round{
		ID:              uuid.NewString(),
		ServerSeed:      "abcd1234",
		CommitmentHash:  "hash1234",
		ClientSeed:      "public",
		Nonce:           7,
		Status:          game.RoundWaiting,
		CrashMultiplier: 2.45,
		CreatedAt:       time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestSaveAndGetRound(t *testing.T) {
	p := newStore(t)
	ctx := context.Background()
	r := sampleRound()

	if err := p.SaveRound(ctx, r); err != nil {
		t.Fatalf("SaveRound() error: %v", err)
	}

	got, err := p.GetRound(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRound() error: %v", err)
	}
	if got.ID != r.ID || got.ServerSeed != r.ServerSeed || got.CommitmentHash != r.CommitmentHash {
		t.Errorf("round identity mismatch: %+v", got)
	}
	if got.Nonce != 7 || got.CrashMultiplier != 2.45 {
		t.Errorf("round payload mismatch: nonce %d crash %v", got.Nonce, got.CrashMultiplier)
	}
	if got.Status != game.RoundWaiting {
		t.Errorf("status = %v, want WAITING", got.Status)
	}
	if !got.StartedAt.IsZero() {
		t.Error("StartedAt should be zero before flight")
	}
}

func TestSaveRound_UpsertsTransitions(t *testing.T) {
	p := newStore(t)
	ctx := context.Background()
	r := sampleRound()

	if err := p.SaveRound(ctx, r); err != nil {
		t.Fatalf("SaveRound() error: %v", err)
	}

	r.Status = game.RoundCrashed
	r.StartedAt = time.Now().UTC().Truncate(time.Microsecond)
	r.EndedAt = r.StartedAt.Add(8 * time.Second)
	r.TotalBets = 3
	r.TotalPool = 450
	if err := p.SaveRound(ctx, r); err != nil {
		t.Fatalf("SaveRound() upsert error: %v", err)
	}

	got, err := p.GetRound(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRound() error: %v", err)
	}
	if got.Status != game.RoundCrashed {
		t.Errorf("status = %v, want CRASHED", got.Status)
	}
	if got.TotalBets != 3 || got.TotalPool != 450 {
		t.Errorf("counters = %d/%v, want 3/450", got.TotalBets, got.TotalPool)
	}
	if got.StartedAt.IsZero() || got.EndedAt.IsZero() {
		t.Error("transition timestamps not persisted")
	}
}

func TestGetRound_NotFound(t *testing.T) {
	p := newStore(t)

	_, err := p.GetRound(context.Background(), uuid.NewString())
	if !errors.Is(err, game.ErrRoundNotFound) {
		t.Errorf("GetRound() error = %v, want game.ErrRoundNotFound", err)
	}
}

func TestSaveBet(t *testing.T) {
	p := newStore(t)
	ctx := context.Background()

	r := sampleRound()
	if err := p.SaveRound(ctx, r); err != nil {
		t.Fatalf("SaveRound() error: %v", err)
	}

	b := &game.Bet{
		ID:       uuid.NewString(),
		UserID:   "alice",
		RoundID:  r.ID,
		Amount:   100,
		Status:   game.BetActive,
		PlacedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := p.SaveBet(ctx, b); err != nil {
		t.Fatalf("SaveBet() error: %v", err)
	}

	// Settle and upsert the terminal state.
	b.Status = game.BetCashedOut
	b.CashoutMultiplier = 2.0
	b.Payout = 200
	b.CashedOutAt = time.Now().UTC().Truncate(time.Microsecond)
	if err := p.SaveBet(ctx, b); err != nil {
		t.Fatalf("SaveBet() upsert error: %v", err)
	}

	var status string
	var payout float64
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("sql.Open() error: %v", err)
	}
	defer db.Close()
	if err := db.QueryRow(`SELECT status, payout FROM bets WHERE id = $1`, b.ID).Scan(&status, &payout); err != nil {
		t.Fatalf("read back bet: %v", err)
	}
	if status != string(game.BetCashedOut) || payout != 200 {
		t.Errorf("persisted bet = %s/%v, want CASHED_OUT/200", status, payout)
	}
}

func TestHealth(t *testing.T) {
	p := newStore(t)

	stats := p.Health()
	if stats["status"] != "up" {
		t.Fatalf("status = %s, want up", stats["status"])
	}
	if _, ok := stats["error"]; ok {
		t.Fatal("healthy store reported an error")
	}
}
