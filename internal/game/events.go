package game

import "context"

// Event topics pushed to the broadcast sink. Delivery is best-effort; the
// engine never waits on it.
const (
	TopicRoundCreated     = "round.created"
	TopicRoundFlying      = "round.flying"
	TopicMultiplierUpdate = "multiplier.update"
	TopicRoundCrashed     = "round.crashed"
	TopicBetPlaced        = "bet.placed"
	TopicBetCashedOut     = "bet.cashed_out"
)

type RoundCreatedEvent struct {
	RoundID        string  `json:"round_id"`
	CommitmentHash string  `json:"commitment_hash"`
	BettingWindowS float64 `json:"betting_window_s"`
}

type RoundFlyingEvent struct {
	RoundID string `json:"round_id"`
}

type MultiplierUpdateEvent struct {
	RoundID    string  `json:"round_id"`
	Multiplier float64 `json:"multiplier"`
}

type RoundCrashedEvent struct {
	RoundID    string  `json:"round_id"`
	CrashPoint float64 `json:"crash_point"`
	ServerSeed string  `json:"server_seed"`
}

type BetPlacedEvent struct {
	RoundID string  `json:"round_id"`
	BetID   string  `json:"bet_id"`
	UserID  string  `json:"user_id"`
	Amount  float64 `json:"amount"`
}

type BetCashedOutEvent struct {
	RoundID    string  `json:"round_id"`
	BetID      string  `json:"bet_id"`
	UserID     string  `json:"user_id"`
	Multiplier float64 `json:"multiplier"`
	Payout     float64 `json:"payout"`
}

// Broadcaster is the narrow contract the engine pushes events through.
// Implementations must not block; correctness never depends on delivery.
type Broadcaster interface {
	Publish(topic string, payload any)
	// PublishTo targets a single user (cash-out confirmations).
	PublishTo(userID, topic string, payload any)
}

// Ledger is the external authority for user balances. Debit fails with
// ErrInsufficientFund when the balance does not cover the amount.
type Ledger interface {
	Debit(ctx context.Context, userID string, amount float64) (balance float64, err error)
	Credit(ctx context.Context, userID string, amount float64) (balance float64, err error)
}

// Store persists rounds and bets at each state transition so an auditor can
// reconstruct history and re-run verification.
type Store interface {
	SaveRound(ctx context.Context, r *Round) error
	SaveBet(ctx context.Context, b *Bet) error
	GetRound(ctx context.Context, roundID string) (*Round, error)
}

// NopBroadcaster discards all events.
type NopBroadcaster struct{}

func (NopBroadcaster) Publish(string, any)           {}
func (NopBroadcaster) PublishTo(string, string, any) {}
