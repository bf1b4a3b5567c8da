package game

import (
	"math"
	"time"

	"github.com/google/uuid"
)

type BetStatus string

const (
	BetActive    BetStatus = "ACTIVE"
	BetCashedOut BetStatus = "CASHED_OUT"
	BetCrashed   BetStatus = "CRASHED"
)

// Bet is a single wager against a round. Identity and amount are immutable
// after creation; the status leaves ACTIVE exactly once, either to
// CASHED_OUT (with multiplier and payout set) or to CRASHED.
type Bet struct {
	ID          string    `json:"bet_id"`
	UserID      string    `json:"user_id"`
	RoundID     string    `json:"round_id"`
	Amount      float64   `json:"amount"`
	AutoCashout float64   `json:"auto_cashout,omitempty"`
	Status      BetStatus `json:"status"`

	CashoutMultiplier float64   `json:"cashout_multiplier,omitempty"`
	Payout            float64   `json:"payout"`
	PlacedAt          time.Time `json:"placed_at"`
	CashedOutAt       time.Time `json:"cashed_out_at,omitempty"`
}

func newBet(roundID, userID string, amount, autoCashout float64) *Bet {
	return &Bet{
		ID:          uuid.NewString(),
		UserID:      userID,
		RoundID:     roundID,
		Amount:      amount,
		AutoCashout: autoCashout,
		Status:      BetActive,
		PlacedAt:    time.Now(),
	}
}

// cashOut transitions the bet to CASHED_OUT at the given multiplier. The
// guard makes concurrent resolution attempts settle to a single winner.
func (b *Bet) cashOut(multiplier float64, now time.Time) error {
	if b.Status != BetActive {
		if b.Status == BetCashedOut {
			return ErrAlreadyCashedOut
		}
		return ErrBetNotActive
	}
	b.Status = BetCashedOut
	b.CashoutMultiplier = multiplier
	b.Payout = roundMoney(b.Amount * multiplier)
	b.CashedOutAt = now
	return nil
}

// crash transitions a still-active bet to CRASHED with zero payout.
func (b *Bet) crash() bool {
	if b.Status != BetActive {
		return false
	}
	b.Status = BetCrashed
	b.Payout = 0
	return true
}

func roundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
