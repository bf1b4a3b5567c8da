package game

import (
	"time"

	"github.com/google/uuid"

	"crashpoint/internal/fair"
)

type RoundStatus string

const (
	RoundWaiting RoundStatus = "WAITING"
	RoundFlying  RoundStatus = "FLYING"
	RoundCrashed RoundStatus = "CRASHED"
)

// Round is one instance of the crash game. The crash multiplier is fixed at
// creation from the committed server seed and is only revealed (and only
// read by engine logic) when the round resolves.
type Round struct {
	ID             string      `json:"round_id"`
	ServerSeed     string      `json:"-"`
	CommitmentHash string      `json:"commitment_hash"`
	ClientSeed     string      `json:"client_seed"`
	Nonce          int         `json:"nonce"`
	Status         RoundStatus `json:"status"`

	CrashMultiplier   float64 `json:"-"`
	CurrentMultiplier float64 `json:"current_multiplier"`

	CreatedAt time.Time `json:"created_at"`
	StartedAt time.Time `json:"started_at,omitempty"`
	EndedAt   time.Time `json:"ended_at,omitempty"`

	TotalBets int     `json:"total_bets"`
	TotalPool float64 `json:"total_pool"`

	// flightDuration is the crash deadline in seconds from StartedAt,
	// derived once in beginFlight from the committed crash multiplier.
	flightDuration float64

	bets  map[string]*Bet
	order []string // bet ids in placement order, for deterministic scans
}

// newRound generates a seed, commits to it and fixes the crash multiplier,
// all before the round becomes observable to any bettor.
func newRound(cfg Config, nonce int) (*Round, error) {
	seed, err := fair.GenerateSeed()
	if err != nil {
		return nil, err
	}
	return &Round{
		ID:                uuid.NewString(),
		ServerSeed:        seed,
		CommitmentHash:    fair.CommitmentHash(seed),
		ClientSeed:        cfg.ClientSeed,
		Nonce:             nonce,
		Status:            RoundWaiting,
		CrashMultiplier:   fair.CrashMultiplier(seed, cfg.ClientSeed, nonce, cfg.HouseEdge),
		CurrentMultiplier: fair.MinMultiplier,
		CreatedAt:         time.Now(),
		bets:              make(map[string]*Bet),
	}, nil
}

// beginFlight moves the round from WAITING to FLYING and fixes the crash
// deadline. Transitions are monotonic: any other starting status is refused.
func (r *Round) beginFlight(now time.Time, growthRate float64) error {
	if r.Status != RoundWaiting {
		return ErrGameNotRunning
	}
	r.Status = RoundFlying
	r.StartedAt = now
	r.flightDuration = fair.ElapsedForMultiplier(r.CrashMultiplier, growthRate)
	return nil
}

// markCrashed is the terminal transition. It is guarded so a duplicate
// trigger (scheduled deadline plus an operator force-crash) cannot resolve
// the same round twice.
func (r *Round) markCrashed(now time.Time) error {
	if r.Status == RoundCrashed {
		return ErrDoubleResolve
	}
	r.Status = RoundCrashed
	r.CurrentMultiplier = r.CrashMultiplier
	r.EndedAt = now
	return nil
}

func (r *Round) addBet(b *Bet) {
	r.bets[b.ID] = b
	r.order = append(r.order, b.ID)
	r.TotalBets++
	r.TotalPool += b.Amount
}

// activeBets returns the still-active bets in placement order.
func (r *Round) activeBets() []*Bet {
	out := make([]*Bet, 0, len(r.order))
	for _, id := range r.order {
		if b := r.bets[id]; b != nil && b.Status == BetActive {
			out = append(out, b)
		}
	}
	return out
}

// Snapshot is the immutable view of a round handed to readers. The crash
// point and seed are included only once the round has resolved.
type Snapshot struct {
	RoundID        string      `json:"round_id"`
	Status         RoundStatus `json:"status"`
	CommitmentHash string      `json:"commitment_hash"`
	ClientSeed     string      `json:"client_seed"`
	Nonce          int         `json:"nonce"`
	Multiplier     float64     `json:"multiplier"`
	TotalBets      int         `json:"total_bets"`
	TotalPool      float64     `json:"total_pool"`
	ServerSeed     string      `json:"server_seed,omitempty"`
	CrashPoint     float64     `json:"crash_point,omitempty"`
}

func (r *Round) snapshot() Snapshot {
	s := Snapshot{
		RoundID:        r.ID,
		Status:         r.Status,
		CommitmentHash: r.CommitmentHash,
		ClientSeed:     r.ClientSeed,
		Nonce:          r.Nonce,
		Multiplier:     fair.MinMultiplier,
		TotalBets:      r.TotalBets,
		TotalPool:      r.TotalPool,
	}
	switch r.Status {
	case RoundFlying:
		s.Multiplier = r.CurrentMultiplier
	case RoundCrashed:
		s.Multiplier = r.CrashMultiplier
		s.ServerSeed = r.ServerSeed
		s.CrashPoint = r.CrashMultiplier
	}
	return s
}
