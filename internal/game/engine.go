package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"crashpoint/internal/fair"
)

const (
	cmdQueueSize  = 1024
	ledgerTimeout = 2 * time.Second
	storeTimeout  = 2 * time.Second
	historySize   = 64
)

// Engine owns the authoritative state of the crash game. One goroutine runs
// the round phase loop; every mutation (bets, cash-outs, force-crash, the
// tick itself) is processed by that goroutine in arrival order, so the
// "cash out vs. crash" race is decided by message order, never by a lock.
type Engine struct {
	cfg         Config
	ledger      Ledger
	store       Store
	broadcaster Broadcaster

	cmds     chan command
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// mu guards the fields readers snapshot; the loop goroutine is the
	// only writer.
	mu      sync.RWMutex
	current *Round
	history []*Round
	histIdx map[string]*Round

	nonce          int
	bettingAllowed bool
}

type command interface{ isCommand() }

type betResult struct {
	bet Bet
	err error
}

type placeBetCmd struct {
	userID      string
	amount      float64
	autoCashout float64
	reply       chan betResult
}

type cashOutCmd struct {
	betID  string
	userID string
	reply  chan betResult
}

type forceCrashCmd struct{ reply chan error }

type setBettingCmd struct {
	allowed bool
	reply   chan struct{}
}

func (placeBetCmd) isCommand()   {}
func (cashOutCmd) isCommand()    {}
func (forceCrashCmd) isCommand() {}
func (setBettingCmd) isCommand() {}

func NewEngine(cfg Config, ledger Ledger, store Store, broadcaster Broadcaster) *Engine {
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}
	return &Engine{
		cfg:            cfg.withDefaults(),
		ledger:         ledger,
		store:          store,
		broadcaster:    broadcaster,
		cmds:           make(chan command, cmdQueueSize),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
		histIdx:        make(map[string]*Round, historySize),
		bettingAllowed: true,
	}
}

// Start launches the round loop. Call exactly once.
func (e *Engine) Start() {
	go e.run()
}

// Stop ends the loop after the current phase select. Pending and future
// callers are released with ErrEngineStopped.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// PlaceBet debits the wager from the ledger and registers an active bet on
// the current round. It fails closed: no debit, no bet.
func (e *Engine) PlaceBet(ctx context.Context, userID string, amount, autoCashout float64) (Bet, error) {
	reply := make(chan betResult, 1)
	if err := e.send(ctx, placeBetCmd{userID: userID, amount: amount, autoCashout: autoCashout, reply: reply}); err != nil {
		return Bet{}, err
	}
	return e.awaitBet(ctx, reply)
}

// CashOut resolves the caller's active bet at the multiplier current at the
// instant the command is processed. A command that arrives after the crash
// has committed observes CRASHED and fails with ErrGameNotRunning.
func (e *Engine) CashOut(ctx context.Context, betID, userID string) (Bet, error) {
	reply := make(chan betResult, 1)
	if err := e.send(ctx, cashOutCmd{betID: betID, userID: userID, reply: reply}); err != nil {
		return Bet{}, err
	}
	return e.awaitBet(ctx, reply)
}

// ForceCrash is the operator override: it resolves the flying round
// immediately at its committed crash multiplier.
func (e *Engine) ForceCrash(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := e.send(ctx, forceCrashCmd{reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrEngineStopped
	}
}

// SetBettingAllowed toggles acceptance of new bets without touching the
// round in flight.
func (e *Engine) SetBettingAllowed(ctx context.Context, allowed bool) error {
	reply := make(chan struct{}, 1)
	if err := e.send(ctx, setBettingCmd{allowed: allowed, reply: reply}); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrEngineStopped
	}
}

// State returns a read-only snapshot of the current round.
func (e *Engine) State() (Snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == nil {
		return Snapshot{}, ErrNoActiveRound
	}
	return e.current.snapshot(), nil
}

// History returns snapshots of recently resolved rounds, newest first.
func (e *Engine) History(limit int) []Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if limit <= 0 || limit > len(e.history) {
		limit = len(e.history)
	}
	out := make([]Snapshot, 0, limit)
	for i := len(e.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, e.history[i].snapshot())
	}
	return out
}

// Verification is the audit record returned by VerifyRound.
type Verification struct {
	RoundID         string  `json:"round_id"`
	ServerSeed      string  `json:"server_seed"`
	CommitmentHash  string  `json:"commitment_hash"`
	ClientSeed      string  `json:"client_seed"`
	Nonce           int     `json:"nonce"`
	RecordedCrash   float64 `json:"recorded_crash"`
	RecomputedCrash float64 `json:"recomputed_crash"`
	Valid           bool    `json:"valid"`
}

// VerifyRound recomputes the crash multiplier of a resolved round from its
// revealed seed and compares it to the recorded value. clientSeed defaults
// to the seed the round was created with.
func (e *Engine) VerifyRound(ctx context.Context, roundID, clientSeed string) (Verification, error) {
	e.mu.RLock()
	r := e.histIdx[roundID]
	if r == nil && e.current != nil && e.current.ID == roundID {
		r = e.current
	}
	e.mu.RUnlock()

	if r == nil && e.store != nil {
		stored, err := e.store.GetRound(ctx, roundID)
		if err != nil {
			return Verification{}, err
		}
		r = stored
	}
	if r == nil {
		return Verification{}, ErrRoundNotFound
	}
	if r.Status != RoundCrashed {
		return Verification{}, ErrRoundNotResolved
	}
	if clientSeed == "" {
		clientSeed = r.ClientSeed
	}

	return Verification{
		RoundID:         r.ID,
		ServerSeed:      r.ServerSeed,
		CommitmentHash:  r.CommitmentHash,
		ClientSeed:      clientSeed,
		Nonce:           r.Nonce,
		RecordedCrash:   r.CrashMultiplier,
		RecomputedCrash: fair.CrashMultiplier(r.ServerSeed, clientSeed, r.Nonce, e.cfg.HouseEdge),
		Valid:           fair.Verify(r.ServerSeed, clientSeed, r.Nonce, e.cfg.HouseEdge, r.CrashMultiplier),
	}, nil
}

func (e *Engine) send(ctx context.Context, c command) error {
	select {
	case e.cmds <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrEngineStopped
	}
}

func (e *Engine) awaitBet(ctx context.Context, reply chan betResult) (Bet, error) {
	select {
	case res := <-reply:
		return res.bet, res.err
	case <-ctx.Done():
		return Bet{}, ctx.Err()
	case <-e.done:
		return Bet{}, ErrEngineStopped
	}
}

var errStopped = errors.New("engine stopping")

// run is the owner goroutine: rounds repeat until Stop or a fatal fault.
func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.stop:
			log.Println("[ENGINE] stopped")
			return
		default:
		}
		if err := e.playRound(); err != nil {
			if errors.Is(err, errStopped) {
				log.Println("[ENGINE] stopped")
				return
			}
			// Fatal invariant (CSPRNG failure, broken transition):
			// halt round creation instead of degrading fairness.
			log.Printf("[ENGINE] fatal: %v; halting round creation", err)
			return
		}
	}
}

func (e *Engine) playRound() error {
	round, err := newRound(e.cfg, e.nonce)
	if err != nil {
		return err
	}
	e.nonce++

	e.mu.Lock()
	e.current = round
	e.mu.Unlock()

	e.persistRound(round)
	e.broadcaster.Publish(TopicRoundCreated, RoundCreatedEvent{
		RoundID:        round.ID,
		CommitmentHash: round.CommitmentHash,
		BettingWindowS: e.cfg.BettingWindow.Seconds(),
	})
	log.Printf("[ROUND] %s created, commitment %s...", round.ID, round.CommitmentHash[:16])

	// WAITING: accept bets until the window elapses.
	betting := time.NewTimer(e.cfg.BettingWindow)
	defer betting.Stop()
	for open := true; open; {
		select {
		case <-betting.C:
			open = false
		case c := <-e.cmds:
			e.handle(c)
		case <-e.stop:
			return errStopped
		}
	}

	e.mu.Lock()
	err = round.beginFlight(time.Now(), e.cfg.GrowthRate)
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("begin flight: %w", err)
	}
	e.persistRound(round)
	e.broadcaster.Publish(TopicRoundFlying, RoundFlyingEvent{RoundID: round.ID})
	log.Printf("[ROUND] %s flying, %d bets, pool %.2f", round.ID, round.TotalBets, round.TotalPool)

	// FLYING: advance the multiplier each tick until the fixed deadline.
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	for round.Status == RoundFlying {
		select {
		case <-ticker.C:
			e.advanceTick(time.Now())
		case c := <-e.cmds:
			e.handle(c)
		case <-e.stop:
			return errStopped
		}
	}

	// CRASHED: keep serving commands (they all resolve to state-conflict
	// errors) through the cooldown, then start the next round.
	cooldown := time.NewTimer(e.cfg.Cooldown)
	defer cooldown.Stop()
	for {
		select {
		case <-cooldown.C:
			return nil
		case c := <-e.cmds:
			e.handle(c)
		case <-e.stop:
			return errStopped
		}
	}
}

func (e *Engine) handle(c command) {
	switch cmd := c.(type) {
	case placeBetCmd:
		bet, err := e.placeBet(cmd)
		cmd.reply <- betResult{bet: bet, err: err}
	case cashOutCmd:
		bet, err := e.cashOut(cmd)
		cmd.reply <- betResult{bet: bet, err: err}
	case forceCrashCmd:
		cmd.reply <- e.forceCrash()
	case setBettingCmd:
		e.bettingAllowed = cmd.allowed
		log.Printf("[ENGINE] betting allowed: %v", cmd.allowed)
		cmd.reply <- struct{}{}
	}
}

func (e *Engine) placeBet(cmd placeBetCmd) (Bet, error) {
	if cmd.userID == "" {
		return Bet{}, ErrMissingUser
	}
	if cmd.amount < e.cfg.MinBet || cmd.amount > e.cfg.MaxBet {
		return Bet{}, ErrInvalidAmount
	}
	if cmd.autoCashout != 0 && cmd.autoCashout <= 1.0 {
		return Bet{}, ErrInvalidCashout
	}
	if !e.bettingAllowed {
		return Bet{}, ErrBettingDisabled
	}

	r := e.current
	if r == nil {
		return Bet{}, ErrNoActiveRound
	}
	switch r.Status {
	case RoundWaiting:
		// betting window
	case RoundFlying:
		// Late bets are allowed below the cutoff; beyond it a wager
		// would be trivially safe.
		if r.CurrentMultiplier >= e.cfg.CutoffMultiplier {
			return Bet{}, ErrBettingClosed
		}
	default:
		return Bet{}, ErrBettingClosed
	}

	// Debit first: a bet that cannot be paid for is never created.
	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()
	if _, err := e.ledger.Debit(ctx, cmd.userID, cmd.amount); err != nil {
		if errors.Is(err, ErrInsufficientFund) {
			return Bet{}, ErrInsufficientFund
		}
		return Bet{}, fmt.Errorf("%w: debit: %v", ErrLedgerFailure, err)
	}

	bet := newBet(r.ID, cmd.userID, cmd.amount, cmd.autoCashout)
	e.mu.Lock()
	r.addBet(bet)
	e.mu.Unlock()

	e.persistBet(bet)
	e.persistRound(r)
	e.broadcaster.Publish(TopicBetPlaced, BetPlacedEvent{
		RoundID: r.ID,
		BetID:   bet.ID,
		UserID:  bet.UserID,
		Amount:  bet.Amount,
	})
	log.Printf("[BET] %s: user %s wagered %.2f on round %s", bet.ID, bet.UserID, bet.Amount, r.ID)
	return *bet, nil
}

func (e *Engine) cashOut(cmd cashOutCmd) (Bet, error) {
	r := e.current
	if r == nil || r.Status != RoundFlying {
		return Bet{}, ErrGameNotRunning
	}
	bet := r.bets[cmd.betID]
	if bet == nil {
		return Bet{}, ErrBetNotFound
	}
	if bet.UserID != cmd.userID {
		return Bet{}, ErrNotYourBet
	}
	return e.settleCashOut(r, bet, r.CurrentMultiplier)
}

// settleCashOut is the single resolution path out of ACTIVE with a payout.
// Manual cash-outs pass the live multiplier; auto cash-outs pass the
// bettor's pre-committed target. The in-memory transition commits first;
// ledger, store and broadcast run afterwards on the captured result.
func (e *Engine) settleCashOut(r *Round, bet *Bet, multiplier float64) (Bet, error) {
	now := time.Now()
	e.mu.Lock()
	err := bet.cashOut(multiplier, now)
	e.mu.Unlock()
	if err != nil {
		return *bet, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()
	if _, err := e.ledger.Credit(ctx, bet.UserID, bet.Payout); err != nil {
		// Retrying a credit risks double payment; this is a
		// reconciliation case, not a rollback.
		log.Printf("[RECONCILE] credit failed: bet %s user %s payout %.2f: %v", bet.ID, bet.UserID, bet.Payout, err)
	}
	e.persistBet(bet)

	ev := BetCashedOutEvent{
		RoundID:    r.ID,
		BetID:      bet.ID,
		UserID:     bet.UserID,
		Multiplier: bet.CashoutMultiplier,
		Payout:     bet.Payout,
	}
	e.broadcaster.Publish(TopicBetCashedOut, ev)
	e.broadcaster.PublishTo(bet.UserID, TopicBetCashedOut, ev)
	log.Printf("[CASHOUT] bet %s: user %s out at %.2fx, payout %.2f", bet.ID, bet.UserID, bet.CashoutMultiplier, bet.Payout)
	return *bet, nil
}

// advanceTick moves the multiplier to its value at now and settles whatever
// that implies. It runs only on the owner goroutine, so the whole
// "advance, auto-cashout scan, deadline check" sequence is atomic relative
// to incoming commands.
func (e *Engine) advanceTick(now time.Time) {
	r := e.current
	if r == nil || r.Status != RoundFlying {
		return
	}
	elapsed := now.Sub(r.StartedAt).Seconds()
	if elapsed >= r.flightDuration {
		e.resolveRound(now)
		return
	}

	multiplier := fair.MultiplierAt(e.cfg.GrowthRate, elapsed)
	e.mu.Lock()
	r.CurrentMultiplier = multiplier
	e.mu.Unlock()

	e.runAutoCashouts(r, multiplier)
	e.broadcaster.Publish(TopicMultiplierUpdate, MultiplierUpdateEvent{
		RoundID:    r.ID,
		Multiplier: multiplier,
	})
}

// runAutoCashouts settles every active bet whose pre-committed target has
// been reached, through the same path as manual cash-outs.
func (e *Engine) runAutoCashouts(r *Round, limit float64) {
	for _, bet := range r.activeBets() {
		if bet.AutoCashout > 0 && bet.AutoCashout <= limit {
			if _, err := e.settleCashOut(r, bet, bet.AutoCashout); err != nil {
				log.Printf("[ENGINE] auto cashout %s: %v", bet.ID, err)
			}
		}
	}
}

// resolveRound is the terminal transition: snap the multiplier to the
// committed crash point, settle auto targets the curve reached before the
// crash, and crash everything still active. Guarded against running twice.
func (e *Engine) resolveRound(now time.Time) {
	r := e.current
	if r == nil {
		return
	}
	e.mu.Lock()
	err := r.markCrashed(now)
	e.mu.Unlock()
	if err != nil {
		log.Printf("[ENGINE] %v: round %s", err, r.ID)
		return
	}

	// Targets at or below the crash point were reached in continuous time
	// before the crash; tick granularity must not turn them into losses.
	e.runAutoCashouts(r, r.CrashMultiplier)

	var crashed []*Bet
	e.mu.Lock()
	for _, id := range r.order {
		if bet := r.bets[id]; bet != nil && bet.crash() {
			crashed = append(crashed, bet)
		}
	}
	e.mu.Unlock()

	e.persistRound(r)
	for _, bet := range crashed {
		e.persistBet(bet)
	}
	e.rememberRound(r)

	e.broadcaster.Publish(TopicRoundCrashed, RoundCrashedEvent{
		RoundID:    r.ID,
		CrashPoint: r.CrashMultiplier,
		ServerSeed: r.ServerSeed,
	})
	log.Printf("[ROUND] %s crashed at %.2fx, %d bets lost", r.ID, r.CrashMultiplier, len(crashed))
}

func (e *Engine) forceCrash() error {
	r := e.current
	if r == nil || r.Status != RoundFlying {
		return ErrGameNotRunning
	}
	log.Printf("[ENGINE] force crash requested for round %s", r.ID)
	e.resolveRound(time.Now())
	return nil
}

func (e *Engine) rememberRound(r *Round) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, r)
	e.histIdx[r.ID] = r
	if len(e.history) > historySize {
		evicted := e.history[0]
		e.history = e.history[1:]
		delete(e.histIdx, evicted.ID)
	}
}

func (e *Engine) persistRound(r *Round) {
	if e.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := e.store.SaveRound(ctx, r); err != nil {
		log.Printf("[STORE] save round %s: %v", r.ID, err)
	}
}

func (e *Engine) persistBet(b *Bet) {
	if e.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := e.store.SaveBet(ctx, b); err != nil {
		log.Printf("[STORE] save bet %s: %v", b.ID, err)
	}
}
