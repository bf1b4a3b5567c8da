package game

import "errors"

// Error taxonomy for engine operations. Every expected failure is a typed
// *Error value so callers can branch on kind (HTTP status) and code
// (client message) instead of parsing strings.

type ErrorKind string

const (
	// KindValidation: bad input, rejected synchronously, never retried.
	KindValidation ErrorKind = "validation"
	// KindConflict: the underlying state has already moved on; definitive.
	KindConflict ErrorKind = "state_conflict"
	// KindDependency: a collaborator (ledger, store) failed; the operation
	// failed closed and the caller may retry.
	KindDependency ErrorKind = "dependency"
	// KindFatal: a broken invariant; round creation must halt.
	KindFatal ErrorKind = "fatal"
)

type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Is lets errors.Is match sentinels by code, even through wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrInvalidAmount    = &Error{KindValidation, "invalid_amount", "bet amount is outside the allowed range"}
	ErrInvalidCashout   = &Error{KindValidation, "invalid_auto_cashout", "auto cashout target must be greater than 1.0"}
	ErrMissingUser      = &Error{KindValidation, "missing_user", "user id is required"}
	ErrNoActiveRound    = &Error{KindConflict, "no_active_round", "no round is currently open"}
	ErrBettingClosed    = &Error{KindConflict, "betting_closed", "betting is closed for this round"}
	ErrBettingDisabled  = &Error{KindConflict, "betting_disabled", "betting is temporarily disabled"}
	ErrInsufficientFund = &Error{KindConflict, "insufficient_funds", "insufficient balance"}
	ErrGameNotRunning   = &Error{KindConflict, "game_not_running", "the round is not flying"}
	ErrBetNotFound      = &Error{KindConflict, "bet_not_found", "bet not found in the current round"}
	ErrNotYourBet       = &Error{KindConflict, "not_your_bet", "bet belongs to another user"}
	ErrAlreadyCashedOut = &Error{KindConflict, "already_cashed_out", "bet was already cashed out"}
	ErrBetNotActive     = &Error{KindConflict, "bet_not_active", "bet is no longer active"}
	ErrRoundNotFound    = &Error{KindConflict, "round_not_found", "round not found"}
	ErrRoundNotResolved = &Error{KindConflict, "round_not_resolved", "round has not resolved yet; seed is not revealed"}
	ErrLedgerFailure    = &Error{KindDependency, "ledger_unavailable", "account ledger is unavailable"}
	ErrEngineStopped    = &Error{KindConflict, "engine_stopped", "game engine is not running"}
	ErrDoubleResolve    = &Error{KindFatal, "double_resolve", "round was resolved twice"}
)

// KindOf reports the taxonomy kind of err, or "" for untyped errors.
func KindOf(err error) ErrorKind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}

// CodeOf reports the stable error code of err, or "" for untyped errors.
func CodeOf(err error) string {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ""
}
