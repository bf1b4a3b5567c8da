// Package ledger provides the Redis-backed account ledger the engine debits
// and credits against. Balances live in Redis so the game path never waits
// on the relational store.
package ledger

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"crashpoint/internal/game"
)

const balanceKeyPrefix = "crash:balance:"

// debitScript checks and decrements a balance in one atomic step. Returns
// the new balance, or -1 when the balance does not cover the amount.
var debitScript = redis.NewScript(`
local bal = tonumber(redis.call("GET", KEYS[1]) or "0")
local amt = tonumber(ARGV[1])
if bal < amt then
  return "-1"
end
return redis.call("INCRBYFLOAT", KEYS[1], -amt)
`)

type RedisLedger struct {
	client *redis.Client
}

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

func balanceKey(userID string) string {
	return balanceKeyPrefix + userID
}

// Debit withdraws amount from the user's balance. Insufficient balance is
// reported as game.ErrInsufficientFund; any transport failure propagates so
// the engine fails the bet closed.
func (l *RedisLedger) Debit(ctx context.Context, userID string, amount float64) (float64, error) {
	res, err := debitScript.Run(ctx, l.client, []string{balanceKey(userID)}, amount).Text()
	if err != nil {
		return 0, fmt.Errorf("ledger debit: %w", err)
	}
	balance, err := strconv.ParseFloat(res, 64)
	if err != nil {
		return 0, fmt.Errorf("ledger debit: bad reply %q: %w", res, err)
	}
	if balance < 0 {
		return 0, game.ErrInsufficientFund
	}
	return balance, nil
}

// Credit deposits amount into the user's balance.
func (l *RedisLedger) Credit(ctx context.Context, userID string, amount float64) (float64, error) {
	balance, err := l.client.IncrByFloat(ctx, balanceKey(userID), amount).Result()
	if err != nil {
		return 0, fmt.Errorf("ledger credit: %w", err)
	}
	return balance, nil
}

// Balance reads the current balance; a missing key is a zero balance.
func (l *RedisLedger) Balance(ctx context.Context, userID string) (float64, error) {
	balance, err := l.client.Get(ctx, balanceKey(userID)).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger balance: %w", err)
	}
	return balance, nil
}

// SetBalance overwrites a user's balance. Admin/testing only.
func (l *RedisLedger) SetBalance(ctx context.Context, userID string, balance float64) error {
	if err := l.client.Set(ctx, balanceKey(userID), balance, 0).Err(); err != nil {
		return fmt.Errorf("ledger set balance: %w", err)
	}
	return nil
}
