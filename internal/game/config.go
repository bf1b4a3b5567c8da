package game

import (
	"os"
	"strconv"
	"time"

	"crashpoint/internal/fair"
)

// Config carries the tunable constants of the crash game. Zero values are
// replaced with the defaults below, so tests can set only what they need.
type Config struct {
	MinBet           float64       // smallest accepted wager
	MaxBet           float64       // largest accepted wager
	BettingWindow    time.Duration // WAITING phase length before flight
	Cooldown         time.Duration // pause between crash and the next round
	TickInterval     time.Duration // multiplier broadcast granularity
	GrowthRate       float64       // curve steepness: m(t) = exp(rate*t)
	HouseEdge        float64       // RTP parameter of the crash distribution
	CutoffMultiplier float64       // no new bets once the live multiplier reaches this
	ClientSeed       string        // public client seed baked into each round
}

func DefaultConfig() Config {
	return Config{
		MinBet:           1.0,
		MaxBet:           10000.0,
		BettingWindow:    5 * time.Second,
		Cooldown:         3 * time.Second,
		TickInterval:     100 * time.Millisecond,
		GrowthRate:       0.1,
		HouseEdge:        0.01,
		CutoffMultiplier: 2.0,
		ClientSeed:       fair.DefaultClientSeed,
	}
}

// ConfigFromEnv builds a Config from CRASH_* environment variables,
// falling back to defaults for anything unset.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.MinBet = getEnvFloat("CRASH_MIN_BET", cfg.MinBet)
	cfg.MaxBet = getEnvFloat("CRASH_MAX_BET", cfg.MaxBet)
	cfg.BettingWindow = getEnvMillis("CRASH_BETTING_WINDOW_MS", cfg.BettingWindow)
	cfg.Cooldown = getEnvMillis("CRASH_COOLDOWN_MS", cfg.Cooldown)
	cfg.TickInterval = getEnvMillis("CRASH_TICK_INTERVAL_MS", cfg.TickInterval)
	cfg.GrowthRate = getEnvFloat("CRASH_GROWTH_RATE", cfg.GrowthRate)
	cfg.HouseEdge = getEnvFloat("CRASH_HOUSE_EDGE", cfg.HouseEdge)
	cfg.CutoffMultiplier = getEnvFloat("CRASH_BET_CUTOFF", cfg.CutoffMultiplier)
	if seed := os.Getenv("CRASH_CLIENT_SEED"); seed != "" {
		cfg.ClientSeed = seed
	}
	return cfg
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MinBet <= 0 {
		c.MinBet = def.MinBet
	}
	if c.MaxBet <= 0 {
		c.MaxBet = def.MaxBet
	}
	if c.BettingWindow <= 0 {
		c.BettingWindow = def.BettingWindow
	}
	if c.Cooldown <= 0 {
		c.Cooldown = def.Cooldown
	}
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	if c.GrowthRate <= 0 {
		c.GrowthRate = def.GrowthRate
	}
	if c.HouseEdge <= 0 {
		c.HouseEdge = def.HouseEdge
	}
	if c.CutoffMultiplier <= 1 {
		c.CutoffMultiplier = def.CutoffMultiplier
	}
	if c.ClientSeed == "" {
		c.ClientSeed = def.ClientSeed
	}
	return c
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvMillis(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}
