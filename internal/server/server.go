package server

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"crashpoint/internal/cache"
	"crashpoint/internal/game"
	"crashpoint/internal/ledger"
	"crashpoint/internal/store"
)

type FiberServer struct {
	*fiber.App

	cache  cache.Service
	store  *store.Postgres
	ledger *ledger.RedisLedger
	engine *game.Engine
	hub    *Hub
}

func New() (*FiberServer, error) {
	redisService, err := cache.New()
	if err != nil {
		return nil, err
	}

	var pg *store.Postgres
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		pg, err = store.NewPostgres(context.Background(), dsn)
		if err != nil {
			return nil, err
		}
	} else {
		log.Println("[SERVER] DATABASE_URL not set, running without durable round history")
	}

	hub := NewHub()
	accounts := ledger.NewRedisLedger(redisService.GetClient())

	var gameStore game.Store
	if pg != nil {
		gameStore = pg
	}
	engine := game.NewEngine(game.ConfigFromEnv(), accounts, gameStore, hub)

	s := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader: "crashpoint",
			AppName:      "crashpoint",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  120 * time.Second,
		}),
		cache:  redisService,
		store:  pg,
		ledger: accounts,
		engine: engine,
		hub:    hub,
	}

	s.App.Use(recover.New())
	s.App.Use(limiter.New(limiter.Config{
		Max:        200,
		Expiration: 1 * time.Minute,
	}))

	go hub.Run()
	engine.Start()
	log.Println("[SERVER] game engine started")

	return s, nil
}

// Shutdown stops the engine and closes connections. The in-flight round is
// abandoned by design; refunds for its active bets are a reconciliation
// concern, not a resume-on-restart one.
func (s *FiberServer) Shutdown() error {
	log.Println("[SERVER] shutting down...")
	if s.engine != nil {
		s.engine.Stop()
	}
	if s.cache != nil {
		s.cache.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
	return nil
}
