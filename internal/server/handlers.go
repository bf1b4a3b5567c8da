package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"crashpoint/internal/game"
)

type placeBetRequest struct {
	UserID      string  `json:"user_id"`
	Amount      float64 `json:"amount"`
	AutoCashout float64 `json:"auto_cashout,omitempty"`
}

type cashoutRequest struct {
	UserID string `json:"user_id"`
	BetID  string `json:"bet_id"`
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	health := fiber.Map{
		"cache": s.cache.Health(),
		"game": fiber.Map{
			"status":            "running",
			"connected_clients": s.hub.ClientCount(),
		},
	}
	if s.store != nil {
		health["database"] = s.store.Health()
	}
	return c.JSON(health)
}

func (s *FiberServer) getStateHandler(c *fiber.Ctx) error {
	state, err := s.engine.State()
	if err != nil {
		return gameError(c, err)
	}
	return c.JSON(state)
}

func (s *FiberServer) getHistoryHandler(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	return c.JSON(fiber.Map{"rounds": s.engine.History(limit)})
}

func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	var req placeBetRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	bet, err := s.engine.PlaceBet(c.Context(), req.UserID, req.Amount, req.AutoCashout)
	if err != nil {
		return gameError(c, err)
	}
	return c.JSON(bet)
}

func (s *FiberServer) cashoutHandler(c *fiber.Ctx) error {
	var req cashoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.UserID == "" || req.BetID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id and bet_id are required"})
	}
	bet, err := s.engine.CashOut(c.Context(), req.BetID, req.UserID)
	if err != nil {
		return gameError(c, err)
	}
	return c.JSON(bet)
}

func (s *FiberServer) verifyRoundHandler(c *fiber.Ctx) error {
	roundID := c.Params("roundId")
	clientSeed := c.Query("client_seed")
	record, err := s.engine.VerifyRound(c.Context(), roundID, clientSeed)
	if err != nil {
		return gameError(c, err)
	}
	return c.JSON(record)
}

func (s *FiberServer) getBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")
	balance, err := s.ledger.Balance(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "ledger unavailable"})
	}
	return c.JSON(fiber.Map{"user_id": userID, "balance": balance})
}

func (s *FiberServer) setBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")
	var body struct {
		Balance float64 `json:"balance"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := s.ledger.SetBalance(c.Context(), userID, body.Balance); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "ledger unavailable"})
	}
	return c.JSON(fiber.Map{"user_id": userID, "balance": body.Balance})
}

func (s *FiberServer) forceCrashHandler(c *fiber.Ctx) error {
	if err := s.engine.ForceCrash(c.Context()); err != nil {
		return gameError(c, err)
	}
	return c.JSON(fiber.Map{"status": "crashed"})
}

func (s *FiberServer) setBettingHandler(c *fiber.Ctx) error {
	var body struct {
		Allowed bool `json:"allowed"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := s.engine.SetBettingAllowed(c.Context(), body.Allowed); err != nil {
		return gameError(c, err)
	}
	return c.JSON(fiber.Map{"betting_allowed": body.Allowed})
}

// gameError maps the engine's error taxonomy onto HTTP. Codes stay stable
// so clients can tell "round crashed" from "already cashed out".
func gameError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch game.KindOf(err) {
	case game.KindValidation:
		status = fiber.StatusBadRequest
	case game.KindConflict:
		status = fiber.StatusConflict
	case game.KindDependency:
		status = fiber.StatusServiceUnavailable
	}
	if errors.Is(err, game.ErrNoActiveRound) || errors.Is(err, game.ErrRoundNotFound) || errors.Is(err, game.ErrBetNotFound) {
		status = fiber.StatusNotFound
	}
	body := fiber.Map{"error": err.Error()}
	if code := game.CodeOf(err); code != "" {
		body["code"] = code
	}
	return c.Status(status).JSON(body)
}
