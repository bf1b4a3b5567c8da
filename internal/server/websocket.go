package server

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"

	"crashpoint/internal/game"
)

type wsCommand struct {
	Type        string  `json:"type"`
	Amount      float64 `json:"amount,omitempty"`
	AutoCashout float64 `json:"auto_cashout,omitempty"`
	BetID       string  `json:"bet_id,omitempty"`
}

// gameWebSocketHandler serves one client connection: pushes the current
// round state on connect, then relays bet/cashout commands to the engine.
func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	userID := conn.Query("user_id", "anonymous")
	client := s.hub.RegisterClient(conn, userID)
	defer s.hub.UnregisterClient(client)

	if state, err := s.engine.State(); err == nil {
		client.send(wsMessage{Type: "initial_state", Data: state})
	}

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[WS] read from %s: %v", userID, err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var cmd wsCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		switch cmd.Type {
		case "place_bet":
			bet, err := s.engine.PlaceBet(ctx, userID, cmd.Amount, cmd.AutoCashout)
			if err != nil {
				client.send(wsMessage{Type: "error", Data: errPayload(err)})
			} else {
				client.send(wsMessage{Type: "bet_accepted", Data: bet})
			}
		case "cashout":
			bet, err := s.engine.CashOut(ctx, cmd.BetID, userID)
			if err != nil {
				client.send(wsMessage{Type: "error", Data: errPayload(err)})
			} else {
				client.send(wsMessage{Type: "cashout_accepted", Data: bet})
			}
		case "ping":
			client.send(wsMessage{Type: "pong"})
		}
		cancel()
	}
}

func errPayload(err error) map[string]string {
	payload := map[string]string{"message": err.Error()}
	if code := game.CodeOf(err); code != "" {
		payload["code"] = code
	}
	return payload
}
