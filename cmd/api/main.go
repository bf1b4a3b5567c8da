package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"crashpoint/internal/server"
)

func main() {
	srv, err := server.New()
	if err != nil {
		log.Fatalf("[MAIN] startup failed: %v", err)
	}
	srv.RegisterFiberRoutes()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	go func() {
		if err := srv.Listen(fmt.Sprintf(":%s", port)); err != nil {
			log.Fatalf("[MAIN] listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[MAIN] signal received, shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.App.ShutdownWithContext(ctx); err != nil {
		log.Printf("[MAIN] http shutdown: %v", err)
	}
	if err := srv.Shutdown(); err != nil {
		log.Printf("[MAIN] shutdown: %v", err)
	}
}
