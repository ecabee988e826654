// Package main runs the Jive API server.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/jive-live/jive-server/internal/app/runtime"
)

func main() {
	// A .env file is optional; real deployments set the environment
	// directly.
	_ = godotenv.Load()

	app, err := runtime.NewApplication()
	if err != nil {
		log.Fatalf("failed to initialise application: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}

	if err := app.Shutdown(context.Background()); err != nil {
		log.Printf("shutdown error: %v", err)
		os.Exit(1)
	}
}
