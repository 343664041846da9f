package main

import (
	"context"
	stdlog "log"

	"github.com/joho/godotenv"

	"fulfillmentservice/internal/app"
)

func main() {
	if err := run(); err != nil {
		stdlog.Fatalf("Application failed: %v", err)
	}
}

func run() error {
	// Optional .env for local runs; real deployments set the environment.
	_ = godotenv.Load()

	ctx := context.Background()

	application, err := app.NewApplication(ctx)
	if err != nil {
		return err
	}
	defer application.Shutdown()

	return application.Run()
}
