package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"vtt/client/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := app.RunClient(ctx, app.DefaultConfig()); err != nil {
		log.Fatalf("%v", err)
	}
}
