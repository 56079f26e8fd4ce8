package main

import (
	"context"
	"flag"
	"log"

	"github.com/castellan/identity-engine/internal/app/bootstrap"
)

func main() {
	configPath := flag.String("config", "configs/default.yaml", "path to the engine config file")
	flag.Parse()

	ctx := context.Background()
	runtime, err := bootstrap.NewRuntime(ctx, *configPath)
	if err != nil {
		log.Fatalf("bootstrap mail worker: %v", err)
	}
	if err := runtime.RunWorker(ctx); err != nil {
		log.Fatalf("mail worker stopped: %v", err)
	}
}
