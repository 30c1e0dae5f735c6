// Command server runs the Berghain admission-game engine: the HTTP surface
// of spec §6 wired onto the attribute sampler, the goal evaluator, and the
// per-game state machine, persisted through a PostgreSQL-backed KV store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/rawblock/berghain-engine/internal/api"
	"github.com/rawblock/berghain-engine/internal/rng"
	"github.com/rawblock/berghain-engine/internal/store"
	"github.com/rawblock/berghain-engine/internal/stream"
)

const usage = `berghain-server: admission-game engine

Usage:
  server [flags]

Flags:
  -h    show this help and exit
  -r    reset the key-value store (delete every key) and exit

Environment:
  DATABASE_URL         PostgreSQL connection string (required)
  PORT                 HTTP listen port (default 5339)
  ALLOWED_ORIGINS      comma-separated CORS allowlist (default: any origin)
  BERGHAIN_POOL_SIZE   pgx pool max connections (default 16)
  BERGHAIN_RESET       if set truthy, reset the store at startup before serving
`

func main() {
	help := flag.Bool("h", false, "show help and exit")
	reset := flag.Bool("r", false, "reset the key-value store and exit")
	flag.Parse()

	if *help {
		fmt.Print(usage)
		return
	}

	dbURL := requireEnv("DATABASE_URL")
	poolSize := getEnvOrDefault("BERGHAIN_POOL_SIZE", "16")
	sep := "&"
	if !strings.Contains(dbURL, "?") {
		sep = "?"
	}
	dbURL += sep + "pool_max_conns=" + poolSize

	ctx := context.Background()
	s, err := store.Connect(ctx, dbURL)
	if err != nil {
		log.Fatalf("[Store] fatal: %v", err)
	}
	defer s.Close()

	if err := s.InitSchema(ctx); err != nil {
		log.Fatalf("[Store] fatal: schema init failed: %v", err)
	}

	if *reset || envTruthy("BERGHAIN_RESET") {
		log.Println("[Store] resetting key-value store")
		if err := s.Reset(ctx); err != nil {
			log.Fatalf("[Store] fatal: reset failed: %v", err)
		}
		if *reset {
			return
		}
	}

	log.Println("[PRNG] seeding WELL-1024a generator")
	gen := rng.New()

	hub := stream.NewHub()
	go hub.Run()

	r := api.SetupRouter(s, gen, hub)

	port := getEnvOrDefault("PORT", "5339")
	log.Printf("[Server] listening on :%s\n", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("[Server] fatal: %v", err)
	}
}

func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("[Config] fatal: required environment variable %s is not set", key)
	}
	return val
}

func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func envTruthy(key string) bool {
	switch os.Getenv(key) {
	case "1", "true", "TRUE", "yes":
		return true
	default:
		return false
	}
}
