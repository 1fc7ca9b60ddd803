package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq" // Postgres driver
	"github.com/redis/go-redis/v9"

	"github.com/verity/engine/internal/api"
	"github.com/verity/engine/internal/config"
	"github.com/verity/engine/internal/engine"
	"github.com/verity/engine/internal/hub"
	"github.com/verity/engine/internal/monitoring"
	"github.com/verity/engine/internal/oracle"
	"github.com/verity/engine/internal/store"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Config load failed: %v", err)
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}

	// Postgres store with DATABASE_URL, in-memory otherwise.
	var st store.Store
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			log.Fatalf("Postgres open failed: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		pg, err := store.NewPostgresStore(ctx, db)
		cancel()
		if err != nil {
			log.Fatalf("Postgres init failed: %v", err)
		}
		st = pg
		log.Println("Using Postgres store")
	} else {
		st = store.NewMemStore()
		log.Println("Using in-memory store")
	}

	var orc oracle.Client
	if url := cfg.Oracle.URL; url != "" {
		orc = oracle.NewHTTPClient(url, cfg.Oracle.Timeout)
	} else {
		orc = oracle.StaticClient{}
		log.Println("No oracle configured, using static scorer")
	}

	metrics := monitoring.NewMetrics()
	eng := engine.New(st, cfg, orc, metrics)

	// Optional cross-instance hub bridge.
	var bridge *hub.RedisBridge
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		bridge = hub.NewRedisBridge(client, cfg.Hub.RedisChannel, eng.Hub())
		log.Printf("Hub bridge active on %s (%s)", addr, cfg.Hub.RedisChannel)
	}

	eng.Start()

	server := api.NewServer(eng, cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("Server failed: %v", err)
	case sig := <-sigCh:
		log.Printf("Received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	server.Shutdown(ctx)
	eng.Stop()
	if bridge != nil {
		bridge.Close()
	}
}
