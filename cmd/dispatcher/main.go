// The dispatcher process runs the bus workers that push events out to
// OTA channels. It shares the database and Redis with the API process;
// partition locks keep the two sides from double-claiming.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"otabridge/internal/bus"
	"otabridge/internal/cache"
	"otabridge/internal/channels"
	"otabridge/internal/config"
	"otabridge/internal/database"
	"otabridge/internal/dispatch"
	"otabridge/internal/logger"
	"otabridge/internal/messaging"
	"otabridge/internal/metrics"
	"otabridge/internal/payload"
	"otabridge/internal/repository"
	"otabridge/internal/search"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	natsClient, err := messaging.NewNATSClient(cfg.NATS)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer natsClient.Close()

	redisClient, err := cache.NewClient(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	var index *search.PayloadIndex
	if cfg.Elasticsearch.Enabled {
		if index, err = search.NewPayloadIndex(cfg.Elasticsearch); err != nil {
			log.Printf("Elasticsearch unavailable: %v", err)
			index = nil
		}
	}

	m := metrics.NewDefault()
	repos := repository.NewRepositories(db)

	store, err := payload.NewStore(payload.Config{TruncateBytes: cfg.Payloads.TruncateBytes}, repos.Payloads, index, m)
	if err != nil {
		log.Fatalf("Failed to create payload store: %v", err)
	}

	eventBus := bus.New(bus.Config{
		Partitions:      cfg.Bus.Partitions,
		MaxAttempts:     cfg.Bus.MaxAttempts,
		HighWaterMark:   cfg.Bus.HighWaterMark,
		PollInterval:    cfg.Bus.PollInterval,
		DefaultDeadline: cfg.Bus.DefaultDeadline,
	}, repos.Bus, repos.DeadLetters, natsClient, m)

	dispatcher := dispatch.New(cfg.Dispatch, channels.DefaultRegistry(), repos.Channels, store, redisClient, m)
	dispatcher.Register(eventBus, cfg.Bus.MaxAttempts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eventBus.Start(ctx); err != nil {
		log.Fatalf("Failed to start bus workers: %v", err)
	}
	log.Printf("Dispatcher running with %d workers", cfg.Dispatch.Workers)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down dispatcher...")
	cancel()
	eventBus.Stop(30 * time.Second)
	log.Println("Dispatcher stopped")
}
