// replay re-enqueues dead-lettered events onto the bus. Intended for
// operators after a channel outage: inspect with -list, then replay a
// single id or everything matching a kind.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"otabridge/internal/bus"
	"otabridge/internal/config"
	"otabridge/internal/database"
	"otabridge/internal/logger"
	"otabridge/internal/messaging"
	"otabridge/internal/models"
	"otabridge/internal/repository"
)

func main() {
	var (
		list  = flag.Bool("list", false, "list dead letters and exit")
		id    = flag.String("id", "", "replay a single dead letter by id")
		kind  = flag.String("kind", "", "filter by event kind")
		all   = flag.Bool("all", false, "replay every matching dead letter")
		limit = flag.Int("limit", 100, "maximum dead letters to consider")
	)
	flag.Parse()

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

	repos := repository.NewRepositories(db)
	eventBus := bus.New(bus.Config{
		Partitions:    cfg.Bus.Partitions,
		MaxAttempts:   cfg.Bus.MaxAttempts,
		HighWaterMark: cfg.Bus.HighWaterMark,
	}, repos.Bus, repos.DeadLetters, natsClient, nil)

	ctx := context.Background()

	switch {
	case *list:
		letters, err := repos.DeadLetters.List(ctx, *kind, "", *limit)
		if err != nil {
			log.Fatalf("Failed to list dead letters: %v", err)
		}
		for _, d := range letters {
			fmt.Printf("%s  %-24s  attempts=%d  %s  %s\n", d.ID, d.Kind, d.Attempts, d.CreatedAt.Format("2006-01-02 15:04:05"), d.LastError)
		}
		fmt.Printf("%d dead letters\n", len(letters))

	case *id != "":
		d, err := repos.DeadLetters.GetByID(ctx, *id)
		if err != nil {
			log.Fatalf("Failed to load dead letter: %v", err)
		}
		if d == nil {
			log.Fatalf("Dead letter %s not found", *id)
		}
		replayOne(ctx, eventBus, repos.DeadLetters, d)

	case *all:
		letters, err := repos.DeadLetters.List(ctx, *kind, "", *limit)
		if err != nil {
			log.Fatalf("Failed to list dead letters: %v", err)
		}
		for i := range letters {
			replayOne(ctx, eventBus, repos.DeadLetters, &letters[i])
		}
		fmt.Printf("replayed %d dead letters\n", len(letters))

	default:
		flag.Usage()
		os.Exit(2)
	}
}

func replayOne(ctx context.Context, b *bus.Bus, repo *repository.DeadLetterRepository, d *models.DeadLetter) {
	eventID, err := b.Publish(ctx, d.Kind, json.RawMessage(d.Payload), d.CorrelationID)
	if err != nil {
		log.Printf("Replay failed for %s: %v", d.ID, err)
		return
	}
	if err := repo.Delete(ctx, d.ID); err != nil {
		log.Printf("Replayed %s as %s but failed to delete the dead letter: %v", d.ID, eventID, err)
		return
	}
	fmt.Printf("replayed %s -> event %s (%s)\n", d.ID, eventID, d.Kind)
}
