package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"classtrack/internal/attendance"
	"classtrack/internal/config"
	"classtrack/internal/identity"
	"classtrack/internal/queue"
	"classtrack/internal/store"
)

// Worker consumes identity-provider sync messages and upserts member rows.
// A member exists locally from their first sync onward; later syncs refresh
// display attributes only.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "classtrack:member-sync")
	}

	repo := attendance.NewRepository(db.Client)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for member sync messages...")
	for msg := range messages {
		if msg.Type != queue.TypeMemberSync {
			continue
		}

		var evt identity.SyncEvent
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("bad sync payload: %v", err)
			continue
		}
		if evt.ID == "" {
			log.Println("sync payload missing member id, skipping")
			continue
		}

		err := repo.UpsertMember(ctx, attendance.Member{
			ID:          evt.ID,
			DisplayName: evt.Name,
			Major:       evt.Major,
			CohortYear:  evt.CohortYear,
		})
		if err != nil {
			log.Printf("member upsert failed for %s: %v", evt.ID, err)
			continue
		}
		log.Printf("member %s synced", evt.ID)
	}

	log.Println("worker stopped")
}
