package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/database"
	"fieldsync/internal/models"
	"fieldsync/internal/repository"
	"fieldsync/internal/storage"

	"github.com/rs/zerolog"
)

// queueDump is the on-disk shape written by -dump.
type queueDump struct {
	Active           []*models.QueueItem `json:"active"`
	Completed        []*models.QueueItem `json:"completed"`
	LastBatchAttempt time.Time           `json:"lastBatchAttempt"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		dbPath    = flag.String("db", "./data/queue.db", "path to the sqlite queue db")
		redisAddr = flag.String("redis", "", "redis address to copy the queue into")
		prefix    = flag.String("prefix", "fieldsync:", "redis key prefix")
		dumpPath  = flag.String("dump", "", "write the queue as JSON to this file instead")
	)
	flag.Parse()

	if *redisAddr == "" && *dumpPath == "" {
		return errors.New("either -redis or -dump is required")
	}

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	src := storage.New(db)
	active, err := src.ReadActive(ctx)
	if err != nil {
		return fmt.Errorf("read active queue: %w", err)
	}
	completed, err := src.ReadCompleted(ctx)
	if err != nil {
		return fmt.Errorf("read completed queue: %w", err)
	}
	last, err := src.LastBatchAttempt(ctx)
	if err != nil {
		return fmt.Errorf("read last batch attempt: %w", err)
	}

	if *dumpPath != "" {
		data, err := json.MarshalIndent(queueDump{Active: active, Completed: completed, LastBatchAttempt: last}, "", "  ")
		if err != nil {
			return fmt.Errorf("encode dump: %w", err)
		}
		if err := os.WriteFile(*dumpPath, data, 0o600); err != nil {
			return fmt.Errorf("write dump: %w", err)
		}
		fmt.Printf("done: active=%d completed=%d dump=%s\n", len(active), len(completed), *dumpPath)
		return nil
	}

	kv := repository.NewRedisKVStore(repository.NewRedisClient(config.RedisConfig{Address: *redisAddr}), *prefix)
	defer kv.Close()
	if err := kv.Ping(ctx); err != nil {
		return err
	}

	dst := storage.New(kv)
	if err := dst.WriteCollections(ctx, active, completed); err != nil {
		return fmt.Errorf("write queue: %w", err)
	}
	if !last.IsZero() {
		if err := dst.SetLastBatchAttempt(ctx, last); err != nil {
			return fmt.Errorf("write last batch attempt: %w", err)
		}
	}

	fmt.Printf("done: active=%d completed=%d redis=%s\n", len(active), len(completed), *redisAddr)
	return nil
}
