// Package worker runs the background loops of the order service: the
// approval-SLA reaper and the outbox relay.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config holds the settings shared by every worker loop
type Config struct {
	// WorkerID uniquely identifies this worker instance
	WorkerID string

	// PollInterval is how often the loop runs
	PollInterval time.Duration

	// MaxConcurrency is the maximum number of items handled at once
	MaxConcurrency int
}

func (c Config) withDefaults(prefix string) Config {
	if c.WorkerID == "" {
		c.WorkerID = fmt.Sprintf("%s-%s", prefix, uuid.New().String()[:8])
	}
	if c.PollInterval == 0 {
		c.PollInterval = 1 * time.Second
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = 5
	}
	return c
}

// poll calls tick every interval until ctx is cancelled. A tick that is
// still running when the next one is due causes that one to be skipped.
// On shutdown it waits for the running tick to return.
func poll(ctx context.Context, name string, cfg Config, logger *slog.Logger, tick func(ctx context.Context)) error {
	logger.Info("worker starting",
		"worker", name,
		"worker_id", cfg.WorkerID,
		"poll_interval", cfg.PollInterval,
		"max_concurrency", cfg.MaxConcurrency,
	)

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	var (
		wg   sync.WaitGroup
		busy = make(chan struct{}, 1)
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutting down", "worker", name, "worker_id", cfg.WorkerID)
			wg.Wait()
			return ctx.Err()

		case <-ticker.C:
			select {
			case busy <- struct{}{}:
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer func() { <-busy }()
					tick(ctx)
				}()
			default:
				// Previous tick still running
			}
		}
	}
}
