package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Janitor periodically deletes scan logs older than the retention window
type Janitor struct {
	logs      ScanLogStore
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    zerolog.Logger
	stopChan  chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
}

// NewJanitor creates a janitor. A non-positive retention disables cleanup.
func NewJanitor(logs ScanLogStore, retentionDays int, logger zerolog.Logger) *Janitor {
	return &Janitor{
		logs:      logs,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  time.Hour,
		now:       time.Now,
		logger:    logger.With().Str("component", "janitor").Logger(),
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start begins the cleanup loop
func (j *Janitor) Start() {
	if j.retention <= 0 {
		close(j.done)
		j.logger.Info().Msg("Scan log retention disabled")
		return
	}
	go j.run()
	j.logger.Info().
		Dur("retention", j.retention).
		Dur("interval", j.interval).
		Msg("Scan log janitor started")
}

// Stop stops the cleanup loop and waits for it to exit
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stopChan) })
	<-j.done
	j.logger.Info().Msg("Scan log janitor stopped")
}

func (j *Janitor) run() {
	defer close(j.done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.Sweep(context.Background())
	for {
		select {
		case <-ticker.C:
			j.Sweep(context.Background())
		case <-j.stopChan:
			return
		}
	}
}

// Sweep performs a single cleanup pass and returns the number of deleted logs
func (j *Janitor) Sweep(ctx context.Context) int {
	cutoff := j.now().Add(-j.retention)

	deleted, err := j.logs.DeleteBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error().Err(err).Msg("Failed to clean up old scan logs")
		return 0
	}

	j.logger.Info().
		Int("rows_deleted", deleted).
		Time("cutoff", cutoff).
		Msg("Scan log cleanup complete")
	return deleted
}
