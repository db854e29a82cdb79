package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	registrystore "github.com/chirino/resume-chat/internal/registry/store"
	"github.com/chirino/resume-chat/internal/security"
)

// ThreadJanitor periodically archives active threads that have been idle
// longer than the idle timeout.
type ThreadJanitor struct {
	store       registrystore.ThreadStore
	interval    time.Duration
	idleTimeout time.Duration
	batchSize   int
	now         func() time.Time
}

// NewThreadJanitor creates a new thread janitor.
func NewThreadJanitor(store registrystore.ThreadStore, interval, idleTimeout time.Duration, batchSize int) *ThreadJanitor {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &ThreadJanitor{
		store:       store,
		interval:    interval,
		idleTimeout: idleTimeout,
		batchSize:   batchSize,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the periodic archive loop. Returns when ctx is cancelled.
func (j *ThreadJanitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce archives idle threads in batches and returns how many were archived.
func (j *ThreadJanitor) RunOnce(ctx context.Context) int {
	cutoff := j.now().Add(-j.idleTimeout)
	archived := 0
	for {
		threads, err := j.store.FindIdleThreads(ctx, cutoff, j.batchSize)
		if err != nil {
			log.Error("Thread janitor: find idle threads failed", "err", err)
			return archived
		}
		if len(threads) == 0 {
			break
		}
		progress := 0
		for _, th := range threads {
			if err := j.store.ArchiveThread(ctx, th.ID, j.now()); err != nil {
				log.Error("Thread janitor: archive failed", "threadId", th.ID, "err", err)
				continue
			}
			security.Inc(security.ThreadsArchivedTotal)
			progress++
		}
		archived += progress
		if progress == 0 || len(threads) < j.batchSize || ctx.Err() != nil {
			break
		}
	}
	if archived > 0 {
		log.Info("Thread janitor: archived idle threads", "archived", archived, "cutoff", cutoff)
	}
	return archived
}
