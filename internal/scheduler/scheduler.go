// Package scheduler selects due backlinks and queues them for verification.
package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/backlink-monitor/internal/backlink"
)

// Scheduler turns a Selection into verify tasks.
type Scheduler struct {
	store  backlink.Store
	queue  backlink.Queue
	clock  backlink.Clock
	logger *zap.Logger
}

// New constructs a Scheduler.
func New(store backlink.Store, queue backlink.Queue, clock backlink.Clock, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{store: store, queue: queue, clock: clock, logger: logger}
}

// Dispatch enqueues one verify task per selected backlink and returns how many were queued.
// Zero matches is not an error.
func (s *Scheduler) Dispatch(ctx context.Context, sel backlink.Selection) (int, error) {
	now := s.clock.Now()
	due, err := s.store.ListDue(ctx, sel, now)
	if err != nil {
		return 0, fmt.Errorf("list due backlinks: %w", err)
	}
	queued := 0
	for _, b := range due {
		task := backlink.Task{Kind: backlink.TaskVerify, BacklinkID: b.ID, Submitted: now}
		if err := s.queue.Enqueue(ctx, task); err != nil {
			return queued, fmt.Errorf("enqueue backlink %d: %w", b.ID, err)
		}
		queued++
	}
	s.logger.Info("verification batch queued",
		zap.String("frequency", string(sel.Frequency)),
		zap.String("status", string(sel.Status)),
		zap.Int("queued", queued),
	)
	return queued, nil
}

// Enqueue queues a single manual verification.
func (s *Scheduler) Enqueue(ctx context.Context, backlinkID int64) error {
	if _, err := s.store.GetBacklink(ctx, backlinkID); err != nil {
		return fmt.Errorf("load backlink: %w", err)
	}
	task := backlink.Task{Kind: backlink.TaskVerify, BacklinkID: backlinkID, Submitted: s.clock.Now()}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("enqueue backlink %d: %w", backlinkID, err)
	}
	return nil
}
