package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// SyncQueue replays pending commands in enqueue order, one at a time. While
// offline it executes nothing and reports every stored command as pending.
// A pass stops early if the network drops or ctx is done; the remaining
// commands stay pending for the next pass.
func (q *Queue) SyncQueue(ctx context.Context) (SyncResult, error) {
	if !q.syncing.CompareAndSwap(false, true) {
		q.metrics.RecordSyncPass(ctx, "busy")
		return SyncResult{}, ErrSyncInProgress
	}
	defer q.syncing.Store(false)

	if !q.net.Online() {
		q.metrics.RecordSyncPass(ctx, "offline")
		return SyncResult{Pending: q.Len()}, nil
	}

	var res SyncResult
	for _, id := range q.eligible() {
		if ctx.Err() != nil || !q.net.Online() {
			break
		}
		out, err := q.execute(ctx, id)
		switch {
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrBusy):
			// Removed or picked up by RetryCommand since the pass started.
			continue
		case err != nil:
			res.Failed++
		case out.Success:
			res.Successful++
		default:
			res.Rejected++
		}
	}
	res.Pending = q.Stats().Pending

	q.metrics.RecordSyncPass(ctx, "completed")
	slog.Info("queue: sync pass finished",
		"successful", res.Successful,
		"failed", res.Failed,
		"rejected", res.Rejected,
		"pending", res.Pending,
	)
	return res, nil
}

// eligible returns the IDs of pending commands that still have retry budget.
func (q *Queue) eligible() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.commands))
	for _, c := range q.commands {
		if c.Status == StatusPending && c.RetryCount < q.maxRetries {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// Run drives background synchronisation until ctx is done: a sync every
// SyncInterval when the queue is non-empty and the network is online, and an
// immediate sync whenever online delivers true. A nil online channel disables
// transition-triggered syncs.
func (q *Queue) Run(ctx context.Context, online <-chan bool) {
	ticker := time.NewTicker(q.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-online:
			if !ok {
				online = nil
				continue
			}
			if up {
				slog.Info("queue: network restored, syncing", "queued", q.Len())
				q.syncNow(ctx)
			}
		case <-ticker.C:
			if q.Len() > 0 && q.net.Online() {
				q.syncNow(ctx)
			}
		}
	}
}

func (q *Queue) syncNow(ctx context.Context) {
	if _, err := q.SyncQueue(ctx); err != nil {
		if errors.Is(err, ErrSyncInProgress) {
			slog.Debug("queue: sync skipped", "err", err)
			return
		}
		slog.Warn("queue: sync failed", "err", err)
	}
}
