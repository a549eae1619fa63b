package stalled

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/explorer/internal/infra/queue"
	"github.com/vietddude/explorer/internal/infra/storage"
)

const defaultScanLimit = 500

// Scanner finds blocks stuck in the not-ready state and queues them for the reverter.
type Scanner struct {
	blocks storage.BlockRepository
	queue  queue.Enqueuer
	maxAge time.Duration
	limit  int
	now    func() time.Time
	log    *slog.Logger
}

// NewScanner creates a scanner for blocks older than maxAge.
func NewScanner(blocks storage.BlockRepository, q queue.Enqueuer, maxAge time.Duration) *Scanner {
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	return &Scanner{
		blocks: blocks,
		queue:  q,
		maxAge: maxAge,
		limit:  defaultScanLimit,
		now:    time.Now,
		log:    slog.Default().With("component", "stalled_scanner"),
	}
}

// Scan enqueues one revertPartialBlock job per stalled block and returns how many it found.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	blocks, err := s.blocks.ListStalled(ctx, s.now().Add(-s.maxAge), s.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list stalled blocks: %w", err)
	}
	if len(blocks) == 0 {
		return 0, nil
	}
	specs := make([]queue.Spec, len(blocks))
	for i, b := range blocks {
		specs[i] = queue.Spec{
			Name: JobName(b.ID),
			Data: Payload{BlockID: b.ID},
		}
	}
	if err := s.queue.BulkEnqueue(ctx, queue.TypeRevertPartialBlock, specs); err != nil {
		return 0, fmt.Errorf("failed to enqueue stalled blocks: %w", err)
	}
	s.log.Info("Stalled blocks queued", "count", len(blocks))
	return len(blocks), nil
}

// JobName returns the dedup name of a revertPartialBlock job.
func JobName(blockID int64) string {
	return queue.Name(queue.TypeRevertPartialBlock, blockID)
}
