package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"dlevel-stack/internal/models"
	"dlevel-stack/shared/scheduler"
	"dlevel-stack/shared/storage"
)

// RetentionSweeper removes analysis records older than maxAge. It runs as a
// scheduled job next to the relay.
type RetentionSweeper struct {
	local  storage.Area
	maxAge time.Duration
	now    func() time.Time
}

func NewRetentionSweeper(local storage.Area, maxAge time.Duration) *RetentionSweeper {
	return &RetentionSweeper{local: local, maxAge: maxAge, now: time.Now}
}

type sweepMetrics struct {
	Removed int
	Kept    int
	Skipped int
}

func (m sweepMetrics) GetSummary() string {
	return fmt.Sprintf("retention sweep removed %d records, kept %d, skipped %d", m.Removed, m.Kept, m.Skipped)
}

func (s *RetentionSweeper) Name() string {
	return "Retention Sweeper"
}

func (s *RetentionSweeper) Initialize() error {
	if s.maxAge <= 0 {
		return fmt.Errorf("retention max age must be positive")
	}
	return nil
}

func (s *RetentionSweeper) RunOnce(ctx context.Context, events *scheduler.JobEvents) error {
	start := s.now()

	values, err := s.local.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}

	var (
		metrics sweepMetrics
		expired []string
	)
	cutoff := start.Add(-s.maxAge)
	for key, raw := range values {
		if key == models.KeyAPIKey {
			continue
		}
		var record models.AnalysisRecord
		if !storage.Decode(raw, &record) {
			metrics.Skipped++
			continue
		}
		created, ok := record.CreatedAt()
		if !ok {
			metrics.Skipped++
			continue
		}
		if created.Before(cutoff) {
			expired = append(expired, key)
		} else {
			metrics.Kept++
		}
	}

	if len(expired) > 0 {
		if err := s.local.Remove(ctx, expired...); err != nil {
			return fmt.Errorf("failed to remove expired records: %w", err)
		}
		slog.Info("removed expired analyses", slog.Int("count", len(expired)))
	}
	metrics.Removed = len(expired)

	if metrics.Skipped > 0 && events.OnPartialFailure != nil {
		events.OnPartialFailure(fmt.Errorf("%d records have no readable creation date", metrics.Skipped), s.now().Sub(start))
	}
	if events.OnSuccess != nil {
		events.OnSuccess(metrics, s.now().Sub(start))
	}
	return nil
}
