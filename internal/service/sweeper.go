package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/sandeepkv93/scan-attendance-service/internal/observability"
	"github.com/sandeepkv93/scan-attendance-service/internal/repository"
)

// Sweeper marks sessions inactive once they are past expiry plus retention.
type Sweeper struct {
	store     repository.SessionStore
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewSweeper(store repository.SessionStore, retention, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: store, retention: retention, interval: interval, logger: logger, now: time.Now}
}

func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	now := s.now().UTC()
	n, err := s.store.SweepExpired(ctx, now.Add(-s.retention), now)
	if err != nil {
		observability.RecordSweep(ctx, n, "error")
		return n, err
	}
	observability.RecordSweep(ctx, n, "success")
	if n > 0 {
		s.logger.InfoContext(ctx, "expired credential sessions swept", "count", n)
	}
	return n, nil
}

// Run sweeps every interval until ctx is done. A zero interval disables it.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.WarnContext(ctx, "credential sweep failed", "error", err)
			}
		}
	}
}
