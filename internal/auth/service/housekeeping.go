package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/driftboard/authd/internal/auth/store"
)

// DefaultSweepPageSize bounds how many rows a single delete statement may
// remove. The sweeper loops pages until it drains, so the bound caps
// statement cost, not total work.
const DefaultSweepPageSize = 1000

// HousekeepingService periodically deletes expired sessions and refresh
// tokens so the tables don't grow without bound. Expiry is enforced at read
// time; this worker only reclaims storage.
type HousekeepingService struct {
	Store    store.Store
	Logger   *slog.Logger
	Interval time.Duration
	PageSize int

	// Internal channels for lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}

	now func() time.Time
}

// NewHousekeepingService creates a new housekeeping service with the given
// interval. If interval is 0 or negative, defaults to 1 hour.
func NewHousekeepingService(store store.Store, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}

	return &HousekeepingService{
		Store:    store,
		Logger:   logger,
		Interval: interval,
		PageSize: DefaultSweepPageSize,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the background worker that periodically runs the sweep.
// This is non-blocking and should be called after the database is ready.
// Call Stop() to gracefully shutdown the worker.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop gracefully shuts down the background worker.
// Blocks until the worker has finished any in-progress sweep.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run a sweep immediately on startup
	s.Sweep(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Sweep drains expired rows from each table in bounded pages. The tables are
// swept independently; a failure in one doesn't stop the other.
func (s *HousekeepingService) Sweep(ctx context.Context) {
	now := s.now()

	sessions := s.drain(ctx, "sessions", func() (int, error) {
		return s.Store.Sessions().DeleteExpiredSessions(ctx, now, s.PageSize)
	})
	tokens := s.drain(ctx, "refresh_tokens", func() (int, error) {
		return s.Store.RefreshTokens().DeleteExpiredRefreshTokens(ctx, now, s.PageSize)
	})

	s.Logger.Info("housekeeping sweep completed",
		"expired_sessions", sessions,
		"expired_refresh_tokens", tokens,
	)
}

// drain repeats a bounded delete until a short page signals the table is
// clean. Returns the total rows removed.
func (s *HousekeepingService) drain(ctx context.Context, table string, deletePage func() (int, error)) int {
	var total int
	for {
		if ctx.Err() != nil {
			return total
		}

		n, err := deletePage()
		if err != nil {
			s.Logger.Error("housekeeping delete failed", "table", table, "error", err)
			return total
		}
		total += n

		if n < s.PageSize {
			return total
		}
	}
}
