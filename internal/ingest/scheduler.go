package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/extremetemps/internal/models"
)

const (
	defaultCheckInterval    = 15 * time.Minute
	defaultPayloadRetention = 30
)

// PayloadCleaner prunes archived upstream bodies.
type PayloadCleaner interface {
	CleanupOldRawPayloads(retentionDays int, now time.Time) (int64, error)
}

// CardPruner removes expired rendered images.
type CardPruner interface {
	Prune() (int, error)
}

// Scheduler triggers a daily refresh once the clock passes refreshHour (UTC).
type Scheduler struct {
	refresh          *RefreshManager
	cleaner          PayloadCleaner
	cards            CardPruner
	clock            clockwork.Clock
	logger           *slog.Logger
	refreshHour      int
	interval         time.Duration
	payloadRetention int
	lastRunDay       string
}

func NewScheduler(refresh *RefreshManager, cleaner PayloadCleaner, refreshHour int, clock clockwork.Clock, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		refresh:          refresh,
		cleaner:          cleaner,
		clock:            clock,
		logger:           logger,
		refreshHour:      refreshHour,
		interval:         defaultCheckInterval,
		payloadRetention: defaultPayloadRetention,
	}
}

// SetCardPruner prunes the image cache after each daily refresh.
func (s *Scheduler) SetCardPruner(p CardPruner) {
	s.cards = p
}

// SetInterval changes how often the scheduler checks the clock.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d > 0 {
		s.interval = d
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler: started", "refresh_hour", s.refreshHour, "interval", s.interval)
	s.runDailyIfNeeded(ctx)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler: shutting down")
			return
		case <-ticker.Chan():
			s.runDailyIfNeeded(ctx)
		}
	}
}

func (s *Scheduler) runDailyIfNeeded(ctx context.Context) {
	now := s.clock.Now().UTC()
	today := now.Format(models.DateLayout)
	if now.Hour() < s.refreshHour || s.lastRunDay == today {
		return
	}
	s.lastRunDay = today

	s.logger.Info("scheduler: daily refresh")
	status, err := s.refresh.Run(ctx)
	switch {
	case errors.Is(err, ErrRefreshRunning):
		s.logger.Info("scheduler: refresh already running, skipping")
	case err != nil:
		s.logger.Error("scheduler: refresh failed", "error", err)
	default:
		s.logger.Info("scheduler: refresh complete", "job", status.Job.ID)
	}

	if s.cleaner != nil {
		n, err := s.cleaner.CleanupOldRawPayloads(s.payloadRetention, now)
		if err != nil {
			s.logger.Error("scheduler: cleanup raw payloads", "error", err)
		} else if n > 0 {
			s.logger.Info("scheduler: cleaned raw payloads", "deleted", n)
		}
	}
	if s.cards != nil {
		n, err := s.cards.Prune()
		if err != nil {
			s.logger.Error("scheduler: prune cards", "error", err)
		} else if n > 0 {
			s.logger.Info("scheduler: pruned cards", "deleted", n)
		}
	}
}
