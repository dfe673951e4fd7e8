package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/adi-253/roomfeed/backend/internal/channel"
	"github.com/adi-253/roomfeed/backend/internal/metrics"
)

// PresenceReaper removes presence members that stopped refreshing.
// It runs as a background goroutine and periodically sweeps the backend.
type PresenceReaper struct {
	reaper   channel.Reaper
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   zerolog.Logger
	stopChan chan struct{}
}

// NewPresenceReaper creates a new presence reaper.
// - interval: how often to sweep (e.g., 30 seconds)
// - timeout: how long a member may go without a refresh (e.g., 2 minutes)
func NewPresenceReaper(reaper channel.Reaper, interval, timeout time.Duration, logger zerolog.Logger) *PresenceReaper {
	return &PresenceReaper{
		reaper:   reaper,
		interval: interval,
		timeout:  timeout,
		now:      time.Now,
		logger:   logger.With().Str("service", "reaper").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Start begins the background sweep loop.
// This method blocks and should be called with 'go'.
func (s *PresenceReaper) Start() {
	s.logger.Info().Dur("interval", s.interval).Dur("timeout", s.timeout).Msg("presence reaper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-s.stopChan:
			s.logger.Info().Msg("presence reaper stopped")
			return
		}
	}
}

// Stop gracefully shuts down the reaper.
func (s *PresenceReaper) Stop() {
	close(s.stopChan)
}

// Sweep removes every member not refreshed within the timeout and
// returns how many were removed.
func (s *PresenceReaper) Sweep(ctx context.Context) int {
	threshold := s.now().Add(-s.timeout)

	reaped, err := s.reaper.ReapPresence(ctx, threshold)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to reap presence")
		return 0
	}
	if len(reaped) == 0 {
		return 0
	}

	for _, m := range reaped {
		s.logger.Info().Str("channel", m.Channel).Str("client_id", m.ClientID).Msg("removed stale presence member")
	}
	metrics.PresenceReaped.Add(float64(len(reaped)))
	return len(reaped)
}
