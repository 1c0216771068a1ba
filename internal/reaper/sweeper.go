// Package reaper closes out activities whose participants never responded.
package reaper

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/Johnmc130/SerenVoice/internal/domain"
	"github.com/Johnmc130/SerenVoice/internal/observability"
)

// Sweeper periodically marks timed-out invitations absent and finalizes any
// activity whose roster has all reached a terminal state.
type Sweeper struct {
	service  *domain.Service
	interval time.Duration
	timeout  time.Duration
	logger   *log.Logger

	shutdownComplete chan struct{}
}

// NewSweeper constructs a Sweeper. Zero durations fall back to a one-minute
// cadence and the thirty-minute participation window.
func NewSweeper(service *domain.Service, interval, timeout time.Duration, logger *log.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Sweeper{
		service:          service,
		interval:         interval,
		timeout:          timeout,
		logger:           logger,
		shutdownComplete: make(chan struct{}),
	}
}

// Start launches the sweep loop. It should be called in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer func() {
		ticker.Stop()
		close(s.shutdownComplete)
	}()

	for {
		if err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Printf("reaper: sweep failed: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until the sweeper has stopped.
func (s *Sweeper) Wait() {
	<-s.shutdownComplete
}

// RunOnce performs a single sweep pass.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	start := time.Now()
	marked, err := s.service.SweepTimeouts(ctx, time.Now().UTC(), s.timeout)
	sweepDuration.Observe(time.Since(start).Seconds())
	if marked > 0 {
		observability.RecordParticipantsMarkedAbsent(marked)
		s.logger.Printf("reaper: marked %d participants absent", marked)
	}
	return err
}
