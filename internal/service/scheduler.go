package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/DevRickLin/chat-digest/internal/biz/domain"
	"github.com/DevRickLin/chat-digest/internal/biz/usecase"
	"github.com/DevRickLin/chat-digest/internal/logger"
)

// DefaultCleanupInterval is how often retention runs
const DefaultCleanupInterval = 24 * time.Hour

// RunCycler executes all due runs
type RunCycler interface {
	RunDue(ctx context.Context) ([]*usecase.RunSummary, error)
}

// Cleaner removes data past its retention horizon
type Cleaner interface {
	Cleanup(ctx context.Context, now time.Time) (*usecase.RetentionResult, error)
}

// RunScheduler triggers run cycles on a ticker and retention on a slower one
type RunScheduler struct {
	runs    RunCycler
	cleaner Cleaner

	interval        time.Duration
	cleanupInterval time.Duration
	logger          zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunScheduler creates a new run scheduler. cleaner may be nil.
func NewRunScheduler(runs RunCycler, cleaner Cleaner, interval, cleanupInterval time.Duration) *RunScheduler {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	return &RunScheduler{
		runs:            runs,
		cleaner:         cleaner,
		interval:        interval,
		cleanupInterval: cleanupInterval,
		logger:          logger.Component("Scheduler"),
	}
}

// Start starts the scheduler; the first cycle runs immediately
func (s *RunScheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.runLoop()
	if s.cleaner != nil {
		s.wg.Add(1)
		go s.cleanupLoop()
	}

	s.logger.Info().Dur("interval", s.interval).Dur("cleanup_interval", s.cleanupInterval).Msg("Started")
}

// Stop stops the scheduler, interrupting an in-flight cycle.
// An interrupted run stays unfinished and is resumed by the next cycle.
func (s *RunScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info().Msg("Stopped")
}

func (s *RunScheduler) runLoop() {
	defer s.wg.Done()

	s.cycle()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.cycle()
		}
	}
}

func (s *RunScheduler) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cycle runs every due window once
func (s *RunScheduler) cycle() {
	summaries, err := s.runs.RunDue(s.ctx)
	switch {
	case errors.Is(err, usecase.ErrCycleInProgress):
		s.logger.Debug().Msg("Previous cycle still running, skipping")
	case errors.Is(err, context.Canceled):
		s.logger.Info().Msg("Cycle interrupted")
	case errors.Is(err, domain.ErrLeaseLost):
		s.logger.Warn().Err(err).Msg("Run taken over by another coordinator")
	case err != nil:
		s.logger.Error().Err(err).Msg("Cycle failed")
	}
	if len(summaries) > 0 {
		s.logger.Info().Int("runs", len(summaries)).Msg("Cycle finished")
	}
}

func (s *RunScheduler) cleanup() {
	if _, err := s.cleaner.Cleanup(s.ctx, time.Now()); err != nil {
		s.logger.Error().Err(err).Msg("Cleanup error")
	}
}
