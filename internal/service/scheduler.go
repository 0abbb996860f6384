package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Reloader refreshes a cached data source
type Reloader interface {
	Reload(ctx context.Context) error
}

// RefreshScheduler reloads a cached source on a fixed interval.
// The forwarder uses it for the contacts index so renames made in Contacts
// reach the name check without a restart.
type RefreshScheduler struct {
	source   Reloader
	interval time.Duration
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRefreshScheduler creates a new refresh scheduler
func NewRefreshScheduler(source Reloader, interval time.Duration, log zerolog.Logger) *RefreshScheduler {
	return &RefreshScheduler{
		source:   source,
		interval: interval,
		log:      log,
	}
}

// Start starts the scheduler
func (s *RefreshScheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.loop()

	s.log.Debug().Dur("interval", s.interval).Msg("refresh scheduler started")
}

// Stop stops the scheduler and waits for an in-flight reload
func (s *RefreshScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *RefreshScheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.source.Reload(s.ctx); err != nil {
				s.log.Warn().Err(err).Msg("reload failed, keeping cached data")
			}
		}
	}
}
