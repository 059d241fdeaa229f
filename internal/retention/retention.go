package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"counselchat/internal/logging"
	"counselchat/internal/metrics"
)

// DefaultCron runs the purge daily at 03:00 UTC.
const DefaultCron = "0 3 * * *"

var (
	ErrInvalidCron   = errors.New("invalid retention cron expression")
	ErrInvalidPeriod = errors.New("retention period must be positive")
	ErrRunning       = errors.New("retention scheduler already running")
)

// Purger deletes messages created before cutoff.
type Purger interface {
	PurgeMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config controls the purge schedule.
type Config struct {
	Cron   string
	Period time.Duration
}

// Scheduler purges old messages on a cron schedule
// ARCHITECTURAL DISCOVERY: The next tick is recomputed after every run so a
// slow purge never causes a burst of catch-up runs
type Scheduler struct {
	purger  Purger
	cron    string
	period  time.Duration
	metrics *metrics.Relay
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates cfg and builds a scheduler. It does not start it.
func New(cfg Config, purger Purger, m *metrics.Relay, logger *zap.Logger) (*Scheduler, error) {
	cron := cfg.Cron
	if cron == "" {
		cron = DefaultCron
	}
	if !gronx.IsValid(cron) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCron, cron)
	}
	if cfg.Period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if m == nil {
		m = metrics.NewRelay(nil)
	}
	return &Scheduler{
		purger:  purger,
		cron:    cron,
		period:  cfg.Period,
		metrics: m,
		logger:  logging.OrNop(logger).Named("retention"),
		now:     time.Now,
	}, nil
}

// NextRun returns the first scheduled run strictly after ref.
func (s *Scheduler) NextRun(ref time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.cron, ref.UTC(), false)
}

// RunOnce purges every message older than the retention period.
func (s *Scheduler) RunOnce(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.period)
	purged, err := s.purger.PurgeMessagesBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention purge failed: %w", err)
	}
	s.metrics.RetentionPurged.Add(float64(purged))
	s.logger.Info("retention run complete",
		zap.String("purged", humanize.Comma(purged)),
		zap.Time("cutoff", cutoff))
	return purged, nil
}

// Start runs the scheduler until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(runCtx)

	s.logger.Info("retention scheduler started",
		zap.String("cron", s.cron),
		zap.Duration("period", s.period))
	return nil
}

// Stop cancels the scheduler and waits for an in-progress run to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.wg.Wait()
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		next, err := s.NextRun(s.now())
		if err != nil {
			// FUNCTIONAL DISCOVERY: gronx can fail for impossible dates; back
			// off and retry rather than exit
			s.logger.Error("retention next tick failed", zap.String("cron", s.cron), zap.Error(err))
			next = s.now().Add(30 * time.Second)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Debug("retention scheduler stopping")
			return
		case <-timer.C:
		}

		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("retention run failed", zap.Error(err))
		}
	}
}
