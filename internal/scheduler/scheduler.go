package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc handles one closed bucket. Errors are logged and do not stop the loop.
type TickFunc func(ctx context.Context, bucket time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	// Name labels log lines when several loops share a process.
	Name         string
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	Now          func() time.Time
}

// Scheduler closes wall-clock buckets at a fixed interval.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New validates opts and returns a Scheduler.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Interval <= 0 {
		return nil, errors.New("scheduler interval must be positive")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Name == "" {
		opts.Name = "default"
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Str("loop", opts.Name).Logger(),
	}, nil
}

// Interval returns the configured bucket width.
func (s *Scheduler) Interval() time.Duration { return s.opts.Interval }

// Run blocks until ctx is cancelled, invoking tick with the start of each bucket that just closed.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	next := s.NextTick(s.now())
	for {
		delay := next.Sub(s.now())
		if delay < 0 {
			// Skip buckets missed while a slow tick was running.
			next = s.NextTick(s.now())
			delay = next.Sub(s.now())
		}

		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")
		if err := sleep(ctx, delay); err != nil {
			return err
		}

		bucket := s.BucketStart(next)
		started := s.now()
		if err := tick(ctx, bucket); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("tick failed")
		} else {
			s.logger.Debug().Time("bucket", bucket).Dur("took", s.now().Sub(started)).Msg("tick done")
		}

		next = next.Add(s.opts.Interval)
	}
}

// NextTick returns the first tick instant strictly after now.
func (s *Scheduler) NextTick(now time.Time) time.Time {
	now = now.UTC()
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	boundary := now.Truncate(s.opts.Interval)
	if !boundary.After(now) {
		boundary = boundary.Add(s.opts.Interval)
	}
	return boundary
}

// BucketStart maps a tick instant to the start of the bucket it closes.
func (s *Scheduler) BucketStart(tick time.Time) time.Time {
	tick = tick.UTC()
	if !s.opts.AlignToStart {
		return tick.Add(-s.opts.Interval)
	}
	return tick.Truncate(s.opts.Interval).Add(-s.opts.Interval)
}

func (s *Scheduler) now() time.Time { return s.opts.Now().UTC() }

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
