package scheduler

import (
	"context"
	"time"

	"marlin/internal/logger"
)

// IntervalScheduler runs a task on a fixed interval and additionally whenever
// Nudge is called. Nudges coalesce: many nudges between runs produce one
// extra run.
type IntervalScheduler struct {
	Interval       time.Duration
	RunImmediately bool

	ctx    context.Context
	nudgeC chan struct{}
}

func NewIntervalScheduler(ctx context.Context, interval time.Duration) *IntervalScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &IntervalScheduler{
		Interval: interval,
		ctx:      ctx,
		nudgeC:   make(chan struct{}, 1),
	}
}

// Nudge requests an out-of-band run. Never blocks.
func (s *IntervalScheduler) Nudge() {
	select {
	case s.nudgeC <- struct{}{}:
	default:
	}
}

// Start blocks, invoking task on every tick or nudge until ctx is done.
func (s *IntervalScheduler) Start(task func()) {
	if s == nil || task == nil {
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("IntervalScheduler: invalid interval=%s, exit", s.Interval)
		return
	}

	logger.Infof("IntervalScheduler: started interval=%s run_immediately=%v", s.Interval, s.RunImmediately)
	if s.RunImmediately {
		task()
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			logger.Infof("IntervalScheduler: ctx done, exit")
			return
		case <-ticker.C:
			task()
		case <-s.nudgeC:
			task()
		}
	}
}
