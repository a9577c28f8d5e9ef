package activity

import (
	"context"
	"time"

	logx "herdbot/pkg/logx"

	"herdbot/internal/batch"
	"herdbot/internal/storage"
)

const defaultPeriod = 60 * time.Second

// Source yields the sessions to keep alive. It is consulted every round
// so pool changes (evictions, new imports) take effect mid-loop.
type Source func(ctx context.Context) ([]storage.Session, error)

// Runner executes one bounded batch run. Satisfied by *batch.Runner.
type Runner interface {
	Run(ctx context.Context, spec batch.Spec, rep batch.Reporter) (batch.Summary, error)
}

// Loop keeps pooled accounts looking online: every period, inside the
// activity window, each session's presence is bounced off and back on.
type Loop struct {
	runner Runner
	source Source
	window *Window // nil means always active
	period time.Duration
	log    logx.Logger
}

func NewLoop(runner Runner, source Source, window *Window, period time.Duration, log logx.Logger) *Loop {
	if period <= 0 {
		period = defaultPeriod
	}
	return &Loop{
		runner: runner,
		source: source,
		window: window,
		period: period,
		log:    log.With(logx.String("component", "activity")),
	}
}

// Run blocks until ctx is canceled. Designed to sit under a supervisor
// GoRestart.
func (l *Loop) Run(ctx context.Context) error {
	if l.window != nil {
		l.log.Info("keep-alive loop started",
			logx.String("window", l.window.String()),
			logx.Duration("period", l.period),
		)
	} else {
		l.log.Info("keep-alive loop started", logx.Duration("period", l.period))
	}

	for {
		// Outside the window, sleep straight to the next opening instead
		// of burning a wakeup per period.
		if l.window != nil {
			now := time.Now()
			if !l.window.Contains(now) {
				next := l.window.NextStart(now)
				l.log.Debug("outside activity window; sleeping",
					logx.Time("until", next),
				)
				if !sleepUntil(ctx, next) {
					return nil
				}
			}
		}

		l.round(ctx)

		// Pace from the end of the round so a long window sleep can't
		// stack an immediate extra wakeup on top of it.
		if !sleepFor(ctx, l.period) {
			return nil
		}
	}
}

// round refreshes presence across the current pool. Failures are logged
// and dropped: keep-alive is best-effort by nature.
func (l *Loop) round(ctx context.Context) {
	sessions, err := l.source(ctx)
	if err != nil {
		l.log.Warn("keep-alive source failed", logx.Err(err))
		return
	}
	if len(sessions) == 0 {
		return
	}

	sum, err := l.runner.Run(ctx, batch.Spec{
		Name:     "keep-alive",
		Sessions: sessions,
		Ops:      batch.KeepAliveOps(),
	}, nil)
	if err != nil && ctx.Err() == nil {
		l.log.Warn("keep-alive round failed", logx.Err(err))
		return
	}
	if sum.Failed() > 0 {
		l.log.Debug("keep-alive round done",
			logx.Int("ok", sum.Succeeded),
			logx.Int("failed", sum.Failed()),
		)
	}
}

func sleepUntil(ctx context.Context, at time.Time) bool {
	return sleepFor(ctx, time.Until(at))
}

func sleepFor(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
