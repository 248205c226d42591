package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	apperrors "nse-alerts/internal/errors"
	"nse-alerts/pkg/utils"
)

// Runner runs one cycle.
type Runner interface {
	Run(ctx context.Context) (*CycleReport, error)
}

// PollerConfig controls the poll loop timing.
type PollerConfig struct {
	Interval     time.Duration
	Cooldown     time.Duration
	DrainTimeout time.Duration
}

// DefaultPollerConfig returns the default poll timing.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:     10 * time.Second,
		Cooldown:     60 * time.Second,
		DrainTimeout: 60 * time.Second,
	}
}

// Poller runs cycles one after another until its context is cancelled.
type Poller struct {
	runner   Runner
	cfg      PollerConfig
	logger   zerolog.Logger
	onReport func(*CycleReport, error)
}

// NewPoller creates a poller. Zero durations fall back to the defaults.
func NewPoller(runner Runner, cfg PollerConfig, logger zerolog.Logger) *Poller {
	def := DefaultPollerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	return &Poller{
		runner: runner,
		cfg:    cfg,
		logger: logger.With().Str("component", "poller").Logger(),
	}
}

// OnReport registers a callback invoked after every cycle.
func (p *Poller) OnReport(fn func(*CycleReport, error)) {
	p.onReport = fn
}

// Run polls until ctx is cancelled and returns nil on clean shutdown.
// Cycles never overlap. A fetch failure stretches the next wait to the
// cooldown; every other cycle error is logged and the loop carries on.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info().
		Dur("interval", p.cfg.Interval).
		Dur("cooldown", p.cfg.Cooldown).
		Msg("Poller started")

	for {
		if ctx.Err() != nil {
			p.logger.Info().Msg("Poller stopped")
			return nil
		}

		_, err := p.RunOnce(ctx)

		wait := p.cfg.Interval
		if errors.Is(err, apperrors.ErrFetchFailed) {
			wait = p.cfg.Cooldown
			p.logger.Warn().Dur("cooldown", wait).Msg("Fetch failed, cooling down")
		}

		if err := utils.Sleep(ctx, wait); err != nil {
			p.logger.Info().Msg("Poller stopped")
			return nil
		}
	}
}

// RunOnce runs a single cycle. The cycle runs on a context detached from
// ctx: cancelling ctx gives the cycle DrainTimeout to finish before it is
// cancelled too, so a ledger write in progress is not cut short.
func (p *Poller) RunOnce(ctx context.Context) (report *CycleReport, err error) {
	cycleCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-done:
			return
		case <-ctx.Done():
		}
		p.logger.Info().Dur("drain_timeout", p.cfg.DrainTimeout).Msg("Shutdown requested, draining cycle")
		timer := time.NewTimer(p.cfg.DrainTimeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			p.logger.Warn().Msg("Drain timeout reached, cancelling cycle")
			cancel()
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
			p.logger.Error().Err(err).Msg("Cycle panicked")
		}
		if p.onReport != nil {
			p.onReport(report, err)
		}
	}()

	report, err = p.runner.Run(cycleCtx)
	if err != nil && !errors.Is(err, apperrors.ErrFetchFailed) {
		p.logger.Error().Err(err).Msg("Cycle failed")
	}
	return report, err
}
