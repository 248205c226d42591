// Package feed fetches the upstream announcement list.
package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	apperrors "nse-alerts/internal/errors"
	"nse-alerts/internal/models"
)

// Fetcher returns the current announcement list.
type Fetcher interface {
	Fetch(ctx context.Context) ([]models.Announcement, error)
}

// Strategy is one way of getting the list, e.g. with or without a fresh
// session.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context) ([]models.Announcement, error)
}

// Chain tries strategies in order under a shared time budget and returns
// the first success.
type Chain struct {
	strategies []Strategy
	budget     time.Duration
	logger     zerolog.Logger
}

// NewChain creates a Chain. A zero budget means the caller's deadline only.
func NewChain(budget time.Duration, logger zerolog.Logger, strategies ...Strategy) *Chain {
	return &Chain{
		strategies: strategies,
		budget:     budget,
		logger:     logger.With().Str("component", "feed").Logger(),
	}
}

// Fetch runs the strategies until one succeeds. The returned error is a
// *errors.FetchError carrying every strategy's failure.
func (c *Chain) Fetch(ctx context.Context) ([]models.Announcement, error) {
	if c.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.budget)
		defer cancel()
	}

	var (
		errs error
		last = "chain"
	)
	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%w: %v", apperrors.ErrTimeout, err))
			break
		}

		start := time.Now()
		records, err := s.Fetch(ctx)
		if err == nil {
			c.logger.Debug().
				Str("strategy", s.Name()).
				Int("records", len(records)).
				Dur("duration", time.Since(start)).
				Msg("Feed fetched")
			return records, nil
		}

		last = s.Name()
		c.logger.Warn().Err(err).Str("strategy", s.Name()).Msg("Feed strategy failed")
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}

	if errs == nil {
		errs = fmt.Errorf("no fetch strategies configured")
	}
	return nil, apperrors.NewFetchError(last, 0, errs)
}

// StaticFetcher returns a fixed list.
type StaticFetcher struct {
	Records []models.Announcement
	Err     error
}

func (f *StaticFetcher) Fetch(ctx context.Context) ([]models.Announcement, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Records, nil
}
