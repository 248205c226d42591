// Package notify delivers composed messages to destinations over Telegram,
// email and webhooks.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"nse-alerts/internal/config"
	apperrors "nse-alerts/internal/errors"
	"nse-alerts/internal/resilience"
)

// Transport sends one message to one destination.
type Transport interface {
	Send(ctx context.Context, destination, text string) error
}

// Kind identifies a transport by destination scheme.
type Kind string

const (
	KindTelegram Kind = "telegram"
	KindEmail    Kind = "email"
	KindWebhook  Kind = "webhook"
	KindConsole  Kind = "console"
)

// ParseDestination maps a destination ID to its transport and the target
// that transport expects. Chat IDs and @channel names have no scheme and go
// to Telegram.
func ParseDestination(destination string) (Kind, string, error) {
	d := strings.TrimSpace(destination)
	if d == "" {
		return "", "", fmt.Errorf("%w: empty destination", apperrors.ErrUnknownDestination)
	}

	scheme, rest, ok := strings.Cut(d, ":")
	if !ok || !isScheme(scheme) {
		return KindTelegram, d, nil
	}

	switch strings.ToLower(scheme) {
	case "tg", "telegram":
		return KindTelegram, rest, nil
	case "mailto":
		return KindEmail, rest, nil
	case "http", "https":
		return KindWebhook, d, nil
	case "console":
		return KindConsole, rest, nil
	default:
		return "", "", fmt.Errorf("%w: %q", apperrors.ErrUnknownDestination, destination)
	}
}

func isScheme(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}

type route struct {
	transport Transport
	limiter   *RateLimiter
}

// Router picks a transport by destination scheme. Every send waits on the
// transport's rate limiter and runs through the destination's breaker.
type Router struct {
	mu       sync.RWMutex
	routes   map[Kind]route
	breakers *resilience.CircuitBreakerRegistry
	logger   zerolog.Logger
}

// NewRouter creates a Router with no transports.
func NewRouter(breakers *resilience.CircuitBreakerRegistry, logger zerolog.Logger) *Router {
	if breakers == nil {
		breakers = resilience.NewCircuitBreakerRegistry(resilience.DefaultCircuitBreakerConfig())
	}
	r := &Router{
		routes:   make(map[Kind]route),
		breakers: breakers,
		logger:   logger.With().Str("component", "notify").Logger(),
	}
	breakers.OnStateChange(r.logBreaker)
	return r
}

func (r *Router) logBreaker(destination string, from, to resilience.CircuitState) {
	ev := r.logger.Info()
	if to == resilience.CircuitOpen {
		ev = r.logger.Warn()
	}
	ev.Str("destination", destination).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Destination breaker changed state")
}

// NewRouterFromConfig registers every enabled transport.
func NewRouterFromConfig(cfg config.NotificationConfig, logger zerolog.Logger) *Router {
	r := NewRouter(resilience.NewCircuitBreakerRegistry(cfg.Breaker), logger)

	if cfg.Telegram.Enabled {
		r.Register(KindTelegram, NewTelegramTransport(cfg.Telegram, cfg.SendTimeout), NewRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst))
	}
	if cfg.Email.Enabled {
		r.Register(KindEmail, NewEmailTransport(cfg.Email, cfg.SendTimeout), nil)
	}
	if cfg.Webhook.Enabled {
		r.Register(KindWebhook, NewWebhookTransport(cfg.Webhook), NewRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst))
	}

	return r
}

// Register installs t for kind. limiter may be nil.
func (r *Router) Register(kind Kind, t Transport, limiter *RateLimiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[kind] = route{transport: t, limiter: limiter}
}

// Send delivers text to destination.
func (r *Router) Send(ctx context.Context, destination, text string) error {
	kind, target, err := ParseDestination(destination)
	if err != nil {
		return err
	}

	r.mu.RLock()
	rt, ok := r.routes[kind]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrTransportDisabled, kind)
	}

	if rt.limiter != nil {
		if err := rt.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrRateLimited, err)
		}
	}

	breaker := r.breakers.Get(destination)
	return breaker.Execute(ctx, func(ctx context.Context) error {
		return rt.transport.Send(ctx, target, text)
	})
}

// BreakerStats reports per-destination breaker state.
func (r *Router) BreakerStats() []resilience.CircuitBreakerStats {
	return r.breakers.AllStats()
}

// NoopTransport accepts every message and sends nothing.
type NoopTransport struct{}

// Send does nothing.
func (NoopTransport) Send(ctx context.Context, destination, text string) error {
	return ctx.Err()
}
