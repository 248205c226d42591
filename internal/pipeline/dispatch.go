package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	apperrors "nse-alerts/internal/errors"
	"nse-alerts/internal/logging"
	"nse-alerts/internal/models"
	"nse-alerts/internal/notify"
)

// Recorder persists delivery attempts and extracted metrics.
type Recorder interface {
	SaveNotification(ctx context.Context, rec models.NotificationRecord) error
	SaveMetrics(ctx context.Context, m models.FinancialMetrics, notificationIDs []string) error
}

// Broadcaster pushes live-update events. Implementations must not block.
type Broadcaster interface {
	Broadcast(ev models.Event)
}

// DispatcherConfig holds dispatcher settings.
type DispatcherConfig struct {
	// Diagnostic receives every record's base message. Empty disables it.
	Diagnostic  string
	SendTimeout time.Duration
}

// Dispatcher delivers one record to every destination its rules name.
type Dispatcher struct {
	transport notify.Transport
	recorder  Recorder
	events    Broadcaster
	cfg       DispatcherConfig
	logger    zerolog.Logger
	now       func() time.Time
}

// NewDispatcher creates a dispatcher. recorder and events may be nil.
func NewDispatcher(transport notify.Transport, recorder Recorder, events Broadcaster, cfg DispatcherConfig, logger zerolog.Logger) *Dispatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	return &Dispatcher{
		transport: transport,
		recorder:  recorder,
		events:    events,
		cfg:       cfg,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
		now:       time.Now,
	}
}

// Group is the merged set of rules for one destination.
type Group struct {
	Destination string
	Mode        models.Mode
}

// GroupByDestination merges rules that share a destination, keeping the
// order in which destinations first appear. A group is result_concall when
// any of its rules is.
func GroupByDestination(rules []models.RoutingRule) []Group {
	index := make(map[string]int, len(rules))
	var groups []Group
	for _, r := range rules {
		i, ok := index[r.DestinationID]
		if !ok {
			index[r.DestinationID] = len(groups)
			groups = append(groups, Group{Destination: r.DestinationID, Mode: r.Mode})
			continue
		}
		if r.Mode == models.ModeResultConcall {
			groups[i].Mode = models.ModeResultConcall
		}
	}
	return groups
}

// Dispatch sends the record to the diagnostic destination and to each
// matched destination. Every non-diagnostic attempt is persisted whether or
// not it was delivered. The returned error aggregates per-destination
// failures and is informational: one destination failing never stops the
// others.
func (d *Dispatcher) Dispatch(ctx context.Context, record models.Announcement, enriched models.EnrichedAttachment, matched []models.RoutingRule) ([]models.NotificationRecord, error) {
	symbol := record.Symbol()
	logger := logging.WithSymbol(logging.FromContext(ctx, d.logger), symbol)
	link := enriched.Link()

	if d.cfg.Diagnostic != "" {
		err := d.send(ctx, d.cfg.Diagnostic, ComposeMessage(record, link, nil))
		logging.LogDelivery(logger, d.cfg.Diagnostic, symbol, "diagnostic", err)
	}

	var (
		records    []models.NotificationRecord
		metricsIDs []string
		errs       error
	)
	for _, g := range GroupByDestination(matched) {
		var metrics *models.FinancialMetrics
		if g.Mode == models.ModeResultConcall {
			metrics = enriched.Metrics
		}
		text := ComposeMessage(record, link, metrics)

		err := d.send(ctx, g.Destination, text)
		logging.LogDelivery(logger, g.Destination, symbol, string(g.Mode), err)

		rec := models.NotificationRecord{
			ID:            uuid.NewString(),
			DestinationID: g.Destination,
			MessageText:   text,
			Symbol:        symbol,
			CompanyName:   record.CompanyName(),
			Description:   record.Description(),
			AttachmentURL: link,
			Mode:          g.Mode,
			Delivered:     err == nil,
			Timestamp:     d.now(),
		}
		if err != nil {
			rec.Error = err.Error()
			errs = multierr.Append(errs, apperrors.NewDispatchError(g.Destination, err))
		}
		if metrics != nil {
			metricsIDs = append(metricsIDs, rec.ID)
		}

		d.record(ctx, logger, rec)
		records = append(records, rec)
	}

	if enriched.Metrics != nil && len(metricsIDs) > 0 {
		d.recordMetrics(ctx, logger, *enriched.Metrics, metricsIDs)
	}

	return records, errs
}

// send delivers one message under its own timeout. Panics in the transport
// are turned into errors.
func (d *Dispatcher) send(ctx context.Context, destination, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: transport panic: %v", apperrors.ErrDispatchFailed, r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()
	return d.transport.Send(ctx, destination, text)
}

func (d *Dispatcher) record(ctx context.Context, logger zerolog.Logger, rec models.NotificationRecord) {
	if d.recorder != nil {
		if err := d.recorder.SaveNotification(ctx, rec); err != nil {
			l := logging.WithDestination(logger, rec.DestinationID)
			l.Error().Err(err).Str("id", rec.ID).Msg("Failed to persist notification")
		}
	}
	if d.events != nil {
		d.events.Broadcast(models.NewMessageEvent(rec))
	}
}

func (d *Dispatcher) recordMetrics(ctx context.Context, logger zerolog.Logger, m models.FinancialMetrics, ids []string) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = d.now()
	}
	if d.recorder != nil {
		if err := d.recorder.SaveMetrics(ctx, m, ids); err != nil {
			logger.Error().Err(err).Str("metrics_id", m.ID).Msg("Failed to persist metrics")
		}
	}
	if d.events != nil {
		d.events.Broadcast(models.NewMetricsEvent(m))
	}
}
