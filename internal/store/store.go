// Package store persists delivery history and extracted metrics for the
// dashboard.
package store

import (
	"context"
	"time"

	"nse-alerts/internal/models"
)

// MessageStore defines the interface for notification persistence.
type MessageStore interface {
	// Notifications
	SaveNotification(ctx context.Context, rec models.NotificationRecord) error
	ListNotifications(ctx context.Context, filter NotificationFilter) ([]models.NotificationRecord, error)
	DeleteNotificationsByDestination(ctx context.Context, destination string) (int64, error)

	// Financial metrics
	SaveMetrics(ctx context.Context, m models.FinancialMetrics, notificationIDs []string) error
	ListMetrics(ctx context.Context, filter MetricsFilter) ([]models.FinancialMetrics, error)
	NotificationIDsForMetrics(ctx context.Context, metricsID string) ([]string, error)

	// Maintenance
	Stats(ctx context.Context) (Stats, error)
	Reset(ctx context.Context) error

	// Lifecycle
	Close() error
}

// NotificationFilter represents filters for querying notifications.
// Results are newest first.
type NotificationFilter struct {
	Symbol      string
	Destination string
	Since       time.Time
	Limit       int
}

// MetricsFilter represents filters for querying metrics.
type MetricsFilter struct {
	Symbol string
	Since  time.Time
	Limit  int
}

// Stats summarizes the store contents.
type Stats struct {
	Messages     int64
	Delivered    int64
	Failed       int64
	Destinations int64
	Metrics      int64
	LastMessage  time.Time
}
