package models

import "time"

// EventType identifies a live-update event.
type EventType string

const (
	EventNewMessage       EventType = "new_message"
	EventMessagesList     EventType = "messages_list"
	EventFinancialMetrics EventType = "financial_metrics"
)

// Event is pushed to dashboard subscribers.
type Event struct {
	Type      EventType            `json:"type"`
	Message   *NotificationRecord  `json:"message,omitempty"`
	Messages  []NotificationRecord `json:"messages,omitempty"`
	Data      *MetricsPayload      `json:"data,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// MetricsPayload wraps metrics the way the dashboard expects them.
type MetricsPayload struct {
	Metrics []FinancialMetrics `json:"metrics"`
}

// NewMessageEvent wraps a notification record.
func NewMessageEvent(rec NotificationRecord) Event {
	return Event{Type: EventNewMessage, Message: &rec, Timestamp: time.Now()}
}

// NewMetricsEvent wraps extracted metrics.
func NewMetricsEvent(metrics ...FinancialMetrics) Event {
	return Event{Type: EventFinancialMetrics, Data: &MetricsPayload{Metrics: metrics}, Timestamp: time.Now()}
}
