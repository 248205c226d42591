package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EnrichedAttachment is the derived attachment of one announcement.
type EnrichedAttachment struct {
	OriginalURL string
	DocumentURL string
	Rendered    bool
	Metrics     *FinancialMetrics
}

// Link returns the rendered document URL when available, otherwise the
// original attachment reference.
func (e EnrichedAttachment) Link() string {
	if e.Rendered && e.DocumentURL != "" {
		return e.DocumentURL
	}
	return e.OriginalURL
}

// FinancialMetrics holds figures extracted from a results filing.
// Amounts absent from the source are zero with the matching Has flag unset.
type FinancialMetrics struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Period      string          `json:"period"`
	Year        string          `json:"year"`
	Revenue     decimal.Decimal `json:"revenue"`
	PBT         decimal.Decimal `json:"pbt"`
	PAT         decimal.Decimal `json:"pat"`
	TotalIncome decimal.Decimal `json:"total_income"`
	OtherIncome decimal.Decimal `json:"other_income"`
	EPS         decimal.Decimal `json:"eps"`
	Units       string          `json:"units,omitempty"`
	SourceURL   string          `json:"source_url"`
	Present     MetricSet       `json:"present"`
	CreatedAt   time.Time       `json:"created_at"`
}

// MetricSet flags which amounts were found.
type MetricSet struct {
	Revenue     bool `json:"revenue"`
	PBT         bool `json:"pbt"`
	PAT         bool `json:"pat"`
	TotalIncome bool `json:"total_income"`
	OtherIncome bool `json:"other_income"`
	EPS         bool `json:"eps"`
}

// Any reports whether at least one amount was found.
func (s MetricSet) Any() bool {
	return s.Revenue || s.PBT || s.PAT || s.TotalIncome || s.OtherIncome || s.EPS
}

// NotificationRecord is the audit record of one delivery attempt.
type NotificationRecord struct {
	ID            string    `json:"id" csv:"id"`
	DestinationID string    `json:"destination_id" csv:"destination_id"`
	MessageText   string    `json:"message_text" csv:"message_text"`
	Symbol        string    `json:"symbol" csv:"symbol"`
	CompanyName   string    `json:"company_name" csv:"company_name"`
	Description   string    `json:"description" csv:"description"`
	AttachmentURL string    `json:"attachment_url" csv:"attachment_url"`
	Mode          Mode      `json:"mode" csv:"mode"`
	Delivered     bool      `json:"delivered" csv:"delivered"`
	Error         string    `json:"error,omitempty" csv:"error"`
	Timestamp     time.Time `json:"timestamp" csv:"timestamp"`
}
