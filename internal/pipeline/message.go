package pipeline

import (
	"strings"

	"github.com/shopspring/decimal"

	"nse-alerts/internal/models"
	"nse-alerts/pkg/utils"
)

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// EscapeHTML escapes the characters Telegram's HTML parse mode reserves.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// ComposeMessage renders the notification text for one record. metrics, when
// non-nil and non-empty, appends a results block.
func ComposeMessage(record models.Announcement, link string, metrics *models.FinancialMetrics) string {
	var b strings.Builder

	b.WriteString("<b>")
	b.WriteString(EscapeHTML(record.Symbol()))
	b.WriteString(" - ")
	b.WriteString(EscapeHTML(record.CompanyName()))
	b.WriteString("</b>\n\n")
	b.WriteString(EscapeHTML(record.Description()))
	b.WriteString("\n\n<i>")
	b.WriteString(EscapeHTML(record.AttachmentText()))
	b.WriteString("</i>\n\n<b>File:</b>\n")
	b.WriteString(EscapeHTML(link))

	if metrics != nil && (metrics.Present.Any() || metrics.Period != "" || metrics.Year != "") {
		b.WriteString("\n\n<b>Results:</b>")
		writeResults(&b, metrics)
	}
	return b.String()
}

func writeResults(b *strings.Builder, m *models.FinancialMetrics) {
	line := func(label, value string) {
		b.WriteString("\n")
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(EscapeHTML(value))
	}
	amount := func(label string, present bool, v decimal.Decimal) {
		if !present {
			return
		}
		s := utils.FormatIndianAmount(v)
		if m.Units != "" {
			s += " " + m.Units
		}
		line(label, s)
	}

	if m.Period != "" {
		line("Period", m.Period)
	}
	if m.Year != "" {
		line("Year", m.Year)
	}
	amount("Revenue", m.Present.Revenue, m.Revenue)
	amount("Total income", m.Present.TotalIncome, m.TotalIncome)
	amount("Other income", m.Present.OtherIncome, m.OtherIncome)
	amount("PBT", m.Present.PBT, m.PBT)
	amount("PAT", m.Present.PAT, m.PAT)
	if m.Present.EPS {
		line("EPS", m.EPS.StringFixed(2))
	}
}
