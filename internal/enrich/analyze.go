package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "nse-alerts/internal/errors"
	"nse-alerts/internal/models"
)

// DocumentReader downloads an attachment and extracts its text.
type DocumentReader interface {
	ReadText(ctx context.Context, url string) (string, error)
}

// MetricsExtractor pulls financial figures out of filing text.
type MetricsExtractor interface {
	Extract(ctx context.Context, symbol, text string) (*models.FinancialMetrics, error)
}

// PDFTextReader downloads a PDF and runs pdftotext (poppler-utils) on it.
type PDFTextReader struct {
	Binary   string
	MaxBytes int64
	client   *http.Client
}

// NewPDFTextReader creates a reader using the pdftotext binary on PATH.
func NewPDFTextReader(timeout time.Duration) *PDFTextReader {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &PDFTextReader{
		Binary:   "pdftotext",
		MaxBytes: 50 << 20,
		client:   &http.Client{Timeout: timeout},
	}
}

// ReadText downloads url and returns its text. Scanned (image-only) PDFs
// yield an error rather than empty text.
func (r *PDFTextReader) ReadText(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: creating request: %v", apperrors.ErrAnalysisFailed, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: downloading %s: %v", apperrors.ErrAnalysisFailed, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: download returned status %d", apperrors.ErrAnalysisFailed, resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "nse-alerts-*.pdf")
	if err != nil {
		return "", fmt.Errorf("%w: creating temp file: %v", apperrors.ErrAnalysisFailed, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, io.LimitReader(resp.Body, r.MaxBytes)); err != nil {
		tmp.Close()
		return "", fmt.Errorf("%w: saving pdf: %v", apperrors.ErrAnalysisFailed, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: saving pdf: %v", apperrors.ErrAnalysisFailed, err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.Binary, "-raw", tmp.Name(), "-")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: pdftotext: %v: %s", apperrors.ErrAnalysisFailed, err, strings.TrimSpace(stderr.String()))
	}

	text := stdout.String()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: pdf has no extractable text", apperrors.ErrAnalysisFailed)
	}
	return SelectFinancialPages(text), nil
}

var financialKeywords = []string{
	"revenue from operations",
	"profit before tax",
	"profit after tax",
	"profit for the period",
	"total income",
	"earnings per share",
}

// SelectFinancialPages keeps the form-feed separated pages that mention
// results line items. When no page does, the whole text is returned.
func SelectFinancialPages(text string) string {
	pages := strings.Split(text, "\f")
	var keep []string
	for _, p := range pages {
		lower := strings.ToLower(p)
		for _, kw := range financialKeywords {
			if strings.Contains(lower, kw) {
				keep = append(keep, p)
				break
			}
		}
	}
	if len(keep) == 0 {
		return text
	}
	return strings.Join(keep, "\f")
}

const metricsPrompt = `Extract these financial metrics from the provided text and return them as JSON:

1. revenue_from_operations
2. profit_after_tax
3. profit_before_tax
4. total_income
5. other_income
6. earnings_per_share

Also give the quarterly values with period and year ended as a list.

Return only the raw JSON object. Do not wrap it in markdown code fences.

{
  "revenue_from_operations": number_or_null,
  "profit_after_tax": number_or_null,
  "profit_before_tax": number_or_null,
  "total_income": number_or_null,
  "other_income": number_or_null,
  "earnings_per_share": number_or_null,
  "units": "crores_or_lakhs_or_null",
  "quarterly_data": [
    {"period": "Q1/Q2/Q3/Q4", "year_ended": "YYYY"}
  ]
}`

// maxPromptChars bounds the filing text sent to a model.
const maxPromptChars = 60000

func truncateText(text string) string {
	if len(text) <= maxPromptChars {
		return text
	}
	cut := maxPromptChars
	for cut > 0 && !isRuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

type metricsReply struct {
	Revenue     json.RawMessage `json:"revenue_from_operations"`
	PAT         json.RawMessage `json:"profit_after_tax"`
	PBT         json.RawMessage `json:"profit_before_tax"`
	TotalIncome json.RawMessage `json:"total_income"`
	OtherIncome json.RawMessage `json:"other_income"`
	EPS         json.RawMessage `json:"earnings_per_share"`
	Units       json.RawMessage `json:"units"`
	Quarterly   []struct {
		Period    json.RawMessage `json:"period"`
		YearEnded json.RawMessage `json:"year_ended"`
	} `json:"quarterly_data"`
}

// ParseMetricsReply decodes a model reply into metrics. Code fences are
// stripped and numbers are parsed leniently. A reply with no figures at all
// is an error.
func ParseMetricsReply(symbol, reply string) (*models.FinancialMetrics, error) {
	content := StripCodeFences(reply)
	if content == "" {
		return nil, fmt.Errorf("%w: empty model reply", apperrors.ErrAnalysisFailed)
	}

	var r metricsReply
	if err := json.Unmarshal([]byte(content), &r); err != nil {
		return nil, fmt.Errorf("%w: decoding model reply: %v", apperrors.ErrAnalysisFailed, err)
	}

	m := &models.FinancialMetrics{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Units:     textValue(r.Units),
		CreatedAt: time.Now(),
	}
	m.Revenue, m.Present.Revenue = ParseAmount(r.Revenue)
	m.PAT, m.Present.PAT = ParseAmount(r.PAT)
	m.PBT, m.Present.PBT = ParseAmount(r.PBT)
	m.TotalIncome, m.Present.TotalIncome = ParseAmount(r.TotalIncome)
	m.OtherIncome, m.Present.OtherIncome = ParseAmount(r.OtherIncome)
	m.EPS, m.Present.EPS = ParseAmount(r.EPS)
	if len(r.Quarterly) > 0 {
		m.Period = textValue(r.Quarterly[0].Period)
		m.Year = textValue(r.Quarterly[0].YearEnded)
	}

	if !m.Present.Any() {
		return nil, fmt.Errorf("%w: no figures in model reply", apperrors.ErrAnalysisFailed)
	}
	return m, nil
}

// StripCodeFences removes a surrounding ``` or ```json fence.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ParseAmount accepts JSON numbers, numeric strings with thousands
// separators or currency marks, and accounting negatives "(123)".
// ok is false for null, blanks and anything unparseable.
func ParseAmount(raw json.RawMessage) (decimal.Decimal, bool) {
	s := textValue(raw)
	if s == "" {
		return decimal.Zero, false
	}

	s = strings.TrimSpace(s)
	for _, mark := range []string{"₹", "Rs.", "Rs", "INR", ",", " ", "'", `"`} {
		s = strings.ReplaceAll(s, mark, "")
	}
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}

	switch strings.ToLower(s) {
	case "", "null", "none", "nan", "n/a", "-":
		return decimal.Zero, false
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		d = d.Neg()
	}
	return d, true
}

// textValue returns a JSON scalar as text; null and non-scalars are "".
func textValue(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return ""
		}
		if strings.EqualFold(strings.TrimSpace(s), "null") {
			return ""
		}
		return strings.TrimSpace(s)
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return ""
	}
	return string(trimmed)
}
