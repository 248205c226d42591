package enrich

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "nse-alerts/internal/errors"
	"nse-alerts/internal/logging"
	"nse-alerts/internal/models"
)

// Options wires a Pipeline. Renderer, Reader and Extractor may be nil to
// switch the matching stage off.
type Options struct {
	Renderer  Renderer
	Reader    DocumentReader
	Extractor MetricsExtractor
	// CallTimeout bounds each stage's external call.
	CallTimeout time.Duration
	HTTPClient  *http.Client
	Logger      zerolog.Logger
}

// Pipeline turns a record's attachment into an EnrichedAttachment.
type Pipeline struct {
	renderer  Renderer
	reader    DocumentReader
	extractor MetricsExtractor
	timeout   time.Duration
	client    *http.Client
	logger    zerolog.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(opts Options) *Pipeline {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	return &Pipeline{
		renderer:  opts.Renderer,
		reader:    opts.Reader,
		extractor: opts.Extractor,
		timeout:   opts.CallTimeout,
		client:    opts.HTTPClient,
		logger:    opts.Logger.With().Str("component", "enrich").Logger(),
	}
}

// Enrich never fails: each stage that cannot complete leaves the original
// attachment in place and is logged.
func (p *Pipeline) Enrich(ctx context.Context, record models.Announcement, matched []models.RoutingRule) models.EnrichedAttachment {
	attachment := record.Attachment()
	out := models.EnrichedAttachment{OriginalURL: attachment}
	logger := logging.FromContext(ctx, p.logger).With().
		Str("operation", "enrich").
		Str("symbol", record.Symbol()).
		Str("attachment", attachment).
		Logger()

	var doc *Document
	if IsXMLAttachment(attachment) {
		d, err := p.FetchDocument(ctx, attachment)
		if err != nil {
			logger.Warn().Err(err).Msg("Document fetch failed, keeping original attachment")
		} else {
			doc = &d
			if link, err := p.render(ctx, d); err != nil {
				logger.Warn().Err(err).Msg("Render failed, keeping original attachment")
			} else if link != "" {
				out.DocumentURL = link
				out.Rendered = true
			}
		}
	}

	if models.NeedsAnalysis(matched) && p.extractor != nil {
		metrics, err := p.analyze(ctx, record, attachment, doc)
		if err != nil {
			logger.Warn().Err(err).Msg("Analysis failed, continuing without metrics")
		} else {
			metrics.SourceURL = out.Link()
			out.Metrics = metrics
		}
	}

	return out
}

// FetchDocument downloads and flattens an XBRL attachment. An attachment
// with no non-blank elements is an error.
func (p *Pipeline) FetchDocument(ctx context.Context, url string) (Document, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Document{}, apperrors.NewEnrichError("fetch", url, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return Document{}, apperrors.NewEnrichError("fetch", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Document{}, apperrors.NewEnrichError("fetch", url, fmt.Errorf("%w: status %d", apperrors.ErrRenderFailed, resp.StatusCode))
	}

	doc, err := ParseXBRL(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return Document{}, apperrors.NewEnrichError("parse", url, err)
	}
	if len(doc.Fields) == 0 {
		return Document{}, apperrors.NewEnrichError("parse", url, fmt.Errorf("%w: no fields in document", apperrors.ErrRenderFailed))
	}
	doc.SourceURL = url
	return doc, nil
}

// Render fetches and renders one attachment. Used by the render command.
func (p *Pipeline) Render(ctx context.Context, url string) (string, error) {
	doc, err := p.FetchDocument(ctx, url)
	if err != nil {
		return "", err
	}
	return p.render(ctx, doc)
}

func (p *Pipeline) render(ctx context.Context, doc Document) (link string, err error) {
	if p.renderer == nil {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = apperrors.NewEnrichError("render", doc.SourceURL, fmt.Errorf("%w: panic: %v", apperrors.ErrRenderFailed, r))
		}
	}()

	link, err = p.renderer.Render(ctx, doc)
	if err != nil {
		return "", apperrors.NewEnrichError("render", doc.SourceURL, err)
	}
	return link, nil
}

func (p *Pipeline) analyze(ctx context.Context, record models.Announcement, attachment string, doc *Document) (*models.FinancialMetrics, error) {
	var text string
	switch {
	case doc != nil:
		text = doc.Text()
	case attachment != "" && p.reader != nil:
		readCtx, cancel := context.WithTimeout(ctx, p.timeout)
		t, err := p.reader.ReadText(readCtx, attachment)
		cancel()
		if err != nil {
			return nil, apperrors.NewEnrichError("read", attachment, err)
		}
		text = t
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.NewEnrichError("analyze", attachment, fmt.Errorf("%w: no document text", apperrors.ErrAnalysisFailed))
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	metrics, err := p.extractor.Extract(ctx, record.Symbol(), text)
	if err != nil {
		return nil, apperrors.NewEnrichError("analyze", attachment, err)
	}
	if metrics == nil || !metrics.Present.Any() {
		return nil, apperrors.NewEnrichError("analyze", attachment, fmt.Errorf("%w: no figures extracted", apperrors.ErrAnalysisFailed))
	}
	if metrics.Symbol == "" {
		metrics.Symbol = record.Symbol()
	}
	return metrics, nil
}
