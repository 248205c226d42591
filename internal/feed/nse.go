package feed

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "nse-alerts/internal/errors"
	"nse-alerts/internal/logging"
	"nse-alerts/internal/models"
)

const (
	// DefaultBaseURL is the public NSE site.
	DefaultBaseURL = "https://www.nseindia.com"
	// DefaultIndex selects the equities announcement list.
	DefaultIndex = "equities"

	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Safari/537.36"
	maxBodyBytes     = 32 << 20
)

// ClientConfig configures the NSE client.
type ClientConfig struct {
	BaseURL   string
	Index     string
	UserAgent string
	Timeout   time.Duration
}

// NSEClient talks to the corporate-announcements API. NSE sits behind a
// bot wall that wants session cookies from the home page, so the client
// keeps a cookie jar and can re-warm it.
type NSEClient struct {
	baseURL   string
	index     string
	userAgent string
	timeout   time.Duration
	logger    zerolog.Logger

	mu     sync.Mutex
	client *http.Client
}

// NewNSEClient creates a client with an empty session.
func NewNSEClient(cfg ClientConfig, logger zerolog.Logger) *NSEClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Index == "" {
		cfg.Index = DefaultIndex
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	c := &NSEClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		index:     cfg.Index,
		userAgent: cfg.UserAgent,
		timeout:   cfg.Timeout,
		logger:    logger.With().Str("component", "nse").Logger(),
	}
	c.client = c.newHTTPClient()
	return c
}

// APIURL returns the announcements endpoint.
func (c *NSEClient) APIURL() string {
	return c.baseURL + "/api/corporate-announcements?index=" + url.QueryEscape(c.index)
}

// Strategies returns the fetch strategies in the order they should be
// tried: reuse the session, then re-warm it.
func (c *NSEClient) Strategies() []Strategy {
	return []Strategy{&directStrategy{c: c}, &warmupStrategy{c: c}}
}

// Fetch fetches with the current session only.
func (c *NSEClient) Fetch(ctx context.Context) ([]models.Announcement, error) {
	return c.fetchWith(ctx, c.session())
}

func (c *NSEClient) newHTTPClient() *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{Jar: jar, Timeout: c.timeout}
}

func (c *NSEClient) session() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

func (c *NSEClient) setSession(client *http.Client) {
	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
}

func (c *NSEClient) fetchWith(ctx context.Context, client *http.Client) ([]models.Announcement, error) {
	body, status, err := c.get(ctx, client, c.APIURL(), "application/json, text/plain, */*")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, apperrors.NewFetchError("api", status, apperrors.ErrMalformedFeed)
	}

	records, err := DecodeAnnouncements(body)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Int("records", len(records)).Msg("Announcements decoded")
	return records, nil
}

func (c *NSEClient) get(ctx context.Context, client *http.Client, target, accept string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	// no br: decodeBody only handles these two
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	req.Header.Set("Referer", c.baseURL+"/")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		logging.LogAPICall(c.logger, http.MethodGet, target, 0, time.Since(start), err)
		return nil, 0, fmt.Errorf("requesting %s: %w", target, err)
	}
	defer resp.Body.Close()
	logging.LogAPICall(c.logger, http.MethodGet, target, resp.StatusCode, time.Since(start), nil)

	reader, err := decodeBody(resp)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	body, err := io.ReadAll(io.LimitReader(reader, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading body: %w", err)
	}
	return body, resp.StatusCode, nil
}

func decodeBody(resp *http.Response) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %v", apperrors.ErrMalformedFeed, err)
		}
		return zr, nil
	case "deflate":
		// Servers disagree on whether deflate means zlib-wrapped or raw.
		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, err
		}
		if zr, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
			return zr, nil
		}
		return flate.NewReader(bytes.NewReader(raw)), nil
	case "", "identity":
		return resp.Body, nil
	default:
		return nil, fmt.Errorf("%w: unsupported content encoding %q", apperrors.ErrMalformedFeed, resp.Header.Get("Content-Encoding"))
	}
}

type directStrategy struct{ c *NSEClient }

func (s *directStrategy) Name() string { return "direct" }

func (s *directStrategy) Fetch(ctx context.Context) ([]models.Announcement, error) {
	return s.c.fetchWith(ctx, s.c.session())
}

// warmupStrategy starts a fresh session from the home page, then calls the
// API. A successful warm session replaces the shared one.
type warmupStrategy struct{ c *NSEClient }

func (s *warmupStrategy) Name() string { return "warmup" }

func (s *warmupStrategy) Fetch(ctx context.Context) ([]models.Announcement, error) {
	client := s.c.newHTTPClient()

	_, status, err := s.c.get(ctx, client, s.c.baseURL, "text/html,application/xhtml+xml,*/*")
	if err != nil {
		return nil, fmt.Errorf("warming session: %w", err)
	}
	s.c.logger.Debug().Int("status", status).Msg("Session warmed")

	records, err := s.c.fetchWith(ctx, client)
	if err != nil {
		return nil, err
	}
	s.c.setSession(client)
	return records, nil
}

// DecodeAnnouncements parses the API body. The top level is either a list
// of objects or an object with a "data" list. Field order within each
// object is kept as sent.
func DecodeAnnouncements(body []byte) ([]models.Announcement, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedFeed, err)
	}

	switch tok {
	case json.Delim('['):
		return decodeList(dec)
	case json.Delim('{'):
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedFeed, err)
			}
			key, _ := keyTok.(string)
			if key != "data" {
				var skip json.RawMessage
				if err := dec.Decode(&skip); err != nil {
					return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedFeed, err)
				}
				continue
			}
			open, err := dec.Token()
			if err != nil || open != json.Delim('[') {
				return nil, fmt.Errorf("%w: data is not a list", apperrors.ErrMalformedFeed)
			}
			return decodeList(dec)
		}
		return nil, fmt.Errorf("%w: object without data list", apperrors.ErrMalformedFeed)
	default:
		return nil, fmt.Errorf("%w: unexpected top-level value", apperrors.ErrMalformedFeed)
	}
}

func decodeList(dec *json.Decoder) ([]models.Announcement, error) {
	var records []models.Announcement
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedFeed, err)
		}
		if tok != json.Delim('{') {
			return nil, fmt.Errorf("%w: list element %d is not an object", apperrors.ErrMalformedFeed, len(records))
		}

		var rec models.Announcement
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedFeed, err)
			}
			key, _ := keyTok.(string)

			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return nil, fmt.Errorf("%w: field %s: %v", apperrors.ErrMalformedFeed, key, err)
			}
			rec.Set(key, scalarText(raw))
		}
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedFeed, err)
		}
		records = append(records, rec)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedFeed, err)
	}
	return records, nil
}

// scalarText turns a JSON value into the cell text stored in the ledger.
func scalarText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
		return string(trimmed)
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err == nil {
			return buf.String()
		}
		return string(trimmed)
	default:
		return string(trimmed)
	}
}
