// Package routing loads keyword routing rules and matches announcements
// against them.
package routing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	apperrors "nse-alerts/internal/errors"
)

// RawRule is one row of the rules sheet before validation.
type RawRule struct {
	DestinationID string `csv:"destination_id"`
	Keywords      string `csv:"keywords"`
	Mode          string `csv:"mode"`
}

// Source loads raw rule rows from somewhere.
type Source interface {
	Load(ctx context.Context) ([]RawRule, error)
	String() string
}

// NewSource picks an HTTP source for http(s) locations and a file source
// otherwise.
func NewSource(location string, timeout time.Duration) Source {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return NewHTTPSource(location, timeout)
	}
	return &FileSource{Path: location}
}

// HTTPSource reads a CSV export, such as a published Google Sheet
// (".../export?format=csv&gid=0").
type HTTPSource struct {
	URL    string
	client *http.Client
}

// NewHTTPSource creates an HTTPSource with the given request timeout.
func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPSource{URL: url, client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSource) String() string { return s.URL }

// Load fetches and parses the sheet.
func (s *HTTPSource) Load(ctx context.Context) ([]RawRule, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", apperrors.ErrRoutingLoad, err)
	}
	req.Header.Set("Accept", "text/csv")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrRoutingLoad, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: rules source returned status %d", apperrors.ErrRoutingLoad, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", apperrors.ErrRoutingLoad, err)
	}
	return parseRules(body)
}

// FileSource reads a local CSV file.
type FileSource struct {
	Path string
}

func (s *FileSource) String() string { return s.Path }

// Load reads and parses the file.
func (s *FileSource) Load(ctx context.Context) ([]RawRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrRoutingLoad, err)
	}
	return parseRules(body)
}

func parseRules(body []byte) ([]RawRule, error) {
	body = normalizeHeader(bytes.TrimPrefix(body, []byte("\ufeff")))
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	var rows []*RawRule
	if err := gocsv.Unmarshal(bytes.NewReader(body), &rows); err != nil {
		return nil, fmt.Errorf("%w: parsing csv: %v", apperrors.ErrRoutingLoad, err)
	}

	out := make([]RawRule, 0, len(rows))
	for _, r := range rows {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

// normalizeHeader lower-cases the header line and turns spaces into
// underscores so "Destination ID" binds to destination_id.
func normalizeHeader(body []byte) []byte {
	idx := bytes.IndexByte(body, '\n')
	header, rest := body, []byte(nil)
	if idx >= 0 {
		header, rest = body[:idx], body[idx:]
	}

	cols := strings.Split(strings.TrimRight(string(header), "\r"), ",")
	for i, c := range cols {
		c = strings.ToLower(strings.Trim(strings.TrimSpace(c), `"`))
		cols[i] = strings.ReplaceAll(c, " ", "_")
	}

	out := []byte(strings.Join(cols, ","))
	return append(out, rest...)
}
