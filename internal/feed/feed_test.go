package feed

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "nse-alerts/internal/errors"
	"nse-alerts/internal/models"
)

const sampleFeed = `[
 {"symbol":"ABC","desc":"Outcome of Board Meeting","an_dt":"02-Jan-2024 10:00:00","seq_id":12345,"attchmntFile":null,"extra":{"a": 1}},
 {"symbol":"DEF","desc":"Financial Results","an_dt":"03-Jan-2024 11:00:00"}
]`

func TestDecodeAnnouncementsPreservesOrderAndScalars(t *testing.T) {
	records, err := DecodeAnnouncements([]byte(sampleFeed))
	if err != nil {
		t.Fatalf("DecodeAnnouncements() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	first := records[0]
	wantOrder := []string{"symbol", "desc", "an_dt", "seq_id", "attchmntFile", "extra"}
	names := first.Names()
	if len(names) != len(wantOrder) {
		t.Fatalf("names = %v, want %v", names, wantOrder)
	}
	for i := range wantOrder {
		if names[i] != wantOrder[i] {
			t.Errorf("field %d = %s, want %s", i, names[i], wantOrder[i])
		}
	}

	if got := first.Get("seq_id"); got != "12345" {
		t.Errorf("seq_id = %q, want literal number text", got)
	}
	if got := first.Get("attchmntFile"); got != "" {
		t.Errorf("null should decode to empty string, got %q", got)
	}
	if got := first.Get("extra"); got != `{"a":1}` {
		t.Errorf("nested value = %q, want compact JSON", got)
	}
}

func TestDecodeAnnouncementsShapes(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int
		wantErr bool
	}{
		{"data wrapper", `{"meta":{"x":1},"data":[{"symbol":"A"}]}`, 1, false},
		{"empty list", `[]`, 0, false},
		{"html bot wall", `<html><body>Access Denied</body></html>`, 0, true},
		{"scalar", `"nope"`, 0, true},
		{"object without data", `{"msg":"x"}`, 0, true},
		{"list of scalars", `[1,2]`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeAnnouncements([]byte(tt.body))
			if tt.wantErr {
				if !errors.Is(err, apperrors.ErrMalformedFeed) {
					t.Errorf("expected ErrMalformedFeed, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d records, want %d", len(got), tt.want)
			}
		})
	}
}

// newNSEServer mimics the bot wall: the API only answers once the home
// page has handed out a cookie.
func newNSEServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "nsit", Value: "ok", Path: "/"})
		w.Write([]byte("<html>home</html>"))
	})
	mux.HandleFunc("/api/corporate-announcements", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("index") != "equities" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if _, err := r.Cookie("nsit"); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("<html>denied</html>"))
			return
		}
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		zw.Write([]byte(sampleFeed))
		zw.Close()
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Type", "application/json")
		w.Write(buf.Bytes())
	})
	return httptest.NewServer(mux)
}

func TestChainFallsBackToWarmup(t *testing.T) {
	srv := newNSEServer(t)
	defer srv.Close()

	client := NewNSEClient(ClientConfig{BaseURL: srv.URL, Timeout: 2 * time.Second}, zerolog.Nop())
	chain := NewChain(5*time.Second, zerolog.Nop(), client.Strategies()...)

	records, err := chain.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(records) != 2 || records[1].Symbol() != "DEF" {
		t.Fatalf("unexpected records: %+v", records)
	}

	// the warm session is kept, so the direct path now succeeds alone
	if _, err := client.Fetch(context.Background()); err != nil {
		t.Errorf("direct fetch after warmup failed: %v", err)
	}
}

type failingStrategy struct {
	name  string
	calls *[]string
}

func (f *failingStrategy) Name() string { return f.name }

func (f *failingStrategy) Fetch(ctx context.Context) ([]models.Announcement, error) {
	*f.calls = append(*f.calls, f.name)
	return nil, errors.New(f.name + " broke")
}

func TestChainAggregatesFailures(t *testing.T) {
	var calls []string
	chain := NewChain(time.Second, zerolog.Nop(),
		&failingStrategy{name: "direct", calls: &calls},
		&failingStrategy{name: "warmup", calls: &calls},
	)

	_, err := chain.Fetch(context.Background())
	if !errors.Is(err, apperrors.ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
	var fe *apperrors.FetchError
	if !errors.As(err, &fe) || fe.Strategy != "warmup" {
		t.Errorf("expected FetchError from last strategy, got %v", err)
	}
	if len(calls) != 2 || calls[0] != "direct" || calls[1] != "warmup" {
		t.Errorf("strategies tried out of order: %v", calls)
	}
}

func TestNonOKStatusIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewNSEClient(ClientConfig{BaseURL: srv.URL}, zerolog.Nop())
	_, err := client.Fetch(context.Background())
	if !errors.Is(err, apperrors.ErrMalformedFeed) {
		t.Errorf("expected ErrMalformedFeed, got %v", err)
	}
	var fe *apperrors.FetchError
	if !errors.As(err, &fe) || fe.Status != http.StatusForbidden {
		t.Errorf("expected status on FetchError, got %v", err)
	}
}
