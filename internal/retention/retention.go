// Package retention removes generated files once they outlive their
// retention period.
package retention

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Policy keeps files under Dir for MaxAge. A zero MaxAge removes every file.
type Policy struct {
	Name   string
	Dir    string
	MaxAge time.Duration
}

// Result is the outcome of one sweep.
type Result struct {
	Policy  string
	Scanned int
	Removed []string
	Bytes   int64
	Errors  []CleanupError
}

// CleanupError pairs a path with its removal error.
type CleanupError struct {
	Path  string
	Error error
}

// DefaultPolicies returns the policies for the folders the pipeline writes:
// rendered PDFs, plus images, downloads and temp uploads.
func DefaultPolicies(filesDir string, pdfMaxAge, mediaMaxAge time.Duration) []Policy {
	return []Policy{
		{Name: "pdf", Dir: filepath.Join(filesDir, "pdf"), MaxAge: pdfMaxAge},
		{Name: "images", Dir: filepath.Join(filesDir, "images"), MaxAge: mediaMaxAge},
		{Name: "downloads", Dir: filepath.Join(filesDir, "downloads"), MaxAge: mediaMaxAge},
		{Name: "temp_uploads", Dir: filepath.Join(filesDir, "temp_uploads"), MaxAge: mediaMaxAge},
	}
}

// Sweep walks p.Dir and removes files older than p.MaxAge. With dryRun set
// it only reports what would go. A missing directory is not an error.
func Sweep(ctx context.Context, p Policy, dryRun bool) (Result, error) {
	result := Result{Policy: p.Name}

	dir := strings.TrimSpace(p.Dir)
	if dir == "" {
		return result, nil
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return result, nil
	}

	cutoff := time.Now().Add(-p.MaxAge)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
			return nil
		}
		result.Scanned++

		if p.MaxAge > 0 && !info.ModTime().Before(cutoff) {
			return nil
		}
		if !dryRun {
			if err := os.Remove(path); err != nil {
				result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
				return nil
			}
		}
		result.Removed = append(result.Removed, path)
		result.Bytes += info.Size()
		return nil
	})

	return result, err
}

// SweepAll applies every policy and logs a summary line per policy.
func SweepAll(ctx context.Context, policies []Policy, dryRun bool, logger zerolog.Logger) ([]Result, error) {
	results := make([]Result, 0, len(policies))
	for _, p := range policies {
		r, err := Sweep(ctx, p, dryRun)
		results = append(results, r)
		if err != nil {
			return results, err
		}
		for _, e := range r.Errors {
			logger.Warn().Err(e.Error).Str("path", e.Path).Msg("Failed to remove file")
		}
		logger.Info().
			Str("policy", p.Name).
			Int("scanned", r.Scanned).
			Int("removed", len(r.Removed)).
			Int64("bytes", r.Bytes).
			Bool("dry_run", dryRun).
			Msg("Retention sweep")
	}
	return results, nil
}

// Run sweeps once immediately and then every interval until ctx is done.
func Run(ctx context.Context, policies []Policy, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := SweepAll(ctx, policies, false, logger); err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Msg("Retention sweep aborted")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
