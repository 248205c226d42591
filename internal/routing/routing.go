package routing

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	apperrors "nse-alerts/internal/errors"
	"nse-alerts/internal/models"
)

// Table reloads the rule set from its source. Each reload is a fresh
// snapshot handed to the caller; nothing is cached between cycles.
type Table struct {
	source Source
	logger zerolog.Logger
}

// NewTable creates a Table over the given source.
func NewTable(source Source, logger zerolog.Logger) *Table {
	return &Table{
		source: source,
		logger: logger.With().Str("component", "routing").Logger(),
	}
}

// Source returns the underlying rule source.
func (t *Table) Source() Source {
	return t.source
}

// Reload loads and validates the rules. A failed load degrades to an empty
// rule set; malformed rows are dropped with a warning.
func (t *Table) Reload(ctx context.Context) []models.RoutingRule {
	rules, dropped, err := t.Validate(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Str("source", t.source.String()).Msg("Routing reload failed, using empty rule set")
		return nil
	}
	for _, d := range dropped {
		t.logger.Warn().Err(d).Msg("Routing rule dropped")
	}
	t.logger.Debug().Int("rules", len(rules)).Int("dropped", len(dropped)).Msg("Routing rules reloaded")
	return rules
}

// Validate loads the rules and returns the valid ones plus a list of
// per-row problems. The error is non-nil only when the source itself
// could not be read.
func (t *Table) Validate(ctx context.Context) ([]models.RoutingRule, []error, error) {
	raw, err := t.source.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	rules, dropped := Coerce(raw)
	return rules, dropped, nil
}

// Coerce validates raw rows into rules. Row numbers in the returned errors
// count the header as row 1.
func Coerce(raw []RawRule) ([]models.RoutingRule, []error) {
	var (
		rules   []models.RoutingRule
		dropped []error
	)

	for i, r := range raw {
		row := i + 2
		dest := strings.TrimSpace(r.DestinationID)
		if dest == "" {
			dropped = append(dropped, apperrors.NewValidationError(fmt.Sprintf("row %d destination_id", row), r.DestinationID, "empty destination"))
			continue
		}

		keywords := splitKeywords(r.Keywords)
		if len(keywords) == 0 {
			dropped = append(dropped, apperrors.NewValidationError(fmt.Sprintf("row %d keywords", row), r.Keywords, "no keywords"))
			continue
		}

		mode, ok := models.ParseMode(r.Mode)
		if !ok {
			dropped = append(dropped, apperrors.NewValidationError(fmt.Sprintf("row %d mode", row), r.Mode, "unknown mode"))
			continue
		}

		rules = append(rules, models.RoutingRule{
			DestinationID: dest,
			Keywords:      keywords,
			Mode:          mode,
		})
	}

	return rules, dropped
}

func splitKeywords(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == '|'
	})

	seen := make(map[string]bool, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		kw := strings.ToLower(strings.TrimSpace(p))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
	}
	return out
}

// Match returns every rule matching the record, in rule order.
func Match(record models.Announcement, rules []models.RoutingRule) []models.RoutingRule {
	var matched []models.RoutingRule
	for _, r := range rules {
		if r.Matches(record) {
			matched = append(matched, r)
		}
	}
	return matched
}
