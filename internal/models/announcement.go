// Package models contains the data types shared across the pipeline.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// Well-known announcement field names as published by the NSE feed.
const (
	FieldSymbol         = "symbol"
	FieldDescription    = "desc"
	FieldAnnouncedAt    = "an_dt"
	FieldAttachment     = "attchmntFile"
	FieldCompanyName    = "sm_name"
	FieldAttachmentText = "attchmntText"
)

// Field is one named value of an announcement.
type Field struct {
	Name  string
	Value string
}

// Announcement is one row of the upstream feed. Field order follows the
// upstream payload; the field set is open.
type Announcement struct {
	Fields []Field
}

// NewAnnouncement builds an announcement from alternating name/value pairs.
func NewAnnouncement(pairs ...string) Announcement {
	a := Announcement{Fields: make([]Field, 0, len(pairs)/2)}
	for i := 0; i+1 < len(pairs); i += 2 {
		a.Set(pairs[i], pairs[i+1])
	}
	return a
}

// Get returns the value of the named field, or "" if absent.
func (a Announcement) Get(name string) string {
	for _, f := range a.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

// Has reports whether the named field is present.
func (a Announcement) Has(name string) bool {
	for _, f := range a.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// Set replaces the named field's value or appends it.
func (a *Announcement) Set(name, value string) {
	for i := range a.Fields {
		if a.Fields[i].Name == name {
			a.Fields[i].Value = value
			return
		}
	}
	a.Fields = append(a.Fields, Field{Name: name, Value: value})
}

// Names returns the field names in order.
func (a Announcement) Names() []string {
	names := make([]string, len(a.Fields))
	for i, f := range a.Fields {
		names[i] = f.Name
	}
	return names
}

func (a Announcement) Symbol() string         { return strings.TrimSpace(a.Get(FieldSymbol)) }
func (a Announcement) CompanyName() string    { return strings.TrimSpace(a.Get(FieldCompanyName)) }
func (a Announcement) Description() string    { return strings.TrimSpace(a.Get(FieldDescription)) }
func (a Announcement) Attachment() string     { return strings.TrimSpace(a.Get(FieldAttachment)) }
func (a Announcement) AttachmentText() string { return strings.TrimSpace(a.Get(FieldAttachmentText)) }

// Normalized returns a copy with every value whitespace-trimmed.
func (a Announcement) Normalized() Announcement {
	out := Announcement{Fields: make([]Field, len(a.Fields))}
	for i, f := range a.Fields {
		out.Fields[i] = Field{Name: f.Name, Value: strings.TrimSpace(f.Value)}
	}
	return out
}

// Project returns a copy restricted to the given columns, in the record's
// own order. Columns the record lacks are skipped.
func (a Announcement) Project(columns map[string]bool) Announcement {
	out := Announcement{Fields: make([]Field, 0, len(columns))}
	for _, f := range a.Fields {
		if columns[f.Name] {
			out.Fields = append(out.Fields, f)
		}
	}
	return out
}

// announcedAtLayouts are tried in order when parsing an_dt.
var announcedAtLayouts = []string{
	"02-Jan-2006 15:04:05",
	"02-Jan-2006 15:04",
	"02-Jan-2006",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// AnnouncedAt parses the announcement timestamp. ok is false when the field
// is missing or in an unknown layout.
func (a Announcement) AnnouncedAt() (t time.Time, ok bool) {
	raw := strings.TrimSpace(a.Get(FieldAnnouncedAt))
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range announcedAtLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Key identifies an announcement for dedup purposes.
type Key string

// RecordKey is the single identity function for announcements: a hash of
// every normalized, non-empty field, independent of field order. A missing
// field and an empty field hash the same.
func RecordKey(a Announcement) Key {
	pairs := make([]Field, 0, len(a.Fields))
	for _, f := range a.Fields {
		v := strings.TrimSpace(f.Value)
		if v == "" {
			continue
		}
		pairs = append(pairs, Field{Name: f.Name, Value: v})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Name != pairs[j].Name {
			return pairs[i].Name < pairs[j].Name
		}
		return pairs[i].Value < pairs[j].Value
	})

	h := sha256.New()
	for _, p := range pairs {
		h.Write([]byte(p.Name))
		h.Write([]byte{0})
		h.Write([]byte(p.Value))
		h.Write([]byte{0})
	}
	return Key(hex.EncodeToString(h.Sum(nil)))
}
