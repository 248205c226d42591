// Package enrich derives a readable document and optional financial
// figures from an announcement attachment.
package enrich

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/html/charset"

	apperrors "nse-alerts/internal/errors"
)

// Well-known XBRL element names used for the document title.
const (
	FieldNSESymbol   = "NSESymbol"
	FieldCompanyName = "NameOfTheCompany"
)

// DocumentField is one leaf element of an XBRL filing.
type DocumentField struct {
	Name  string
	Value string
}

// Document is the flattened content of a filing.
type Document struct {
	SourceURL string
	Fields    []DocumentField
}

// Get returns the named field's value or "".
func (d Document) Get(name string) string {
	for _, f := range d.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

// Text renders the fields as "Label: value" lines for analysis.
func (d Document) Text() string {
	var sb strings.Builder
	for _, f := range d.Fields {
		sb.WriteString(Label(f.Name))
		sb.WriteString(": ")
		sb.WriteString(f.Value)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// IsXMLAttachment reports whether ref points at an .xml file, ignoring case
// and any query string.
func IsXMLAttachment(ref string) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return false
	}
	p := ref
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		p = u.Path
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return strings.HasSuffix(strings.ToLower(p), ".xml")
}

type element struct {
	name     string
	seq      int
	text     strings.Builder
	sawChild bool
}

type capture struct {
	seq   int
	name  string
	value string
}

// ParseXBRL walks every element and keeps those with non-blank leading
// text. Namespaces are dropped. A repeated name keeps its first position
// and takes the last value.
func ParseXBRL(r io.Reader) (Document, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false
	dec.CharsetReader = charset.NewReaderLabel

	var (
		stack    []*element
		captured []capture
		seq      int
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Document{}, fmt.Errorf("%w: parsing xml: %v", apperrors.ErrRenderFailed, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if n := len(stack); n > 0 {
				stack[n-1].sawChild = true
			}
			stack = append(stack, &element{name: t.Name.Local, seq: seq})
			seq++
		case xml.CharData:
			if n := len(stack); n > 0 && !stack[n-1].sawChild {
				stack[n-1].text.Write(t)
			}
		case xml.EndElement:
			n := len(stack)
			if n == 0 {
				continue
			}
			el := stack[n-1]
			stack = stack[:n-1]
			if v := strings.TrimSpace(el.text.String()); v != "" {
				captured = append(captured, capture{seq: el.seq, name: el.name, value: v})
			}
		}
	}

	sort.SliceStable(captured, func(i, j int) bool { return captured[i].seq < captured[j].seq })

	doc := Document{}
	index := make(map[string]int, len(captured))
	for _, c := range captured {
		if i, ok := index[c.name]; ok {
			doc.Fields[i].Value = c.value
			continue
		}
		index[c.name] = len(doc.Fields)
		doc.Fields = append(doc.Fields, DocumentField{Name: c.name, Value: c.value})
	}
	return doc, nil
}
