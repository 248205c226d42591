package enrich

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/go-pdf/fpdf"
	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	apperrors "nse-alerts/internal/errors"
)

// Renderer turns a flattened filing into a human-readable document and
// returns where it can be reached.
type Renderer interface {
	Render(ctx context.Context, doc Document) (string, error)
}

// PDFRenderer writes a Letter-size PDF per filing.
type PDFRenderer struct {
	Dir           string
	PublicBaseURL string

	now    func() time.Time
	suffix func() string
}

// NewPDFRenderer creates a renderer writing into dir. Rendered files are
// linked as publicBaseURL/filename, or by path when the base URL is empty.
func NewPDFRenderer(dir, publicBaseURL string) *PDFRenderer {
	return &PDFRenderer{Dir: dir, PublicBaseURL: publicBaseURL, now: time.Now, suffix: shortID}
}

func shortID() string {
	return uuid.NewString()[:8]
}

// Render writes the PDF and returns its URL.
func (r *PDFRenderer) Render(ctx context.Context, doc Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(doc.Fields) == 0 {
		return "", fmt.Errorf("%w: document has no fields", apperrors.ErrRenderFailed)
	}
	if err := os.MkdirAll(r.Dir, 0755); err != nil {
		return "", fmt.Errorf("%w: creating render dir: %v", apperrors.ErrRenderFailed, err)
	}

	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetMargins(50, 50, 50)
	pdf.SetAutoPageBreak(true, 50)
	pdf.SetTitle(Title(doc), true)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 18)
	pdf.SetTextColor(0, 0, 139)
	pdf.MultiCell(0, 22, tr(Title(doc)), "", "C", false)
	pdf.Ln(20)

	pdf.SetTextColor(0, 0, 0)
	for _, f := range doc.Fields {
		if f.Name == FieldNSESymbol || f.Name == FieldCompanyName {
			continue
		}
		pdf.SetFont("Helvetica", "B", 12)
		pdf.MultiCell(0, 16, tr(Label(f.Name)+":"), "", "L", false)
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(0, 14, tr(f.Value), "", "L", false)
		pdf.Ln(10)
	}

	filename, err := r.write(pdf, doc)
	if err != nil {
		return "", err
	}
	path := filepath.Join(r.Dir, filename)

	if r.PublicBaseURL == "" {
		return path, nil
	}
	return strings.TrimRight(r.PublicBaseURL, "/") + "/" + filename, nil
}

// write saves pdf under a name no other render holds. Filings for one
// symbol rendered in the same second differ by suffix; the file is created
// exclusively so a clash picks a new suffix instead of overwriting.
func (r *PDFRenderer) write(pdf *fpdf.Fpdf, doc Document) (string, error) {
	now, suffix := time.Now, shortID
	if r.now != nil {
		now = r.now
	}
	if r.suffix != nil {
		suffix = r.suffix
	}

	for attempt := 0; attempt < 5; attempt++ {
		filename := Filename(doc, now(), suffix())
		path := filepath.Join(r.Dir, filename)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%w: creating pdf: %v", apperrors.ErrRenderFailed, err)
		}
		err = pdf.Output(f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(path)
			return "", fmt.Errorf("%w: writing pdf: %v", apperrors.ErrRenderFailed, err)
		}
		return filename, nil
	}
	return "", fmt.Errorf("%w: no free file name for %s", apperrors.ErrRenderFailed, Title(doc))
}

// Title is "{NSESymbol} - {NameOfTheCompany}" with fallbacks.
func Title(doc Document) string {
	symbol := doc.Get(FieldNSESymbol)
	if symbol == "" {
		symbol = "N/A"
	}
	name := doc.Get(FieldCompanyName)
	if name == "" {
		name = "Corporate Announcement"
	}
	return symbol + " - " + name
}

// Filename is CA_{symbol}_{unix}_{suffix}.pdf, where symbol falls back to
// the company name and then "Unknown".
func Filename(doc Document, at time.Time, suffix string) string {
	name := doc.Get(FieldNSESymbol)
	if name == "" {
		name = doc.Get(FieldCompanyName)
	}
	if name == "" {
		name = "Unknown"
	}
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, name)
	return fmt.Sprintf("CA_%s_%d_%s.pdf", name, at.Unix(), suffix)
}

// Label turns an element name into a heading: camel case is split into
// words, underscores become spaces, and each word is title-cased.
// Acronyms stay upper case ("NSESymbol" is "NSE Symbol").
func Label(name string) string {
	runes := []rune(strings.ReplaceAll(name, "_", " "))

	var sb strings.Builder
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				sb.WriteByte(' ')
			}
		}
		sb.WriteRune(r)
	}

	// Casers are stateful, so one per call.
	return cases.Title(language.English, cases.NoLower).String(strings.Join(strings.Fields(sb.String()), " "))
}
