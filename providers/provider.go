package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"docdl/config"
	"docdl/models"
)

// ErrNoCandidates signalisiert, dass eine Seite keine passenden Links enthält.
// In der Regel hat sich das HTML der Quelle geändert.
var ErrNoCandidates = errors.New("no candidates found")

// Getter ist der Teil des Fetchers, den die Strategien benötigen.
type Getter interface {
	Get(ctx context.Context, rawURL string) (*http.Response, error)
}

// Strategy ist das Interface, das jede Quellenart (z.B. IMF, IEA) implementieren muss.
type Strategy interface {
	// Kind gibt die Quellenart zurück, unter der die Strategie registriert wird.
	Kind() string

	// Discover listet die aktuellen Publikationsseiten einer Quelle.
	Discover(ctx context.Context, src config.Source) ([]models.DiscoveredItem, error)

	// Resolve findet zu einer Publikationsseite den PDF-Link.
	Resolve(ctx context.Context, src config.Source, item models.DiscoveredItem) (models.ResolvedDocument, error)
}

// Registry ordnet Quellenarten ihren Strategien zu.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry erstellt eine Registry mit den übergebenen Strategien.
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: map[string]Strategy{}}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

// Register fügt eine Strategie hinzu oder ersetzt eine vorhandene.
func (r *Registry) Register(s Strategy) {
	if r.strategies == nil {
		r.strategies = map[string]Strategy{}
	}
	r.strategies[s.Kind()] = s
}

// Resolve gibt die Strategie für kind zurück.
func (r *Registry) Resolve(kind string) (Strategy, error) {
	if s, ok := r.strategies[kind]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("no strategy registered for kind %q", kind)
}

// FetchDocument lädt eine HTML-Seite und parst sie mit goquery.
func FetchDocument(ctx context.Context, g Getter, pageURL string) (*goquery.Document, error) {
	resp, err := g.Get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: unexpected status %s", pageURL, resp.Status)
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse html %s: %w", pageURL, err)
	}
	return doc, nil
}

// AbsURL löst href relativ zu base auf.
func AbsURL(base, href string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	return b.ResolveReference(ref).String(), nil
}

// IsPDFLink meldet, ob href auf eine PDF-Datei zeigt.
func IsPDFLink(href string) bool {
	return strings.HasSuffix(strings.ToLower(strings.TrimSpace(href)), ".pdf")
}

// PDFLinks sammelt alle PDF-Links einer Seite in Dokumentreihenfolge, für die
// match true liefert. Die Links sind absolut relativ zu pageURL.
func PDFLinks(doc *goquery.Document, pageURL string, match func(href string) bool) []string {
	var out []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !IsPDFLink(href) || (match != nil && !match(href)) {
			return
		}
		abs, err := AbsURL(pageURL, href)
		if err != nil {
			return
		}
		out = append(out, abs)
	})
	return out
}

// LinkText liefert den bereinigten Text eines Ankers.
func LinkText(a *goquery.Selection) string {
	return strings.Join(strings.Fields(a.Text()), " ")
}
