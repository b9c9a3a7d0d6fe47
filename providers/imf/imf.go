package imf

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"docdl/config"
	"docdl/models"
	"docdl/providers"
)

// Kind ist die Quellenart in der sources.yaml.
const Kind = "imf"

const (
	defaultIssuePath = "/publications/reo/meca/issues/"
	defaultMediaPath = "/-/media/"
)

// Strategy findet die neueste Ausgabe einer IMF-Publikationsreihe und deren PDF.
//
// Optionen in meta:
//
//	link_contains  Pfadfragment der Ausgaben-Links (Default: REO MECA)
//	pdf_contains   Pfadfragment des PDF-Links (Default: /-/media/)
type Strategy struct {
	getter providers.Getter
	logger *zap.Logger
}

func New(getter providers.Getter, logger *zap.Logger) *Strategy {
	return &Strategy{getter: getter, logger: logger}
}

func (s *Strategy) Kind() string { return Kind }

// Discover liefert die ersten limit Ausgaben-Links der Übersichtsseite, in der
// Regel nur die neueste Ausgabe.
func (s *Strategy) Discover(ctx context.Context, src config.Source) ([]models.DiscoveredItem, error) {
	log := s.logger.With(zap.String("source_id", src.SourceID), zap.String("url", src.SeriesURL))

	doc, err := providers.FetchDocument(ctx, s.getter, src.SeriesURL)
	if err != nil {
		return nil, fmt.Errorf("imf discover %s: %w", src.SourceID, err)
	}

	limit := src.Limit
	if limit <= 0 {
		limit = 1
	}
	issuePath := src.Option("link_contains", defaultIssuePath)

	seen := map[string]bool{}
	var items []models.DiscoveredItem
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if !strings.Contains(href, issuePath) {
			return true
		}
		docURL, err := providers.AbsURL(src.SeriesURL, href)
		if err != nil || seen[docURL] {
			return true
		}
		seen[docURL] = true

		title := providers.LinkText(a)
		if title == "" {
			title = src.Series + " (latest)"
		}
		items = append(items, models.DiscoveredItem{SourceID: src.SourceID, Title: title, DocURL: docURL})
		return len(items) < limit
	})

	if len(items) == 0 {
		return nil, fmt.Errorf("imf discover %s: no issue links under %q: %w", src.SourceID, issuePath, providers.ErrNoCandidates)
	}
	log.Info("IMF-Ausgaben gefunden", zap.Int("count", len(items)))
	return items, nil
}

// Resolve sucht auf der Ausgabenseite den ersten PDF-Link unter /-/media/.
func (s *Strategy) Resolve(ctx context.Context, src config.Source, item models.DiscoveredItem) (models.ResolvedDocument, error) {
	doc, err := providers.FetchDocument(ctx, s.getter, item.DocURL)
	if err != nil {
		return models.ResolvedDocument{}, fmt.Errorf("imf resolve %s: %w", item.DocURL, err)
	}

	mediaPath := src.Option("pdf_contains", defaultMediaPath)
	links := providers.PDFLinks(doc, item.DocURL, func(href string) bool {
		return strings.Contains(href, mediaPath)
	})
	if len(links) == 0 {
		return models.ResolvedDocument{}, fmt.Errorf("imf resolve %s: no pdf link: %w", item.DocURL, providers.ErrNoCandidates)
	}

	return models.ResolvedDocument{
		SourceID: src.SourceID,
		Title:    item.Title,
		DocURL:   item.DocURL,
		PDFURL:   links[0],
	}, nil
}
