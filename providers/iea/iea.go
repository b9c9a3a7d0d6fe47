package iea

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
const Kind = "iea"

const (
	defaultBaseURL    = "https://www.iea.org"
	defaultReportPath = "/reports/"
	defaultLimit      = 5
)

// Strategy liest die Berichtsliste der IEA und findet den Download-Link eines Berichts.
type Strategy struct {
	getter providers.Getter
	logger *zap.Logger
}

func New(getter providers.Getter, logger *zap.Logger) *Strategy {
	return &Strategy{getter: getter, logger: logger}
}

func (s *Strategy) Kind() string { return Kind }

// Discover sammelt bis zu limit Links, die mit /reports/ beginnen und einen
// sichtbaren Titel haben.
func (s *Strategy) Discover(ctx context.Context, src config.Source) ([]models.DiscoveredItem, error) {
	log := s.logger.With(zap.String("source_id", src.SourceID), zap.String("url", src.SeriesURL))

	doc, err := providers.FetchDocument(ctx, s.getter, src.SeriesURL)
	if err != nil {
		return nil, fmt.Errorf("iea discover %s: %w", src.SourceID, err)
	}

	limit := src.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	baseURL := src.Option("base_url", defaultBaseURL)
	reportPath := src.Option("link_prefix", defaultReportPath)

	seen := map[string]bool{}
	var items []models.DiscoveredItem
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		title := providers.LinkText(a)
		if !strings.HasPrefix(href, reportPath) || title == "" {
			return true
		}
		docURL, err := providers.AbsURL(baseURL, href)
		if err != nil || seen[docURL] {
			return true
		}
		seen[docURL] = true
		items = append(items, models.DiscoveredItem{SourceID: src.SourceID, Title: title, DocURL: docURL})
		return len(items) < limit
	})

	if len(items) == 0 {
		return nil, fmt.Errorf("iea discover %s: no %s links: %w", src.SourceID, reportPath, providers.ErrNoCandidates)
	}
	log.Info("IEA-Berichte gefunden", zap.Int("count", len(items)))
	return items, nil
}

// Resolve nimmt den ersten PDF-Link der Berichtsseite.
func (s *Strategy) Resolve(ctx context.Context, src config.Source, item models.DiscoveredItem) (models.ResolvedDocument, error) {
	doc, err := providers.FetchDocument(ctx, s.getter, item.DocURL)
	if err != nil {
		return models.ResolvedDocument{}, fmt.Errorf("iea resolve %s: %w", item.DocURL, err)
	}

	links := providers.PDFLinks(doc, item.DocURL, nil)
	if len(links) == 0 {
		return models.ResolvedDocument{}, fmt.Errorf("iea resolve %s: no pdf link: %w", item.DocURL, providers.ErrNoCandidates)
	}

	return models.ResolvedDocument{
		SourceID: src.SourceID,
		Title:    item.Title,
		DocURL:   item.DocURL,
		PDFURL:   links[0],
	}, nil
}
