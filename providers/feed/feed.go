package feed

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"docdl/config"
	"docdl/models"
	"docdl/providers"
)

// Kind ist die Quellenart in der sources.yaml.
const Kind = "feed"

const defaultLimit = 5

// Strategy entdeckt Publikationen über einen RSS- oder Atom-Feed.
//
// Resolve nimmt den Link direkt, wenn er bereits auf ein PDF zeigt, sonst den
// ersten PDF-Link der verlinkten Seite. Ist meta.paywall_selector gesetzt und
// trifft auf einer Seite ohne PDF zu, wird das Dokument als Paywall markiert.
type Strategy struct {
	getter providers.Getter
	parser *gofeed.Parser
	logger *zap.Logger
}

func New(getter providers.Getter, logger *zap.Logger) *Strategy {
	return &Strategy{getter: getter, parser: gofeed.NewParser(), logger: logger}
}

func (s *Strategy) Kind() string { return Kind }

func (s *Strategy) Discover(ctx context.Context, src config.Source) ([]models.DiscoveredItem, error) {
	log := s.logger.With(zap.String("source_id", src.SourceID), zap.String("url", src.SeriesURL))

	resp, err := s.getter.Get(ctx, src.SeriesURL)
	if err != nil {
		return nil, fmt.Errorf("feed discover %s: %w", src.SourceID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed discover %s: unexpected status %s", src.SourceID, resp.Status)
	}

	f, err := s.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("feed discover %s: parse feed: %w", src.SourceID, err)
	}

	limit := src.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	seen := map[string]bool{}
	var items []models.DiscoveredItem
	for _, entry := range f.Items {
		if len(items) >= limit {
			break
		}
		link := strings.TrimSpace(entry.Link)
		if link == "" {
			continue
		}
		docURL, err := providers.AbsURL(src.SeriesURL, link)
		if err != nil || seen[docURL] {
			continue
		}
		seen[docURL] = true

		item := models.DiscoveredItem{
			SourceID: src.SourceID,
			Title:    strings.TrimSpace(entry.Title),
			DocURL:   docURL,
		}
		if entry.PublishedParsed != nil {
			published := *entry.PublishedParsed
			item.PublishedDate = &published
		}
		items = append(items, item)
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("feed discover %s: feed has no linked entries: %w", src.SourceID, providers.ErrNoCandidates)
	}
	log.Info("Feed-Einträge gefunden", zap.Int("count", len(items)))
	return items, nil
}

func (s *Strategy) Resolve(ctx context.Context, src config.Source, item models.DiscoveredItem) (models.ResolvedDocument, error) {
	resolved := models.ResolvedDocument{
		SourceID: src.SourceID,
		Title:    item.Title,
		DocURL:   item.DocURL,
	}
	if providers.IsPDFLink(item.DocURL) {
		resolved.PDFURL = item.DocURL
		return resolved, nil
	}

	doc, err := providers.FetchDocument(ctx, s.getter, item.DocURL)
	if err != nil {
		return models.ResolvedDocument{}, fmt.Errorf("feed resolve %s: %w", item.DocURL, err)
	}

	if links := providers.PDFLinks(doc, item.DocURL, nil); len(links) > 0 {
		resolved.PDFURL = links[0]
		return resolved, nil
	}

	if sel := src.Option("paywall_selector", ""); sel != "" && doc.Find(sel).Length() > 0 {
		s.logger.Info("Paywall erkannt", zap.String("doc_url", item.DocURL))
		resolved.Paywalled = true
		return resolved, nil
	}

	return models.ResolvedDocument{}, fmt.Errorf("feed resolve %s: no pdf link: %w", item.DocURL, providers.ErrNoCandidates)
}
