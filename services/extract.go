package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// PDFExtractor liest den Klartext einer PDF-Datei seitenweise.
type PDFExtractor struct {
	normalizer *TextNormalizer
	logger     *zap.Logger
}

// NewPDFExtractor erstellt einen Extractor. Ist normalizer nil, werden die
// Seiten nur mit "\n" verbunden und getrimmt.
func NewPDFExtractor(normalizer *TextNormalizer, logger *zap.Logger) *PDFExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PDFExtractor{normalizer: normalizer, logger: logger}
}

// Extract gibt den Text aller Seiten von path zurück.
func (e *PDFExtractor) Extract(ctx context.Context, path string) (string, error) {
	pages, err := readPDFPages(ctx, path)
	if err != nil {
		return "", err
	}
	if e.normalizer != nil {
		text, _ := e.normalizer.NormalizePages(pages)
		return text, nil
	}
	return strings.TrimSpace(strings.Join(pages, "\n")), nil
}

// readPDFPages fängt Panics des PDF-Parsers bei defekten Dateien ab.
func readPDFPages(ctx context.Context, path string) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("extract %s: pdf parser panic: %v", path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("extract %s: open pdf: %w", path, err)
	}
	defer f.Close()

	// Fonts cachen, damit die Charmaps nicht für jede Seite neu geparst werden
	fonts := make(map[string]*pdf.Font)
	total := r.NumPage()
	pages = make([]string, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; !ok {
				font := p.Font(name)
				fonts[name] = &font
			}
		}
		text, err := p.GetPlainText(fonts)
		if err != nil {
			return nil, fmt.Errorf("extract %s: page %d: %w", path, i, err)
		}
		pages = append(pages, text)
	}
	return pages, nil
}
