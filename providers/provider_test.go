package providers

import (
	"context"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docdl/config"
	"docdl/models"
)

type stubStrategy struct{ kind string }

func (s stubStrategy) Kind() string { return s.kind }
func (s stubStrategy) Discover(context.Context, config.Source) ([]models.DiscoveredItem, error) {
	return nil, nil
}
func (s stubStrategy) Resolve(context.Context, config.Source, models.DiscoveredItem) (models.ResolvedDocument, error) {
	return models.ResolvedDocument{}, nil
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry(stubStrategy{kind: "imf"})
	r.Register(stubStrategy{kind: "iea"})

	s, err := r.Resolve("iea")
	require.NoError(t, err)
	assert.Equal(t, "iea", s.Kind())

	_, err = r.Resolve("unknown")
	assert.Error(t, err)
}

func TestAbsURL(t *testing.T) {
	got, err := AbsURL("https://www.imf.org/en/publications/reo/meca", "/-/media/files/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "https://www.imf.org/-/media/files/report.pdf", got)

	got, err = AbsURL("https://www.iea.org/reports/gas-2025", "gas-2025.pdf")
	require.NoError(t, err)
	assert.Equal(t, "https://www.iea.org/reports/gas-2025.pdf", got)

	got, err = AbsURL("https://www.iea.org", "https://cdn.example.org/x.pdf")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.org/x.pdf", got)
}

func TestPDFLinks(t *testing.T) {
	html := `<html><body>
		<a href="/about">About</a>
		<a href="/-/media/files/a.PDF">A</a>
		<a href="/downloads/b.pdf">B</a>
		<a>no href</a>
	</body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	all := PDFLinks(doc, "https://example.org/page", nil)
	assert.Equal(t, []string{
		"https://example.org/-/media/files/a.PDF",
		"https://example.org/downloads/b.pdf",
	}, all)

	media := PDFLinks(doc, "https://example.org/page", func(href string) bool {
		return strings.Contains(href, "/-/media/")
	})
	assert.Equal(t, []string{"https://example.org/-/media/files/a.PDF"}, media)
}
