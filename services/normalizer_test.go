package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNormalizePages(t *testing.T) {
	tn := NewTextNormalizer(DefaultNormalizeOptions(), zap.NewNop())

	pages := []string{
		"Regional Economic Outlook\nThe econ-\nomy grew in\tQ1.\nExports rose.\nImports fell.\nDebt stabilised.\n1",
		"Regional Economic Outlook\nOil output \ufb01rmed   further.\nGas demand eased.\nPrices held.\nRates unchanged.\nBudgets tightened.\n2",
		"Regional Economic Outlook\nCafe\u0301 prices rose.\nTourism grew.\nRemittances rose.\nCredit expanded.\nReserves grew.\n3",
	}
	text, stats := tn.NormalizePages(pages)

	want := "The economy grew in Q1.\nExports rose.\nImports fell.\nDebt stabilised.\n" +
		"Oil output firmed further.\nGas demand eased.\nPrices held.\nRates unchanged.\nBudgets tightened.\n" +
		"Caf\u00e9 prices rose.\nTourism grew.\nRemittances rose.\nCredit expanded.\nReserves grew."
	assert.Equal(t, want, text)
	assert.Equal(t, 3, stats.NumPages)
	assert.Equal(t, 1, stats.HyphenFixes)
	assert.Equal(t, 3, stats.HeadersRemoved)
	assert.Equal(t, 3, stats.FootersRemoved)

	again, _ := tn.NormalizePages(pages)
	assert.Equal(t, text, again)
}

func TestNormalizeSinglePageKeepsHeaders(t *testing.T) {
	tn := NewTextNormalizer(DefaultNormalizeOptions(), nil)
	text, stats := tn.NormalizePages([]string{"Title\nBody text\n\n\n\nEnd"})
	assert.Equal(t, "Title\nBody text\n\nEnd", text)
	assert.Zero(t, stats.HeadersRemoved)
}

func TestIsLikelyPageNumber(t *testing.T) {
	for _, s := range []string{"12", " Page 3 ", "4 / 20", "5 of 9"} {
		assert.True(t, isLikelyPageNumber(s), s)
	}
	for _, s := range []string{"", "Q1 2025 GDP", "Page three"} {
		assert.False(t, isLikelyPageNumber(s), s)
	}
}
