package services

import (
	"math"
	"regexp"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeOptions steuern die Heuristiken für die Text-Normalisierung
type NormalizeOptions struct {
	NormalizeUnicode      bool
	FixHyphenation        bool
	CollapseWhitespace    bool
	HeaderFooterDetection bool
	// Anteil der Seiten, auf denen eine Zeile oben/unten vorkommen muss,
	// damit sie als Kopf-/Fußzeile gilt
	HeaderFooterThreshold float64
}

// DefaultNormalizeOptions aktiviert alle Heuristiken.
func DefaultNormalizeOptions() NormalizeOptions {
	return NormalizeOptions{
		NormalizeUnicode:      true,
		FixHyphenation:        true,
		CollapseWhitespace:    true,
		HeaderFooterDetection: true,
		HeaderFooterThreshold: 0.6,
	}
}

// NormalizeStats enthält Kennzahlen zur Normalisierung
type NormalizeStats struct {
	NumPages       int
	HyphenFixes    int
	HeadersRemoved int
	FootersRemoved int
}

// TextNormalizer bereinigt den Seitentext aus der PDF-Extraktion. Das Ergebnis
// ist für gleiche Eingaben immer identisch, damit der Content-Hash stabil bleibt.
type TextNormalizer struct {
	opts   NormalizeOptions
	logger *zap.Logger
}

func NewTextNormalizer(opts NormalizeOptions, logger *zap.Logger) *TextNormalizer {
	if opts.HeaderFooterThreshold <= 0 {
		opts.HeaderFooterThreshold = 0.6
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TextNormalizer{opts: opts, logger: logger}
}

var (
	ligatureReplacer = strings.NewReplacer(
		"ﬁ", "fi",
		"ﬂ", "fl",
		"ﬀ", "ff",
		"ﬃ", "ffi",
		"ﬄ", "ffl",
		"ﬆ", "st",
	)
	hyphenationRE  = regexp.MustCompile(`(?m)([\p{L}\p{N}])-(?:\r?\n)([\p{Ll}])`)
	spaceRE        = regexp.MustCompile("[\t\f\v\u00A0]+")
	multiSpaceRE   = regexp.MustCompile(` {2,}`)
	multiNewlineRE = regexp.MustCompile(`\n{3,}`)
	pageNumberRE   = regexp.MustCompile(`^(?:[Pp]age\s*)?\d+(?:\s*(?:/|of)\s*\d+)?$`)
)

// NormalizePages normalisiert die Seiten einzeln, entfernt wiederkehrende
// Kopf- und Fußzeilen und fügt die Seiten mit "\n" zusammen.
func (tn *TextNormalizer) NormalizePages(pages []string) (string, NormalizeStats) {
	stats := NormalizeStats{NumPages: len(pages)}

	var headerCounts, footerCounts map[string]int
	if tn.opts.HeaderFooterDetection && len(pages) > 1 {
		headerCounts, footerCounts = detectHeaderFooterLines(pages)
	}
	thresholdCount := int(math.Ceil(tn.opts.HeaderFooterThreshold * float64(len(pages))))
	if thresholdCount < 2 {
		thresholdCount = 2
	}

	out := make([]string, 0, len(pages))
	for _, raw := range pages {
		processed := raw
		if tn.opts.NormalizeUnicode {
			processed = normalizeUnicodeAndLigatures(processed)
		}
		if tn.opts.FixHyphenation {
			var count int
			processed, count = fixHyphenation(processed)
			stats.HyphenFixes += count
		}

		if headerCounts != nil {
			lines := splitLines(processed)
			headers := map[string]bool{}
			footers := map[string]bool{}
			for _, l := range firstNNonEmpty(lines, 3) {
				key := strings.TrimSpace(l)
				if headerCounts[key] >= thresholdCount || isLikelyPageNumber(key) {
					headers[key] = true
				}
			}
			for _, l := range lastNNonEmpty(lines, 3) {
				key := strings.TrimSpace(l)
				if footerCounts[key] >= thresholdCount || isLikelyPageNumber(key) {
					footers[key] = true
				}
			}
			kept := lines[:0]
			for _, l := range lines {
				key := strings.TrimSpace(l)
				switch {
				case headers[key]:
					stats.HeadersRemoved++
				case footers[key]:
					stats.FootersRemoved++
				default:
					kept = append(kept, l)
				}
			}
			processed = strings.Join(kept, "\n")
		}

		if tn.opts.CollapseWhitespace {
			processed = collapseWhitespace(processed)
		}
		out = append(out, processed)
	}

	text := strings.TrimSpace(strings.Join(out, "\n"))
	tn.logger.Debug("Text normalisiert",
		zap.Int("pages", stats.NumPages),
		zap.Int("hyphen_fixes", stats.HyphenFixes),
		zap.Int("headers_removed", stats.HeadersRemoved),
		zap.Int("footers_removed", stats.FootersRemoved))
	return text, stats
}

// detectHeaderFooterLines sammelt Top/Bottom-Zeilen über Seiten und zählt Häufigkeiten
func detectHeaderFooterLines(pages []string) (map[string]int, map[string]int) {
	headerCounts := map[string]int{}
	footerCounts := map[string]int{}
	for _, text := range pages {
		lines := splitLines(text)
		for _, l := range firstNNonEmpty(lines, 3) {
			headerCounts[strings.TrimSpace(l)]++
		}
		for _, l := range lastNNonEmpty(lines, 3) {
			footerCounts[strings.TrimSpace(l)]++
		}
	}
	return headerCounts, footerCounts
}

// normalizeUnicodeAndLigatures führt NFC-Normalisierung durch und ersetzt gängige Ligaturen
func normalizeUnicodeAndLigatures(s string) string {
	s = ligatureReplacer.Replace(s)
	normalized, _, err := transform.String(norm.NFC, s)
	if err != nil {
		return s
	}
	return normalized
}

// fixHyphenation entfernt Trennstriche am Zeilenende zwischen Wort und kleinem Anfangsbuchstaben der Folgelinie
func fixHyphenation(s string) (string, int) {
	// "ab-\nweichung" -> "abweichung"
	count := len(hyphenationRE.FindAllStringIndex(s, -1))
	if count == 0 {
		return s, 0
	}
	return hyphenationRE.ReplaceAllString(s, "$1$2"), count
}

func collapseWhitespace(s string) string {
	s = spaceRE.ReplaceAllString(s, " ")
	s = multiSpaceRE.ReplaceAllString(s, " ")
	lines := splitLines(s)
	for i := range lines {
		lines[i] = strings.TrimRightFunc(lines[i], unicode.IsSpace)
	}
	s = strings.Join(lines, "\n")
	s = multiNewlineRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func isLikelyPageNumber(s string) bool {
	trimmed := strings.TrimSpace(s)
	return trimmed != "" && pageNumberRE.MatchString(trimmed)
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(s, "\n")
}

func firstNNonEmpty(lines []string, n int) []string {
	var out []string
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		out = append(out, l)
		if len(out) == n {
			break
		}
	}
	return out
}

func lastNNonEmpty(lines []string, n int) []string {
	var out []string
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		out = append(out, lines[i])
		if len(out) == n {
			break
		}
	}
	return out
}
