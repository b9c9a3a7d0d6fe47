package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"docdl/providers"
)

// StableFilename leitet den Dateinamen eines Downloads aus Quelle und PDF-URL
// ab. Wiederholte Läufe überschreiben so dieselbe Datei.
func StableFilename(sourceID, pdfURL string) string {
	sum := sha256.Sum256([]byte(pdfURL))
	return fmt.Sprintf("%s_%s.pdf", sourceID, hex.EncodeToString(sum[:])[:12])
}

// RawWriter legt heruntergeladene Dateien ab und gibt den Pfad zurück.
type RawWriter interface {
	WriteRaw(name string, r io.Reader) (string, error)
}

// Download lädt pdfURL und schreibt den Inhalt unter StableFilename. Liefert
// der Server HTML, wird ein *PaywallError zurückgegeben.
func Download(ctx context.Context, g providers.Getter, w RawWriter, sourceID, pdfURL string) (string, error) {
	resp, err := g.Get(ctx, pdfURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.Contains(contentType, "text/html") {
		return "", &PaywallError{URL: pdfURL, ContentType: contentType}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("download %s: unexpected status %s", pdfURL, resp.Status)
	}

	path, err := w.WriteRaw(StableFilename(sourceID, pdfURL), resp.Body)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", pdfURL, err)
	}
	return path, nil
}
