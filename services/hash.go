package services

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash berechnet den SHA-256 über die UTF-8-Bytes des Textes als Hex-String.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
